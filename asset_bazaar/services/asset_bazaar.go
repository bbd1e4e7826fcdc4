package services

import (
	"bms_platform/asset_bazaar/auth"
	"bms_platform/asset_bazaar/storage"
	"bms_platform/utils"
	"log"
	"net/http"
	"os"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/httprate"
	"gorm.io/gorm"
)

type Options struct {
	MaxFileSize      int64
	MaxLargeFileSize int64

	// Requests per minute per client ip on the api, 0 disables the limit.
	RateLimitPerMinute int
	// Uploads and new link, credit and report requests per hour per user,
	// 0 disables the limit.
	CreateLimitPerHour int
}

// limitByUser keys on the signed in user so that clients behind a shared ip
// do not use up each other's allowance.
func limitByUser(perHour int) func(http.Handler) http.Handler {
	if perHour <= 0 {
		return func(next http.Handler) http.Handler { return next }
	}
	return httprate.Limit(perHour, time.Hour, httprate.WithKeyFuncs(func(r *http.Request) (string, error) {
		user, err := auth.UserFromContext(r)
		if err != nil {
			return httprate.KeyByIP(r)
		}
		return "user:" + user.Id, nil
	}))
}

type AssetBazaar struct {
	asset   AssetService
	request RequestService
	alert   AlertService
	user    UserService
	files   FileService

	userAuth auth.IdentityProvider
	opts     Options
}

func NewAssetBazaar(db *gorm.DB, store storage.Storage, userAuth auth.IdentityProvider, opts Options) AssetBazaar {
	return AssetBazaar{
		asset: AssetService{
			db:               db,
			storage:          store,
			userAuth:         userAuth,
			maxFileSize:      opts.MaxFileSize,
			maxLargeFileSize: max(opts.MaxLargeFileSize, opts.MaxFileSize),
			createLimit:      limitByUser(opts.CreateLimitPerHour),
		},
		request:  RequestService{db: db, userAuth: userAuth},
		alert:    AlertService{db: db, userAuth: userAuth},
		user:     UserService{db: db, userAuth: userAuth},
		files:    FileService{storage: store},
		userAuth: userAuth,
		opts:     opts,
	}
}

func (m *AssetBazaar) Routes() chi.Router {
	r := chi.NewRouter()

	r.Use(middleware.Recoverer)
	r.Use(middleware.RequestLogger(&middleware.DefaultLogFormatter{
		Logger: log.New(os.Stderr, "", log.LstdFlags), NoColor: false,
	}))
	r.Use(instrument)
	if m.opts.RateLimitPerMinute > 0 {
		r.Use(httprate.LimitByIP(m.opts.RateLimitPerMinute, time.Minute))
	}

	r.Mount("/auth", m.userAuth.Routes())
	r.Mount("/assets", m.asset.Routes())
	r.Mount("/requests", m.request.Routes())
	r.Mount("/alerts", m.alert.Routes())
	r.Mount("/users", m.user.Routes())
	r.Mount("/files", m.files.Routes())

	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		utils.WriteSuccess(w)
	})

	return r
}
