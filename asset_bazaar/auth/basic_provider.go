package auth

import (
	"bms_platform/asset_bazaar/schema"
	"bms_platform/utils"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"golang.org/x/crypto/bcrypt"
	"gorm.io/gorm"
)

// BasicIdentityProvider manages local accounts with bcrypt passwords. It is
// used for development deployments and tests where no Discord application is
// configured.
type BasicIdentityProvider struct {
	sessionAuth
}

type BasicProviderArgs struct {
	Secret        []byte
	SessionExpiry time.Duration
	AdminUsername string
	AdminPassword string
}

func NewBasicIdentityProvider(db *gorm.DB, auditLog AuditLogger, args BasicProviderArgs) (*BasicIdentityProvider, error) {
	hashedPwd, err := bcrypt.GenerateFromPassword([]byte(args.AdminPassword), 10)
	if err != nil {
		return nil, fmt.Errorf("error encrypting admin password: %w", err)
	}

	admin := schema.User{
		Id:          uuid.NewString(),
		Username:    args.AdminUsername,
		DisplayName: args.AdminUsername,
		Password:    hashedPwd,
	}
	if err := addInitialAdminToDb(db, admin); err != nil {
		return nil, fmt.Errorf("error adding inital admin to db: %w", err)
	}

	return &BasicIdentityProvider{
		sessionAuth: sessionAuth{
			jwtManager: NewJwtManager(args.Secret, args.SessionExpiry),
			db:         db,
			auditLog:   auditLog,
		},
	}, nil
}

func (auth *BasicIdentityProvider) Routes() chi.Router {
	r := chi.NewRouter()

	r.Post("/signup", auth.Signup)
	r.Get("/login", auth.Login)
	r.Get("/logout", auth.Logout)

	return r
}

func (auth *BasicIdentityProvider) CreateUser(username, password string) (string, error) {
	hashedPwd, err := bcrypt.GenerateFromPassword([]byte(password), 10)
	if err != nil {
		return "", fmt.Errorf("error encrypting password: %w", err)
	}

	userId := uuid.NewString()
	newUser := schema.User{
		Id:          userId,
		Username:    username,
		DisplayName: username,
		AvatarUrl:   schema.DefaultAvatarUrl(userId),
		Password:    hashedPwd,
	}

	err = auth.db.Transaction(func(txn *gorm.DB) error {
		var existingUser schema.User
		result := txn.Unscoped().Limit(1).Find(&existingUser, "username = ?", username)
		if result.Error != nil {
			slog.Error("sql error checking for existing username", "error", result.Error)
			return schema.ErrDbAccessFailed
		}
		if result.RowsAffected != 0 {
			return ErrUsernameAlreadyInUse
		}

		result = txn.Create(&newUser)
		if result.Error != nil {
			slog.Error("sql error creating new user entry", "error", result.Error)
			return schema.ErrDbAccessFailed
		}

		return nil
	})

	if err != nil {
		return "", fmt.Errorf("error creating new user: %w", err)
	}

	return newUser.Id, nil
}

func (auth *BasicIdentityProvider) LoginWithPassword(username, password string) (LoginResult, error) {
	var user schema.User
	result := auth.db.First(&user, "username = ?", username)
	if result.Error != nil {
		if errors.Is(result.Error, gorm.ErrRecordNotFound) {
			return LoginResult{}, ErrInvalidCredentials
		}
		slog.Error("sql error looking up user by username", "error", result.Error)
		return LoginResult{}, schema.ErrDbAccessFailed
	}

	if user.Password == nil {
		return LoginResult{}, ErrInvalidCredentials
	}

	err := bcrypt.CompareHashAndPassword(user.Password, []byte(password))
	if err != nil {
		return LoginResult{}, ErrInvalidCredentials
	}

	token, err := auth.jwtManager.CreateUserJwt(user.Id)
	if err != nil {
		return LoginResult{}, ErrGeneratingJwt
	}

	return LoginResult{UserId: user.Id, AccessToken: token}, nil
}

type signupRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

type signupResponse struct {
	UserId string `json:"user_id"`
}

func (auth *BasicIdentityProvider) Signup(w http.ResponseWriter, r *http.Request) {
	var params signupRequest
	if !utils.ParseRequestBody(w, r, &params) {
		return
	}

	if len(params.Username) == 0 || len(params.Username) > schema.MaxNameLength || len(params.Password) < 8 {
		http.Error(w, "username must be 1-64 characters and password at least 8 characters", http.StatusUnprocessableEntity)
		return
	}

	userId, err := auth.CreateUser(params.Username, params.Password)
	if err != nil {
		responseCode := http.StatusInternalServerError
		if errors.Is(err, ErrUsernameAlreadyInUse) {
			responseCode = http.StatusConflict
		}
		http.Error(w, err.Error(), responseCode)
		return
	}

	utils.WriteJsonResponse(w, signupResponse{UserId: userId})
}

type loginResponse struct {
	UserId      string `json:"user_id"`
	AccessToken string `json:"access_token"`
}

func (auth *BasicIdentityProvider) Login(w http.ResponseWriter, r *http.Request) {
	username, password, ok := r.BasicAuth()
	if !ok {
		http.Error(w, "missing or invalid Authorization header", http.StatusUnauthorized)
		return
	}

	login, err := auth.LoginWithPassword(username, password)
	if err != nil {
		responseCode := http.StatusInternalServerError
		if errors.Is(err, ErrInvalidCredentials) {
			responseCode = http.StatusUnauthorized
		}
		http.Error(w, fmt.Sprintf("login failed: %v", err), responseCode)
		return
	}

	http.SetCookie(w, auth.jwtManager.SessionCookie(login.AccessToken, r.TLS != nil))
	utils.WriteJsonResponse(w, loginResponse{UserId: login.UserId, AccessToken: login.AccessToken})
}
