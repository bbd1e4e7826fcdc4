package auth

import (
	"bms_platform/asset_bazaar/schema"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"slices"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-resty/resty/v2"
	"golang.org/x/oauth2"
	"gorm.io/gorm"
)

const DiscordApiUrl = "https://discord.com/api/v10"

var (
	discordEndpoint = oauth2.Endpoint{
		AuthURL:   "https://discord.com/oauth2/authorize",
		TokenURL:  "https://discord.com/api/oauth2/token",
		AuthStyle: oauth2.AuthStyleInParams,
	}

	ErrAccountDeleted = errors.New("account has been deleted")
)

type DiscordProviderArgs struct {
	ClientId     string
	ClientSecret string

	// BackendUrl is the public url of the api root, the callback is served at
	// BackendUrl + /auth/discord/callback.
	BackendUrl  string
	FrontendUrl string

	Secret        []byte
	SessionExpiry time.Duration

	// Users with these discord ids are granted the admin role when they log in.
	AdminIds []string

	// Overrides for the discord endpoints, empty means the public ones.
	ApiUrl   string
	AuthUrl  string
	TokenUrl string
}

type DiscordIdentityProvider struct {
	sessionAuth

	oauth       *oauth2.Config
	states      *StateStore
	apiUrl      string
	adminIds    []string
	frontendUrl *url.URL
	backendUrl  *url.URL
}

func NewDiscordIdentityProvider(db *gorm.DB, auditLog AuditLogger, args DiscordProviderArgs) (*DiscordIdentityProvider, error) {
	frontendUrl, err := url.Parse(args.FrontendUrl)
	if err != nil {
		return nil, fmt.Errorf("invalid frontend url '%v': %w", args.FrontendUrl, err)
	}
	backendUrl, err := url.Parse(args.BackendUrl)
	if err != nil {
		return nil, fmt.Errorf("invalid backend url '%v': %w", args.BackendUrl, err)
	}

	apiUrl := args.ApiUrl
	if apiUrl == "" {
		apiUrl = DiscordApiUrl
	}
	endpoint := discordEndpoint
	if args.AuthUrl != "" {
		endpoint.AuthURL = args.AuthUrl
	}
	if args.TokenUrl != "" {
		endpoint.TokenURL = args.TokenUrl
	}

	return &DiscordIdentityProvider{
		sessionAuth: sessionAuth{
			jwtManager: NewJwtManager(args.Secret, args.SessionExpiry),
			db:         db,
			auditLog:   auditLog,
		},
		oauth: &oauth2.Config{
			ClientID:     args.ClientId,
			ClientSecret: args.ClientSecret,
			Endpoint:     endpoint,
			RedirectURL:  backendUrl.JoinPath("auth", "discord", "callback").String(),
			Scopes:       []string{"identify"},
		},
		states:      NewStateStore(10000, 10*time.Minute),
		apiUrl:      apiUrl,
		adminIds:    args.AdminIds,
		frontendUrl: frontendUrl,
		backendUrl:  backendUrl,
	}, nil
}

func (auth *DiscordIdentityProvider) Routes() chi.Router {
	r := chi.NewRouter()

	r.Get("/discord", auth.StartLogin)
	r.Get("/discord/callback", auth.Callback)
	r.Get("/logout", auth.Logout)

	return r
}

// checkRedirect only allows redirects back to our own frontend or backend.
func (auth *DiscordIdentityProvider) checkRedirect(redirect string) (string, error) {
	if redirect == "" {
		return auth.frontendUrl.String(), nil
	}
	target, err := url.Parse(redirect)
	if err != nil {
		return "", fmt.Errorf("invalid redirect url: %w", err)
	}
	sameOrigin := func(u *url.URL) bool { return u.Scheme == target.Scheme && u.Host == target.Host }
	if !sameOrigin(auth.frontendUrl) && !sameOrigin(auth.backendUrl) {
		return "", fmt.Errorf("redirect url must point to %v or %v", auth.frontendUrl.Host, auth.backendUrl.Host)
	}
	return target.String(), nil
}

func (auth *DiscordIdentityProvider) StartLogin(w http.ResponseWriter, r *http.Request) {
	redirect, err := auth.checkRedirect(r.URL.Query().Get("redirect"))
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	state := auth.states.Create(ClientIp(r), redirect)
	http.Redirect(w, r, auth.oauth.AuthCodeURL(state), http.StatusFound)
}

type discordProfile struct {
	Id         string  `json:"id"`
	Username   string  `json:"username"`
	GlobalName *string `json:"global_name"`
	Avatar     *string `json:"avatar"`
}

func (p discordProfile) avatarUrl() string {
	if p.Avatar != nil && *p.Avatar != "" {
		return fmt.Sprintf("https://cdn.discordapp.com/avatars/%v/%v.png", p.Id, *p.Avatar)
	}
	return schema.DefaultAvatarUrl(p.Id)
}

func (auth *DiscordIdentityProvider) fetchProfile(ctx context.Context, token *oauth2.Token) (discordProfile, error) {
	var profile discordProfile

	res, err := resty.NewWithClient(auth.oauth.Client(ctx, token)).
		SetBaseURL(auth.apiUrl).
		R().
		SetContext(ctx).
		SetResult(&profile).
		Get("/users/@me")
	if err != nil {
		return profile, fmt.Errorf("error fetching discord profile: %w", err)
	}
	if res.IsError() {
		return profile, fmt.Errorf("discord profile request returned status %d: %v", res.StatusCode(), res.String())
	}
	if profile.Id == "" {
		return profile, errors.New("discord profile is missing an id")
	}

	return profile, nil
}

const maxUsernameLength = 64

// availableUsername returns the discord username if no other account holds
// it, otherwise the first free "<username>_<discord id>" variant. Deleted
// accounts keep their usernames reserved.
func availableUsername(txn *gorm.DB, username, userId string) (string, error) {
	for i := 0; i < 5; i++ {
		candidate := username
		if i > 0 {
			suffix := "_" + userId
			if i > 1 {
				suffix = fmt.Sprintf("_%v_%d", userId, i)
			}
			candidate = username[:min(len(username), maxUsernameLength-len(suffix))] + suffix
		}

		var taken int64
		result := txn.Unscoped().Model(&schema.User{}).Where("username = ? AND id != ?", candidate, userId).Count(&taken)
		if result.Error != nil {
			slog.Error("sql error checking username", "username", candidate, "error", result.Error)
			return "", schema.ErrDbAccessFailed
		}
		if taken == 0 {
			return candidate, nil
		}
	}
	return "", fmt.Errorf("%w: no free variant of '%v'", ErrUsernameAlreadyInUse, username)
}

func (auth *DiscordIdentityProvider) upsertUser(profile discordProfile) (schema.User, error) {
	var user schema.User

	err := auth.db.Transaction(func(txn *gorm.DB) error {
		result := txn.Unscoped().Limit(1).Find(&user, "id = ?", profile.Id)
		if result.Error != nil {
			slog.Error("sql error looking up discord user", "user_id", profile.Id, "error", result.Error)
			return schema.ErrDbAccessFailed
		}

		if result.RowsAffected > 0 && user.DeletedAt.Valid {
			return ErrAccountDeleted
		}

		username, err := availableUsername(txn, profile.Username, profile.Id)
		if err != nil {
			return err
		}

		if result.RowsAffected == 0 {
			displayName := profile.Username
			if profile.GlobalName != nil && *profile.GlobalName != "" {
				displayName = *profile.GlobalName
			}
			user = schema.User{
				Id:          profile.Id,
				Username:    username,
				DisplayName: displayName,
				AvatarUrl:   profile.avatarUrl(),
			}
			if slices.Contains(auth.adminIds, profile.Id) {
				user.AddRole(schema.RoleAdmin)
			}
			if err := txn.Create(&user).Error; err != nil {
				slog.Error("sql error creating discord user", "user_id", profile.Id, "error", err)
				return schema.ErrDbAccessFailed
			}
			slog.Info("new user created", "user_id", user.Id, "username", user.Username)
			return nil
		}

		user.Username = username
		user.AvatarUrl = profile.avatarUrl()
		if slices.Contains(auth.adminIds, profile.Id) {
			user.AddRole(schema.RoleAdmin)
		}
		updates := map[string]interface{}{"username": user.Username, "avatar_url": user.AvatarUrl, "roles": user.Roles}
		if err := txn.Model(&user).Updates(updates).Error; err != nil {
			slog.Error("sql error updating discord user", "user_id", profile.Id, "error", err)
			return schema.ErrDbAccessFailed
		}
		return nil
	})

	return user, err
}

func (auth *DiscordIdentityProvider) Callback(w http.ResponseWriter, r *http.Request) {
	query := r.URL.Query()

	redirect, ok := auth.states.Consume(query.Get("state"), ClientIp(r))
	if !ok {
		http.Error(w, "invalid or expired login state", http.StatusBadRequest)
		return
	}

	token, err := auth.oauth.Exchange(r.Context(), query.Get("code"))
	if err != nil {
		slog.Error("discord code exchange failed", "error", err)
		http.Error(w, "unable to complete discord login", http.StatusUnauthorized)
		return
	}

	profile, err := auth.fetchProfile(r.Context(), token)
	if err != nil {
		slog.Error("discord login failed", "error", err)
		http.Error(w, "unable to complete discord login", http.StatusBadGateway)
		return
	}

	user, err := auth.upsertUser(profile)
	if err != nil {
		if errors.Is(err, ErrAccountDeleted) {
			http.Error(w, err.Error(), http.StatusForbidden)
			return
		}
		if errors.Is(err, ErrUsernameAlreadyInUse) {
			http.Error(w, fmt.Sprintf("login failed: %v", err), http.StatusConflict)
			return
		}
		http.Error(w, fmt.Sprintf("login failed: %v", err), http.StatusInternalServerError)
		return
	}

	accessToken, err := auth.jwtManager.CreateUserJwt(user.Id)
	if err != nil {
		http.Error(w, ErrGeneratingJwt.Error(), http.StatusInternalServerError)
		return
	}

	slog.Info("user logged in via discord", "user_id", user.Id, "username", user.Username)

	http.SetCookie(w, auth.jwtManager.SessionCookie(accessToken, auth.backendUrl.Scheme == "https"))
	http.Redirect(w, r, redirect, http.StatusFound)
}
