package services

import (
	"bms_platform/asset_bazaar/auth"
	"bms_platform/asset_bazaar/lifecycle"
	"bms_platform/asset_bazaar/schema"
	"bms_platform/utils"
	"fmt"
	"net/http"

	"github.com/go-chi/chi/v5"
	"gorm.io/gorm"
)

type UserService struct {
	db       *gorm.DB
	userAuth auth.IdentityProvider
}

func (s *UserService) Routes() chi.Router {
	r := chi.NewRouter()

	r.Group(func(r chi.Router) {
		r.Use(s.userAuth.AuthMiddleware()...)

		r.Get("/me", s.Me)
		r.With(auth.NotBanned).Patch("/me", s.UpdateProfile)
	})

	r.Group(func(r chi.Router) {
		r.Use(s.userAuth.OptionalAuthMiddleware()...)

		r.Get("/{user_id}", s.Info)
		r.Get("/{user_id}/assets", s.Assets)
	})

	r.Group(func(r chi.Router) {
		r.Use(s.userAuth.AuthMiddleware()...)
		r.Use(auth.AdminOnly())

		r.Delete("/{user_id}", s.DeleteUser)
		r.Post("/{user_id}/roles/{role}", s.GrantRole)
		r.Delete("/{user_id}/roles/{role}", s.RevokeRole)
	})

	return r
}

func (s *UserService) Me(w http.ResponseWriter, r *http.Request) {
	user, err := auth.UserFromContext(r)
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}

	utils.WriteJsonResponse(w, convertToUserInfo(user))
}

type updateProfileRequest struct {
	DisplayName *string              `json:"displayName"`
	Bio         *string              `json:"bio"`
	SponsorUrls *[]schema.SponsorUrl `json:"sponsorUrls"`
}

func (s *UserService) UpdateProfile(w http.ResponseWriter, r *http.Request) {
	user, err := auth.UserFromContext(r)
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}

	var params updateProfileRequest
	if !utils.ParseRequestBody(w, r, &params) {
		return
	}

	updated, err := lifecycle.UpdateProfile(s.db, user, lifecycle.ProfilePatch{
		DisplayName: params.DisplayName, Bio: params.Bio, SponsorUrls: params.SponsorUrls,
	})
	if err != nil {
		http.Error(w, fmt.Sprintf("error updating profile: %v", err), GetResponseCode(err))
		return
	}

	utils.WriteJsonResponse(w, convertToUserInfo(updated))
}

func (s *UserService) Info(w http.ResponseWriter, r *http.Request) {
	userId, err := utils.URLParam(r, "user_id")
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	user, err := schema.GetUser(userId, s.db)
	if err != nil {
		http.Error(w, fmt.Sprintf("error retrieving user: %v", err), GetResponseCode(err))
		return
	}

	utils.WriteJsonResponse(w, convertToUserInfo(user))
}

// Assets lists the user's assets that are visible to the caller. Owners see
// all of their own assets.
func (s *UserService) Assets(w http.ResponseWriter, r *http.Request) {
	userId, err := utils.URLParam(r, "user_id")
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	page, err := utils.QueryInt(r, "page", 1)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	limit, err := utils.QueryInt(r, "limit", lifecycle.DefaultPageSize)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	assets, total, err := lifecycle.ListAssets(s.db, auth.OptionalUserFromContext(r), lifecycle.AssetFilter{
		UploaderId: userId, Page: page, Limit: limit,
	})
	if err != nil {
		http.Error(w, fmt.Sprintf("error listing user assets: %v", err), GetResponseCode(err))
		return
	}

	infos := make([]AssetInfo, 0, len(assets))
	for _, asset := range assets {
		infos = append(infos, convertToAssetInfo(asset))
	}

	utils.WriteJsonResponse(w, listAssetsResponse{Assets: infos, Total: total, Page: page, Limit: limit})
}

func (s *UserService) updateRole(w http.ResponseWriter, r *http.Request, grant bool) {
	userId, err := utils.URLParam(r, "user_id")
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	role, err := utils.URLParam(r, "role")
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	admin, err := auth.UserFromContext(r)
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}

	var user schema.User
	if grant {
		user, err = lifecycle.GrantRole(s.db, admin, userId, schema.UserRole(role))
	} else {
		user, err = lifecycle.RevokeRole(s.db, admin, userId, schema.UserRole(role))
	}
	if err != nil {
		http.Error(w, fmt.Sprintf("error updating roles: %v", err), GetResponseCode(err))
		return
	}

	utils.WriteJsonResponse(w, convertToUserInfo(user))
}

func (s *UserService) GrantRole(w http.ResponseWriter, r *http.Request) {
	s.updateRole(w, r, true)
}

func (s *UserService) RevokeRole(w http.ResponseWriter, r *http.Request) {
	s.updateRole(w, r, false)
}

func (s *UserService) DeleteUser(w http.ResponseWriter, r *http.Request) {
	userId, err := utils.URLParam(r, "user_id")
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	admin, err := auth.UserFromContext(r)
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}

	err = s.db.Transaction(func(txn *gorm.DB) error {
		return lifecycle.DeleteUser(txn, admin, userId)
	})
	if err != nil {
		http.Error(w, fmt.Sprintf("error deleting user: %v", err), GetResponseCode(err))
		return
	}

	utils.WriteSuccess(w)
}
