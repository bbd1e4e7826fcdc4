package auth

import (
	"bms_platform/asset_bazaar/schema"
	"fmt"
	"net/http"
	"slices"
)

// All predicates take a nil actor to mean an anonymous caller.

func IsElevated(actor *schema.User) bool {
	return actor != nil && actor.HasRole(schema.RoleAdmin, schema.RoleModerator)
}

func IsAdmin(actor *schema.User) bool {
	return actor != nil && actor.HasRole(schema.RoleAdmin)
}

func AllowedViewStatuses(actor *schema.User) []schema.Status {
	if actor != nil && actor.HasRole(schema.RoleAdmin, schema.RoleModerator, schema.RoleDeveloper) {
		return slices.Clone(schema.AllStatuses)
	}
	return []schema.Status{schema.Approved, schema.Pending}
}

func CanView(asset *schema.Asset, actor *schema.User) bool {
	if actor != nil && actor.Id == asset.UploaderId {
		return true
	}
	return slices.Contains(AllowedViewStatuses(actor), asset.Status)
}

func CanEdit(asset *schema.Asset, actor *schema.User) bool {
	if actor == nil {
		return false
	}
	return actor.Id == asset.UploaderId || IsElevated(actor)
}

// CanSetStatus allows moderators any status change, owners may only submit
// their asset for review.
func CanSetStatus(asset *schema.Asset, actor *schema.User, status schema.Status) bool {
	if IsElevated(actor) {
		return true
	}
	return actor != nil && actor.Id == asset.UploaderId && status == schema.Pending
}

func CanRespondToRequest(request *schema.AssetRequest, actor *schema.User) bool {
	if actor == nil {
		return false
	}
	if IsElevated(actor) {
		return true
	}
	if request.RequestType == schema.ReportRequest {
		return false
	}
	return request.ResponderId != nil && *request.ResponderId == actor.Id
}

// Only report threads carry messages, credit and link requests are answered
// by accepting or declining.
func CanMessageRequest(request *schema.AssetRequest, actor *schema.User) bool {
	if actor == nil || request.RequestType != schema.ReportRequest {
		return false
	}
	return actor.Id == request.RequesterId || IsElevated(actor)
}

func CanViewRequest(request *schema.AssetRequest, actor *schema.User) bool {
	if actor == nil {
		return false
	}
	if actor.Id == request.RequesterId || IsElevated(actor) {
		return true
	}
	return request.ResponderId != nil && *request.ResponderId == actor.Id
}

func RoleOnly(roles ...schema.UserRole) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		hfn := func(w http.ResponseWriter, r *http.Request) {
			user, err := UserFromContext(r)
			if err != nil {
				http.Error(w, err.Error(), http.StatusInternalServerError)
				return
			}

			if !user.HasRole(roles...) {
				http.Error(w, fmt.Sprintf("user %v must have one of the roles %v", user.Id, roles), http.StatusForbidden)
				return
			}

			next.ServeHTTP(w, r)
		}
		return http.HandlerFunc(hfn)
	}
}

func AdminOnly() func(http.Handler) http.Handler {
	return RoleOnly(schema.RoleAdmin)
}

func NotBanned(next http.Handler) http.Handler {
	hfn := func(w http.ResponseWriter, r *http.Request) {
		user, err := UserFromContext(r)
		if err != nil {
			http.Error(w, err.Error(), http.StatusInternalServerError)
			return
		}

		if user.HasRole(schema.RoleBanned) {
			http.Error(w, fmt.Sprintf("user %v is banned", user.Id), http.StatusForbidden)
			return
		}

		next.ServeHTTP(w, r)
	}
	return http.HandlerFunc(hfn)
}
