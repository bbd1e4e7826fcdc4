package auth_test

import (
	"bms_platform/asset_bazaar/auth"
	"bms_platform/asset_bazaar/schema"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
)

func user(id string, roles ...schema.UserRole) *schema.User {
	return &schema.User{Id: id, Roles: roles}
}

func strPtr(s string) *string {
	return &s
}

func TestCanView(t *testing.T) {
	owner := user("owner")
	stranger := user("stranger")
	mod := user("mod", schema.RoleModerator)
	dev := user("dev", schema.RoleDeveloper)

	for _, status := range schema.AllStatuses {
		asset := &schema.Asset{UploaderId: owner.Id, Status: status}
		public := status == schema.Approved || status == schema.Pending

		assert.Equal(t, public, auth.CanView(asset, nil), "anonymous %v", status)
		assert.Equal(t, public, auth.CanView(asset, stranger), "stranger %v", status)
		assert.True(t, auth.CanView(asset, owner), "owner %v", status)
		assert.True(t, auth.CanView(asset, mod), "moderator %v", status)
		assert.True(t, auth.CanView(asset, dev), "developer %v", status)
	}
}

func TestAllowedViewStatuses(t *testing.T) {
	assert.ElementsMatch(t, []schema.Status{schema.Approved, schema.Pending}, auth.AllowedViewStatuses(nil))
	assert.ElementsMatch(t, []schema.Status{schema.Approved, schema.Pending}, auth.AllowedViewStatuses(user("u", schema.RoleTrusted)))
	for _, role := range []schema.UserRole{schema.RoleAdmin, schema.RoleModerator, schema.RoleDeveloper} {
		assert.ElementsMatch(t, schema.AllStatuses, auth.AllowedViewStatuses(user("u", role)), role)
	}
}

func TestCanEdit(t *testing.T) {
	asset := &schema.Asset{UploaderId: "owner", Status: schema.Approved}

	assert.True(t, auth.CanEdit(asset, user("owner")))
	assert.True(t, auth.CanEdit(asset, user("admin", schema.RoleAdmin)))
	assert.True(t, auth.CanEdit(asset, user("mod", schema.RoleModerator)))
	assert.False(t, auth.CanEdit(asset, user("dev", schema.RoleDeveloper)))
	assert.False(t, auth.CanEdit(asset, user("stranger")))
	assert.False(t, auth.CanEdit(asset, nil))
}

func TestCanSetStatus(t *testing.T) {
	asset := &schema.Asset{UploaderId: "owner", Status: schema.Private}

	assert.True(t, auth.CanSetStatus(asset, user("owner"), schema.Pending))
	assert.False(t, auth.CanSetStatus(asset, user("owner"), schema.Approved))
	assert.False(t, auth.CanSetStatus(asset, user("stranger"), schema.Pending))
	assert.True(t, auth.CanSetStatus(asset, user("mod", schema.RoleModerator), schema.Approved))
	assert.False(t, auth.CanSetStatus(asset, nil, schema.Pending))
}

func TestCanRespondToRequest(t *testing.T) {
	credit := &schema.AssetRequest{RequestType: schema.CreditRequest, RequesterId: "requester", ResponderId: strPtr("responder")}
	report := &schema.AssetRequest{RequestType: schema.ReportRequest, RequesterId: "reporter"}

	assert.True(t, auth.CanRespondToRequest(credit, user("responder")))
	assert.False(t, auth.CanRespondToRequest(credit, user("requester")))
	assert.True(t, auth.CanRespondToRequest(credit, user("mod", schema.RoleModerator)))
	assert.False(t, auth.CanRespondToRequest(credit, nil))

	assert.True(t, auth.CanRespondToRequest(report, user("admin", schema.RoleAdmin)))
	assert.True(t, auth.CanRespondToRequest(report, user("mod", schema.RoleModerator)))
	assert.False(t, auth.CanRespondToRequest(report, user("reporter")))
	assert.False(t, auth.CanRespondToRequest(report, user("dev", schema.RoleDeveloper)))
}

func TestCanMessageRequest(t *testing.T) {
	link := &schema.AssetRequest{RequestType: schema.LinkRequest, RequesterId: "requester", ResponderId: strPtr("responder")}
	report := &schema.AssetRequest{RequestType: schema.ReportRequest, RequesterId: "reporter"}

	assert.True(t, auth.CanMessageRequest(report, user("reporter")))
	assert.True(t, auth.CanMessageRequest(report, user("mod", schema.RoleModerator)))
	assert.False(t, auth.CanMessageRequest(report, user("stranger")))
	assert.False(t, auth.CanMessageRequest(report, nil))

	assert.False(t, auth.CanMessageRequest(link, user("requester")))
	assert.False(t, auth.CanMessageRequest(link, user("responder")))
	assert.False(t, auth.CanMessageRequest(link, user("admin", schema.RoleAdmin)))
}

func TestCanViewRequest(t *testing.T) {
	credit := &schema.AssetRequest{RequestType: schema.CreditRequest, RequesterId: "requester", ResponderId: strPtr("responder")}

	assert.True(t, auth.CanViewRequest(credit, user("requester")))
	assert.True(t, auth.CanViewRequest(credit, user("responder")))
	assert.True(t, auth.CanViewRequest(credit, user("mod", schema.RoleModerator)))
	assert.False(t, auth.CanViewRequest(credit, user("stranger")))
	assert.False(t, auth.CanViewRequest(credit, nil))
}

func TestRoleMiddleware(t *testing.T) {
	ok := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})

	serve := func(handler http.Handler, u *schema.User) int {
		req := httptest.NewRequest(http.MethodPost, "/", nil)
		if u != nil {
			req = req.WithContext(auth.WithUser(req.Context(), *u))
		}
		w := httptest.NewRecorder()
		handler.ServeHTTP(w, req)
		return w.Code
	}

	adminOnly := auth.AdminOnly()(ok)
	assert.Equal(t, http.StatusOK, serve(adminOnly, user("admin", schema.RoleAdmin)))
	assert.Equal(t, http.StatusForbidden, serve(adminOnly, user("mod", schema.RoleModerator)))
	assert.Equal(t, http.StatusInternalServerError, serve(adminOnly, nil))

	notBanned := auth.NotBanned(ok)
	assert.Equal(t, http.StatusOK, serve(notBanned, user("u")))
	assert.Equal(t, http.StatusForbidden, serve(notBanned, user("u", schema.RoleTrusted, schema.RoleBanned)))
}
