package tests

import (
	"bms_platform/asset_bazaar/schema"
	"bms_platform/asset_bazaar/services"
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"net/textproto"
	"net/url"

	"github.com/go-chi/chi/v5"
)

type client struct {
	api    chi.Router
	token  string
	userId string
}

type statusError struct {
	method   string
	endpoint string
	code     int
	body     string
}

func (e *statusError) Error() string {
	return fmt.Sprintf("%v %v failed with status %d and res '%v'", e.method, e.endpoint, e.code, e.body)
}

// statusCode returns the http status of a failed request, or 0 if err is not
// a status error.
func statusCode(err error) int {
	var serr *statusError
	if errors.As(err, &serr) {
		return serr.code
	}
	return 0
}

func jsonError(err error) error {
	return fmt.Errorf("json encode/decode error: %w", err)
}

type NoBody struct{}

func (c *client) send(method, endpoint string, body io.Reader, headers map[string]string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, endpoint, body)
	if c.token != "" {
		req.Header.Add("Authorization", fmt.Sprintf("Bearer %v", c.token))
	}
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	w := httptest.NewRecorder()
	c.api.ServeHTTP(w, req)
	return w
}

func decode[T any](w *httptest.ResponseRecorder, method, endpoint string) (T, error) {
	var data T

	res := w.Result()
	if res.StatusCode < 200 || res.StatusCode >= 300 {
		return data, &statusError{method: method, endpoint: endpoint, code: res.StatusCode, body: w.Body.String()}
	}
	if res.StatusCode == http.StatusNoContent {
		return data, nil
	}

	if err := json.NewDecoder(res.Body).Decode(&data); err != nil {
		return data, jsonError(err)
	}
	return data, nil
}

func get[T any](c *client, endpoint string) (T, error) {
	return decode[T](c.send("GET", endpoint, nil, nil), "GET", endpoint)
}

func withBody[T any](c *client, method, endpoint string, body interface{}) (T, error) {
	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			var empty T
			return empty, jsonError(err)
		}
		reader = bytes.NewReader(data)
	}
	return decode[T](c.send(method, endpoint, reader, nil), method, endpoint)
}

func post[T any](c *client, endpoint string, body interface{}) (T, error) {
	return withBody[T](c, "POST", endpoint, body)
}

func patch[T any](c *client, endpoint string, body interface{}) (T, error) {
	return withBody[T](c, "PATCH", endpoint, body)
}

func deleteReq(c *client, endpoint string) error {
	_, err := decode[NoBody](c.send("DELETE", endpoint, nil, nil), "DELETE", endpoint)
	return err
}

func (c *client) signup(username, password string) error {
	_, err := post[map[string]string](c, "/auth/signup", map[string]string{"username": username, "password": password})
	return err
}

func (c *client) login(username, password string) error {
	req := httptest.NewRequest("GET", "/auth/login", nil)
	req.SetBasicAuth(username, password)
	w := httptest.NewRecorder()
	c.api.ServeHTTP(w, req)

	data, err := decode[map[string]string](w, "GET", "/auth/login")
	if err != nil {
		return err
	}

	c.token = data["access_token"]
	c.userId = data["user_id"]
	return nil
}

type uploadMetadata struct {
	Type        string   `json:"type"`
	Name        string   `json:"name"`
	Description string   `json:"description"`
	License     string   `json:"license"`
	LicenseUrl  *string  `json:"licenseUrl,omitempty"`
	SourceUrl   *string  `json:"sourceUrl,omitempty"`
	Tags        []string `json:"tags"`
}

func defaultMetadata(name string) uploadMetadata {
	return uploadMetadata{
		Type:        "saber_saber",
		Name:        name,
		Description: "A saber for testing",
		License:     "cc-by-4.0",
		Tags:        []string{"cute"},
	}
}

type icon struct {
	filename    string
	contentType string
	data        []byte
}

func (c *client) upload(metadata uploadMetadata, file []byte, icons ...icon) (services.AssetInfo, error) {
	body := new(bytes.Buffer)
	writer := multipart.NewWriter(body)

	meta, err := json.Marshal(metadata)
	if err != nil {
		return services.AssetInfo{}, jsonError(err)
	}
	if err := writer.WriteField("metadata", string(meta)); err != nil {
		return services.AssetInfo{}, err
	}

	part, err := writer.CreateFormFile("file", metadata.Name+".saber")
	if err != nil {
		return services.AssetInfo{}, err
	}
	if _, err := part.Write(file); err != nil {
		return services.AssetInfo{}, err
	}

	for _, ic := range icons {
		header := make(textproto.MIMEHeader)
		header.Set("Content-Disposition", fmt.Sprintf(`form-data; name="icons"; filename="%v"`, ic.filename))
		header.Set("Content-Type", ic.contentType)
		part, err := writer.CreatePart(header)
		if err != nil {
			return services.AssetInfo{}, err
		}
		if _, err := part.Write(ic.data); err != nil {
			return services.AssetInfo{}, err
		}
	}

	if err := writer.Close(); err != nil {
		return services.AssetInfo{}, err
	}

	w := c.send("POST", "/assets/upload", body, map[string]string{"Content-Type": writer.FormDataContentType()})
	return decode[services.AssetInfo](w, "POST", "/assets/upload")
}

func (c *client) uploadApproved(admin client, name string) (services.AssetInfo, error) {
	asset, err := c.upload(defaultMetadata(name), []byte("saber data for "+name))
	if err != nil {
		return asset, err
	}
	return admin.setStatus(asset.Id, schema.Approved, "looks good", false)
}

func (c *client) assetInfo(assetId uint) (services.AssetInfo, error) {
	return get[services.AssetInfo](c, fmt.Sprintf("/assets/%d", assetId))
}

type assetList struct {
	Assets []services.AssetInfo `json:"assets"`
	Total  int64                `json:"total"`
	Page   int                  `json:"page"`
	Limit  int                  `json:"limit"`
}

func (c *client) listAssets(query url.Values) (assetList, error) {
	return get[assetList](c, "/assets?"+query.Encode())
}

func (c *client) updateAsset(assetId uint, update map[string]interface{}) (services.AssetInfo, error) {
	return patch[services.AssetInfo](c, fmt.Sprintf("/assets/%d", assetId), update)
}

func (c *client) deleteAsset(assetId uint) error {
	return deleteReq(c, fmt.Sprintf("/assets/%d", assetId))
}

func (c *client) setStatus(assetId uint, status schema.Status, reason string, override bool) (services.AssetInfo, error) {
	body := map[string]interface{}{"status": status, "reason": reason, "override": override}
	return post[services.AssetInfo](c, fmt.Sprintf("/assets/%d/status", assetId), body)
}

type linkResult struct {
	Asset   *services.AssetInfo   `json:"asset"`
	Request *services.RequestInfo `json:"request"`
}

func (c *client) link(assetId, otherId uint, linkType schema.LinkType) (linkResult, error) {
	body := map[string]interface{}{"assetId": otherId, "linkType": linkType}
	return post[linkResult](c, fmt.Sprintf("/assets/%d/link", assetId), body)
}

func (c *client) collab(assetId uint, userId string) (services.RequestInfo, error) {
	return post[services.RequestInfo](c, fmt.Sprintf("/assets/%d/collab", assetId), map[string]string{"userId": userId})
}

func (c *client) report(assetId uint, reason string) (services.RequestInfo, error) {
	return post[services.RequestInfo](c, fmt.Sprintf("/assets/%d/report", assetId), map[string]string{"reason": reason})
}

func (c *client) listRequests(query url.Values) ([]services.RequestInfo, error) {
	return get[[]services.RequestInfo](c, "/requests?"+query.Encode())
}

type requestCounts struct {
	Incoming int64  `json:"incoming"`
	Outgoing int64  `json:"outgoing"`
	Reports  *int64 `json:"reports"`
}

func (c *client) requestCounts() (requestCounts, error) {
	return get[requestCounts](c, "/requests/counts")
}

func (c *client) requestInfo(requestId uint) (services.RequestInfo, error) {
	return get[services.RequestInfo](c, fmt.Sprintf("/requests/%d", requestId))
}

func (c *client) accept(requestId uint, silent bool) (services.RequestInfo, error) {
	return post[services.RequestInfo](c, fmt.Sprintf("/requests/%d/accept?silent=%t", requestId, silent), nil)
}

func (c *client) decline(requestId uint) (services.RequestInfo, error) {
	return post[services.RequestInfo](c, fmt.Sprintf("/requests/%d/decline", requestId), nil)
}

func (c *client) addMessage(requestId uint, message string) (services.RequestInfo, error) {
	return post[services.RequestInfo](c, fmt.Sprintf("/requests/%d/messages", requestId), map[string]string{"message": message})
}

// alerts returns nil when the server answers 204.
func (c *client) alerts(filter string) ([]services.AlertInfo, error) {
	return get[[]services.AlertInfo](c, "/alerts?filter="+filter)
}

func (c *client) markRead(alertId uint) (services.AlertInfo, error) {
	return post[services.AlertInfo](c, fmt.Sprintf("/alerts/%d/read", alertId), nil)
}

func (c *client) deleteAlert(alertId uint) error {
	return deleteReq(c, fmt.Sprintf("/alerts/%d", alertId))
}

func (c *client) me() (services.UserInfo, error) {
	return get[services.UserInfo](c, "/users/me")
}

func (c *client) updateProfile(update map[string]interface{}) (services.UserInfo, error) {
	return patch[services.UserInfo](c, "/users/me", update)
}

func (c *client) userInfo(userId string) (services.UserInfo, error) {
	return get[services.UserInfo](c, "/users/"+userId)
}

func (c *client) userAssets(userId string) (assetList, error) {
	return get[assetList](c, fmt.Sprintf("/users/%v/assets", userId))
}

func (c *client) grantRole(userId string, role schema.UserRole) (services.UserInfo, error) {
	return post[services.UserInfo](c, fmt.Sprintf("/users/%v/roles/%v", userId, role), nil)
}

func (c *client) revokeRole(userId string, role schema.UserRole) (services.UserInfo, error) {
	endpoint := fmt.Sprintf("/users/%v/roles/%v", userId, role)
	return decode[services.UserInfo](c.send("DELETE", endpoint, nil, nil), "DELETE", endpoint)
}

func (c *client) deleteUser(userId string) error {
	return deleteReq(c, "/users/"+userId)
}

func (c *client) download(endpoint string) ([]byte, error) {
	w := c.send("GET", endpoint, nil, nil)
	if w.Code != http.StatusOK {
		return nil, &statusError{method: "GET", endpoint: endpoint, code: w.Code, body: w.Body.String()}
	}
	return w.Body.Bytes(), nil
}
