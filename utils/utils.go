package utils

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"
)

func ParseRequestBody(w http.ResponseWriter, r *http.Request, dest interface{}) bool {
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	err := dec.Decode(dest)
	if err != nil {
		slog.Error("error parsing request body", "error", err)
		http.Error(w, fmt.Sprintf("error parsing request body: %v", err), http.StatusBadRequest)
		return false
	}
	return true
}

func WriteJsonResponse(w http.ResponseWriter, data interface{}) {
	WriteJsonResponseWithStatus(w, http.StatusOK, data)
}

func WriteJsonResponseWithStatus(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	err := json.NewEncoder(w).Encode(data)
	if err != nil {
		slog.Error("error serializing response body", "error", err)
		http.Error(w, fmt.Sprintf("error serializing response body: %v", err), http.StatusInternalServerError)
	}
}

func WriteSuccess(w http.ResponseWriter) {
	WriteJsonResponse(w, struct{}{})
}

func URLParam(r *http.Request, key string) (string, error) {
	param := chi.URLParam(r, key)
	if len(param) == 0 {
		return "", fmt.Errorf("missing {%v} url parameter", key)
	}
	return param, nil
}

func URLParamUint(r *http.Request, key string) (uint, error) {
	param := chi.URLParam(r, key)

	if len(param) == 0 {
		return 0, fmt.Errorf("missing {%v} url parameter", key)
	}

	id, err := strconv.ParseUint(param, 10, 64)
	if err != nil || id == 0 {
		return 0, fmt.Errorf("invalid id '%v' provided", param)
	}

	return uint(id), nil
}

// QueryInt returns defaultValue when the parameter is absent.
func QueryInt(r *http.Request, key string, defaultValue int) (int, error) {
	value := r.URL.Query().Get(key)
	if value == "" {
		return defaultValue, nil
	}
	i, err := strconv.Atoi(value)
	if err != nil {
		return 0, fmt.Errorf("invalid integer '%v' for query parameter %v", value, key)
	}
	return i, nil
}

func QueryBool(r *http.Request, key string) bool {
	return strings.ToLower(r.URL.Query().Get(key)) == "true"
}

// QueryList splits a comma separated parameter, so both ?status=a,b and
// ?status=a&status=b are accepted. Empty items are dropped.
func QueryList(r *http.Request, key string) []string {
	items := make([]string, 0)
	for _, value := range r.URL.Query()[key] {
		for _, item := range strings.Split(value, ",") {
			if item = strings.TrimSpace(item); item != "" {
				items = append(items, item)
			}
		}
	}
	return items
}

// QueryId parses an optional id parameter, nil means the parameter was absent.
func QueryId(r *http.Request, key string) (*uint, error) {
	if !r.URL.Query().Has(key) {
		return nil, nil
	}
	value := r.URL.Query().Get(key)
	id, err := strconv.ParseUint(value, 10, 64)
	if err != nil || id == 0 {
		return nil, fmt.Errorf("invalid id '%v' for query parameter %v", value, key)
	}
	res := uint(id)
	return &res, nil
}
