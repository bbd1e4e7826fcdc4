package services

import (
	"bms_platform/asset_bazaar/lifecycle"
	"bms_platform/asset_bazaar/schema"
	"bms_platform/asset_bazaar/storage"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
)

type codedError struct {
	err  error
	code int
}

func (e *codedError) Error() string {
	return e.err.Error()
}

func (e *codedError) Unwrap() error {
	return e.err
}

func CodedError(err error, code int) error {
	return &codedError{err: err, code: code}
}

// GetResponseCode prefers an explicit code, then falls back to the error kind
// returned from the lifecycle package.
func GetResponseCode(err error) int {
	var cerr *codedError
	if errors.As(err, &cerr) {
		return cerr.code
	}

	switch {
	case errors.Is(err, lifecycle.ErrNotFound),
		errors.Is(err, schema.ErrUserNotFound),
		errors.Is(err, schema.ErrAssetNotFound),
		errors.Is(err, storage.ErrFileNotFound):
		return http.StatusNotFound
	case errors.Is(err, lifecycle.ErrForbidden):
		return http.StatusForbidden
	case errors.Is(err, lifecycle.ErrInvalidTransition),
		errors.Is(err, lifecycle.ErrDuplicateRequest),
		errors.Is(err, lifecycle.ErrRequestPreviouslyDeclined),
		errors.Is(err, lifecycle.ErrConflictOnWrite):
		return http.StatusConflict
	case errors.Is(err, lifecycle.ErrSelfReference), errors.Is(err, lifecycle.ErrValidation):
		return http.StatusUnprocessableEntity
	case errors.Is(err, storage.ErrInvalidPath):
		return http.StatusBadRequest
	case errors.Is(err, schema.ErrDbAccessFailed):
		return http.StatusInternalServerError
	}

	slog.Error("non coded error passed to GetResponseCode", "error", err)
	return http.StatusInternalServerError
}

func checkDiskUsage(store storage.Storage) error {
	stats, err := store.Usage()
	if err != nil {
		slog.Error("unable to get disk usage from storage", "error", err)
		return CodedError(errors.New("unable to get disk usage"), http.StatusInternalServerError)
	}
	oneMib := uint64(1024 * 1024)
	// Keep 10% of the disk or 10Gb free, whichever is smaller.
	threshold := min(stats.TotalBytes/10, 10*1024*oneMib)
	if stats.FreeBytes < threshold {
		used := (stats.TotalBytes - stats.FreeBytes) / oneMib
		total := stats.TotalBytes / oneMib
		return CodedError(fmt.Errorf("insufficient disk space available, usage: %d/%d Mib", used, total), http.StatusInsufficientStorage)
	}
	return nil
}

func checkSufficientStorage(store storage.Storage) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		handler := func(w http.ResponseWriter, r *http.Request) {
			if err := checkDiskUsage(store); err != nil {
				slog.Error(err.Error())
				http.Error(w, err.Error(), GetResponseCode(err))
				return
			}
			next.ServeHTTP(w, r)
		}

		return http.HandlerFunc(handler)
	}
}
