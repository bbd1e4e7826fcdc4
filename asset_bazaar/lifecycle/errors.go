package lifecycle

import (
	"bms_platform/asset_bazaar/schema"
	"errors"
	"fmt"
	"log/slog"

	"gorm.io/gorm"
)

// Error kinds. Every error returned from this package either wraps one of
// these with errors.Is semantics or is schema.ErrDbAccessFailed.
var (
	ErrNotFound                  = errors.New("not found")
	ErrForbidden                 = errors.New("forbidden")
	ErrInvalidTransition         = errors.New("invalid transition")
	ErrDuplicateRequest          = errors.New("duplicate request")
	ErrRequestPreviouslyDeclined = errors.New("request previously declined")
	ErrSelfReference             = errors.New("self reference")
	ErrValidation                = errors.New("validation failure")
	ErrConflictOnWrite           = errors.New("conflict on write")
)

var (
	ErrAlreadyResolved = fmt.Errorf("%w: request has already been resolved", ErrInvalidTransition)
	ErrAlreadyCredited = fmt.Errorf("%w: user is already credited on this asset", ErrValidation)
	ErrAlreadyLinked   = fmt.Errorf("%w: assets are already linked", ErrValidation)
	ErrDuplicateFile   = fmt.Errorf("%w: an asset with this file already exists", ErrConflictOnWrite)
)

func validationError(format string, args ...interface{}) error {
	return fmt.Errorf("%w: %s", ErrValidation, fmt.Sprintf(format, args...))
}

func forbidden(format string, args ...interface{}) error {
	return fmt.Errorf("%w: %s", ErrForbidden, fmt.Sprintf(format, args...))
}

// lookupError maps the schema lookup sentinels onto the NotFound kind while
// keeping the original message.
func lookupError(err error) error {
	switch {
	case errors.Is(err, schema.ErrAssetNotFound),
		errors.Is(err, schema.ErrUserNotFound),
		errors.Is(err, schema.ErrRequestNotFound),
		errors.Is(err, schema.ErrAlertNotFound):
		return fmt.Errorf("%w: %w", ErrNotFound, err)
	}
	return err
}

// writeError converts a failed write into either a conflict or a db failure.
// Requires gorm.Config.TranslateError so unique violations arrive as
// gorm.ErrDuplicatedKey.
func writeError(action string, err error) error {
	if errors.Is(err, gorm.ErrDuplicatedKey) {
		return fmt.Errorf("%w: %v", ErrConflictOnWrite, action)
	}
	slog.Error("sql error", "action", action, "error", err)
	return schema.ErrDbAccessFailed
}
