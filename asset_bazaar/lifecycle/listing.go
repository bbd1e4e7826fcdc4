package lifecycle

import (
	"bms_platform/asset_bazaar/auth"
	"bms_platform/asset_bazaar/schema"
	"fmt"
	"log/slog"
	"slices"
	"strings"

	"gorm.io/gorm"
)

const (
	DefaultPageSize = 50
	MaxPageSize     = 250
)

type AssetFilter struct {
	// Empty means every status the viewer may see.
	Statuses   []schema.Status
	Type       string
	Tag        string
	UploaderId string
	// Pages start at 1.
	Page  int
	Limit int
}

func (f *AssetFilter) normalize() error {
	if f.Page == 0 {
		f.Page = 1
	}
	if f.Limit == 0 {
		f.Limit = DefaultPageSize
	}
	if f.Page < 1 {
		return validationError("page must be at least 1")
	}
	if f.Limit < 1 || f.Limit > MaxPageSize {
		return validationError("limit must be between 1 and %d", MaxPageSize)
	}
	for _, status := range f.Statuses {
		if err := schema.CheckValidStatus(status); err != nil {
			return fmt.Errorf("%w: %v", ErrValidation, err)
		}
	}
	if f.Type != "" && !slices.Contains(schema.AssetTypes, f.Type) {
		return validationError("invalid asset type '%v'", f.Type)
	}
	f.Tag = strings.ToLower(strings.TrimSpace(f.Tag))
	if f.Tag != "" && !slices.Contains(schema.Tags, f.Tag) {
		return validationError("unknown tag '%v'", f.Tag)
	}
	return nil
}

// visibleStatuses intersects the requested statuses with what the viewer may
// see. Uploaders see all of their own assets.
func visibleStatuses(viewer *schema.User, filter AssetFilter) []schema.Status {
	allowed := auth.AllowedViewStatuses(viewer)
	if viewer != nil && filter.UploaderId == viewer.Id {
		allowed = slices.Clone(schema.AllStatuses)
	}
	if len(filter.Statuses) == 0 {
		return allowed
	}

	statuses := make([]schema.Status, 0, len(filter.Statuses))
	for _, status := range filter.Statuses {
		if slices.Contains(allowed, status) && !slices.Contains(statuses, status) {
			statuses = append(statuses, status)
		}
	}
	return statuses
}

// ListAssets returns one page of assets visible to the viewer, newest first,
// along with the total number of matches. A nil viewer is anonymous.
func ListAssets(db *gorm.DB, viewer *schema.User, filter AssetFilter) ([]schema.Asset, int64, error) {
	if err := filter.normalize(); err != nil {
		return nil, 0, err
	}

	assets := make([]schema.Asset, 0)

	statuses := visibleStatuses(viewer, filter)
	if len(statuses) == 0 {
		return assets, 0, nil
	}

	query := db.Model(&schema.Asset{}).Where("status IN ?", statuses)
	if filter.Type != "" {
		query = query.Where("type = ?", filter.Type)
	}
	if filter.UploaderId != "" {
		query = query.Where("uploader_id = ?", filter.UploaderId)
	}
	if filter.Tag != "" {
		// Tags are a closed vocabulary of plain words, so matching the quoted
		// value inside the json text is exact.
		query = query.Where("CAST(tags AS TEXT) LIKE ?", fmt.Sprintf("%%%q%%", filter.Tag))
	}

	query = query.Session(&gorm.Session{})

	var total int64
	if result := query.Count(&total); result.Error != nil {
		slog.Error("sql error counting assets", "error", result.Error)
		return nil, 0, schema.ErrDbAccessFailed
	}

	result := query.
		Preload("Uploader").Preload("Links").Preload("InverseLinks").
		Order("created_at DESC").Order("id DESC").
		Offset((filter.Page - 1) * filter.Limit).Limit(filter.Limit).
		Find(&assets)
	if result.Error != nil {
		slog.Error("sql error listing assets", "error", result.Error)
		return nil, 0, schema.ErrDbAccessFailed
	}

	return assets, total, nil
}

// GetVisibleAsset loads an asset with its links and uploader. Assets the
// viewer may not see are reported as not found.
func GetVisibleAsset(db *gorm.DB, viewer *schema.User, assetId uint) (schema.Asset, error) {
	asset, err := schema.GetAsset(assetId, db, true, true)
	if err != nil {
		return asset, lookupError(err)
	}
	if !auth.CanView(&asset, viewer) {
		return schema.Asset{}, fmt.Errorf("%w: %w", ErrNotFound, schema.ErrAssetNotFound)
	}
	return asset, nil
}
