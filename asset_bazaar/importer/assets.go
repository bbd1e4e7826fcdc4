package importer

import (
	"bms_platform/asset_bazaar/lifecycle"
	"bms_platform/asset_bazaar/schema"
	"bms_platform/utils/logging"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"regexp"
	"slices"
	"strings"
	"time"
	"unicode/utf8"

	"gopkg.in/yaml.v3"
	"gorm.io/gorm"
)

// Assets whose uploader has no account are credited to this user.
const (
	ImporterUserId   = "modelsaber_importer"
	importerUsername = "modelsaber_importer"
	importerName     = "ModelSaber Importer"
)

const legacyDateLayout = "2006-01-02 15:04:05"

var legacyTypes = map[string]string{
	"saber":    "saber_saber",
	"platform": "platform_plat",
	"avatar":   "avatar_avatar",
	"bloq":     "note_bloq",
}

var tagAliases = map[string]string{
	"funny":    "meme",
	"particle": "particles",
}

var htmlTag = regexp.MustCompile(`<[^>]*>`)

// LegacyAsset is one record of the old ModelSaber api. A file holds either a
// list of records or the api's map of id to record, as yaml or json.
type LegacyAsset struct {
	Id          uint     `yaml:"id"`
	Type        string   `yaml:"type"`
	Name        string   `yaml:"name"`
	Author      string   `yaml:"author"`
	DiscordId   string   `yaml:"discordid"`
	Hash        string   `yaml:"hash"`
	Tags        []string `yaml:"tags"`
	Date        string   `yaml:"date"`
	VariationId *uint    `yaml:"variationid"`
	Size        int64    `yaml:"size"`
}

type AssetSummary struct {
	Imported int
	Skipped  int
	Linked   int
}

func ParseLegacyAssets(r io.Reader) ([]LegacyAsset, error) {
	var node yaml.Node
	if err := yaml.NewDecoder(r).Decode(&node); err != nil {
		if errors.Is(err, io.EOF) {
			return nil, nil
		}
		return nil, fmt.Errorf("error parsing asset import file: %w", err)
	}
	if node.Kind != yaml.DocumentNode || len(node.Content) == 0 {
		return nil, nil
	}

	var records []LegacyAsset
	switch node.Content[0].Kind {
	case yaml.SequenceNode:
		if err := node.Decode(&records); err != nil {
			return nil, fmt.Errorf("error parsing asset import file: %w", err)
		}
	case yaml.MappingNode:
		var byId map[string]LegacyAsset
		if err := node.Decode(&byId); err != nil {
			return nil, fmt.Errorf("error parsing asset import file: %w", err)
		}
		for _, record := range byId {
			records = append(records, record)
		}
	default:
		return nil, fmt.Errorf("asset import file must hold a list or a map of assets")
	}

	seen := map[uint]bool{}
	for i, record := range records {
		if record.Id == 0 || record.Hash == "" {
			return nil, fmt.Errorf("asset %d in import file is missing an id or hash", i)
		}
		if seen[record.Id] {
			return nil, fmt.Errorf("asset %d appears more than once in import file", record.Id)
		}
		seen[record.Id] = true
	}

	slices.SortFunc(records, func(a, b LegacyAsset) int { return int(a.Id) - int(b.Id) })

	return records, nil
}

type AssetImportOptions struct {
	// FilesDir holds the legacy files as <hash>.<legacy type>, it is used to
	// size records that carry no size.
	FilesDir string
}

// ImportLegacyAssets creates approved assets from legacy records. Records of an
// unsupported type, without a known size, or whose legacy id or file hash is
// already stored are skipped, so an import can be run again. Each asset is
// created in its own transaction. Variations are linked to their base asset
// as alternates once all records are in.
func ImportLegacyAssets(db *gorm.DB, records []LegacyAsset, opts AssetImportOptions) (AssetSummary, error) {
	var summary AssetSummary

	importer, err := ensureImporterUser(db)
	if err != nil {
		return AssetSummary{}, err
	}

	for _, record := range records {
		imported, err := importLegacyAsset(db, importer, record, opts)
		if err != nil {
			return summary, err
		}
		if imported {
			summary.Imported++
		} else {
			summary.Skipped++
		}
	}

	summary.Linked, err = linkVariations(db, records)
	if err != nil {
		return summary, err
	}

	slog.Info("legacy assets imported", logging.Code(logging.ASSET_IMPORT), "imported", summary.Imported, "skipped", summary.Skipped, "linked", summary.Linked)

	return summary, nil
}

func ensureImporterUser(db *gorm.DB) (schema.User, error) {
	var user schema.User
	result := db.Unscoped().Limit(1).Find(&user, "id = ?", ImporterUserId)
	if result.Error != nil {
		slog.Error("sql error looking up importer user", "error", result.Error)
		return schema.User{}, schema.ErrDbAccessFailed
	}
	if result.RowsAffected > 0 {
		return user, nil
	}

	user = schema.User{
		Id:          ImporterUserId,
		Username:    importerUsername,
		DisplayName: importerName,
		AvatarUrl:   schema.DefaultAvatarUrl(ImporterUserId),
	}
	if result := db.Create(&user); result.Error != nil {
		slog.Error("sql error creating importer user", "error", result.Error)
		return schema.User{}, fmt.Errorf("error creating importer user: %w", schema.ErrDbAccessFailed)
	}
	return user, nil
}

func importLegacyAsset(db *gorm.DB, importer schema.User, record LegacyAsset, opts AssetImportOptions) (bool, error) {
	assetType, ok := legacyTypes[record.Type]
	if !ok {
		slog.Warn("skipping legacy asset of unsupported type", "legacy_id", record.Id, "type", record.Type)
		return false, nil
	}
	hash := strings.ToLower(record.Hash)

	size := record.Size
	if size <= 0 && opts.FilesDir != "" {
		if info, err := os.Stat(filepath.Join(opts.FilesDir, hash+"."+record.Type)); err == nil {
			size = info.Size()
		}
	}
	if size <= 0 {
		slog.Warn("skipping legacy asset without a known file size", "legacy_id", record.Id)
		return false, nil
	}

	imported := false
	err := db.Transaction(func(txn *gorm.DB) error {
		var existing int64
		result := txn.Unscoped().Model(&schema.Asset{}).Where("legacy_id = ? OR file_hash = ?", record.Id, hash).Count(&existing)
		if result.Error != nil {
			slog.Error("sql error checking for imported asset", "legacy_id", record.Id, "error", result.Error)
			return schema.ErrDbAccessFailed
		}
		if existing > 0 {
			return nil
		}

		uploader, err := legacyUploader(txn, importer, record.DiscordId)
		if err != nil {
			return err
		}

		legacyId := record.Id
		name, description := legacyText(record, uploader.Id == importer.Id)
		asset, err := lifecycle.CreateAsset(txn, uploader, lifecycle.CreateAssetParams{
			Type:        assetType,
			Name:        name,
			Description: description,
			License:     "cc-by-4.0",
			Tags:        legacyTags(record.Tags),
			FileHash:    hash,
			FileSize:    size,
			LegacyId:    &legacyId,
		})
		if err != nil {
			return err
		}

		_, _, err = lifecycle.SetStatus(txn, asset.Id, lifecycle.StatusChange{
			Status:       schema.Approved,
			Reason:       "Imported from ModelSaber.",
			ActingUserId: importer.Id,
			Override:     true,
		})
		if err != nil {
			return err
		}

		if created, err := time.Parse(legacyDateLayout, record.Date); err == nil {
			result := txn.Model(&schema.Asset{}).Where("id = ?", asset.Id).UpdateColumn("created_at", created.UTC())
			if result.Error != nil {
				slog.Error("sql error setting imported asset date", "asset_id", asset.Id, "error", result.Error)
				return schema.ErrDbAccessFailed
			}
		}

		imported = true
		return nil
	})
	if errors.Is(err, lifecycle.ErrValidation) || errors.Is(err, lifecycle.ErrDuplicateFile) {
		slog.Warn("skipping invalid legacy asset", "legacy_id", record.Id, "error", err)
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("error importing legacy asset %d: %w", record.Id, err)
	}
	return imported, nil
}

func legacyUploader(txn *gorm.DB, importer schema.User, discordId string) (schema.User, error) {
	if discordId == "" || discordId == "-1" {
		return importer, nil
	}
	var user schema.User
	result := txn.Limit(1).Find(&user, "id = ?", discordId)
	if result.Error != nil {
		slog.Error("sql error looking up legacy uploader", "user_id", discordId, "error", result.Error)
		return schema.User{}, schema.ErrDbAccessFailed
	}
	if result.RowsAffected == 0 {
		return importer, nil
	}
	return user, nil
}

// legacyText strips markup from the name. The original name and the author are
// kept in the description when they would otherwise be lost.
func legacyText(record LegacyAsset, unknownAuthor bool) (string, string) {
	name := strings.TrimSpace(htmlTag.ReplaceAllString(record.Name, ""))
	if name == "" {
		name = fmt.Sprintf("ModelSaber %s %d", record.Type, record.Id)
	}
	if utf8.RuneCountInString(name) > schema.MaxNameLength {
		name = string([]rune(name)[:schema.MaxNameLength])
	}

	lines := []string{"This asset was imported from the old ModelSaber."}
	if name != strings.TrimSpace(record.Name) {
		lines = append(lines, "Original name: "+record.Name)
	}
	if unknownAuthor && record.Author != "" {
		lines = append(lines, "Original author: "+record.Author)
	}
	if len(record.Tags) > 0 {
		lines = append(lines, "Tags: "+strings.Join(record.Tags, ", "))
	}
	description := strings.Join(lines, "\n\n")
	if utf8.RuneCountInString(description) > schema.MaxDescriptionLength {
		description = string([]rune(description)[:schema.MaxDescriptionLength])
	}
	return name, description
}

// legacyTags keeps the free form tags that match a known tag once separators
// and plurals are ignored.
func legacyTags(tags []string) []string {
	normalized := make([]string, 0, schema.MaxTags)
	for _, tag := range tags {
		key := strings.ToLower(tag)
		key = strings.NewReplacer("_", "", "-", "", " ", "").Replace(key)
		if alias, ok := tagAliases[key]; ok {
			key = alias
		}
		match := ""
		for _, known := range schema.Tags {
			if key == known || strings.TrimSuffix(key, "s") == strings.TrimSuffix(known, "s") {
				match = known
				break
			}
		}
		if match == "" || slices.Contains(normalized, match) {
			continue
		}
		normalized = append(normalized, match)
		if len(normalized) == schema.MaxTags {
			break
		}
	}
	return normalized
}

func linkVariations(db *gorm.DB, records []LegacyAsset) (int, error) {
	legacyIds := make([]uint, 0)
	for _, record := range records {
		if record.VariationId != nil && *record.VariationId != record.Id {
			legacyIds = append(legacyIds, record.Id, *record.VariationId)
		}
	}
	if len(legacyIds) == 0 {
		return 0, nil
	}

	var assets []schema.Asset
	result := db.Select("id", "legacy_id").Where("legacy_id IN ?", legacyIds).Find(&assets)
	if result.Error != nil {
		slog.Error("sql error listing imported variations", "error", result.Error)
		return 0, schema.ErrDbAccessFailed
	}
	byLegacyId := make(map[uint]uint, len(assets))
	for _, asset := range assets {
		byLegacyId[*asset.LegacyId] = asset.Id
	}

	linked := 0
	for _, record := range records {
		if record.VariationId == nil {
			continue
		}
		variant, ok := byLegacyId[record.Id]
		base, baseOk := byLegacyId[*record.VariationId]
		if !ok || !baseOk || base == variant {
			continue
		}
		_, err := lifecycle.AddLink(db, base, variant, schema.LinkAlternate)
		if errors.Is(err, lifecycle.ErrAlreadyLinked) {
			continue
		}
		if err != nil {
			return linked, fmt.Errorf("error linking legacy asset %d to %d: %w", record.Id, *record.VariationId, err)
		}
		linked++
	}
	return linked, nil
}
