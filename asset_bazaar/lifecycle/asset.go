package lifecycle

import (
	"bms_platform/asset_bazaar/auth"
	"bms_platform/asset_bazaar/schema"
	"bms_platform/utils/logging"
	"fmt"
	"log/slog"
	"slices"
	"time"

	"gorm.io/datatypes"
	"gorm.io/gorm"
)

var allowedTransitions = map[schema.Status][]schema.Status{
	schema.Private:  {schema.Pending, schema.Approved, schema.Rejected},
	schema.Pending:  {schema.Approved, schema.Rejected},
	schema.Approved: {schema.Rejected},
	schema.Rejected: {},
}

// CanTransition reports whether an asset may move from one status to another.
// Re-applying the current status is always allowed.
func CanTransition(from, to schema.Status) bool {
	return from == to || slices.Contains(allowedTransitions[from], to)
}

type CreateAssetParams struct {
	Type        string
	Name        string
	Description string
	License     string
	LicenseUrl  *string
	SourceUrl   *string
	Tags        []string
	FileHash    string
	FileSize    int64
	IconNames   []string
	LegacyId    *uint
}

func (p *CreateAssetParams) validate() error {
	if !slices.Contains(schema.AssetTypes, p.Type) {
		return validationError("invalid asset type '%v'", p.Type)
	}
	if err := validateName(p.Name); err != nil {
		return err
	}
	if err := validateDescription(p.Description); err != nil {
		return err
	}
	if err := validateLicense(p.License, p.LicenseUrl); err != nil {
		return err
	}
	if p.SourceUrl != nil && *p.SourceUrl != "" {
		if err := validateUrl("source url", *p.SourceUrl); err != nil {
			return err
		}
	}
	if err := validateFileHash(p.FileHash); err != nil {
		return err
	}
	if p.FileSize <= 0 {
		return validationError("file must not be empty")
	}
	if len(p.IconNames) > schema.MaxIcons {
		return validationError("at most %d icons are allowed", schema.MaxIcons)
	}
	tags, err := normalizeTags(p.Tags)
	if err != nil {
		return err
	}
	p.Tags = tags
	return nil
}

// CreateAsset stores a new private asset. The creation is recorded as the
// first status history entry.
func CreateAsset(txn *gorm.DB, uploader schema.User, params CreateAssetParams) (schema.Asset, error) {
	if err := params.validate(); err != nil {
		return schema.Asset{}, err
	}

	var duplicates int64
	result := txn.Unscoped().Model(&schema.Asset{}).Where("file_hash = ?", params.FileHash).Count(&duplicates)
	if result.Error != nil {
		slog.Error("sql error checking for duplicate asset file", "error", result.Error)
		return schema.Asset{}, schema.ErrDbAccessFailed
	}
	if duplicates > 0 {
		return schema.Asset{}, ErrDuplicateFile
	}

	asset := schema.Asset{
		LegacyId:      params.LegacyId,
		Type:          params.Type,
		UploaderId:    uploader.Id,
		Collaborators: []string{},
		Name:          params.Name,
		Description:   params.Description,
		License:       params.License,
		LicenseUrl:    params.LicenseUrl,
		SourceUrl:     params.SourceUrl,
		FileHash:      params.FileHash,
		FileSize:      params.FileSize,
		IconNames:     params.IconNames,
		Status:        schema.Private,
		StatusHistory: []schema.StatusHistoryEntry{
			{Status: schema.Private, Reason: "Asset uploaded.", Timestamp: time.Now().UTC(), UserId: uploader.Id},
		},
		Tags: params.Tags,
	}
	if asset.IconNames == nil {
		asset.IconNames = []string{}
	}

	result = txn.Create(&asset)
	if result.Error != nil {
		return schema.Asset{}, writeError("creating asset", result.Error)
	}

	slog.Info("asset created", logging.Code(logging.ASSET_UPLOAD), "asset_id", asset.Id, "uploader_id", uploader.Id)

	return asset, nil
}

type StatusChange struct {
	Status       schema.Status
	Reason       string
	ActingUserId string
	// Override skips the transition table. Callers must restrict it to admins.
	Override bool
}

// SetStatus locks the asset row and applies the status change. The change is
// validated before anything is written: an invalid transition leaves both the
// status and the history untouched. It returns the updated asset and the
// status it had before.
func SetStatus(txn *gorm.DB, assetId uint, change StatusChange) (schema.Asset, schema.Status, error) {
	if err := schema.CheckValidStatus(change.Status); err != nil {
		return schema.Asset{}, "", fmt.Errorf("%w: %v", ErrValidation, err)
	}
	reason, err := validateText("reason", change.Reason, schema.MaxReasonLength)
	if err != nil {
		return schema.Asset{}, "", err
	}

	var asset schema.Asset
	var previous schema.Status

	err = txn.Transaction(func(txn *gorm.DB) error {
		asset, err = schema.GetAssetForUpdate(assetId, txn)
		if err != nil {
			return lookupError(err)
		}
		previous = asset.Status

		if !change.Override && !CanTransition(asset.Status, change.Status) {
			return fmt.Errorf("%w: asset %d cannot move from %v to %v", ErrInvalidTransition, assetId, asset.Status, change.Status)
		}

		asset.Status = change.Status
		asset.StatusHistory = append(asset.StatusHistory, schema.StatusHistoryEntry{
			Status:    change.Status,
			Reason:    reason,
			Timestamp: time.Now().UTC(),
			UserId:    change.ActingUserId,
		})

		result := txn.Model(&asset).Updates(map[string]interface{}{
			"status":         asset.Status,
			"status_history": asset.StatusHistory,
		})
		if result.Error != nil {
			slog.Error("sql error updating asset status", "asset_id", assetId, "error", result.Error)
			return schema.ErrDbAccessFailed
		}
		return nil
	})
	if err != nil {
		return schema.Asset{}, "", err
	}

	slog.Info("asset status set", logging.Code(logging.ASSET_STATUS), "asset_id", assetId, "from", previous, "to", change.Status, "user_id", change.ActingUserId)

	return asset, previous, nil
}

// ReviewAsset is the user facing status change. Owners may submit their asset
// for review, moderators may make any allowed change and admins may override
// the transition table. The uploader is alerted when someone else approves
// or rejects their asset.
func ReviewAsset(txn *gorm.DB, actor schema.User, assetId uint, status schema.Status, reason string, override bool) (schema.Asset, schema.Status, error) {
	var asset schema.Asset
	var previous schema.Status

	err := txn.Transaction(func(txn *gorm.DB) error {
		current, err := schema.GetAsset(assetId, txn, false, false)
		if err != nil {
			return lookupError(err)
		}
		if !auth.CanView(&current, &actor) {
			return fmt.Errorf("%w: %w", ErrNotFound, schema.ErrAssetNotFound)
		}
		if !auth.CanSetStatus(&current, &actor, status) {
			return forbidden("user %v may not set asset %d to %v", actor.Id, assetId, status)
		}
		if override && !auth.IsAdmin(&actor) {
			return forbidden("only admins may override status transitions")
		}

		asset, previous, err = SetStatus(txn, assetId, StatusChange{
			Status: status, Reason: reason, ActingUserId: actor.Id, Override: override,
		})
		if err != nil {
			return err
		}

		if previous == status || actor.Id == asset.UploaderId {
			return nil
		}
		switch status {
		case schema.Approved:
			return notifyAsset(txn, asset.UploaderId, schema.AlertAssetApproved, asset.Id,
				"Asset approved", fmt.Sprintf("Your asset \"%v\" has been approved. Reason: %v", asset.Name, reason))
		case schema.Rejected:
			return notifyAsset(txn, asset.UploaderId, schema.AlertAssetRejected, asset.Id,
				"Asset rejected", fmt.Sprintf("Your asset \"%v\" has been rejected. Reason: %v", asset.Name, reason))
		}
		return nil
	})

	return asset, previous, err
}

type AssetPatch struct {
	Name        *string
	Description *string
	Tags        *[]string
}

// UpdateAsset applies a partial update, fields left nil are not touched.
func UpdateAsset(txn *gorm.DB, actor schema.User, assetId uint, patch AssetPatch) (schema.Asset, error) {
	updates := map[string]interface{}{}

	if patch.Name != nil {
		if err := validateName(*patch.Name); err != nil {
			return schema.Asset{}, err
		}
		updates["name"] = *patch.Name
	}
	if patch.Description != nil {
		if err := validateDescription(*patch.Description); err != nil {
			return schema.Asset{}, err
		}
		updates["description"] = *patch.Description
	}
	if patch.Tags != nil {
		tags, err := normalizeTags(*patch.Tags)
		if err != nil {
			return schema.Asset{}, err
		}
		updates["tags"] = datatypes.JSONSlice[string](tags)
	}

	var asset schema.Asset
	err := txn.Transaction(func(txn *gorm.DB) error {
		var err error
		asset, err = schema.GetAssetForUpdate(assetId, txn)
		if err != nil {
			return lookupError(err)
		}
		if !auth.CanEdit(&asset, &actor) {
			return forbidden("user %v may not edit asset %d", actor.Id, assetId)
		}
		if len(updates) == 0 {
			return nil
		}

		result := txn.Model(&asset).Updates(updates)
		if result.Error != nil {
			slog.Error("sql error updating asset", "asset_id", assetId, "error", result.Error)
			return schema.ErrDbAccessFailed
		}
		return nil
	})
	if err != nil {
		return schema.Asset{}, err
	}

	slog.Info("asset updated", logging.Code(logging.ASSET_UPDATE), "asset_id", assetId, "user_id", actor.Id)

	return schema.GetAsset(assetId, txn, true, true)
}

// DeleteAsset soft deletes the asset. Its links are removed in both directions
// and open requests that can no longer be applied are closed, all without
// alerting anyone.
func DeleteAsset(txn *gorm.DB, actor schema.User, assetId uint) error {
	err := txn.Transaction(func(txn *gorm.DB) error {
		asset, err := schema.GetAssetForUpdate(assetId, txn)
		if err != nil {
			return lookupError(err)
		}
		if !auth.CanEdit(&asset, &actor) {
			return forbidden("user %v may not delete asset %d", actor.Id, assetId)
		}

		result := txn.Where("asset_id = ? OR linked_asset_id = ?", assetId, assetId).Delete(&schema.AssetLink{})
		if result.Error != nil {
			slog.Error("sql error removing links of deleted asset", "asset_id", assetId, "error", result.Error)
			return schema.ErrDbAccessFailed
		}

		result = txn.Model(&schema.AssetRequest{}).
			Where("referenced_asset_id = ? AND accepted IS NULL", assetId).
			Updates(map[string]interface{}{"accepted": false, "resolved_by": actor.Id})
		if result.Error != nil {
			slog.Error("sql error closing requests of deleted asset", "asset_id", assetId, "error", result.Error)
			return schema.ErrDbAccessFailed
		}

		// Link requests from other assets are withdrawn rather than declined, a
		// decline would block their requester from asking the same owner again.
		result = txn.
			Where("link_asset_id = ? AND request_type = ? AND accepted IS NULL", assetId, schema.LinkRequest).
			Delete(&schema.AssetRequest{})
		if result.Error != nil {
			slog.Error("sql error withdrawing link requests to deleted asset", "asset_id", assetId, "error", result.Error)
			return schema.ErrDbAccessFailed
		}

		if result := txn.Delete(&asset); result.Error != nil {
			slog.Error("sql error deleting asset", "asset_id", assetId, "error", result.Error)
			return schema.ErrDbAccessFailed
		}
		return nil
	})
	if err != nil {
		return err
	}

	slog.Info("asset deleted", logging.Code(logging.ASSET_DELETE), "asset_id", assetId, "user_id", actor.Id)

	return nil
}

// AddLink writes a link between two assets without asking for consent. Both
// asset rows are locked for the duration so concurrent links between the same
// pair cannot both pass the duplicate check.
func AddLink(txn *gorm.DB, assetId, otherId uint, linkType schema.LinkType) (schema.Asset, error) {
	if assetId == otherId {
		return schema.Asset{}, fmt.Errorf("%w: an asset cannot be linked to itself", ErrSelfReference)
	}
	if err := schema.CheckValidLinkType(linkType); err != nil {
		return schema.Asset{}, fmt.Errorf("%w: %v", ErrValidation, err)
	}

	err := txn.Transaction(func(txn *gorm.DB) error {
		for _, id := range []uint{min(assetId, otherId), max(assetId, otherId)} {
			if _, err := schema.GetAssetForUpdate(id, txn); err != nil {
				return lookupError(err)
			}
		}

		linked, err := areLinked(txn, assetId, otherId)
		if err != nil {
			return err
		}
		if linked {
			return ErrAlreadyLinked
		}

		link := schema.AssetLink{AssetId: assetId, LinkedAssetId: otherId, LinkType: linkType}
		if result := txn.Create(&link); result.Error != nil {
			return writeError("creating asset link", result.Error)
		}

		result := txn.Model(&schema.Asset{}).Where("id IN ?", []uint{assetId, otherId}).Update("updated_at", time.Now().UTC())
		if result.Error != nil {
			slog.Error("sql error touching linked assets", "asset_id", assetId, "other_id", otherId, "error", result.Error)
			return schema.ErrDbAccessFailed
		}
		return nil
	})
	if err != nil {
		return schema.Asset{}, err
	}

	slog.Info("assets linked", logging.Code(logging.ASSET_LINK), "asset_id", assetId, "other_id", otherId, "link_type", linkType)

	return schema.GetAsset(assetId, txn, true, true)
}

func areLinked(txn *gorm.DB, assetId, otherId uint) (bool, error) {
	var count int64
	result := txn.Model(&schema.AssetLink{}).
		Where("(asset_id = ? AND linked_asset_id = ?) OR (asset_id = ? AND linked_asset_id = ?)", assetId, otherId, otherId, assetId).
		Count(&count)
	if result.Error != nil {
		slog.Error("sql error checking for existing link", "asset_id", assetId, "other_id", otherId, "error", result.Error)
		return false, schema.ErrDbAccessFailed
	}
	return count > 0, nil
}

// LinkResult holds exactly one of Asset, when the link was applied directly,
// or Request, when the other asset's uploader has to consent first.
type LinkResult struct {
	Asset   *schema.Asset
	Request *schema.AssetRequest
}

func RequestLink(txn *gorm.DB, requester schema.User, assetId, otherId uint, linkType schema.LinkType) (LinkResult, error) {
	if assetId == otherId {
		return LinkResult{}, fmt.Errorf("%w: an asset cannot be linked to itself", ErrSelfReference)
	}
	if err := schema.CheckValidLinkType(linkType); err != nil {
		return LinkResult{}, fmt.Errorf("%w: %v", ErrValidation, err)
	}

	var res LinkResult
	err := txn.Transaction(func(txn *gorm.DB) error {
		asset, err := schema.GetAsset(assetId, txn, false, false)
		if err != nil {
			return lookupError(err)
		}
		if !auth.CanEdit(&asset, &requester) {
			return forbidden("user %v may not edit asset %d", requester.Id, assetId)
		}
		other, err := schema.GetAsset(otherId, txn, false, false)
		if err != nil {
			return lookupError(err)
		}
		if !auth.CanView(&other, &requester) {
			return fmt.Errorf("%w: %w", ErrNotFound, schema.ErrAssetNotFound)
		}

		if requester.Id == other.UploaderId || auth.IsElevated(&requester) {
			linkedAsset, err := AddLink(txn, assetId, otherId, linkType)
			if err != nil {
				return err
			}
			res.Asset = &linkedAsset
			return nil
		}

		linked, err := areLinked(txn, assetId, otherId)
		if err != nil {
			return err
		}
		if linked {
			return ErrAlreadyLinked
		}

		responderId := other.UploaderId
		request, err := createGuardedRequest(txn, requester, asset, &responderId, schema.LinkPayload{AssetId: otherId, LinkType: linkType})
		if err != nil {
			return err
		}

		err = notifyRequest(txn, responderId, schema.AlertRequestReceived, request.Id, "Link request",
			fmt.Sprintf("%v would like to link \"%v\" to your asset \"%v\" as %v.", requester.DisplayName, asset.Name, other.Name, linkType.Mirror()))
		if err != nil {
			return err
		}
		res.Request = &request
		return nil
	})

	return res, err
}

// RequestCollab asks userToCredit to confirm they should be credited as a
// collaborator on the asset.
func RequestCollab(txn *gorm.DB, requester schema.User, assetId uint, userToCreditId string) (schema.AssetRequest, error) {
	var request schema.AssetRequest

	err := txn.Transaction(func(txn *gorm.DB) error {
		asset, err := schema.GetAsset(assetId, txn, false, false)
		if err != nil {
			return lookupError(err)
		}
		if !auth.CanEdit(&asset, &requester) {
			return forbidden("user %v may not edit asset %d", requester.Id, assetId)
		}
		userToCredit, err := schema.GetUser(userToCreditId, txn)
		if err != nil {
			return lookupError(err)
		}
		if asset.IsCredited(userToCredit.Id) {
			return ErrAlreadyCredited
		}

		request, err = createGuardedRequest(txn, requester, asset, &userToCredit.Id, schema.CreditPayload{UserId: userToCredit.Id})
		if err != nil {
			return err
		}

		return notifyRequest(txn, userToCredit.Id, schema.AlertRequestReceived, request.Id, "Credit request",
			fmt.Sprintf("%v would like to credit you as a collaborator on \"%v\".", requester.DisplayName, asset.Name))
	})

	return request, err
}

// Report opens a report against the asset. Only one report per asset may be
// open at a time, resolved reports do not block new ones.
func Report(txn *gorm.DB, reporter schema.User, assetId uint, reason string) (schema.AssetRequest, error) {
	reason, err := validateText("reason", reason, schema.MaxMessageLength)
	if err != nil {
		return schema.AssetRequest{}, err
	}

	var request schema.AssetRequest
	err = txn.Transaction(func(txn *gorm.DB) error {
		asset, err := schema.GetAsset(assetId, txn, false, false)
		if err != nil {
			return lookupError(err)
		}
		if !auth.CanView(&asset, &reporter) {
			return fmt.Errorf("%w: %w", ErrNotFound, schema.ErrAssetNotFound)
		}
		if reporter.Id == asset.UploaderId {
			return fmt.Errorf("%w: users cannot report their own assets", ErrSelfReference)
		}

		var open int64
		result := txn.Model(&schema.AssetRequest{}).
			Where("referenced_asset_id = ? AND request_type = ? AND accepted IS NULL", assetId, schema.ReportRequest).
			Count(&open)
		if result.Error != nil {
			slog.Error("sql error checking for open reports", "asset_id", assetId, "error", result.Error)
			return schema.ErrDbAccessFailed
		}
		if open > 0 {
			return fmt.Errorf("%w: asset %d already has an open report", ErrDuplicateRequest, assetId)
		}

		request, err = schema.NewAssetRequest(assetId, reporter.Id, nil, schema.ReportPayload{})
		if err != nil {
			return err
		}
		request.Messages = append(request.Messages, schema.RequestMessage{
			UserId: reporter.Id, Message: reason, Timestamp: time.Now().UTC(),
		})

		if result := txn.Create(&request); result.Error != nil {
			return writeError("creating report", result.Error)
		}
		return nil
	})
	if err != nil {
		return schema.AssetRequest{}, err
	}

	slog.Info("asset reported", logging.Code(logging.REQUEST_CREATE), "asset_id", assetId, "request_id", request.Id, "user_id", reporter.Id)

	return request, nil
}
