package lifecycle

import (
	"bms_platform/asset_bazaar/auth"
	"bms_platform/asset_bazaar/schema"
	"bms_platform/utils/logging"
	"fmt"
	"log/slog"
	"slices"
	"time"

	"gorm.io/gorm"
)

// createGuardedRequest creates a credit or link request after making sure
// there is no open request and no declined request for the same responder,
// asset and type.
func createGuardedRequest(txn *gorm.DB, requester schema.User, asset schema.Asset, responderId *string, payload schema.RequestPayload) (schema.AssetRequest, error) {
	var existing []schema.AssetRequest
	result := txn.
		Where("responder_id = ? AND referenced_asset_id = ? AND request_type = ?", *responderId, asset.Id, payload.RequestType()).
		Find(&existing)
	if result.Error != nil {
		slog.Error("sql error checking for existing requests", "asset_id", asset.Id, "error", result.Error)
		return schema.AssetRequest{}, schema.ErrDbAccessFailed
	}

	declined := false
	for _, req := range existing {
		if req.IsOpen() {
			return schema.AssetRequest{}, fmt.Errorf("%w: request %d is still open", ErrDuplicateRequest, req.Id)
		}
		if !*req.Accepted {
			declined = true
		}
	}
	if declined {
		return schema.AssetRequest{}, fmt.Errorf("%w: a %v request for asset %d was declined", ErrRequestPreviouslyDeclined, payload.RequestType(), asset.Id)
	}

	request, err := schema.NewAssetRequest(asset.Id, requester.Id, responderId, payload)
	if err != nil {
		return schema.AssetRequest{}, fmt.Errorf("%w: %v", ErrValidation, err)
	}

	if result := txn.Create(&request); result.Error != nil {
		return schema.AssetRequest{}, writeError("creating request", result.Error)
	}

	slog.Info("request created", logging.Code(logging.REQUEST_CREATE), "request_id", request.Id, "type", request.RequestType, "asset_id", asset.Id, "requester_id", requester.Id)

	return request, nil
}

// lockOpenRequest loads the request for resolution by the resolver.
func lockOpenRequest(txn *gorm.DB, resolver schema.User, requestId uint) (schema.AssetRequest, error) {
	request, err := schema.GetAssetRequestForUpdate(requestId, txn)
	if err != nil {
		return request, lookupError(err)
	}
	if !auth.CanRespondToRequest(&request, &resolver) {
		return request, forbidden("user %v may not respond to request %d", resolver.Id, requestId)
	}
	if !request.IsOpen() {
		return request, ErrAlreadyResolved
	}
	return request, nil
}

func resolve(txn *gorm.DB, request *schema.AssetRequest, resolver schema.User, accepted bool) error {
	resolvedBy := resolver.Id
	request.Accepted = &accepted
	request.ResolvedBy = &resolvedBy

	result := txn.Model(request).Updates(map[string]interface{}{"accepted": accepted, "resolved_by": resolvedBy})
	if result.Error != nil {
		slog.Error("sql error resolving request", "request_id", request.Id, "error", result.Error)
		return schema.ErrDbAccessFailed
	}

	slog.Info("request resolved", logging.Code(logging.REQUEST_RESOLVE), "request_id", request.Id, "accepted", accepted, "resolved_by", resolvedBy)
	return nil
}

// Accept applies the request to the referenced asset and closes it. All
// writes, including alerts, happen in one transaction.
func Accept(txn *gorm.DB, resolver schema.User, requestId uint, silent bool) (schema.AssetRequest, error) {
	var request schema.AssetRequest

	err := txn.Transaction(func(txn *gorm.DB) error {
		var err error
		request, err = lockOpenRequest(txn, resolver, requestId)
		if err != nil {
			return err
		}

		payload, err := request.Payload()
		if err != nil {
			return fmt.Errorf("%w: %v", ErrValidation, err)
		}

		switch p := payload.(type) {
		case schema.CreditPayload:
			err = acceptCredit(txn, request, p)
		case schema.LinkPayload:
			_, err = AddLink(txn, request.ReferencedAssetId, p.AssetId, p.LinkType)
		case schema.ReportPayload:
			err = acceptReport(txn, resolver, request, silent)
		default:
			err = fmt.Errorf("%w: unsupported payload %T", ErrValidation, payload)
		}
		if err != nil {
			return err
		}

		if err := resolve(txn, &request, resolver, true); err != nil {
			return err
		}

		if silent || request.RequestType == schema.ReportRequest {
			return nil
		}
		return notifyRequest(txn, request.RequesterId, schema.AlertRequestAccepted, request.Id,
			"Request accepted", fmt.Sprintf("Your %v request for asset #%d was accepted.", request.RequestType, request.ReferencedAssetId))
	})

	return request, err
}

func acceptCredit(txn *gorm.DB, request schema.AssetRequest, payload schema.CreditPayload) error {
	asset, err := schema.GetAssetForUpdate(request.ReferencedAssetId, txn)
	if err != nil {
		return lookupError(err)
	}
	if asset.IsCredited(payload.UserId) {
		return nil
	}

	collaborators := append(slices.Clone(asset.Collaborators), payload.UserId)
	result := txn.Model(&asset).Update("collaborators", collaborators)
	if result.Error != nil {
		slog.Error("sql error adding collaborator", "asset_id", asset.Id, "error", result.Error)
		return schema.ErrDbAccessFailed
	}
	return nil
}

func acceptReport(txn *gorm.DB, resolver schema.User, request schema.AssetRequest, silent bool) error {
	asset, _, err := SetStatus(txn, request.ReferencedAssetId, StatusChange{
		Status:       schema.Rejected,
		Reason:       fmt.Sprintf("Removed following report #%d.", request.Id),
		ActingUserId: resolver.Id,
	})
	if err != nil {
		return err
	}

	if silent {
		return nil
	}

	err = notifyAsset(txn, asset.UploaderId, schema.AlertAssetRemoval, asset.Id, "Asset removed",
		fmt.Sprintf("Your asset \"%v\" has been removed after a report was upheld.", asset.Name))
	if err != nil {
		return err
	}
	return notifyRequest(txn, request.RequesterId, schema.AlertRequestAccepted, request.Id, "Report accepted",
		fmt.Sprintf("Your report on \"%v\" has been reviewed and the asset was removed.", asset.Name))
}

// Decline closes the request without touching the referenced asset.
func Decline(txn *gorm.DB, resolver schema.User, requestId uint, silent bool) (schema.AssetRequest, error) {
	var request schema.AssetRequest

	err := txn.Transaction(func(txn *gorm.DB) error {
		var err error
		request, err = lockOpenRequest(txn, resolver, requestId)
		if err != nil {
			return err
		}

		if err := resolve(txn, &request, resolver, false); err != nil {
			return err
		}

		if silent {
			return nil
		}
		return notifyRequest(txn, request.RequesterId, schema.AlertRequestDeclined, request.Id,
			"Request declined", fmt.Sprintf("Your %v request for asset #%d was declined.", request.RequestType, request.ReferencedAssetId))
	})

	return request, err
}

func AddMessage(txn *gorm.DB, user schema.User, requestId uint, text string) (schema.AssetRequest, error) {
	text, err := validateText("message", text, schema.MaxMessageLength)
	if err != nil {
		return schema.AssetRequest{}, err
	}

	var request schema.AssetRequest
	err = txn.Transaction(func(txn *gorm.DB) error {
		var err error
		request, err = schema.GetAssetRequestForUpdate(requestId, txn)
		if err != nil {
			return lookupError(err)
		}
		if !auth.CanMessageRequest(&request, &user) {
			return forbidden("user %v may not message on request %d", user.Id, requestId)
		}

		request.Messages = append(request.Messages, schema.RequestMessage{
			UserId: user.Id, Message: text, Timestamp: time.Now().UTC(),
		})
		result := txn.Model(&request).Update("messages", request.Messages)
		if result.Error != nil {
			slog.Error("sql error adding request message", "request_id", requestId, "error", result.Error)
			return schema.ErrDbAccessFailed
		}
		return nil
	})

	return request, err
}

func GetRequest(db *gorm.DB, viewer schema.User, requestId uint) (schema.AssetRequest, error) {
	request, err := schema.GetAssetRequest(requestId, db)
	if err != nil {
		return request, lookupError(err)
	}
	if !auth.CanViewRequest(&request, &viewer) {
		return request, forbidden("user %v may not view request %d", viewer.Id, requestId)
	}
	return request, nil
}

type RequestBox string

const (
	IncomingRequests RequestBox = "incoming"
	OutgoingRequests RequestBox = "outgoing"
	ReportRequests   RequestBox = "reports"
)

type RequestFilter struct {
	Box             RequestBox
	IncludeResolved bool
	AssetId         *uint
}

func requestBoxQuery(db *gorm.DB, user schema.User, box RequestBox) (*gorm.DB, error) {
	switch box {
	case IncomingRequests:
		return db.Where("responder_id = ?", user.Id), nil
	case OutgoingRequests:
		return db.Where("requester_id = ?", user.Id), nil
	case ReportRequests:
		if !auth.IsElevated(&user) {
			return nil, forbidden("only moderators may list reports")
		}
		return db.Where("request_type = ?", schema.ReportRequest), nil
	}
	return nil, validationError("invalid request box '%v', must be one of incoming, outgoing, reports", box)
}

// ListRequests returns requests newest first.
func ListRequests(db *gorm.DB, user schema.User, filter RequestFilter) ([]schema.AssetRequest, error) {
	query, err := requestBoxQuery(db, user, filter.Box)
	if err != nil {
		return nil, err
	}
	if !filter.IncludeResolved {
		query = query.Where("accepted IS NULL")
	}
	if filter.AssetId != nil {
		query = query.Where("referenced_asset_id = ?", *filter.AssetId)
	}

	requests := make([]schema.AssetRequest, 0)
	result := query.Order("created_at DESC").Order("id DESC").Find(&requests)
	if result.Error != nil {
		slog.Error("sql error listing requests", "user_id", user.Id, "box", filter.Box, "error", result.Error)
		return nil, schema.ErrDbAccessFailed
	}

	return requests, nil
}

type RequestCounts struct {
	Incoming int64
	Outgoing int64
	Reports  int64
}

// CountOpenRequests counts open requests per box. Reports are only counted
// for moderators.
func CountOpenRequests(db *gorm.DB, user schema.User) (RequestCounts, error) {
	var counts RequestCounts

	boxes := map[RequestBox]*int64{IncomingRequests: &counts.Incoming, OutgoingRequests: &counts.Outgoing}
	if auth.IsElevated(&user) {
		boxes[ReportRequests] = &counts.Reports
	}

	for box, count := range boxes {
		query, err := requestBoxQuery(db.Model(&schema.AssetRequest{}), user, box)
		if err != nil {
			return counts, err
		}
		result := query.Where("accepted IS NULL").Count(count)
		if result.Error != nil {
			slog.Error("sql error counting requests", "user_id", user.Id, "box", box, "error", result.Error)
			return counts, schema.ErrDbAccessFailed
		}
	}

	return counts, nil
}
