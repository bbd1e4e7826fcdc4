package schema

import (
	"fmt"
)

// RequestPayload is the type specific part of an AssetRequest. The set of
// implementations is closed: CreditPayload, LinkPayload and ReportPayload.
type RequestPayload interface {
	RequestType() RequestType
	apply(r *AssetRequest)
}

type CreditPayload struct {
	UserId string
}

func (CreditPayload) RequestType() RequestType { return CreditRequest }

func (p CreditPayload) apply(r *AssetRequest) {
	userId := p.UserId
	r.CreditUserId = &userId
}

type LinkPayload struct {
	AssetId  uint
	LinkType LinkType
}

func (LinkPayload) RequestType() RequestType { return LinkRequest }

func (p LinkPayload) apply(r *AssetRequest) {
	assetId, linkType := p.AssetId, p.LinkType
	r.LinkAssetId = &assetId
	r.LinkType = &linkType
}

type ReportPayload struct{}

func (ReportPayload) RequestType() RequestType { return ReportRequest }

func (ReportPayload) apply(*AssetRequest) {}

// NewAssetRequest builds an open request. Reports have no responder, every
// other request type must name one.
func NewAssetRequest(assetId uint, requesterId string, responderId *string, payload RequestPayload) (AssetRequest, error) {
	isReport := payload.RequestType() == ReportRequest
	if isReport != (responderId == nil) {
		return AssetRequest{}, fmt.Errorf("request of type %v has invalid responder", payload.RequestType())
	}

	request := AssetRequest{
		ReferencedAssetId: assetId,
		RequesterId:       requesterId,
		ResponderId:       responderId,
		RequestType:       payload.RequestType(),
		Messages:          []RequestMessage{},
	}
	payload.apply(&request)
	return request, nil
}

// Payload decodes the stored columns back into the typed payload.
func (r *AssetRequest) Payload() (RequestPayload, error) {
	switch r.RequestType {
	case CreditRequest:
		if r.CreditUserId == nil {
			return nil, fmt.Errorf("credit request %d is missing the credited user", r.Id)
		}
		return CreditPayload{UserId: *r.CreditUserId}, nil
	case LinkRequest:
		if r.LinkAssetId == nil || r.LinkType == nil {
			return nil, fmt.Errorf("link request %d is missing the linked asset", r.Id)
		}
		return LinkPayload{AssetId: *r.LinkAssetId, LinkType: *r.LinkType}, nil
	case ReportRequest:
		return ReportPayload{}, nil
	default:
		return nil, fmt.Errorf("request %d has unknown type '%v'", r.Id, r.RequestType)
	}
}
