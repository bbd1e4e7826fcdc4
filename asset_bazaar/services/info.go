package services

import (
	"bms_platform/asset_bazaar/schema"
	"time"
)

type UserSummary struct {
	Id          string `json:"id"`
	Username    string `json:"username"`
	DisplayName string `json:"displayName"`
	AvatarUrl   string `json:"avatarUrl"`
}

// placeholderUser stands in for uploaders whose account no longer exists.
func placeholderUser(userId string) UserSummary {
	return UserSummary{
		Id:          userId,
		Username:    "deleted-user",
		DisplayName: "Deleted User",
		AvatarUrl:   schema.DefaultAvatarUrl(userId),
	}
}

func convertToUserSummary(user *schema.User, userId string) UserSummary {
	if user == nil {
		return placeholderUser(userId)
	}
	return UserSummary{
		Id:          user.Id,
		Username:    user.Username,
		DisplayName: user.DisplayName,
		AvatarUrl:   user.AvatarUrl,
	}
}

type UserInfo struct {
	Id          string              `json:"id"`
	Username    string              `json:"username"`
	DisplayName string              `json:"displayName"`
	Bio         string              `json:"bio"`
	AvatarUrl   string              `json:"avatarUrl"`
	SponsorUrls []schema.SponsorUrl `json:"sponsorUrls"`
	Roles       []schema.UserRole   `json:"roles"`
	CreatedAt   time.Time           `json:"createdAt"`
}

func convertToUserInfo(user schema.User) UserInfo {
	info := UserInfo{
		Id:          user.Id,
		Username:    user.Username,
		DisplayName: user.DisplayName,
		Bio:         user.Bio,
		AvatarUrl:   user.AvatarUrl,
		SponsorUrls: user.SponsorUrls,
		Roles:       user.Roles,
		CreatedAt:   user.CreatedAt,
	}
	if info.SponsorUrls == nil {
		info.SponsorUrls = []schema.SponsorUrl{}
	}
	if info.Roles == nil {
		info.Roles = []schema.UserRole{}
	}
	return info
}

type AssetInfo struct {
	Id            uint                        `json:"id"`
	LegacyId      *uint                       `json:"legacyId"`
	Type          string                      `json:"type"`
	Uploader      UserSummary                 `json:"uploader"`
	Collaborators []string                    `json:"collaborators"`
	Name          string                      `json:"name"`
	Description   string                      `json:"description"`
	License       string                      `json:"license"`
	LicenseUrl    *string                     `json:"licenseUrl"`
	SourceUrl     *string                     `json:"sourceUrl"`
	FileHash      string                      `json:"fileHash"`
	FileSize      int64                       `json:"fileSize"`
	Icons         []string                    `json:"icons"`
	Status        schema.Status               `json:"status"`
	StatusHistory []schema.StatusHistoryEntry `json:"statusHistory"`
	Tags          []string                    `json:"tags"`
	Links         []schema.LinkedAsset        `json:"links"`
	CreatedAt     time.Time                   `json:"createdAt"`
	UpdatedAt     time.Time                   `json:"updatedAt"`
}

func orEmpty[T any](s []T) []T {
	if s == nil {
		return []T{}
	}
	return s
}

// convertToAssetInfo expects links and the uploader to be preloaded. A missing
// uploader is rendered as a placeholder.
func convertToAssetInfo(asset schema.Asset) AssetInfo {
	return AssetInfo{
		Id:            asset.Id,
		LegacyId:      asset.LegacyId,
		Type:          asset.Type,
		Uploader:      convertToUserSummary(asset.Uploader, asset.UploaderId),
		Collaborators: orEmpty(asset.Collaborators),
		Name:          asset.Name,
		Description:   asset.Description,
		License:       asset.License,
		LicenseUrl:    asset.LicenseUrl,
		SourceUrl:     asset.SourceUrl,
		FileHash:      asset.FileHash,
		FileSize:      asset.FileSize,
		Icons:         orEmpty(asset.IconNames),
		Status:        asset.Status,
		StatusHistory: orEmpty(asset.StatusHistory),
		Tags:          orEmpty(asset.Tags),
		Links:         asset.LinkedAssets(),
		CreatedAt:     asset.CreatedAt,
		UpdatedAt:     asset.UpdatedAt,
	}
}

type RequestInfo struct {
	Id                uint                    `json:"id"`
	ReferencedAssetId uint                    `json:"referencedAssetId"`
	RequesterId       string                  `json:"requesterId"`
	ResponderId       *string                 `json:"responderId"`
	RequestType       schema.RequestType      `json:"requestType"`
	ObjectToAdd       interface{}             `json:"objectToAdd"`
	Messages          []schema.RequestMessage `json:"messages"`
	Accepted          *bool                   `json:"accepted"`
	ResolvedBy        *string                 `json:"resolvedBy"`
	CreatedAt         time.Time               `json:"createdAt"`
	UpdatedAt         time.Time               `json:"updatedAt"`
}

type linkObject struct {
	AssetId  uint            `json:"assetId"`
	LinkType schema.LinkType `json:"linkType"`
}

func convertToRequestInfo(request schema.AssetRequest) RequestInfo {
	info := RequestInfo{
		Id:                request.Id,
		ReferencedAssetId: request.ReferencedAssetId,
		RequesterId:       request.RequesterId,
		ResponderId:       request.ResponderId,
		RequestType:       request.RequestType,
		Messages:          orEmpty(request.Messages),
		Accepted:          request.Accepted,
		ResolvedBy:        request.ResolvedBy,
		CreatedAt:         request.CreatedAt,
		UpdatedAt:         request.UpdatedAt,
	}

	// A malformed payload is still shown, just without its object.
	if payload, err := request.Payload(); err == nil {
		switch p := payload.(type) {
		case schema.CreditPayload:
			info.ObjectToAdd = p.UserId
		case schema.LinkPayload:
			info.ObjectToAdd = linkObject{AssetId: p.AssetId, LinkType: p.LinkType}
		}
	}

	return info
}

func convertToRequestInfos(requests []schema.AssetRequest) []RequestInfo {
	infos := make([]RequestInfo, 0, len(requests))
	for _, request := range requests {
		infos = append(infos, convertToRequestInfo(request))
	}
	return infos
}

type AlertInfo struct {
	Id        uint             `json:"id"`
	Type      schema.AlertType `json:"type"`
	AssetId   *uint            `json:"assetId"`
	RequestId *uint            `json:"requestId"`
	Header    string           `json:"header"`
	Message   string           `json:"message"`
	Read      bool             `json:"read"`
	CreatedAt time.Time        `json:"createdAt"`
	UpdatedAt time.Time        `json:"updatedAt"`
}

func convertToAlertInfo(alert schema.Alert) AlertInfo {
	return AlertInfo{
		Id:        alert.Id,
		Type:      alert.Type,
		AssetId:   alert.AssetId,
		RequestId: alert.RequestId,
		Header:    alert.Header,
		Message:   alert.Message,
		Read:      alert.Read,
		CreatedAt: alert.CreatedAt,
		UpdatedAt: alert.UpdatedAt,
	}
}
