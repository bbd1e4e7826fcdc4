package schema

import (
	"fmt"
	"slices"
	"time"

	"gorm.io/datatypes"
	"gorm.io/gorm"
)

type SponsorUrl struct {
	Name string `json:"name"`
	Url  string `json:"url"`
}

type User struct {
	Id string `gorm:"size:64;primaryKey"`

	Username    string `gorm:"unique;size:64;not null"`
	DisplayName string `gorm:"size:64;not null;default:''"`
	Bio         string `gorm:"not null;default:''"`
	AvatarUrl   string `gorm:"size:512;not null;default:''"`

	SponsorUrls datatypes.JSONSlice[SponsorUrl]
	Roles       datatypes.JSONSlice[UserRole]

	// Only set for local accounts, external identities have no password.
	Password []byte

	CreatedAt time.Time
	UpdatedAt time.Time
	DeletedAt gorm.DeletedAt `gorm:"index"`
}

func (u *User) HasRole(roles ...UserRole) bool {
	for _, role := range roles {
		if slices.Contains(u.Roles, role) {
			return true
		}
	}
	return false
}

// AddRole returns false if the user already had the role.
func (u *User) AddRole(role UserRole) bool {
	if u.HasRole(role) {
		return false
	}
	u.Roles = append(u.Roles, role)
	return true
}

func (u *User) RemoveRole(role UserRole) bool {
	idx := slices.Index(u.Roles, role)
	if idx < 0 {
		return false
	}
	u.Roles = slices.Delete(u.Roles, idx, idx+1)
	return true
}

func DefaultAvatarUrl(userId string) string {
	var sum int
	for _, c := range userId {
		sum += int(c)
	}
	return fmt.Sprintf("https://cdn.discordapp.com/embed/avatars/%d.png", sum%6)
}

type StatusHistoryEntry struct {
	Status    Status    `json:"status"`
	Reason    string    `json:"reason"`
	Timestamp time.Time `json:"timestamp"`
	UserId    string    `json:"userId"`
}

type Asset struct {
	Id       uint  `gorm:"primaryKey;autoIncrement"`
	LegacyId *uint `gorm:"uniqueIndex"`

	Type string `gorm:"size:64;not null"`

	UploaderId string `gorm:"size:64;not null;index"`
	Uploader   *User  `gorm:"foreignKey:UploaderId"`

	Collaborators datatypes.JSONSlice[string]

	Name        string  `gorm:"size:64;not null"`
	Description string  `gorm:"not null;default:''"`
	License     string  `gorm:"size:32;not null"`
	LicenseUrl  *string `gorm:"size:512"`
	SourceUrl   *string `gorm:"size:512"`

	FileHash  string `gorm:"size:64;uniqueIndex;not null"`
	FileSize  int64  `gorm:"not null"`
	IconNames datatypes.JSONSlice[string]

	Status        Status `gorm:"size:16;not null;default:'private';index"`
	StatusHistory datatypes.JSONSlice[StatusHistoryEntry]
	Tags          datatypes.JSONSlice[string]

	Links        []AssetLink `gorm:"foreignKey:AssetId;constraint:OnDelete:CASCADE"`
	InverseLinks []AssetLink `gorm:"foreignKey:LinkedAssetId;constraint:OnDelete:CASCADE"`

	CreatedAt time.Time
	UpdatedAt time.Time
	DeletedAt gorm.DeletedAt `gorm:"index"`
}

func (a *Asset) IsCredited(userId string) bool {
	return a.UploaderId == userId || slices.Contains(a.Collaborators, userId)
}

type LinkedAsset struct {
	Id       uint     `json:"id"`
	LinkType LinkType `json:"linkType"`
}

// LinkedAssets merges outgoing and incoming edges into this asset's view of
// the link graph. Incoming edges are reported with the mirrored link type.
// Requires Links and InverseLinks to be preloaded.
func (a Asset) LinkedAssets() []LinkedAsset {
	linked := make([]LinkedAsset, 0, len(a.Links)+len(a.InverseLinks))
	for _, link := range a.Links {
		linked = append(linked, LinkedAsset{Id: link.LinkedAssetId, LinkType: link.LinkType})
	}
	for _, link := range a.InverseLinks {
		linked = append(linked, LinkedAsset{Id: link.AssetId, LinkType: link.LinkType.Mirror()})
	}
	slices.SortFunc(linked, func(x, y LinkedAsset) int { return int(x.Id) - int(y.Id) })
	return linked
}

// A single row represents both directions of a link, AssetId sees LinkType and
// LinkedAssetId sees LinkType.Mirror().
type AssetLink struct {
	AssetId       uint     `gorm:"primaryKey"`
	LinkedAssetId uint     `gorm:"primaryKey;index"`
	LinkType      LinkType `gorm:"size:16;not null"`

	CreatedAt time.Time
}

type RequestMessage struct {
	UserId    string    `json:"userId"`
	Message   string    `json:"message"`
	Timestamp time.Time `json:"timestamp"`
}

type AssetRequest struct {
	Id uint `gorm:"primaryKey;autoIncrement"`

	ReferencedAssetId uint   `gorm:"not null;index"`
	ReferencedAsset   *Asset `gorm:"foreignKey:ReferencedAssetId"`

	RequesterId string  `gorm:"size:64;not null;index"`
	ResponderId *string `gorm:"size:64;index"`

	RequestType RequestType `gorm:"size:16;not null;index"`

	CreditUserId *string   `gorm:"size:64"`
	LinkAssetId  *uint     `gorm:"index"`
	LinkType     *LinkType `gorm:"size:16"`

	Accepted   *bool
	ResolvedBy *string `gorm:"size:64"`

	Messages datatypes.JSONSlice[RequestMessage]

	CreatedAt time.Time
	UpdatedAt time.Time
	DeletedAt gorm.DeletedAt `gorm:"index"`
}

func (r *AssetRequest) IsOpen() bool {
	return r.Accepted == nil
}

type Alert struct {
	Id uint `gorm:"primaryKey;autoIncrement"`

	UserId string    `gorm:"size:64;not null;index"`
	Type   AlertType `gorm:"size:32;not null"`

	AssetId   *uint
	RequestId *uint

	Header  string `gorm:"size:255;not null"`
	Message string `gorm:"not null"`

	Read                 bool `gorm:"not null;default:false"`
	ExternalDeliverySent bool `gorm:"not null;default:false;index"`

	// Failed external deliveries are retried with backoff, NextDeliveryAt is
	// nil until the first failure.
	DeliveryAttempts int `gorm:"not null;default:0"`
	NextDeliveryAt   *time.Time

	CreatedAt time.Time
	UpdatedAt time.Time
	DeletedAt gorm.DeletedAt `gorm:"index"`
}

func AllModels() []interface{} {
	return []interface{}{&User{}, &Asset{}, &AssetLink{}, &AssetRequest{}, &Alert{}}
}
