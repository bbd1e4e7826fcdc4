package schema

import (
	"fmt"
	"slices"
	"strings"
)

type Status string

const (
	Private  Status = "private"
	Pending  Status = "pending"
	Approved Status = "approved"
	Rejected Status = "rejected"
)

var AllStatuses = []Status{Private, Pending, Approved, Rejected}

func CheckValidStatus(status Status) error {
	if !slices.Contains(AllStatuses, status) {
		return fmt.Errorf("invalid status '%v', must be one of %v", status, AllStatuses)
	}
	return nil
}

type UserRole string

const (
	RoleAdmin      UserRole = "admin"
	RoleDeveloper  UserRole = "developer"
	RoleModerator  UserRole = "moderator"
	RoleTrusted    UserRole = "trusted"
	RoleBanned     UserRole = "banned"
	RoleLargeFiles UserRole = "largefiles"
)

var AllRoles = []UserRole{RoleAdmin, RoleDeveloper, RoleModerator, RoleTrusted, RoleBanned, RoleLargeFiles}

func CheckValidRole(role UserRole) error {
	if !slices.Contains(AllRoles, role) {
		return fmt.Errorf("invalid role '%v', must be one of %v", role, AllRoles)
	}
	return nil
}

type LinkType string

const (
	LinkOlder     LinkType = "older"
	LinkNewer     LinkType = "newer"
	LinkAltFormat LinkType = "altformat"
	LinkAlternate LinkType = "alternate"
)

var AllLinkTypes = []LinkType{LinkOlder, LinkNewer, LinkAltFormat, LinkAlternate}

func CheckValidLinkType(linkType LinkType) error {
	if !slices.Contains(AllLinkTypes, linkType) {
		return fmt.Errorf("invalid link type '%v', must be one of %v", linkType, AllLinkTypes)
	}
	return nil
}

// Mirror returns the type of the link as seen from the other asset.
func (t LinkType) Mirror() LinkType {
	switch t {
	case LinkOlder:
		return LinkNewer
	case LinkNewer:
		return LinkOlder
	default:
		return t
	}
}

type RequestType string

const (
	CreditRequest RequestType = "credit"
	LinkRequest   RequestType = "link"
	ReportRequest RequestType = "report"
)

type AlertType string

const (
	AlertAssetApproved   AlertType = "asset_approved"
	AlertAssetRejected   AlertType = "asset_rejected"
	AlertAssetRemoval    AlertType = "asset_removal"
	AlertRequestReceived AlertType = "request_received"
	AlertRequestAccepted AlertType = "request_accepted"
	AlertRequestDeclined AlertType = "request_declined"
)

// IsAssetAlert reports whether the alert type is tied to an asset rather than
// to a request.
func (t AlertType) IsAssetAlert() bool {
	return t == AlertAssetApproved || t == AlertAssetRejected || t == AlertAssetRemoval
}

const CustomLicense = "custom"

var Licenses = []string{
	"cc0", "cc-by-4.0", "cc-by-sa-4.0", "cc-by-nc-4.0", "cc-by-nc-sa-4.0", "cc-by-nd-4.0", "mit", "gpl-3.0", CustomLicense,
}

var Tags = []string{
	"anime", "animated", "cartoon", "cute", "fbt", "furry", "game", "holiday",
	"horror", "lights", "meme", "minimal", "music", "particles", "realistic",
	"stylized", "trails", "vtuber", "weapon", "other",
}

const MaxTags = 5

var AssetTypes = []string{
	"saber_saber", "saber_whacker", "avatar_avatar", "platform_plat",
	"note_bloq", "note_cyoob", "wall_pixie", "wall_box",
	"healthbar_energy", "sound_ogg", "sound_mp3", "banner_png",
	"chromaenv_json", "countersplus_json", "hsv_json", "camera2_json",
}

// AssetTypeExtension returns the file extension used when storing an asset of
// the given type.
func AssetTypeExtension(assetType string) string {
	return assetType[strings.LastIndex(assetType, "_")+1:]
}

const (
	MaxNameLength        = 64
	MaxDescriptionLength = 4096
	MaxReasonLength      = 512
	MaxMessageLength     = 4096
	MaxIcons             = 5
	MaxFileHashLength    = 64
)
