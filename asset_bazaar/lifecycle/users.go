package lifecycle

import (
	"bms_platform/asset_bazaar/auth"
	"bms_platform/asset_bazaar/schema"
	"bms_platform/utils/logging"
	"fmt"
	"log/slog"
	"unicode/utf8"

	"gorm.io/datatypes"
	"gorm.io/gorm"
)

const (
	maxDisplayNameLength = 64
	maxBioLength         = 1024
	maxSponsorUrls       = 5
)

type ProfilePatch struct {
	DisplayName *string
	Bio         *string
	SponsorUrls *[]schema.SponsorUrl
}

func UpdateProfile(txn *gorm.DB, user schema.User, patch ProfilePatch) (schema.User, error) {
	updates := map[string]interface{}{}

	if patch.DisplayName != nil {
		name, err := validateText("display name", *patch.DisplayName, maxDisplayNameLength)
		if err != nil {
			return user, err
		}
		updates["display_name"] = name
	}
	if patch.Bio != nil {
		if utf8.RuneCountInString(*patch.Bio) > maxBioLength {
			return user, validationError("bio must be at most %d characters", maxBioLength)
		}
		updates["bio"] = *patch.Bio
	}
	if patch.SponsorUrls != nil {
		if len(*patch.SponsorUrls) > maxSponsorUrls {
			return user, validationError("at most %d sponsor urls are allowed", maxSponsorUrls)
		}
		for _, sponsor := range *patch.SponsorUrls {
			if _, err := validateText("sponsor name", sponsor.Name, maxDisplayNameLength); err != nil {
				return user, err
			}
			if err := validateUrl("sponsor url", sponsor.Url); err != nil {
				return user, err
			}
		}
		updates["sponsor_urls"] = datatypes.JSONSlice[schema.SponsorUrl](*patch.SponsorUrls)
	}

	if len(updates) == 0 {
		return user, nil
	}

	result := txn.Model(&user).Updates(updates)
	if result.Error != nil {
		slog.Error("sql error updating user profile", "user_id", user.Id, "error", result.Error)
		return user, schema.ErrDbAccessFailed
	}

	return schema.GetUser(user.Id, txn)
}

func updateRoles(txn *gorm.DB, actor schema.User, userId string, role schema.UserRole, grant bool) (schema.User, error) {
	if err := schema.CheckValidRole(role); err != nil {
		return schema.User{}, fmt.Errorf("%w: %v", ErrValidation, err)
	}
	if !auth.IsAdmin(&actor) {
		return schema.User{}, forbidden("only admins may change roles")
	}
	if !grant && role == schema.RoleAdmin && actor.Id == userId {
		return schema.User{}, validationError("admins cannot remove their own admin role")
	}

	var user schema.User
	err := txn.Transaction(func(txn *gorm.DB) error {
		var err error
		user, err = schema.GetUser(userId, txn)
		if err != nil {
			return lookupError(err)
		}

		changed := false
		if grant {
			changed = user.AddRole(role)
		} else {
			changed = user.RemoveRole(role)
		}
		if !changed {
			return nil
		}

		result := txn.Model(&user).Update("roles", user.Roles)
		if result.Error != nil {
			slog.Error("sql error updating user roles", "user_id", userId, "error", result.Error)
			return schema.ErrDbAccessFailed
		}

		slog.Info("user roles updated", logging.Code(logging.USER_ROLES), "user_id", userId, "role", role, "grant", grant, "actor_id", actor.Id)
		return nil
	})

	return user, err
}

func GrantRole(txn *gorm.DB, actor schema.User, userId string, role schema.UserRole) (schema.User, error) {
	return updateRoles(txn, actor, userId, role, true)
}

func RevokeRole(txn *gorm.DB, actor schema.User, userId string, role schema.UserRole) (schema.User, error) {
	return updateRoles(txn, actor, userId, role, false)
}

// DeleteUser soft deletes the account. Their assets stay and are shown with a
// placeholder uploader.
func DeleteUser(txn *gorm.DB, actor schema.User, userId string) error {
	if !auth.IsAdmin(&actor) {
		return forbidden("only admins may delete users")
	}
	if actor.Id == userId {
		return validationError("admins cannot delete their own account")
	}

	user, err := schema.GetUser(userId, txn)
	if err != nil {
		return lookupError(err)
	}

	result := txn.Delete(&user)
	if result.Error != nil {
		slog.Error("sql error deleting user", "user_id", userId, "error", result.Error)
		return schema.ErrDbAccessFailed
	}

	slog.Info("user deleted", logging.Code(logging.USER_ROLES), "user_id", userId, "actor_id", actor.Id)

	return nil
}
