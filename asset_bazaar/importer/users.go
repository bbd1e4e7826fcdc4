package importer

import (
	"bms_platform/asset_bazaar/schema"
	"bms_platform/utils/logging"
	"errors"
	"fmt"
	"io"
	"log/slog"

	"gopkg.in/yaml.v3"
	"gorm.io/gorm"
)

// UserEntry is one user in an import file:
//
//	users:
//	  - id: "123456789012345678"
//	    username: someone
//	    displayName: Someone
//	    roles: [moderator, trusted]
type UserEntry struct {
	Id          string            `yaml:"id"`
	Username    string            `yaml:"username"`
	DisplayName string            `yaml:"displayName"`
	Bio         string            `yaml:"bio"`
	Roles       []schema.UserRole `yaml:"roles"`
}

type userFile struct {
	Users []UserEntry `yaml:"users"`
}

type Summary struct {
	Created int
	Updated int
}

func ParseUsers(r io.Reader) ([]UserEntry, error) {
	var file userFile
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(&file); err != nil {
		if errors.Is(err, io.EOF) {
			return nil, nil
		}
		return nil, fmt.Errorf("error parsing user import file: %w", err)
	}

	seen := map[string]bool{}
	for i, entry := range file.Users {
		if entry.Id == "" || entry.Username == "" {
			return nil, fmt.Errorf("user %d in import file is missing an id or username", i)
		}
		if seen[entry.Id] {
			return nil, fmt.Errorf("user %v appears more than once in import file", entry.Id)
		}
		seen[entry.Id] = true
		for _, role := range entry.Roles {
			if err := schema.CheckValidRole(role); err != nil {
				return nil, fmt.Errorf("user %v: %w", entry.Id, err)
			}
		}
	}

	return file.Users, nil
}

// ImportUsers creates missing users and adds the listed roles to existing
// ones. Roles are never removed and existing profiles are left as they are.
// The import is all or nothing.
func ImportUsers(db *gorm.DB, entries []UserEntry) (Summary, error) {
	var summary Summary

	err := db.Transaction(func(txn *gorm.DB) error {
		for _, entry := range entries {
			var user schema.User
			result := txn.Limit(1).Find(&user, "id = ?", entry.Id)
			if result.Error != nil {
				slog.Error("sql error looking up imported user", "user_id", entry.Id, "error", result.Error)
				return schema.ErrDbAccessFailed
			}

			if result.RowsAffected == 0 {
				user = schema.User{
					Id:          entry.Id,
					Username:    entry.Username,
					DisplayName: entry.DisplayName,
					Bio:         entry.Bio,
					AvatarUrl:   schema.DefaultAvatarUrl(entry.Id),
				}
				if user.DisplayName == "" {
					user.DisplayName = entry.Username
				}
				for _, role := range entry.Roles {
					user.AddRole(role)
				}
				if result := txn.Create(&user); result.Error != nil {
					slog.Error("sql error creating imported user", "user_id", entry.Id, "error", result.Error)
					return fmt.Errorf("error creating user %v: %w", entry.Id, schema.ErrDbAccessFailed)
				}
				summary.Created++
				continue
			}

			changed := false
			for _, role := range entry.Roles {
				changed = user.AddRole(role) || changed
			}
			if !changed {
				continue
			}
			if result := txn.Model(&user).Update("roles", user.Roles); result.Error != nil {
				slog.Error("sql error updating imported user roles", "user_id", entry.Id, "error", result.Error)
				return schema.ErrDbAccessFailed
			}
			summary.Updated++
		}
		return nil
	})
	if err != nil {
		return Summary{}, err
	}

	slog.Info("users imported", logging.Code(logging.USER_ROLES), "created", summary.Created, "updated", summary.Updated)

	return summary, nil
}
