package main

import (
	"bms_platform/asset_bazaar/lifecycle"
	"bms_platform/asset_bazaar/schema"
	"fmt"
	"strings"

	"github.com/spf13/cobra"
	"gorm.io/gorm"
)

func updateRole(userId string, role schema.UserRole, grant bool) error {
	db, err := openDb()
	if err != nil {
		return err
	}

	var user schema.User
	err = db.Transaction(func(txn *gorm.DB) error {
		var err error
		if grant {
			user, err = lifecycle.GrantRole(txn, cliActor, userId, role)
		} else {
			user, err = lifecycle.RevokeRole(txn, cliActor, userId, role)
		}
		return err
	})
	if err != nil {
		return fmt.Errorf("error updating roles of user %v: %w", userId, err)
	}

	fmt.Printf("%v (%v): %v\n", user.Username, user.Id, formatRoles(user.Roles))
	return nil
}

func formatRoles(roles []schema.UserRole) string {
	if len(roles) == 0 {
		return "no roles"
	}
	names := make([]string, 0, len(roles))
	for _, role := range roles {
		names = append(names, string(role))
	}
	return strings.Join(names, ", ")
}

var grantRoleCmd = &cobra.Command{
	Use:   "grant-role <user_id> <role>",
	Short: "Grant a role to a user.",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		return updateRole(args[0], schema.UserRole(args[1]), true)
	},
}

var revokeRoleCmd = &cobra.Command{
	Use:   "revoke-role <user_id> <role>",
	Short: "Revoke a role from a user.",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		return updateRole(args[0], schema.UserRole(args[1]), false)
	},
}

var banCmd = &cobra.Command{
	Use:   "ban <user_id>",
	Short: "Ban a user, banned users can still log in but cannot upload or file requests.",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return updateRole(args[0], schema.RoleBanned, true)
	},
}

var unbanCmd = &cobra.Command{
	Use:   "unban <user_id>",
	Short: "Lift a ban.",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return updateRole(args[0], schema.RoleBanned, false)
	},
}

var listRole string

var listUsersCmd = &cobra.Command{
	Use:   "list-users",
	Short: "List users, optionally only those holding --role.",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		db, err := openDb()
		if err != nil {
			return err
		}

		query := db.Order("username ASC")
		if listRole != "" {
			role := schema.UserRole(listRole)
			if err := schema.CheckValidRole(role); err != nil {
				return err
			}
			query = query.Where("CAST(roles AS TEXT) LIKE ?", fmt.Sprintf("%%%q%%", role))
		}

		var users []schema.User
		if err := query.Find(&users).Error; err != nil {
			return fmt.Errorf("error listing users: %w", err)
		}

		for _, user := range users {
			fmt.Printf("%-24v %-32v %v\n", user.Id, user.Username, formatRoles(user.Roles))
		}
		return nil
	},
}

func init() {
	listUsersCmd.Flags().StringVar(&listRole, "role", "", "Only list users with this role")
}
