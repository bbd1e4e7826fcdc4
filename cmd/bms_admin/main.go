// bms_admin is the operator cli for the asset bazaar database. It works on the
// database directly so it can be used before any admin account exists.
package main

import (
	"bms_platform/asset_bazaar/schema"
	"bms_platform/utils"
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"gorm.io/gorm"
)

var (
	dbUri   string
	dialect string
)

// The cli acts with admin rights under this id in logs and audit fields.
var cliActor = schema.User{Id: "bms_admin", Username: "bms_admin", Roles: []schema.UserRole{schema.RoleAdmin}}

var rootCmd = &cobra.Command{
	Use:           "bms_admin",
	Short:         "Administer users and roles of the asset bazaar.",
	SilenceUsage:  true,
	SilenceErrors: true,
}

func openDb() (*gorm.DB, error) {
	if dbUri == "" {
		dbUri = os.Getenv("DATABASE_URI")
	}
	if dbUri == "" {
		return nil, fmt.Errorf("missing --db_uri flag or DATABASE_URI env var")
	}
	return utils.OpenDb(dialect, dbUri)
}

func init() {
	rootCmd.PersistentFlags().StringVar(&dbUri, "db_uri", "", "Database URI, defaults to the DATABASE_URI env var")
	rootCmd.PersistentFlags().StringVar(&dialect, "dialect", "postgres", "Database dialect, postgres or sqlite")

	rootCmd.AddCommand(grantRoleCmd, revokeRoleCmd, banCmd, unbanCmd, listUsersCmd, importUsersCmd, importAssetsCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}
