package main

import (
	"bms_platform/asset_bazaar/importer"
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var importUsersCmd = &cobra.Command{
	Use:   "import-users <file.yaml>",
	Short: "Create users and grant roles from a yaml file.",
	Long: `Create users and grant roles from a yaml file of the form

  users:
    - id: "123456789012345678"
      username: someone
      roles: [moderator]

Existing users keep their profile, listed roles are added to them. The import
is all or nothing.`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		file, err := os.Open(args[0])
		if err != nil {
			return fmt.Errorf("error opening import file: %w", err)
		}
		defer file.Close()

		entries, err := importer.ParseUsers(file)
		if err != nil {
			return err
		}

		db, err := openDb()
		if err != nil {
			return err
		}

		summary, err := importer.ImportUsers(db, entries)
		if err != nil {
			return err
		}

		fmt.Printf("created %d users, updated %d users\n", summary.Created, summary.Updated)
		return nil
	},
}

var importFilesDir string

var importAssetsCmd = &cobra.Command{
	Use:   "import-assets <file>",
	Short: "Import assets exported from the old ModelSaber.",
	Long: `Import assets from a yaml or json export of the old ModelSaber api, either
a list of records or a map of id to record.

Imported assets are approved and keep their legacy id. Records whose legacy id
or file hash is already stored are skipped, so the import can be run again.
Assets of uploaders without an account are credited to the importer user.`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		file, err := os.Open(args[0])
		if err != nil {
			return fmt.Errorf("error opening import file: %w", err)
		}
		defer file.Close()

		records, err := importer.ParseLegacyAssets(file)
		if err != nil {
			return err
		}

		db, err := openDb()
		if err != nil {
			return err
		}

		summary, err := importer.ImportLegacyAssets(db, records, importer.AssetImportOptions{FilesDir: importFilesDir})
		if err != nil {
			return err
		}

		fmt.Printf("imported %d assets, skipped %d, linked %d variations\n", summary.Imported, summary.Skipped, summary.Linked)
		return nil
	},
}

func init() {
	importAssetsCmd.Flags().StringVar(&importFilesDir, "files_dir", "", "Directory of legacy files, used to size records without a size")
}
