package tests

import (
	"bms_platform/asset_bazaar/auth"
	"bms_platform/asset_bazaar/schema"
	"bms_platform/asset_bazaar/services"
	"bms_platform/asset_bazaar/storage"
	"io"
	"path/filepath"
	"testing"

	"github.com/go-chi/chi/v5"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
)

const (
	adminUsername = "admin"
	adminPassword = "admin_password123"

	maxFileSize      = 64 * 1024
	maxLargeFileSize = 256 * 1024
)

// fixedUsageStorage reports a fixed disk usage so that upload tests do not
// depend on the free space of the machine running them.
type fixedUsageStorage struct {
	storage.Storage
	usage storage.UsageStats
}

func (s *fixedUsageStorage) Usage() (storage.UsageStats, error) {
	return s.usage, nil
}

type testEnv struct {
	api     chi.Router
	db      *gorm.DB
	storage *fixedUsageStorage
}

func setupTestEnv(t *testing.T) testEnv {
	return setupTestEnvWithOptions(t, services.Options{
		MaxFileSize:      maxFileSize,
		MaxLargeFileSize: maxLargeFileSize,
	})
}

func setupTestEnvWithOptions(t *testing.T, opts services.Options) testEnv {
	db, err := gorm.Open(sqlite.Open(filepath.Join(t.TempDir(), "bazaar.db")), &gorm.Config{TranslateError: true})
	if err != nil {
		t.Fatal(err)
	}

	if err := db.AutoMigrate(schema.AllModels()...); err != nil {
		t.Fatal(err)
	}

	store := &fixedUsageStorage{
		Storage: storage.NewSharedDisk(t.TempDir()),
		usage:   storage.UsageStats{TotalBytes: 100 << 30, FreeBytes: 50 << 30},
	}

	userAuth, err := auth.NewBasicIdentityProvider(db, auth.NewAuditLogger(io.Discard), auth.BasicProviderArgs{
		Secret:        []byte("test-jwt-secret"),
		AdminUsername: adminUsername,
		AdminPassword: adminPassword,
	})
	if err != nil {
		t.Fatal(err)
	}

	assetBazaar := services.NewAssetBazaar(db, store, userAuth, opts)

	return testEnv{api: assetBazaar.Routes(), db: db, storage: store}
}

func (t *testEnv) newClient() client {
	return client{api: t.api}
}

func (t *testEnv) newUser(username string) (client, error) {
	c := t.newClient()
	if err := c.signup(username, username+"_password"); err != nil {
		return client{}, err
	}
	if err := c.login(username, username+"_password"); err != nil {
		return client{}, err
	}
	return c, nil
}

func (t *testEnv) adminClient() (client, error) {
	c := t.newClient()
	err := c.login(adminUsername, adminPassword)
	return c, err
}

// newUserWithRole signs up a user and has the admin grant it the role.
func (t *testEnv) newUserWithRole(username string, role schema.UserRole) (client, error) {
	c, err := t.newUser(username)
	if err != nil {
		return client{}, err
	}
	admin, err := t.adminClient()
	if err != nil {
		return client{}, err
	}
	if _, err := admin.grantRole(c.userId, role); err != nil {
		return client{}, err
	}
	return c, nil
}
