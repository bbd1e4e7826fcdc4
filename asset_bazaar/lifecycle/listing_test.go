package lifecycle_test

import (
	"bms_platform/asset_bazaar/lifecycle"
	"bms_platform/asset_bazaar/schema"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
)

func assetIds(assets []schema.Asset) []uint {
	ids := []uint{}
	for _, asset := range assets {
		ids = append(ids, asset.Id)
	}
	return ids
}

func TestListAssetsVisibility(t *testing.T) {
	db := setupDb(t)
	owner := createUser(t, db, "owner")
	other := createUser(t, db, "other")
	dev := createUser(t, db, "dev", schema.RoleDeveloper)

	private := createAsset(t, db, owner, schema.Private)
	pending := createAsset(t, db, owner, schema.Pending)
	approved := createAsset(t, db, owner, schema.Approved)
	rejected := createAsset(t, db, owner, schema.Rejected)

	list := func(viewer *schema.User, filter lifecycle.AssetFilter) ([]uint, int64) {
		assets, total, err := lifecycle.ListAssets(db, viewer, filter)
		require.NoError(t, err)
		return assetIds(assets), total
	}

	ids, total := list(nil, lifecycle.AssetFilter{})
	assert.Equal(t, []uint{approved.Id, pending.Id}, ids)
	assert.Equal(t, int64(2), total)

	ids, _ = list(&other, lifecycle.AssetFilter{Statuses: []schema.Status{schema.Private, schema.Approved}})
	assert.Equal(t, []uint{approved.Id}, ids)

	ids, _ = list(&dev, lifecycle.AssetFilter{})
	assert.Equal(t, []uint{rejected.Id, approved.Id, pending.Id, private.Id}, ids)

	ids, _ = list(&owner, lifecycle.AssetFilter{UploaderId: owner.Id, Statuses: []schema.Status{schema.Private}})
	assert.Equal(t, []uint{private.Id}, ids)

	ids, _ = list(&other, lifecycle.AssetFilter{UploaderId: owner.Id})
	assert.Equal(t, []uint{approved.Id, pending.Id}, ids)
}

func TestListAssetsFilters(t *testing.T) {
	db := setupDb(t)
	u1 := createUser(t, db, "u1")
	u2 := createUser(t, db, "u2")

	create := func(uploader schema.User, assetType string, tags ...string) schema.Asset {
		params := assetParams("asset")
		params.Type = assetType
		params.Tags = tags
		asset, err := lifecycle.CreateAsset(db, uploader, params)
		require.NoError(t, err)
		asset, _, err = lifecycle.SetStatus(db, asset.Id, lifecycle.StatusChange{Status: schema.Approved, Reason: "ok", ActingUserId: "mod"})
		require.NoError(t, err)
		return asset
	}

	saber := create(u1, "saber_saber", "anime", "cute")
	avatar := create(u1, "avatar_avatar", "cute")
	platform := create(u2, "platform_plat", "animated")

	list := func(filter lifecycle.AssetFilter) []uint {
		assets, _, err := lifecycle.ListAssets(db, nil, filter)
		require.NoError(t, err)
		return assetIds(assets)
	}

	assert.Equal(t, []uint{avatar.Id, saber.Id}, list(lifecycle.AssetFilter{Tag: "cute"}))
	// "anime" must not match the "animated" tag.
	assert.Equal(t, []uint{saber.Id}, list(lifecycle.AssetFilter{Tag: "anime"}))
	assert.Equal(t, []uint{platform.Id}, list(lifecycle.AssetFilter{Type: "platform_plat"}))
	assert.Equal(t, []uint{platform.Id}, list(lifecycle.AssetFilter{UploaderId: u2.Id}))
	assert.Empty(t, list(lifecycle.AssetFilter{UploaderId: u2.Id, Tag: "cute"}))

	assets, total, err := lifecycle.ListAssets(db, nil, lifecycle.AssetFilter{Page: 2, Limit: 2})
	require.NoError(t, err)
	assert.Equal(t, int64(3), total)
	assert.Equal(t, []uint{saber.Id}, assetIds(assets))
	require.NotNil(t, assets[0].Uploader)
	assert.Equal(t, u1.Username, assets[0].Uploader.Username)

	for _, filter := range []lifecycle.AssetFilter{
		{Limit: lifecycle.MaxPageSize + 1},
		{Page: -1},
		{Type: "saber_exe"},
		{Tag: "spooky"},
		{Statuses: []schema.Status{"archived"}},
	} {
		_, _, err := lifecycle.ListAssets(db, nil, filter)
		assert.ErrorIs(t, err, lifecycle.ErrValidation, "%+v", filter)
	}
}

func TestGetVisibleAsset(t *testing.T) {
	db := setupDb(t)
	owner := createUser(t, db, "owner")
	mod := createUser(t, db, "mod", schema.RoleModerator)
	private := createAsset(t, db, owner, schema.Private)
	approved := createAsset(t, db, owner, schema.Approved)

	_, err := lifecycle.GetVisibleAsset(db, nil, private.Id)
	assert.ErrorIs(t, err, lifecycle.ErrNotFound)

	for _, viewer := range []*schema.User{&owner, &mod} {
		asset, err := lifecycle.GetVisibleAsset(db, viewer, private.Id)
		require.NoError(t, err)
		assert.Equal(t, private.Id, asset.Id)
	}

	asset, err := lifecycle.GetVisibleAsset(db, nil, approved.Id)
	require.NoError(t, err)
	require.NotNil(t, asset.Uploader)
	assert.Equal(t, owner.Id, asset.Uploader.Id)

	_, err = lifecycle.GetVisibleAsset(db, nil, 9999)
	assert.ErrorIs(t, err, lifecycle.ErrNotFound)
}

func TestDeletedUploaderIsNotLoaded(t *testing.T) {
	db := setupDb(t)
	owner := createUser(t, db, "owner")
	admin := createUser(t, db, "admin", schema.RoleAdmin)
	asset := createAsset(t, db, owner, schema.Approved)

	require.NoError(t, db.Transaction(func(txn *gorm.DB) error {
		return lifecycle.DeleteUser(txn, admin, owner.Id)
	}))

	loaded, err := lifecycle.GetVisibleAsset(db, nil, asset.Id)
	require.NoError(t, err)
	assert.Nil(t, loaded.Uploader)
}
