package lifecycle_test

import (
	"bms_platform/asset_bazaar/lifecycle"
	"bms_platform/asset_bazaar/schema"
	"slices"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCanTransition(t *testing.T) {
	allowed := map[schema.Status][]schema.Status{
		schema.Private:  {schema.Private, schema.Pending, schema.Approved, schema.Rejected},
		schema.Pending:  {schema.Pending, schema.Approved, schema.Rejected},
		schema.Approved: {schema.Approved, schema.Rejected},
		schema.Rejected: {schema.Rejected},
	}

	for _, from := range schema.AllStatuses {
		for _, to := range schema.AllStatuses {
			assert.Equal(t, slices.Contains(allowed[from], to), lifecycle.CanTransition(from, to), "%v -> %v", from, to)
		}
	}
}

func TestInvalidTransitionLeavesAssetUnchanged(t *testing.T) {
	db := setupDb(t)
	uploader := createUser(t, db, "uploader")

	for _, from := range schema.AllStatuses {
		for _, to := range schema.AllStatuses {
			if lifecycle.CanTransition(from, to) {
				continue
			}

			asset := createAsset(t, db, uploader, from)
			historyLen := len(asset.StatusHistory)

			_, _, err := lifecycle.SetStatus(db, asset.Id, lifecycle.StatusChange{
				Status: to, Reason: "not allowed", ActingUserId: "mod",
			})
			assert.ErrorIs(t, err, lifecycle.ErrInvalidTransition, "%v -> %v", from, to)

			reloaded := reloadAsset(t, db, asset.Id)
			assert.Equal(t, from, reloaded.Status)
			assert.Len(t, reloaded.StatusHistory, historyLen)
		}
	}
}

func TestStatusHistoryRecordsSuccessfulChanges(t *testing.T) {
	db := setupDb(t)
	uploader := createUser(t, db, "uploader")
	asset := createAsset(t, db, uploader, schema.Private)
	require.Len(t, asset.StatusHistory, 1)

	steps := []struct {
		status schema.Status
		ok     bool
	}{
		{schema.Pending, true},
		{schema.Pending, true},
		{schema.Private, false},
		{schema.Approved, true},
		{schema.Pending, false},
		{schema.Rejected, true},
		{schema.Approved, false},
	}

	expected := []schema.Status{schema.Private}
	for i, step := range steps {
		_, _, err := lifecycle.SetStatus(db, asset.Id, lifecycle.StatusChange{
			Status: step.status, Reason: "step", ActingUserId: "mod",
		})
		if step.ok {
			require.NoError(t, err, "step %d", i)
			expected = append(expected, step.status)
		} else {
			require.ErrorIs(t, err, lifecycle.ErrInvalidTransition, "step %d", i)
		}

		history := reloadAsset(t, db, asset.Id).StatusHistory
		require.Len(t, history, len(expected))
		for j, entry := range history {
			assert.Equal(t, expected[j], entry.Status)
		}
	}

	history := reloadAsset(t, db, asset.Id).StatusHistory
	for i := 1; i < len(history); i++ {
		assert.False(t, history[i].Timestamp.Before(history[i-1].Timestamp))
	}
}

func TestSetStatusValidation(t *testing.T) {
	db := setupDb(t)
	uploader := createUser(t, db, "uploader")
	asset := createAsset(t, db, uploader, schema.Private)

	_, _, err := lifecycle.SetStatus(db, asset.Id, lifecycle.StatusChange{Status: schema.Pending, Reason: "  ", ActingUserId: "u"})
	assert.ErrorIs(t, err, lifecycle.ErrValidation)

	_, _, err = lifecycle.SetStatus(db, asset.Id, lifecycle.StatusChange{Status: "archived", Reason: "why", ActingUserId: "u"})
	assert.ErrorIs(t, err, lifecycle.ErrValidation)

	_, _, err = lifecycle.SetStatus(db, 9999, lifecycle.StatusChange{Status: schema.Pending, Reason: "why", ActingUserId: "u"})
	assert.ErrorIs(t, err, lifecycle.ErrNotFound)

	assert.Len(t, reloadAsset(t, db, asset.Id).StatusHistory, 1)
}

func TestReviewScenario(t *testing.T) {
	db := setupDb(t)
	a := createUser(t, db, "a")
	m := createUser(t, db, "m", schema.RoleModerator)

	x, err := lifecycle.CreateAsset(db, a, assetParams("X"))
	require.NoError(t, err)
	assert.Equal(t, schema.Private, x.Status)

	_, previous, err := lifecycle.ReviewAsset(db, a, x.Id, schema.Pending, "ready for review", false)
	require.NoError(t, err)
	assert.Equal(t, schema.Private, previous)

	x, previous, err = lifecycle.ReviewAsset(db, m, x.Id, schema.Approved, "looks good", false)
	require.NoError(t, err)
	assert.Equal(t, schema.Pending, previous)
	assert.Equal(t, schema.Approved, x.Status)

	history := reloadAsset(t, db, x.Id).StatusHistory
	require.Len(t, history, 3)
	assert.Equal(t, schema.Private, history[0].Status)
	assert.Equal(t, a.Id, history[0].UserId)
	assert.Equal(t, schema.Pending, history[1].Status)
	assert.Equal(t, a.Id, history[1].UserId)
	assert.Equal(t, schema.Approved, history[2].Status)
	assert.Equal(t, m.Id, history[2].UserId)
	assert.Equal(t, "looks good", history[2].Reason)

	alerts := alertsFor(t, db, a.Id)
	require.Len(t, alerts, 1)
	assert.Equal(t, schema.AlertAssetApproved, alerts[0].Type)
	require.NotNil(t, alerts[0].AssetId)
	assert.Equal(t, x.Id, *alerts[0].AssetId)
	assert.Nil(t, alerts[0].RequestId)
}

func TestReviewAssetPermissions(t *testing.T) {
	db := setupDb(t)
	owner := createUser(t, db, "owner")
	stranger := createUser(t, db, "stranger")
	mod := createUser(t, db, "mod", schema.RoleModerator)
	admin := createUser(t, db, "admin", schema.RoleAdmin)

	private := createAsset(t, db, owner, schema.Private)
	pending := createAsset(t, db, owner, schema.Pending)
	rejected := createAsset(t, db, owner, schema.Rejected)

	_, _, err := lifecycle.ReviewAsset(db, owner, private.Id, schema.Approved, "self approval", false)
	assert.ErrorIs(t, err, lifecycle.ErrForbidden)

	_, _, err = lifecycle.ReviewAsset(db, stranger, private.Id, schema.Pending, "submit", false)
	assert.ErrorIs(t, err, lifecycle.ErrNotFound)

	_, _, err = lifecycle.ReviewAsset(db, stranger, pending.Id, schema.Rejected, "dislike", false)
	assert.ErrorIs(t, err, lifecycle.ErrForbidden)

	_, _, err = lifecycle.ReviewAsset(db, mod, rejected.Id, schema.Approved, "second look", false)
	assert.ErrorIs(t, err, lifecycle.ErrInvalidTransition)

	_, _, err = lifecycle.ReviewAsset(db, mod, rejected.Id, schema.Approved, "second look", true)
	assert.ErrorIs(t, err, lifecycle.ErrForbidden)

	restored, previous, err := lifecycle.ReviewAsset(db, admin, rejected.Id, schema.Approved, "appeal upheld", true)
	require.NoError(t, err)
	assert.Equal(t, schema.Rejected, previous)
	assert.Equal(t, schema.Approved, restored.Status)
}

func TestReviewAssetAlerts(t *testing.T) {
	db := setupDb(t)
	owner := createUser(t, db, "owner")
	mod := createUser(t, db, "mod", schema.RoleModerator)
	asset := createAsset(t, db, owner, schema.Approved)

	// Re-applying the current status is a confirmation and alerts nobody.
	_, _, err := lifecycle.ReviewAsset(db, mod, asset.Id, schema.Approved, "still fine", false)
	require.NoError(t, err)
	assert.Empty(t, alertsFor(t, db, owner.Id))

	_, _, err = lifecycle.ReviewAsset(db, mod, asset.Id, schema.Rejected, "stolen", false)
	require.NoError(t, err)
	assert.Equal(t, []schema.AlertType{schema.AlertAssetRejected}, alertTypes(alertsFor(t, db, owner.Id)))

	// Moderators reviewing their own assets are not alerted.
	own := createAsset(t, db, mod, schema.Pending)
	_, _, err = lifecycle.ReviewAsset(db, mod, own.Id, schema.Approved, "ok", false)
	require.NoError(t, err)
	assert.Empty(t, alertsFor(t, db, mod.Id))
}

func TestCreateAsset(t *testing.T) {
	db := setupDb(t)
	uploader := createUser(t, db, "uploader")

	params := assetParams("My Saber")
	params.Tags = []string{"Cute", "cute", " meme "}
	asset, err := lifecycle.CreateAsset(db, uploader, params)
	require.NoError(t, err)

	assert.Equal(t, schema.Private, asset.Status)
	assert.Equal(t, []string{"cute", "meme"}, []string(asset.Tags))
	require.Len(t, asset.StatusHistory, 1)
	assert.Equal(t, schema.Private, asset.StatusHistory[0].Status)
	assert.Equal(t, uploader.Id, asset.StatusHistory[0].UserId)
	assert.Empty(t, asset.Collaborators)

	// The file hash stays reserved even after the asset is deleted.
	duplicate := assetParams("Copy")
	duplicate.FileHash = params.FileHash
	_, err = lifecycle.CreateAsset(db, uploader, duplicate)
	assert.ErrorIs(t, err, lifecycle.ErrConflictOnWrite)

	require.NoError(t, lifecycle.DeleteAsset(db, uploader, asset.Id))
	_, err = lifecycle.CreateAsset(db, uploader, duplicate)
	assert.ErrorIs(t, err, lifecycle.ErrConflictOnWrite)
}

func TestCreateAssetValidation(t *testing.T) {
	db := setupDb(t)
	uploader := createUser(t, db, "uploader")
	licenseUrl := "https://example.com/license"
	badUrl := "not a url"

	cases := map[string]func(p *lifecycle.CreateAssetParams){
		"empty name":              func(p *lifecycle.CreateAssetParams) { p.Name = "   " },
		"unknown type":            func(p *lifecycle.CreateAssetParams) { p.Type = "saber_exe" },
		"unknown license":         func(p *lifecycle.CreateAssetParams) { p.License = "wtfpl" },
		"custom license, no url":  func(p *lifecycle.CreateAssetParams) { p.License = schema.CustomLicense },
		"url without custom":      func(p *lifecycle.CreateAssetParams) { p.LicenseUrl = &licenseUrl },
		"invalid license url":     func(p *lifecycle.CreateAssetParams) { p.License = schema.CustomLicense; p.LicenseUrl = &badUrl },
		"invalid source url":      func(p *lifecycle.CreateAssetParams) { p.SourceUrl = &badUrl },
		"unknown tag":             func(p *lifecycle.CreateAssetParams) { p.Tags = []string{"spooky"} },
		"too many tags":           func(p *lifecycle.CreateAssetParams) { p.Tags = []string{"anime", "animated", "cartoon", "cute", "fbt", "furry"} },
		"too many icons":          func(p *lifecycle.CreateAssetParams) { p.IconNames = []string{"1", "2", "3", "4", "5", "6"} },
		"uppercase hash":          func(p *lifecycle.CreateAssetParams) { p.FileHash = "ABCDEF" },
		"empty file":              func(p *lifecycle.CreateAssetParams) { p.FileSize = 0 },
		"description over length": func(p *lifecycle.CreateAssetParams) { p.Description = string(make([]byte, schema.MaxDescriptionLength+1)) },
	}

	for name, modify := range cases {
		t.Run(name, func(t *testing.T) {
			params := assetParams("asset")
			modify(&params)
			_, err := lifecycle.CreateAsset(db, uploader, params)
			assert.ErrorIs(t, err, lifecycle.ErrValidation)
		})
	}

	params := assetParams("custom")
	params.License = schema.CustomLicense
	params.LicenseUrl = &licenseUrl
	_, err := lifecycle.CreateAsset(db, uploader, params)
	assert.NoError(t, err)
}

func TestUpdateAsset(t *testing.T) {
	db := setupDb(t)
	owner := createUser(t, db, "owner")
	stranger := createUser(t, db, "stranger")
	mod := createUser(t, db, "mod", schema.RoleModerator)

	params := assetParams("Original")
	params.Description = "keep me"
	asset, err := lifecycle.CreateAsset(db, owner, params)
	require.NoError(t, err)

	name := "Renamed"
	updated, err := lifecycle.UpdateAsset(db, owner, asset.Id, lifecycle.AssetPatch{Name: &name})
	require.NoError(t, err)
	assert.Equal(t, "Renamed", updated.Name)
	assert.Equal(t, "keep me", updated.Description)
	assert.Equal(t, []string{"cute"}, []string(updated.Tags))

	tags := []string{"meme", "other"}
	updated, err = lifecycle.UpdateAsset(db, mod, asset.Id, lifecycle.AssetPatch{Tags: &tags})
	require.NoError(t, err)
	assert.Equal(t, []string{"meme", "other"}, []string(updated.Tags))
	assert.Equal(t, "Renamed", updated.Name)

	_, err = lifecycle.UpdateAsset(db, stranger, asset.Id, lifecycle.AssetPatch{Name: &name})
	assert.ErrorIs(t, err, lifecycle.ErrForbidden)

	empty := ""
	_, err = lifecycle.UpdateAsset(db, owner, asset.Id, lifecycle.AssetPatch{Name: &empty})
	assert.ErrorIs(t, err, lifecycle.ErrValidation)
	assert.Equal(t, "Renamed", reloadAsset(t, db, asset.Id).Name)
}

func TestDeleteAsset(t *testing.T) {
	db := setupDb(t)
	owner := createUser(t, db, "owner")
	stranger := createUser(t, db, "stranger")
	asset := createAsset(t, db, owner, schema.Approved)

	assert.ErrorIs(t, lifecycle.DeleteAsset(db, stranger, asset.Id), lifecycle.ErrForbidden)
	require.NoError(t, lifecycle.DeleteAsset(db, owner, asset.Id))

	_, err := schema.GetAsset(asset.Id, db, false, false)
	assert.ErrorIs(t, err, schema.ErrAssetNotFound)
	assert.ErrorIs(t, lifecycle.DeleteAsset(db, owner, asset.Id), lifecycle.ErrNotFound)
}

func TestDeleteAssetRemovesLinks(t *testing.T) {
	db := setupDb(t)
	owner := createUser(t, db, "owner")
	a := createAsset(t, db, owner, schema.Approved)
	b := createAsset(t, db, owner, schema.Approved)
	c := createAsset(t, db, owner, schema.Approved)

	_, err := lifecycle.AddLink(db, a.Id, b.Id, schema.LinkOlder)
	require.NoError(t, err)
	_, err = lifecycle.AddLink(db, c.Id, b.Id, schema.LinkAlternate)
	require.NoError(t, err)
	_, err = lifecycle.AddLink(db, a.Id, c.Id, schema.LinkAltFormat)
	require.NoError(t, err)

	require.NoError(t, lifecycle.DeleteAsset(db, owner, b.Id))

	assert.Equal(t, []schema.LinkedAsset{{Id: c.Id, LinkType: schema.LinkAltFormat}}, reloadAsset(t, db, a.Id).LinkedAssets())
	assert.Equal(t, []schema.LinkedAsset{{Id: a.Id, LinkType: schema.LinkAltFormat}}, reloadAsset(t, db, c.Id).LinkedAssets())

	var links int64
	require.NoError(t, db.Model(&schema.AssetLink{}).Count(&links).Error)
	assert.Equal(t, int64(1), links)
}

func TestDeleteAssetClosesOpenRequests(t *testing.T) {
	db := setupDb(t)
	owner := createUser(t, db, "owner")
	helper := createUser(t, db, "helper")
	reporter := createUser(t, db, "reporter")
	mod := createUser(t, db, "mod", schema.RoleModerator)

	asset := createAsset(t, db, owner, schema.Approved)
	other := createAsset(t, db, owner, schema.Approved)
	helperAsset := createAsset(t, db, helper, schema.Approved)

	report, err := lifecycle.Report(db, reporter, asset.Id, "copied from my saber")
	require.NoError(t, err)
	credit, err := lifecycle.RequestCollab(db, owner, asset.Id, helper.Id)
	require.NoError(t, err)
	link, err := lifecycle.RequestLink(db, helper, helperAsset.Id, asset.Id, schema.LinkOlder)
	require.NoError(t, err)
	require.NotNil(t, link.Request)

	alertsBefore := countAlerts(t, db)
	require.NoError(t, lifecycle.DeleteAsset(db, owner, asset.Id))
	assert.Equal(t, alertsBefore, countAlerts(t, db))

	for _, requestId := range []uint{report.Id, credit.Id} {
		request := reloadRequest(t, db, requestId)
		require.NotNil(t, request.Accepted)
		assert.False(t, *request.Accepted)
		require.NotNil(t, request.ResolvedBy)
		assert.Equal(t, owner.Id, *request.ResolvedBy)
	}

	_, err = lifecycle.Accept(db, mod, report.Id, false)
	assert.ErrorIs(t, err, lifecycle.ErrAlreadyResolved)

	counts, err := lifecycle.CountOpenRequests(db, mod)
	require.NoError(t, err)
	assert.Equal(t, int64(0), counts.Reports)

	// The link request to the deleted asset is withdrawn, so its requester can
	// still ask the same owner to link another asset.
	_, err = schema.GetAssetRequest(link.Request.Id, db)
	assert.ErrorIs(t, err, schema.ErrRequestNotFound)

	counts, err = lifecycle.CountOpenRequests(db, owner)
	require.NoError(t, err)
	assert.Equal(t, int64(0), counts.Incoming)

	link, err = lifecycle.RequestLink(db, helper, helperAsset.Id, other.Id, schema.LinkOlder)
	require.NoError(t, err)
	assert.NotNil(t, link.Request)
}

func TestAddLinkIsSymmetric(t *testing.T) {
	db := setupDb(t)
	owner := createUser(t, db, "owner")
	a := createAsset(t, db, owner, schema.Approved)
	b := createAsset(t, db, owner, schema.Approved)
	c := createAsset(t, db, owner, schema.Approved)

	linked, err := lifecycle.AddLink(db, a.Id, b.Id, schema.LinkOlder)
	require.NoError(t, err)
	assert.Equal(t, []schema.LinkedAsset{{Id: b.Id, LinkType: schema.LinkOlder}}, linked.LinkedAssets())
	assert.Equal(t, []schema.LinkedAsset{{Id: a.Id, LinkType: schema.LinkNewer}}, reloadAsset(t, db, b.Id).LinkedAssets())

	_, err = lifecycle.AddLink(db, a.Id, b.Id, schema.LinkOlder)
	assert.ErrorIs(t, err, lifecycle.ErrAlreadyLinked)
	_, err = lifecycle.AddLink(db, b.Id, a.Id, schema.LinkAlternate)
	assert.ErrorIs(t, err, lifecycle.ErrAlreadyLinked)

	_, err = lifecycle.AddLink(db, c.Id, a.Id, schema.LinkAltFormat)
	require.NoError(t, err)
	assert.Equal(t, []schema.LinkedAsset{
		{Id: b.Id, LinkType: schema.LinkOlder},
		{Id: c.Id, LinkType: schema.LinkAltFormat},
	}, reloadAsset(t, db, a.Id).LinkedAssets())
	assert.Equal(t, []schema.LinkedAsset{{Id: a.Id, LinkType: schema.LinkAltFormat}}, reloadAsset(t, db, c.Id).LinkedAssets())
}

func TestAddLinkErrors(t *testing.T) {
	db := setupDb(t)
	owner := createUser(t, db, "owner")
	a := createAsset(t, db, owner, schema.Approved)
	b := createAsset(t, db, owner, schema.Approved)

	_, err := lifecycle.AddLink(db, a.Id, a.Id, schema.LinkAlternate)
	assert.ErrorIs(t, err, lifecycle.ErrSelfReference)

	_, err = lifecycle.AddLink(db, a.Id, b.Id, "sequel")
	assert.ErrorIs(t, err, lifecycle.ErrValidation)

	_, err = lifecycle.AddLink(db, a.Id, 9999, schema.LinkAlternate)
	assert.ErrorIs(t, err, lifecycle.ErrNotFound)

	var links int64
	require.NoError(t, db.Model(&schema.AssetLink{}).Count(&links).Error)
	assert.Zero(t, links)
}

func TestRequestLink(t *testing.T) {
	db := setupDb(t)
	u1 := createUser(t, db, "u1")
	u2 := createUser(t, db, "u2")
	mod := createUser(t, db, "mod", schema.RoleModerator)

	a := createAsset(t, db, u1, schema.Approved)
	b := createAsset(t, db, u1, schema.Approved)
	c := createAsset(t, db, u2, schema.Approved)
	d := createAsset(t, db, u2, schema.Approved)
	hidden := createAsset(t, db, u2, schema.Private)

	t.Run("same uploader links directly", func(t *testing.T) {
		res, err := lifecycle.RequestLink(db, u1, a.Id, b.Id, schema.LinkNewer)
		require.NoError(t, err)
		require.NotNil(t, res.Asset)
		assert.Nil(t, res.Request)
		assert.Contains(t, res.Asset.LinkedAssets(), schema.LinkedAsset{Id: b.Id, LinkType: schema.LinkNewer})
	})

	t.Run("elevated user links directly", func(t *testing.T) {
		res, err := lifecycle.RequestLink(db, mod, b.Id, d.Id, schema.LinkAlternate)
		require.NoError(t, err)
		require.NotNil(t, res.Asset)
		assert.Nil(t, res.Request)
	})

	t.Run("other uploader must consent", func(t *testing.T) {
		res, err := lifecycle.RequestLink(db, u1, a.Id, c.Id, schema.LinkOlder)
		require.NoError(t, err)
		assert.Nil(t, res.Asset)
		require.NotNil(t, res.Request)

		request := *res.Request
		assert.Equal(t, schema.LinkRequest, request.RequestType)
		assert.Equal(t, u2.Id, *request.ResponderId)
		assert.Equal(t, u1.Id, request.RequesterId)
		assert.Equal(t, schema.LinkPayload{AssetId: c.Id, LinkType: schema.LinkOlder}, must(request.Payload()))
		assert.Equal(t, []schema.AlertType{schema.AlertRequestReceived}, alertTypes(alertsFor(t, db, u2.Id)))

		_, err = lifecycle.RequestLink(db, u1, a.Id, c.Id, schema.LinkOlder)
		assert.ErrorIs(t, err, lifecycle.ErrDuplicateRequest)

		_, err = lifecycle.Accept(db, u2, request.Id, false)
		require.NoError(t, err)
		assert.Contains(t, reloadAsset(t, db, a.Id).LinkedAssets(), schema.LinkedAsset{Id: c.Id, LinkType: schema.LinkOlder})
		assert.Contains(t, reloadAsset(t, db, c.Id).LinkedAssets(), schema.LinkedAsset{Id: a.Id, LinkType: schema.LinkNewer})
		assert.Equal(t, []schema.AlertType{schema.AlertRequestAccepted}, alertTypes(alertsFor(t, db, u1.Id)))

		_, err = lifecycle.RequestLink(db, u1, a.Id, c.Id, schema.LinkOlder)
		assert.ErrorIs(t, err, lifecycle.ErrAlreadyLinked)
	})

	t.Run("errors", func(t *testing.T) {
		_, err := lifecycle.RequestLink(db, u2, a.Id, c.Id, schema.LinkOlder)
		assert.ErrorIs(t, err, lifecycle.ErrForbidden)

		_, err = lifecycle.RequestLink(db, u1, a.Id, hidden.Id, schema.LinkOlder)
		assert.ErrorIs(t, err, lifecycle.ErrNotFound)

		_, err = lifecycle.RequestLink(db, u1, a.Id, a.Id, schema.LinkOlder)
		assert.ErrorIs(t, err, lifecycle.ErrSelfReference)
	})
}

func TestSelfReport(t *testing.T) {
	db := setupDb(t)
	owner := createUser(t, db, "owner")
	asset := createAsset(t, db, owner, schema.Approved)

	_, err := lifecycle.Report(db, owner, asset.Id, "my own asset is bad")
	assert.ErrorIs(t, err, lifecycle.ErrSelfReference)
}

func must[T any](v T, err error) T {
	if err != nil {
		panic(err)
	}
	return v
}
