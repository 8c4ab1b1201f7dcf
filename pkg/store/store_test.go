package store

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/marmos91/stowfs/pkg/models"
)

func newTestStore(t *testing.T) *GORMStore {
	t.Helper()
	s, err := New(&Config{
		Type:   DatabaseTypeSQLite,
		SQLite: SQLiteConfig{Path: filepath.Join(t.TempDir(), "test.db")},
	})
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func newTestUser(t *testing.T, s *GORMStore, quota int64) *models.User {
	t.Helper()
	user := &models.User{
		Username:     "alice-" + filepath.Base(t.TempDir()),
		PasswordHash: "x",
		Role:         string(models.RoleUser),
		Enabled:      true,
		QuotaBytes:   quota,
	}
	_, err := s.CreateUser(context.Background(), user)
	require.NoError(t, err)
	return user
}

func newQueuedArchive(t *testing.T, s *GORMStore, owner string, priority int) *models.Archive {
	t.Helper()
	a := &models.Archive{
		OwnerID:      owner,
		Name:         "file.bin",
		DisplayName:  "file.bin",
		DownloadName: "file.bin",
		Status:       models.StatusQueued,
		Priority:     priority,
		OriginalSize: 100,
		ChunkSize:    8,
	}
	require.NoError(t, s.CreateArchive(context.Background(), a))
	return a
}

func TestLeaseNextQueued_PriorityThenAge(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	user := newTestUser(t, s, 0)

	low := newQueuedArchive(t, s, user.ID, 1)
	time.Sleep(5 * time.Millisecond)
	high := newQueuedArchive(t, s, user.ID, 3)
	time.Sleep(5 * time.Millisecond)
	newQueuedArchive(t, s, user.ID, 3)

	leased, err := s.LeaseNextQueued(ctx)
	require.NoError(t, err)
	assert.Equal(t, high.ID, leased.ID, "highest priority, oldest first")
	assert.Equal(t, models.StatusProcessing, leased.Status)

	// Second lease skips the already-processing archive.
	second, err := s.LeaseNextQueued(ctx)
	require.NoError(t, err)
	assert.NotEqual(t, leased.ID, second.ID)

	third, err := s.LeaseNextQueued(ctx)
	require.NoError(t, err)
	assert.Equal(t, low.ID, third.ID)

	_, err = s.LeaseNextQueued(ctx)
	assert.ErrorIs(t, err, models.ErrNoPendingWork)
}

func TestAppendPart_RecomputesCounters(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	user := newTestUser(t, s, 0)
	a := newQueuedArchive(t, s, user.ID, 2)

	require.NoError(t, s.AppendPart(ctx, a.ID, &models.Part{Idx: 0, Size: 8, PlainSize: 8, Hash: "h0"}))
	require.NoError(t, s.AppendPart(ctx, a.ID, &models.Part{Idx: 1, Size: 3, PlainSize: 3, Hash: "h1"}))

	got, err := s.GetArchive(ctx, a.ID)
	require.NoError(t, err)
	assert.Equal(t, 2, got.UploadedParts)
	assert.EqualValues(t, 11, got.UploadedBytes)

	// A duplicate index must not inflate the counters; the newest record
	// wins for the byte sum.
	require.NoError(t, s.AppendPart(ctx, a.ID, &models.Part{Idx: 1, Size: 5, PlainSize: 5, Hash: "h1b"}))
	got, err = s.GetArchive(ctx, a.ID)
	require.NoError(t, err)
	assert.Equal(t, 2, got.UploadedParts)
	assert.EqualValues(t, 13, got.UploadedBytes)

	parts := got.SortedParts()
	require.Len(t, parts, 2)
	assert.Equal(t, "h1b", parts[1].Hash)
}

func TestResetProcessing_StartupRecovery(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	user := newTestUser(t, s, 0)

	a := newQueuedArchive(t, s, user.ID, 2)
	b := newQueuedArchive(t, s, user.ID, 2)

	_, err := s.LeaseNextQueued(ctx)
	require.NoError(t, err)
	_, err = s.LeaseNextQueued(ctx)
	require.NoError(t, err)

	// One archive has a committed part, the other only phantom progress.
	require.NoError(t, s.AppendPart(ctx, a.ID, &models.Part{Idx: 0, Size: 8, PlainSize: 8, Hash: "h"}))
	require.NoError(t, s.DB().Model(&models.Archive{}).Where("id = ?", b.ID).
		Updates(map[string]any{"uploaded_bytes": 42, "uploaded_parts": 1}).Error)

	reset, err := s.ResetProcessing(ctx, 0)
	require.NoError(t, err)
	assert.EqualValues(t, 2, reset)

	gotA, _ := s.GetArchive(ctx, a.ID)
	gotB, _ := s.GetArchive(ctx, b.ID)
	assert.Equal(t, models.StatusQueued, gotA.Status)
	assert.Equal(t, models.StatusQueued, gotB.Status)
	assert.Equal(t, 1, gotA.UploadedParts, "committed progress survives recovery")
	assert.Equal(t, 0, gotB.UploadedParts, "phantom progress is zeroed")
	assert.EqualValues(t, 0, gotB.UploadedBytes)
}

func TestResetProcessing_OnlyStale(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	user := newTestUser(t, s, 0)
	a := newQueuedArchive(t, s, user.ID, 2)

	_, err := s.LeaseNextQueued(ctx)
	require.NoError(t, err)

	// A fresh lease is not stale.
	reset, err := s.ResetProcessing(ctx, 30*time.Minute)
	require.NoError(t, err)
	assert.EqualValues(t, 0, reset)

	// Age the lease artificially.
	require.NoError(t, s.DB().Model(&models.Archive{}).Where("id = ?", a.ID).
		Update("updated_at", time.Now().Add(-time.Hour)).Error)

	reset, err = s.ResetProcessing(ctx, 30*time.Minute)
	require.NoError(t, err)
	assert.EqualValues(t, 1, reset)
}

func TestClaimDeletable_OrderAndRetention(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	user := newTestUser(t, s, 0)

	// Freshly trashed: not yet due.
	fresh := newQueuedArchive(t, s, user.ID, 2)
	require.NoError(t, s.TrashArchive(ctx, user.ID, fresh.ID))

	// Expired in trash: due via retention.
	expired := newQueuedArchive(t, s, user.ID, 2)
	old := time.Now().Add(-31 * 24 * time.Hour)
	require.NoError(t, s.DB().Model(&models.Archive{}).Where("id = ?", expired.ID).
		Update("trashed_at", old).Error)

	// Explicit purge request: served before retention expiry.
	purged := newQueuedArchive(t, s, user.ID, 2)
	require.NoError(t, s.RequestPurge(ctx, user.ID, purged.ID))

	retention := 30 * 24 * time.Hour

	first, err := s.ClaimDeletable(ctx, retention)
	require.NoError(t, err)
	assert.Equal(t, purged.ID, first.ID)
	assert.True(t, first.Deleting)

	second, err := s.ClaimDeletable(ctx, retention)
	require.NoError(t, err)
	assert.Equal(t, expired.ID, second.ID)

	_, err = s.ClaimDeletable(ctx, retention)
	assert.ErrorIs(t, err, models.ErrNoPendingWork)
}

func TestCompleteDeletion_RefundsQuota(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	user := newTestUser(t, s, 1000)
	require.NoError(t, s.ReserveQuota(ctx, user.ID, 100))

	a := newQueuedArchive(t, s, user.ID, 2)
	require.NoError(t, s.AppendPart(ctx, a.ID, &models.Part{Idx: 0, Size: 100, PlainSize: 100, Hash: "h"}))

	got, _ := s.GetArchive(ctx, a.ID)
	require.NoError(t, s.CompleteDeletion(ctx, got))

	after, err := s.GetArchive(ctx, a.ID)
	require.NoError(t, err)
	assert.NotNil(t, after.DeletedAt)
	assert.False(t, after.Deleting)
	assert.Empty(t, after.Parts, "parts are stripped on tombstone")

	u, err := s.GetUserByID(ctx, user.ID)
	require.NoError(t, err)
	assert.EqualValues(t, 0, u.UsedBytes)

	// Tombstoned archives disappear from user-facing reads.
	_, err = s.GetOwnedArchive(ctx, user.ID, a.ID)
	assert.ErrorIs(t, err, models.ErrArchiveNotFound)
}

func TestReserveQuota_Boundary(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	user := newTestUser(t, s, 100)

	// Exactly at the boundary is accepted.
	require.NoError(t, s.ReserveQuota(ctx, user.ID, 100))

	// One more byte is rejected.
	err := s.ReserveQuota(ctx, user.ID, 1)
	assert.ErrorIs(t, err, models.ErrQuotaExceeded)

	require.NoError(t, s.ReleaseQuota(ctx, user.ID, 100))
	u, _ := s.GetUserByID(ctx, user.ID)
	assert.EqualValues(t, 0, u.UsedBytes)

	// Refunds clamp at zero.
	require.NoError(t, s.ReleaseQuota(ctx, user.ID, 50))
	u, _ = s.GetUserByID(ctx, user.ID)
	assert.EqualValues(t, 0, u.UsedBytes)
}

func TestTrashRestoreRoundTrip(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	user := newTestUser(t, s, 0)
	a := newQueuedArchive(t, s, user.ID, 2)
	require.NoError(t, s.AppendPart(ctx, a.ID, &models.Part{Idx: 0, Size: 100, PlainSize: 100, Hash: "h"}))

	require.NoError(t, s.TrashArchive(ctx, user.ID, a.ID))
	trashed, err := s.ListTrashed(ctx, user.ID)
	require.NoError(t, err)
	require.Len(t, trashed, 1)

	live, err := s.ListArchives(ctx, user.ID, nil)
	require.NoError(t, err)
	assert.Empty(t, live)

	require.NoError(t, s.RestoreFromTrash(ctx, user.ID, a.ID))
	got, err := s.GetArchive(ctx, a.ID)
	require.NoError(t, err)
	assert.Nil(t, got.TrashedAt)
	assert.Len(t, got.Parts, 1, "restore from trash is a no-op on parts")
	assert.EqualValues(t, 100, got.OriginalSize)
}

func TestClaimMirrorPart_CAS(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	user := newTestUser(t, s, 0)
	a := newQueuedArchive(t, s, user.ID, 2)

	part := &models.Part{Idx: 0, Size: 8, PlainSize: 8, Hash: "h", Provider: models.ProviderWebhook}
	require.NoError(t, s.AppendPart(ctx, a.ID, part))
	require.NoError(t, s.AssignMirrorProvider(ctx, part.ID, models.ProviderBot))

	ok, err := s.ClaimMirrorPart(ctx, part.ID, models.ProviderBot)
	require.NoError(t, err)
	assert.True(t, ok)

	// A second claim loses.
	ok, err = s.ClaimMirrorPart(ctx, part.ID, models.ProviderBot)
	require.NoError(t, err)
	assert.False(t, ok)

	require.NoError(t, s.CompleteMirror(ctx, part.ID, models.Placement{
		Provider:  models.ProviderBot,
		URL:       "https://mirror/x",
		MessageID: "99",
		ChatID:    "chat",
	}))
	got, err := s.GetPart(ctx, part.ID)
	require.NoError(t, err)
	assert.True(t, got.Mirrored())

	// Failure flips it back to pending with an error message.
	require.NoError(t, s.FailMirror(ctx, part.ID, "upload failed"))
	got, _ = s.GetPart(ctx, part.ID)
	assert.True(t, got.MirrorPending)
	assert.Equal(t, "upload failed", got.MirrorError)
}

func TestNextMirrorQueries(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	user := newTestUser(t, s, 0)
	a := newQueuedArchive(t, s, user.ID, 2)

	part := &models.Part{Idx: 0, Size: 8, PlainSize: 8, Hash: "h", Provider: models.ProviderWebhook}
	require.NoError(t, s.AppendPart(ctx, a.ID, part))

	// Not ready yet: no mirror work.
	_, err := s.NextMirrorAssign(ctx)
	assert.ErrorIs(t, err, models.ErrNoPendingWork)

	require.NoError(t, s.FinalizeArchive(ctx, a.ID, 8, 1))

	found, err := s.NextMirrorAssign(ctx)
	require.NoError(t, err)
	assert.Equal(t, a.ID, found.ID)

	require.NoError(t, s.AssignMirrorProvider(ctx, part.ID, models.ProviderBot))

	_, err = s.NextMirrorAssign(ctx)
	assert.ErrorIs(t, err, models.ErrNoPendingWork, "assigned parts no longer need assignment")

	sync, err := s.NextMirrorSync(ctx, []models.ProviderKind{models.ProviderBot})
	require.NoError(t, err)
	assert.Equal(t, a.ID, sync.ID)

	// The assigned family being unavailable hides the work.
	_, err = s.NextMirrorSync(ctx, []models.ProviderKind{models.ProviderWebhook})
	assert.ErrorIs(t, err, models.ErrNoPendingWork)
}

func TestEnsureMasterSecret(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	generated, err := s.EnsureMasterSecret(ctx, "")
	require.NoError(t, err)
	assert.NotEmpty(t, generated)

	// Stable across restarts.
	again, err := s.EnsureMasterSecret(ctx, "")
	require.NoError(t, err)
	assert.Equal(t, generated, again)

	// Explicit override wins and persists.
	forced, err := s.EnsureMasterSecret(ctx, "super-secret")
	require.NoError(t, err)
	assert.Equal(t, "super-secret", forced)
	v, err := s.GetSetting(ctx, models.SettingMasterSecret)
	require.NoError(t, err)
	assert.Equal(t, "super-secret", v)
}

func TestEnsureFolderPath(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	user := newTestUser(t, s, 0)

	leaf, err := s.EnsureFolderPath(ctx, user.ID, nil, "photos/2026/summer")
	require.NoError(t, err)
	require.NotNil(t, leaf)

	// Idempotent: same path resolves to the same leaf.
	again, err := s.EnsureFolderPath(ctx, user.ID, nil, "photos/2026/summer")
	require.NoError(t, err)
	require.NotNil(t, again)
	assert.Equal(t, *leaf, *again)

	roots, err := s.ListFolders(ctx, user.ID, nil)
	require.NoError(t, err)
	require.Len(t, roots, 1)
	assert.Equal(t, "photos", roots[0].Name)
}
