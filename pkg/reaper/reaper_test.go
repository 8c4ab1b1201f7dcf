package reaper

import (
	"context"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/marmos91/stowfs/pkg/models"
	"github.com/marmos91/stowfs/pkg/provider"
	"github.com/marmos91/stowfs/pkg/store"
)

// fakePool resolves every placement to a provider that records deletions.
type fakePool struct {
	prov *fakeProvider
}

func newFakePool() *fakePool {
	return &fakePool{prov: &fakeProvider{}}
}

func (p *fakePool) Primary(ctx context.Context, idx int) (provider.Provider, error) {
	return p.prov, nil
}

func (p *fakePool) Mirror(ctx context.Context, primary models.ProviderKind, idx int) (provider.Provider, error) {
	return p.prov, nil
}

func (p *fakePool) ByPlacement(ctx context.Context, placement models.Placement) (provider.Provider, error) {
	return p.prov, nil
}

func (p *fakePool) Kinds(ctx context.Context) ([]models.ProviderKind, error) {
	return []models.ProviderKind{models.ProviderWebhook, models.ProviderBot}, nil
}

func (p *fakePool) Slots(ctx context.Context) (int, error) { return 2, nil }

func (p *fakePool) MaxPartSize(ctx context.Context) (int64, error) { return 8 << 20, nil }

func (p *fakePool) MirroredUpload(ctx context.Context, idx int, name string, data []byte) (*provider.MirroredResult, error) {
	return nil, models.ErrNoProvider
}

func (p *fakePool) Fetch(ctx context.Context, url string) ([]byte, error) {
	return nil, &provider.StatusError{Code: 404}
}

type fakeProvider struct {
	mu      sync.Mutex
	deletes []models.Placement
}

func (f *fakeProvider) Kind() models.ProviderKind { return models.ProviderWebhook }
func (f *fakeProvider) HandleID() string          { return "h1" }
func (f *fakeProvider) MaxPartSize() int64        { return 8 << 20 }

func (f *fakeProvider) Upload(ctx context.Context, name string, data []byte) (*provider.UploadResult, error) {
	return nil, models.ErrNoProvider
}

func (f *fakeProvider) RefreshURL(ctx context.Context, placement models.Placement) (string, error) {
	return placement.URL, nil
}

func (f *fakeProvider) Delete(ctx context.Context, placement models.Placement) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.deletes = append(f.deletes, placement)
	return nil
}

func newTestStore(t *testing.T) *store.GORMStore {
	t.Helper()
	s, err := store.New(&store.Config{
		Type:   store.DatabaseTypeSQLite,
		SQLite: store.SQLiteConfig{Path: filepath.Join(t.TempDir(), "test.db")},
	})
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func readyMirroredArchive(t *testing.T, s *store.GORMStore, ownerID string) *models.Archive {
	t.Helper()
	ctx := context.Background()
	a := &models.Archive{
		OwnerID: ownerID, Name: "f.bin", DisplayName: "f.bin", DownloadName: "f.bin",
		Status: models.StatusQueued, Priority: models.PriorityDefault,
		OriginalSize: 4, ChunkSize: 8, EncryptionVersion: models.EncryptionChunked,
	}
	require.NoError(t, s.CreateArchive(ctx, a))
	require.NoError(t, s.AppendPart(ctx, a.ID, &models.Part{
		Idx: 0, Size: 4, PlainSize: 4, Hash: "h",
		Provider: models.ProviderWebhook, URL: "mem://p/0", MessageID: "m0", WebhookID: "w1",
		MirrorProvider: models.ProviderBot, MirrorURL: "mem://m/0", MirrorMessageID: "mm0", MirrorChatID: "c1",
	}))
	require.NoError(t, s.FinalizeArchive(ctx, a.ID, 4, 1))
	return a
}

func TestRunOnce_PurgedArchive(t *testing.T) {
	s := newTestStore(t)
	pool := newFakePool()
	r := New(s, pool, DefaultRetention)
	ctx := context.Background()

	user := &models.User{Username: "alice", PasswordHash: "x", Role: string(models.RoleUser), Enabled: true, QuotaBytes: 100}
	_, err := s.CreateUser(ctx, user)
	require.NoError(t, err)
	require.NoError(t, s.ReserveQuota(ctx, user.ID, 4))

	a := readyMirroredArchive(t, s, user.ID)
	require.NoError(t, s.RequestPurge(ctx, user.ID, a.ID))

	require.NoError(t, r.RunOnce(ctx))

	// Both placements deleted remotely.
	assert.Len(t, pool.prov.deletes, 2)

	// Tombstoned: invisible to the owner, quota refunded.
	_, err = s.GetOwnedArchive(ctx, user.ID, a.ID)
	assert.ErrorIs(t, err, models.ErrArchiveNotFound)
	fresh, err := s.GetUserByID(ctx, user.ID)
	require.NoError(t, err)
	assert.Zero(t, fresh.UsedBytes)
}

func TestRunOnce_TrashRetention(t *testing.T) {
	s := newTestStore(t)
	pool := newFakePool()
	ctx := context.Background()

	user := &models.User{Username: "bob", PasswordHash: "x", Role: string(models.RoleUser), Enabled: true}
	_, err := s.CreateUser(ctx, user)
	require.NoError(t, err)

	a := readyMirroredArchive(t, s, user.ID)
	require.NoError(t, s.TrashArchive(ctx, user.ID, a.ID))

	// Fresh trash stays put under a long retention.
	r := New(s, pool, DefaultRetention)
	assert.ErrorIs(t, r.RunOnce(ctx), models.ErrNoPendingWork)

	// Once the retention window passes, the reaper takes it.
	time.Sleep(5 * time.Millisecond)
	r = New(s, pool, time.Millisecond)
	require.NoError(t, r.RunOnce(ctx))
	_, err = s.GetOwnedArchive(ctx, user.ID, a.ID)
	assert.ErrorIs(t, err, models.ErrArchiveNotFound)
}

func TestRunOnce_NoWork(t *testing.T) {
	s := newTestStore(t)
	r := New(s, newFakePool(), DefaultRetention)
	assert.ErrorIs(t, r.RunOnce(context.Background()), models.ErrNoPendingWork)
}
