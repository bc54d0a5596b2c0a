package service

import (
	"context"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"

	"github.com/mechlib/catalog/internal/embeddings"
	"github.com/mechlib/catalog/internal/locking"
	"github.com/mechlib/catalog/internal/models"
	"github.com/mechlib/catalog/internal/objectstore"
	"github.com/mechlib/catalog/internal/repository/memory"
)

const testBucket = "mechlib"

var errBoom = errors.New("boom")

// fakeBlobs keeps object bytes in memory, keyed by s3_uri.
type fakeBlobs struct {
	mu      sync.Mutex
	objects map[string][]byte

	uploads   int
	downloads int

	uploadErr   error
	downloadErr error
	deleteErr   error
	presignErr  error
}

func newFakeBlobs() *fakeBlobs {
	return &fakeBlobs{objects: make(map[string][]byte)}
}

func (b *fakeBlobs) Bucket() string { return testBucket }

func (b *fakeBlobs) Upload(_ context.Context, localPath, key string) (string, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.uploadErr != nil {
		return "", b.uploadErr
	}

	data, err := os.ReadFile(localPath)
	if err != nil {
		return "", err
	}

	uri := objectstore.URI(testBucket, key)
	b.objects[uri] = data
	b.uploads++

	return uri, nil
}

func (b *fakeBlobs) Download(_ context.Context, uri, localPath string) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.downloads++

	if b.downloadErr != nil {
		return b.downloadErr
	}

	data, ok := b.objects[uri]
	if !ok {
		return objectstore.ErrObjectNotFound
	}

	return os.WriteFile(localPath, data, 0o600)
}

func (b *fakeBlobs) Delete(_ context.Context, uri string) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.deleteErr != nil {
		return b.deleteErr
	}

	if _, ok := b.objects[uri]; !ok {
		return objectstore.ErrObjectNotFound
	}

	delete(b.objects, uri)

	return nil
}

func (b *fakeBlobs) Presign(_ context.Context, uri string) (string, error) {
	if b.presignErr != nil {
		return "", b.presignErr
	}

	return "https://signed.example/" + uri, nil
}

func (b *fakeBlobs) has(uri string) bool {
	b.mu.Lock()
	defer b.mu.Unlock()

	_, ok := b.objects[uri]

	return ok
}

// tagsOf decodes the fields the fake tag writer embedded in the stored object.
func (b *fakeBlobs) tagsOf(t *testing.T, uri string) models.ImageFields {
	t.Helper()

	b.mu.Lock()
	defer b.mu.Unlock()

	data, ok := b.objects[uri]
	require.True(t, ok, "object %s not stored", uri)

	var f models.ImageFields
	require.NoError(t, json.Unmarshal(data, &f))

	return f
}

// jsonTags stands in for exiftool: the "embedded" tags replace the file content as JSON.
type jsonTags struct {
	writeFunc func(ctx context.Context, path string, fields models.ImageFields) error
	readFunc  func(ctx context.Context, path string) (models.ImageFields, error)
}

func (j *jsonTags) WriteTags(ctx context.Context, path string, fields models.ImageFields) error {
	if j.writeFunc != nil {
		return j.writeFunc(ctx, path, fields)
	}

	data, err := json.Marshal(fields)
	if err != nil {
		return err
	}

	return os.WriteFile(path, data, 0o600)
}

func (j *jsonTags) ReadTags(ctx context.Context, path string) (models.ImageFields, error) {
	if j.readFunc != nil {
		return j.readFunc(ctx, path)
	}

	var f models.ImageFields

	data, err := os.ReadFile(path)
	if err != nil {
		return f, err
	}

	err = json.Unmarshal(data, &f)

	return f, err
}

// countingLocker records which keys were locked.
type countingLocker struct {
	inner *locking.LocalLocker

	mu   sync.Mutex
	keys []string
}

func (l *countingLocker) Lock(ctx context.Context, key string) (func(), error) {
	l.mu.Lock()
	l.keys = append(l.keys, key)
	l.mu.Unlock()

	return l.inner.Lock(ctx, key)
}

// replaceFailingRepo simulates an index outage at the replace step.
type replaceFailingRepo struct {
	*memory.Store

	err error
}

func (r *replaceFailingRepo) Replace(context.Context, uuid.UUID, *models.ImageRecord) (*models.ImageRecord, error) {
	return nil, r.err
}

type catalogFixture struct {
	store  *memory.Store
	blobs  *fakeBlobs
	tags   *jsonTags
	locker *countingLocker
	svc    *CatalogService
}

var fixedNow = time.Date(2026, 3, 14, 9, 26, 53, 589_000_000, time.UTC)

func newCatalogFixture(t *testing.T) *catalogFixture {
	t.Helper()

	f := &catalogFixture{
		store:  memory.NewStore(),
		blobs:  newFakeBlobs(),
		tags:   &jsonTags{},
		locker: &countingLocker{inner: locking.NewLocalLocker()},
	}
	f.svc = f.service(f.store)

	return f
}

// service builds a CatalogService over repo, sharing the fixture's other collaborators.
func (f *catalogFixture) service(repo ImagesRepository) *CatalogService {
	return NewCatalogService(CatalogServiceParams{
		Repo:       repo,
		Markers:    f.store,
		Blobs:      f.blobs,
		Tags:       f.tags,
		Embedder:   embeddings.NewMockClientWithDimensions(64),
		Locker:     f.locker,
		ScratchDir: os.TempDir(),
		Now:        func() time.Time { return fixedNow },
	})
}

// writeImage creates a placeholder image file under dir and returns its path.
func writeImage(t *testing.T, dir, name string) string {
	t.Helper()

	p := filepath.Join(dir, name)
	require.NoError(t, os.MkdirAll(filepath.Dir(p), 0o755))
	require.NoError(t, os.WriteFile(p, []byte("\x89PNG placeholder"), 0o600))

	return p
}
