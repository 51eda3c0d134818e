package credential_test

import (
	"bytes"
	"context"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/phrazzld/lexigen/internal/credential"
	"github.com/phrazzld/lexigen/internal/platform/sqlite"
	"github.com/phrazzld/lexigen/internal/store"
)

// memStore is an in-memory credential.Store.
type memStore struct {
	mu   sync.Mutex
	data map[string][]byte
}

func newMemStore() *memStore {
	return &memStore{data: map[string][]byte{}}
}

func (m *memStore) Put(_ context.Context, service, key string, sealed []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.data[service+":"+key] = bytes.Clone(sealed)
	return nil
}

func (m *memStore) Get(_ context.Context, service, key string) ([]byte, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	v, ok := m.data[service+":"+key]
	if !ok {
		return nil, store.ErrNotFound
	}
	return bytes.Clone(v), nil
}

func (m *memStore) Delete(_ context.Context, service, key string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.data[service+":"+key]; !ok {
		return store.ErrNotFound
	}
	delete(m.data, service+":"+key)
	return nil
}

func (m *memStore) Keys(context.Context, string) ([]string, error) {
	return nil, nil
}

const fastCost = 1 << 4

func TestVaultRoundTrip(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	s := newMemStore()
	v, err := credential.Open(ctx, s, "correct horse", credential.WithScryptCost(fastCost))
	require.NoError(t, err)

	require.NoError(t, v.Set(ctx, "gemini", "api_key", "AIza-secret"))

	raw, err := s.Get(ctx, "gemini", "api_key")
	require.NoError(t, err)
	assert.NotContains(t, string(raw), "AIza-secret", "secrets must be stored sealed")

	got, err := v.APIKey(ctx, "gemini")
	require.NoError(t, err)
	assert.Equal(t, "AIza-secret", got)

	require.NoError(t, v.Delete(ctx, "gemini", "api_key"))
	_, err = v.Get(ctx, "gemini", "api_key")
	assert.ErrorIs(t, err, credential.ErrNotFound)
	assert.ErrorIs(t, err, store.ErrNotFound)
	assert.ErrorIs(t, v.Delete(ctx, "gemini", "api_key"), credential.ErrNotFound)
}

func TestVaultReopen(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	s := newMemStore()
	v, err := credential.Open(ctx, s, "pass", credential.WithScryptCost(fastCost))
	require.NoError(t, err)
	require.NoError(t, v.Set(ctx, "deepl", "api_key", "k-1"))

	_, err = credential.Open(ctx, s, "wrong", credential.WithScryptCost(fastCost))
	assert.ErrorIs(t, err, credential.ErrWrongPassphrase)

	reopened, err := credential.Open(ctx, s, "pass", credential.WithScryptCost(fastCost))
	require.NoError(t, err)
	got, err := reopened.Get(ctx, "deepl", "api_key")
	require.NoError(t, err)
	assert.Equal(t, "k-1", got)
}

func TestVaultRejectsBadNames(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	v, err := credential.Open(ctx, newMemStore(), "pass", credential.WithScryptCost(fastCost))
	require.NoError(t, err)

	assert.ErrorIs(t, v.Set(ctx, "", "api_key", "x"), credential.ErrInvalidName)
	assert.ErrorIs(t, v.Set(ctx, "gemini", " ", "x"), credential.ErrInvalidName)
	assert.ErrorIs(t, v.Set(ctx, "_vault", "salt", "x"), credential.ErrInvalidName)

	_, err = credential.Open(ctx, newMemStore(), "", credential.WithScryptCost(fastCost))
	assert.ErrorIs(t, err, credential.ErrWrongPassphrase)
}

func TestVaultDetectsTampering(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	s := newMemStore()
	v, err := credential.Open(ctx, s, "pass", credential.WithScryptCost(fastCost))
	require.NoError(t, err)
	require.NoError(t, v.Set(ctx, "gemini", "api_key", "secret"))

	raw, _ := s.Get(ctx, "gemini", "api_key")
	raw[len(raw)-1] ^= 0xff
	require.NoError(t, s.Put(ctx, "gemini", "api_key", raw))

	_, err = v.Get(ctx, "gemini", "api_key")
	assert.ErrorIs(t, err, credential.ErrCorrupt)
}

func TestVaultOverSQLite(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	db, err := sqlite.Open(ctx, sqlite.MemoryPath)
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })

	v, err := credential.Open(ctx, sqlite.NewCredentialStore(db), "pass", credential.WithScryptCost(fastCost))
	require.NoError(t, err)

	require.NoError(t, v.Set(ctx, "gemini", "api_key", "a"))
	require.NoError(t, v.Set(ctx, "gemini", "project", "b"))

	keys, err := v.Keys(ctx, "gemini")
	require.NoError(t, err)
	assert.Equal(t, []string{"api_key", "project"}, keys)
}
