package pinning

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"blue-carbon/registry-portal/registry-portal-backend/internal/failure"
	"blue-carbon/registry-portal/registry-portal-backend/pkg/storage"
)

// scriptedStore wraps a MemoryStore and fails uploads per file name.
type scriptedStore struct {
	*storage.MemoryStore
	mu        sync.Mutex
	transient map[string]int
	permanent map[string]error
	badCID    map[string]bool
	calls     map[string]int
}

func newScriptedStore() *scriptedStore {
	return &scriptedStore{
		MemoryStore: storage.NewMemoryStore(),
		transient:   map[string]int{},
		permanent:   map[string]error{},
		badCID:      map[string]bool{},
		calls:       map[string]int{},
	}
}

func (s *scriptedStore) Upload(ctx context.Context, name string, body io.Reader) (string, error) {
	s.mu.Lock()
	s.calls[name]++
	if err, ok := s.permanent[name]; ok {
		s.mu.Unlock()
		return "", err
	}
	if s.transient[name] > 0 {
		s.transient[name]--
		s.mu.Unlock()
		return "", errors.New("request timed out")
	}
	bad := s.badCID[name]
	s.mu.Unlock()
	if bad {
		return "", nil
	}
	return s.MemoryStore.Upload(ctx, name, body)
}

func (s *scriptedStore) callsFor(name string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.calls[name]
}

func newCoordinator(t *testing.T, store storage.ContentStore) *Coordinator {
	t.Helper()
	c, err := NewCoordinator(store, Options{
		Retry: failure.RetryPolicy{Attempts: 3, InitialInterval: time.Millisecond, MaxInterval: 2 * time.Millisecond},
	}, zap.NewNop())
	require.NoError(t, err)
	return c
}

func files(names ...string) []File {
	out := make([]File, len(names))
	for i, n := range names {
		out[i] = File{Name: n, Data: []byte("content of " + n)}
	}
	return out
}

func TestPin_NoDocuments(t *testing.T) {
	c := newCoordinator(t, storage.NewMemoryStore())
	_, err := c.Pin(context.Background(), nil)
	assert.ErrorIs(t, err, ErrNoDocuments)
}

func TestPin_AllSucceed(t *testing.T) {
	store := storage.NewMemoryStore()
	c := newCoordinator(t, store)

	res, err := c.Pin(context.Background(), files("a.pdf", "b.pdf", "c.pdf"))
	require.NoError(t, err)
	require.Len(t, res.Uploads, 3)
	assert.Equal(t, 0, res.FailedCount)

	want, err := storage.ComputeCID([]byte("content of a.pdf"))
	require.NoError(t, err)
	assert.Equal(t, want.String(), res.ContentID)
	assert.Equal(t, 3, store.Len())
}

func TestPin_PrimaryIsFirstSuccessInInputOrder(t *testing.T) {
	store := newScriptedStore()
	store.permanent["a.pdf"] = errors.New("file type not allowed")
	c := newCoordinator(t, store)

	res, err := c.Pin(context.Background(), files("a.pdf", "b.pdf", "c.pdf"))
	require.NoError(t, err)
	assert.Equal(t, 1, res.FailedCount)
	require.Len(t, res.Failures, 1)
	assert.Equal(t, "a.pdf", res.Failures[0].Name)
	assert.Equal(t, failure.KindUnknown, res.Failures[0].Error.Kind)

	want, err := storage.ComputeCID([]byte("content of b.pdf"))
	require.NoError(t, err)
	assert.Equal(t, want.String(), res.ContentID)
}

func TestPin_RetriesTransientFailures(t *testing.T) {
	store := newScriptedStore()
	store.transient["a.pdf"] = 2
	c := newCoordinator(t, store)

	res, err := c.Pin(context.Background(), files("a.pdf"))
	require.NoError(t, err)
	assert.NotEmpty(t, res.ContentID)
	assert.Equal(t, 3, store.callsFor("a.pdf"))
}

func TestPin_RetryIsBounded(t *testing.T) {
	store := newScriptedStore()
	store.transient["a.pdf"] = 10
	c := newCoordinator(t, store)

	res, err := c.Pin(context.Background(), files("a.pdf"))
	require.Error(t, err)
	assert.Equal(t, failure.KindNetworkUnavailable, failure.KindOf(err))
	assert.Equal(t, failure.MaxAttempts, store.callsFor("a.pdf"))
	assert.Empty(t, res.ContentID)
	assert.Equal(t, 1, res.FailedCount)
}

func TestPin_PermanentFailureNotRetried(t *testing.T) {
	store := newScriptedStore()
	store.permanent["a.pdf"] = errors.New("user rejected the request")
	c := newCoordinator(t, store)

	_, err := c.Pin(context.Background(), files("a.pdf"))
	require.Error(t, err)
	assert.Equal(t, failure.KindUserCancelled, failure.KindOf(err))
	assert.Equal(t, 1, store.callsFor("a.pdf"))
}

func TestPin_EmptyContentIDIsFailure(t *testing.T) {
	store := newScriptedStore()
	store.badCID["a.pdf"] = true
	c := newCoordinator(t, store)

	res, err := c.Pin(context.Background(), files("a.pdf"))
	require.Error(t, err)
	assert.Empty(t, res.ContentID)

	res, err = c.Pin(context.Background(), files("a.pdf", "b.pdf"))
	require.NoError(t, err)
	assert.NotEmpty(t, res.ContentID)
	assert.Equal(t, 1, res.FailedCount)
}

func TestPin_AllFailReturnsFirstFailure(t *testing.T) {
	store := newScriptedStore()
	store.permanent["a.pdf"] = errors.New("insufficient funds for pinning plan")
	store.permanent["b.pdf"] = errors.New("fetch failed")
	c := newCoordinator(t, store)

	res, err := c.Pin(context.Background(), files("a.pdf", "b.pdf"))
	require.Error(t, err)
	assert.Equal(t, failure.KindInsufficientFunds, failure.KindOf(err))
	assert.Equal(t, 2, res.FailedCount)
}

func TestHistory_IsBounded(t *testing.T) {
	c, err := NewCoordinator(storage.NewMemoryStore(), Options{HistorySize: 2}, zap.NewNop())
	require.NoError(t, err)

	for i := 0; i < 3; i++ {
		_, err := c.Pin(context.Background(), files(fmt.Sprintf("doc-%d.pdf", i)))
		require.NoError(t, err)
	}
	h := c.History()
	require.Len(t, h, 2)
	assert.Equal(t, "doc-2.pdf", h[0].Name)
	assert.Equal(t, "doc-1.pdf", h[1].Name)
}
