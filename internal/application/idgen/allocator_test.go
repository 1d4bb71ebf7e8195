package idgen

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

type mockSeqSource struct {
	mu        sync.Mutex
	perUser   map[string]int64
	err       error
	seedCalls int
}

func (m *mockSeqSource) MaxFrontendSeq(ctx context.Context, userID string) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.seedCalls++
	if m.err != nil {
		return 0, m.err
	}
	return m.perUser[userID], nil
}

func (m *mockSeqSource) MaxFrontendSeqByUser(ctx context.Context) (map[string]int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.err != nil {
		return nil, m.err
	}
	out := make(map[string]int64, len(m.perUser))
	for k, v := range m.perUser {
		out[k] = v
	}
	return out, nil
}

func newTestAllocator(source SeqSource) *Allocator {
	return NewAllocator(source, Config{}, zap.NewNop())
}

func TestAllocator_Format(t *testing.T) {
	a := NewAllocator(&mockSeqSource{}, Config{Prefix: "XM", Width: 4}, zap.NewNop())
	assert.Equal(t, "XM-0042", a.Format(42))
	assert.Equal(t, "INV-000007", newTestAllocator(&mockSeqSource{}).Format(7))
}

func TestAllocator_NextSeedsFromPersistedMaximum(t *testing.T) {
	source := &mockSeqSource{perUser: map[string]int64{"alice": 41}}
	a := newTestAllocator(source)

	id, seq, err := a.Next(context.Background(), "alice")
	require.NoError(t, err)
	assert.Equal(t, "INV-000042", id)
	assert.Equal(t, int64(42), seq)

	_, seq, err = a.Next(context.Background(), "alice")
	require.NoError(t, err)
	assert.Equal(t, int64(43), seq)
	assert.Equal(t, 1, source.seedCalls, "seed should happen once per user")

	_, seq, err = a.Next(context.Background(), "bob")
	require.NoError(t, err)
	assert.Equal(t, int64(1), seq, "unknown users start from zero")
}

func TestAllocator_NextRejectsEmptyUser(t *testing.T) {
	_, _, err := newTestAllocator(&mockSeqSource{}).Next(context.Background(), "")
	assert.Error(t, err)
}

func TestAllocator_SeedFailureIsRetried(t *testing.T) {
	source := &mockSeqSource{perUser: map[string]int64{"alice": 5}, err: errors.New("database is locked")}
	a := newTestAllocator(source)

	_, _, err := a.Next(context.Background(), "alice")
	require.Error(t, err)

	source.mu.Lock()
	source.err = nil
	source.mu.Unlock()

	_, seq, err := a.Next(context.Background(), "alice")
	require.NoError(t, err)
	assert.Equal(t, int64(6), seq)
}

func TestAllocator_ConcurrentAllocationsAreUnique(t *testing.T) {
	source := &mockSeqSource{perUser: map[string]int64{"alice": 10}}
	a := newTestAllocator(source)
	require.NoError(t, a.Initialize(context.Background()))

	const workers = 64
	var wg sync.WaitGroup
	ids := make(chan string, workers*2)

	for i := 0; i < workers; i++ {
		wg.Add(2)
		go func() {
			defer wg.Done()
			id, _, err := a.Next(context.Background(), "alice")
			assert.NoError(t, err)
			ids <- "alice/" + id
		}()
		go func() {
			defer wg.Done()
			id, _, err := a.Next(context.Background(), "bob")
			assert.NoError(t, err)
			ids <- "bob/" + id
		}()
	}
	wg.Wait()
	close(ids)

	seen := make(map[string]bool)
	for id := range ids {
		assert.False(t, seen[id], "duplicate id %s", id)
		seen[id] = true
	}
	assert.Len(t, seen, workers*2)

	last, ok := a.Last("alice")
	assert.True(t, ok)
	assert.Equal(t, int64(10+workers), last)

	last, _ = a.Last("bob")
	assert.Equal(t, int64(workers), last)
}

func TestAllocator_RefreshOnlyMovesForward(t *testing.T) {
	source := &mockSeqSource{perUser: map[string]int64{"alice": 3}}
	a := newTestAllocator(source)
	require.NoError(t, a.Initialize(context.Background()))

	// two allocations whose transactions never committed
	_, _, _ = a.Next(context.Background(), "alice")
	_, _, _ = a.Next(context.Background(), "alice")

	require.NoError(t, a.Refresh(context.Background()))
	last, _ := a.Last("alice")
	assert.Equal(t, int64(5), last, "refresh must not hand out 4 and 5 again")

	// another process wrote ahead of us
	source.mu.Lock()
	source.perUser["alice"] = 20
	source.mu.Unlock()

	require.NoError(t, a.Refresh(context.Background()))
	_, seq, err := a.Next(context.Background(), "alice")
	require.NoError(t, err)
	assert.Equal(t, int64(21), seq)
}

func TestAllocator_InitializeError(t *testing.T) {
	a := newTestAllocator(&mockSeqSource{err: errors.New("no such table: invoices")})
	assert.Error(t, a.Initialize(context.Background()))
}
