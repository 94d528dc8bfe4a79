package cache

import (
	"context"
	"errors"
	"path"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Adithya-Monish-Kumar-K/Amplicon-Classifier/internal/classifier"
	"github.com/Adithya-Monish-Kumar-K/Amplicon-Classifier/pkg/metrics"
)

type memStore struct {
	mu      sync.Mutex
	data    map[string][]byte
	ttls    map[string]time.Duration
	failGet bool
}

func newMemStore() *memStore {
	return &memStore{data: make(map[string][]byte), ttls: make(map[string]time.Duration)}
}

func (s *memStore) Get(_ context.Context, key string) ([]byte, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.failGet {
		return nil, false, errors.New("connection refused")
	}
	v, ok := s.data[key]
	return v, ok, nil
}

func (s *memStore) Set(_ context.Context, key string, value []byte, ttl time.Duration) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.data[key] = value
	s.ttls[key] = ttl
	return nil
}

func (s *memStore) FlushByPattern(_ context.Context, pattern string) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var n int64
	for key := range s.data {
		if ok, _ := path.Match(pattern, key); ok {
			delete(s.data, key)
			n++
		}
	}
	return n, nil
}

var verdict = classifier.Verdict{
	Orientation: classifier.Reverse,
	Score:       0.75,
	Unique:      []int64{-1, 3},
	Candidates:  [][]string{{"SpeciesX", "SpeciesY"}, nil},
}

func TestGetOrComputeCachesVerdict(t *testing.T) {
	store := newMemStore()
	m := metrics.New(prometheus.NewRegistry())
	c := New(store, "abc", time.Hour, m)

	var calls int
	compute := func() (classifier.Verdict, error) {
		calls++
		return verdict, nil
	}

	v, hit, err := c.GetOrCompute(context.Background(), "ACGT", compute)
	require.NoError(t, err)
	assert.False(t, hit)
	assert.Equal(t, verdict, v)

	v, hit, err = c.GetOrCompute(context.Background(), "ACGT", compute)
	require.NoError(t, err)
	assert.True(t, hit)
	assert.Equal(t, verdict, v)
	assert.Equal(t, 1, calls)

	hits, misses := c.Stats()
	assert.Equal(t, int64(1), hits)
	assert.Equal(t, int64(1), misses)
	assert.Equal(t, 1.0, testutil.ToFloat64(m.HitCacheHits))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.HitCacheMisses))

	for key, ttl := range store.ttls {
		assert.True(t, strings.HasPrefix(key, "hit:abc:"), key)
		assert.Equal(t, time.Hour, ttl)
	}
}

func TestKeysAreScopedByFingerprint(t *testing.T) {
	store := newMemStore()
	a := New(store, "aaaa", 0, nil)
	b := New(store, "bbbb", 0, nil)

	a.Set(context.Background(), "ACGT", verdict)
	_, ok := b.Get(context.Background(), "ACGT")
	assert.False(t, ok)
	_, ok = a.Get(context.Background(), "ACGT")
	assert.True(t, ok)
}

func TestComputeErrorIsReturned(t *testing.T) {
	c := New(newMemStore(), "abc", 0, nil)
	boom := errors.New("boom")
	_, _, err := c.GetOrCompute(context.Background(), "ACGT", func() (classifier.Verdict, error) {
		return classifier.Verdict{}, boom
	})
	assert.ErrorIs(t, err, boom)
}

func TestBackendFailureIsAMiss(t *testing.T) {
	store := newMemStore()
	store.failGet = true
	c := New(store, "abc", 0, nil)

	v, hit, err := c.GetOrCompute(context.Background(), "ACGT", func() (classifier.Verdict, error) {
		return verdict, nil
	})
	require.NoError(t, err)
	assert.False(t, hit)
	assert.Equal(t, verdict, v)
}

func TestCorruptEntryIsAMiss(t *testing.T) {
	store := newMemStore()
	c := New(store, "abc", 0, nil)
	require.NoError(t, store.Set(context.Background(), c.buildKey("ACGT"), []byte("{not json"), 0))

	_, ok := c.Get(context.Background(), "ACGT")
	assert.False(t, ok)
}

func TestSingleflightCollapsesConcurrentMisses(t *testing.T) {
	c := New(newMemStore(), "abc", 0, nil)
	var calls atomic.Int32
	release := make(chan struct{})

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, _, err := c.GetOrCompute(context.Background(), "ACGT", func() (classifier.Verdict, error) {
				calls.Add(1)
				<-release
				return verdict, nil
			})
			assert.NoError(t, err)
		}()
	}
	time.Sleep(50 * time.Millisecond)
	close(release)
	wg.Wait()
	assert.Equal(t, int32(1), calls.Load())
}

func TestInvalidate(t *testing.T) {
	store := newMemStore()
	a := New(store, "aaaa", 0, nil)
	b := New(store, "bbbb", 0, nil)
	a.Set(context.Background(), "ACGT", verdict)
	b.Set(context.Background(), "ACGT", verdict)

	require.NoError(t, a.Invalidate(context.Background()))
	_, ok := a.Get(context.Background(), "ACGT")
	assert.False(t, ok)
	_, ok = b.Get(context.Background(), "ACGT")
	assert.True(t, ok)
}

func TestInvalidateForcesRecompute(t *testing.T) {
	c := New(newMemStore(), "abc", 0, nil)
	var calls int
	compute := func() (classifier.Verdict, error) {
		calls++
		return verdict, nil
	}

	_, _, err := c.GetOrCompute(context.Background(), "ACGT", compute)
	require.NoError(t, err)
	require.NoError(t, c.Invalidate(context.Background()))

	_, hit, err := c.GetOrCompute(context.Background(), "ACGT", compute)
	require.NoError(t, err)
	assert.False(t, hit)
	assert.Equal(t, 2, calls)
}
