package cache

import (
	"context"
	"errors"
	"path/filepath"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"realestate-crawler/models"
	"realestate-crawler/storage"
)

func record(title string) models.PropertyRecord {
	return models.PropertyRecord{Site: "housing", ListingID: "1", Title: title, Price: 100, Amenities: []string{"park"}}
}

func TestLookupAndStore(t *testing.T) {
	ctx := context.Background()
	c := New(storage.NewMemoryCacheBacking())

	_, ok, err := c.Lookup(ctx, "h", "v1")
	require.NoError(t, err)
	assert.False(t, ok)

	require.NoError(t, c.Store(ctx, "h", "v1", record("a")))
	require.NoError(t, c.Store(ctx, "h", "v1", record("b")))

	got, ok, err := c.Lookup(ctx, "h", "v1")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "a", got.Title, "entries are never overwritten")

	_, ok, err = c.Lookup(ctx, "h", "v2")
	require.NoError(t, err)
	assert.False(t, ok, "a new extractor version misses")
}

func TestGetOrComputeCollapsesConcurrentCallers(t *testing.T) {
	ctx := context.Background()
	c := New(storage.NewMemoryCacheBacking())

	var calls atomic.Int32
	release := make(chan struct{})
	fn := func(context.Context) (models.PropertyRecord, error) {
		calls.Add(1)
		<-release
		return record("computed"), nil
	}

	const n = 32
	var wg sync.WaitGroup
	results := make([]models.PropertyRecord, n)
	errs := make([]error, n)
	for i := range n {
		wg.Add(1)
		go func() {
			defer wg.Done()
			results[i], _, errs[i] = c.GetOrCompute(ctx, "h", "v1", fn)
		}()
	}

	require.Eventually(t, func() bool { return calls.Load() == 1 }, time.Second, time.Millisecond)
	time.Sleep(20 * time.Millisecond)
	close(release)
	wg.Wait()

	assert.Equal(t, int32(1), calls.Load())
	for i := range n {
		require.NoError(t, errs[i])
		assert.Equal(t, "computed", results[i].Title)
	}

	// Callers get independent copies.
	results[0].Amenities[0] = "mutated"
	assert.Equal(t, "park", results[1].Amenities[0])

	// A later call is a plain hit.
	_, outcome, err := c.GetOrCompute(ctx, "h", "v1", fn)
	require.NoError(t, err)
	assert.Equal(t, Hit, outcome)
	assert.Equal(t, int32(1), calls.Load())
}

func TestGetOrComputePropagatesFailureToAllWaiters(t *testing.T) {
	ctx := context.Background()
	c := New(storage.NewMemoryCacheBacking())

	boom := errors.New("backend down")
	var calls atomic.Int32
	release := make(chan struct{})
	fn := func(context.Context) (models.PropertyRecord, error) {
		calls.Add(1)
		<-release
		return models.PropertyRecord{}, boom
	}

	const n = 8
	var wg sync.WaitGroup
	errs := make([]error, n)
	for i := range n {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, _, errs[i] = c.GetOrCompute(ctx, "h", "v1", fn)
		}()
	}
	require.Eventually(t, func() bool { return calls.Load() == 1 }, time.Second, time.Millisecond)
	time.Sleep(20 * time.Millisecond)
	close(release)
	wg.Wait()

	for _, err := range errs {
		var cce *models.CacheComputeError
		require.ErrorAs(t, err, &cce)
		assert.ErrorIs(t, err, boom)
		assert.Equal(t, "h", cce.ContentHash)
	}

	// Failures are not cached: the next call recomputes.
	_, outcome, err := c.GetOrCompute(ctx, "h", "v1", func(context.Context) (models.PropertyRecord, error) {
		return record("ok"), nil
	})
	require.NoError(t, err)
	assert.Equal(t, Computed, outcome)
	assert.EqualValues(t, 1, c.Stats().Computes-int64(calls.Load()))
}

func TestGetOrComputeHonoursCancellation(t *testing.T) {
	c := New(storage.NewMemoryCacheBacking())
	ctx, cancel := context.WithCancel(context.Background())

	started := make(chan struct{})
	done := make(chan error, 1)
	go func() {
		_, _, err := c.GetOrCompute(ctx, "h", "v1", func(ctx context.Context) (models.PropertyRecord, error) {
			close(started)
			<-ctx.Done()
			return models.PropertyRecord{}, ctx.Err()
		})
		done <- err
	}()

	<-started
	cancel()
	select {
	case err := <-done:
		assert.ErrorIs(t, err, context.Canceled)
	case <-time.After(time.Second):
		t.Fatal("GetOrCompute did not return after cancellation")
	}

	_, ok, err := c.Lookup(context.Background(), "h", "v1")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestGetOrComputeCancelledLeaderDoesNotFailWaiters(t *testing.T) {
	c := New(storage.NewMemoryCacheBacking())
	leaderCtx, cancel := context.WithCancel(context.Background())

	var calls atomic.Int32
	started := make(chan struct{})
	compute := func(ctx context.Context) (models.PropertyRecord, error) {
		if calls.Add(1) == 1 {
			close(started)
			<-ctx.Done()
			return models.PropertyRecord{}, ctx.Err()
		}
		return record("fresh"), nil
	}

	leaderErr := make(chan error, 1)
	go func() {
		_, _, err := c.GetOrCompute(leaderCtx, "h", "v1", compute)
		leaderErr <- err
	}()
	<-started

	type result struct {
		rec models.PropertyRecord
		err error
	}
	waiter := make(chan result, 1)
	go func() {
		rec, _, err := c.GetOrCompute(context.Background(), "h", "v1", compute)
		waiter <- result{rec, err}
	}()

	time.Sleep(20 * time.Millisecond)
	cancel()

	select {
	case err := <-leaderErr:
		assert.ErrorIs(t, err, context.Canceled)
	case <-time.After(time.Second):
		t.Fatal("leader did not return after cancellation")
	}
	select {
	case res := <-waiter:
		require.NoError(t, res.err)
		assert.Equal(t, "fresh", res.rec.Title)
	case <-time.After(time.Second):
		t.Fatal("waiter did not return")
	}

	got, ok, err := c.Lookup(context.Background(), "h", "v1")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "fresh", got.Title)
	assert.Zero(t, c.Stats().Failures)
}

func TestFileBackingPersistsAcrossInstances(t *testing.T) {
	ctx := context.Background()
	dir := filepath.Join(t.TempDir(), "cache")

	c := New(NewFileBacking(dir))
	_, outcome, err := c.GetOrCompute(ctx, "abc", "v1", func(context.Context) (models.PropertyRecord, error) {
		return record("persisted"), nil
	})
	require.NoError(t, err)
	assert.Equal(t, Computed, outcome)

	c2 := New(NewFileBacking(dir))
	got, outcome, err := c2.GetOrCompute(ctx, "abc", "v1", func(context.Context) (models.PropertyRecord, error) {
		t.Fatal("should not recompute")
		return models.PropertyRecord{}, nil
	})
	require.NoError(t, err)
	assert.Equal(t, Hit, outcome)
	assert.Equal(t, "persisted", got.Title)
}

func TestBoundedLayerServesHitsWithoutBacking(t *testing.T) {
	ctx := context.Background()
	front, err := NewBoundedLayer(ctx, 1)
	require.NoError(t, err)
	defer front.Close()

	backing := storage.NewMemoryCacheBacking()
	c := New(backing, WithBoundedLayer(front))
	require.NoError(t, c.Store(ctx, "h", "v1", record("front")))
	assert.Equal(t, 1, front.Len())

	got, ok, err := c.Lookup(ctx, "h", "v1")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "front", got.Title)
}

func TestOutcomeString(t *testing.T) {
	assert.Equal(t, "hit", Hit.String())
	assert.Equal(t, "shared", Shared.String())
	assert.Equal(t, "outcome(9)", Outcome(9).String())
}
