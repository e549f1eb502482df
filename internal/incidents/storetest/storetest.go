// Package storetest holds the behavioral suite every incidents.Store must
// pass.
package storetest

import (
	"context"
	"fmt"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"nexuswatch/internal/incidents"
)

// Factory returns an empty store. Cleanup should be registered on t.
type Factory func(t *testing.T) incidents.Store

func Run(t *testing.T, newStore Factory) {
	t.Run("CreateAndGet", func(t *testing.T) { testCreateAndGet(t, newStore(t)) })
	t.Run("GetNotFound", func(t *testing.T) { testGetNotFound(t, newStore(t)) })
	t.Run("ListOrderAndFilter", func(t *testing.T) { testListOrderAndFilter(t, newStore(t)) })
	t.Run("AppendIdempotent", func(t *testing.T) { testAppendIdempotent(t, newStore(t)) })
	t.Run("QuorumTransition", func(t *testing.T) { testQuorumTransition(t, newStore(t)) })
	t.Run("AppendNotFound", func(t *testing.T) { testAppendNotFound(t, newStore(t)) })
	t.Run("ConcurrentAppend", func(t *testing.T) { testConcurrentAppend(t, newStore(t)) })
}

func newIncident(ts int64) *incidents.Incident {
	return &incidents.Incident{
		SuspiciousAddress: "0xbad",
		Details:           fmt.Sprintf("details %d", ts),
		Reporter:          "0xaaa",
		ReportSignature:   "0xsig",
		Timestamp:         ts,
	}
}

func create(t *testing.T, s incidents.Store, ts int64) string {
	t.Helper()
	id, err := s.Create(context.Background(), newIncident(ts))
	require.NoError(t, err)
	require.NotEmpty(t, id)
	return id
}

func testCreateAndGet(t *testing.T, s incidents.Store) {
	ctx := context.Background()
	inc := newIncident(1700000000000)
	// server-owned fields are reset on create
	inc.Status = incidents.StatusVerified
	inc.Verifiers = []string{"0xccc"}

	id, err := s.Create(ctx, inc)
	require.NoError(t, err)
	assert.Equal(t, id, inc.ID)

	got, err := s.Get(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, id, got.ID)
	assert.Equal(t, incidents.StatusReported, got.Status)
	assert.Empty(t, got.Verifiers)
	assert.NotNil(t, got.Verifiers)
	assert.Equal(t, "0xbad", got.SuspiciousAddress)
	assert.Equal(t, "0xaaa", got.Reporter)
	assert.Equal(t, "0xsig", got.ReportSignature)
	assert.Equal(t, int64(1700000000000), got.Timestamp)

	other := create(t, s, 1700000000001)
	assert.NotEqual(t, id, other)
}

func testGetNotFound(t *testing.T, s incidents.Store) {
	_, err := s.Get(context.Background(), "does-not-exist")
	assert.ErrorIs(t, err, incidents.ErrNotFound)
}

func testListOrderAndFilter(t *testing.T, s incidents.Store) {
	ctx := context.Background()
	oldest := create(t, s, 100)
	newest := create(t, s, 300)
	middle := create(t, s, 200)

	for _, v := range []string{"0x1", "0x2", "0x3"} {
		_, err := s.AppendVerifier(ctx, middle, v, 3)
		require.NoError(t, err)
	}

	all, err := s.List(ctx, incidents.ListFilter{})
	require.NoError(t, err)
	require.Len(t, all, 3)
	assert.Equal(t, []string{newest, middle, oldest}, ids(all))

	reported, err := s.List(ctx, incidents.ListFilter{Status: incidents.StatusReported})
	require.NoError(t, err)
	assert.Equal(t, []string{newest, oldest}, ids(reported))

	verified, err := s.List(ctx, incidents.ListFilter{Status: incidents.StatusVerified})
	require.NoError(t, err)
	assert.Equal(t, []string{middle}, ids(verified))

	limited, err := s.List(ctx, incidents.ListFilter{Limit: 2})
	require.NoError(t, err)
	assert.Equal(t, []string{newest, middle}, ids(limited))
}

func testAppendIdempotent(t *testing.T, s incidents.Store) {
	ctx := context.Background()
	id := create(t, s, 1)

	res, err := s.AppendVerifier(ctx, id, "0xbbb", 3)
	require.NoError(t, err)
	assert.True(t, res.Appended)
	assert.False(t, res.Transitioned)
	assert.Equal(t, []string{"0xbbb"}, res.Incident.Verifiers)

	res, err = s.AppendVerifier(ctx, id, "0xbbb", 3)
	require.NoError(t, err)
	assert.False(t, res.Appended)
	assert.False(t, res.Transitioned)
	assert.Len(t, res.Incident.Verifiers, 1)
	assert.Equal(t, incidents.StatusReported, res.Incident.Status)

	got, err := s.Get(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, []string{"0xbbb"}, got.Verifiers)
}

func testQuorumTransition(t *testing.T, s incidents.Store) {
	ctx := context.Background()
	id := create(t, s, 1)

	transitions := 0
	for i, v := range []string{"0xb", "0xc", "0xd", "0xe"} {
		res, err := s.AppendVerifier(ctx, id, v, 3)
		require.NoError(t, err)
		assert.True(t, res.Appended)
		if res.Transitioned {
			transitions++
		}
		if i+1 >= 3 {
			assert.Equal(t, incidents.StatusVerified, res.Incident.Status)
		} else {
			assert.Equal(t, incidents.StatusReported, res.Incident.Status)
		}
	}
	assert.Equal(t, 1, transitions)

	got, err := s.Get(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, incidents.StatusVerified, got.Status)
	assert.Len(t, got.Verifiers, 4)
}

func testAppendNotFound(t *testing.T, s incidents.Store) {
	_, err := s.AppendVerifier(context.Background(), "missing", "0xb", 3)
	assert.ErrorIs(t, err, incidents.ErrNotFound)
}

func testConcurrentAppend(t *testing.T, s incidents.Store) {
	ctx := context.Background()
	id := create(t, s, 1)

	const n = 16
	var wg sync.WaitGroup
	var mu sync.Mutex
	transitions := 0
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			// every verifier submits twice
			for j := 0; j < 2; j++ {
				res, err := s.AppendVerifier(ctx, id, fmt.Sprintf("0x%02d", i), 3)
				if !assert.NoError(t, err) {
					return
				}
				if res.Transitioned {
					mu.Lock()
					transitions++
					mu.Unlock()
				}
			}
		}(i)
	}
	wg.Wait()

	assert.Equal(t, 1, transitions)
	got, err := s.Get(ctx, id)
	require.NoError(t, err)
	assert.Len(t, got.Verifiers, n)
	assert.Equal(t, incidents.StatusVerified, got.Status)
}

func ids(list []incidents.Incident) []string {
	res := make([]string, len(list))
	for i := range list {
		res[i] = list[i].ID
	}
	return res
}
