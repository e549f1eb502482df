package pebbledb

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"nexuswatch/internal/incidents"
	"nexuswatch/internal/incidents/storetest"
)

func TestStore(t *testing.T) {
	storetest.Run(t, func(t *testing.T) incidents.Store {
		s, err := Open("")
		require.NoError(t, err)
		t.Cleanup(func() { _ = s.Close() })
		return s
	})
}

func TestLockStripesAreStable(t *testing.T) {
	s, err := Open("")
	require.NoError(t, err)
	defer s.Close()
	assert.Same(t, s.lockFor("abc"), s.lockFor("abc"))
}

func TestStorePersistsAcrossReopen(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()
	s, err := Open(dir)
	require.NoError(t, err)
	id, err := s.Create(ctx, &incidents.Incident{SuspiciousAddress: "0xbad", Details: "d", Reporter: "0xa", Timestamp: 5})
	require.NoError(t, err)
	for _, v := range []string{"0xb", "0xc", "0xd"} {
		_, err = s.AppendVerifier(ctx, id, v, 3)
		require.NoError(t, err)
	}
	require.NoError(t, s.Close())

	s, err = Open(dir)
	require.NoError(t, err)
	defer s.Close()
	got, err := s.Get(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, incidents.StatusVerified, got.Status)
	assert.Len(t, got.Verifiers, 3)
}
