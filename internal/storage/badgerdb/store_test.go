package badgerdb

import (
	"context"
	"testing"

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

func TestStorePersistsAcrossReopen(t *testing.T) {
	dir := t.TempDir()
	s, err := Open(dir)
	require.NoError(t, err)
	inc := &incidents.Incident{SuspiciousAddress: "0xbad", Details: "d", Reporter: "0xa", Timestamp: 5}
	id, err := s.Create(context.Background(), inc)
	require.NoError(t, err)
	_, err = s.AppendVerifier(context.Background(), id, "0xb", 3)
	require.NoError(t, err)
	require.NoError(t, s.Close())

	s, err = Open(dir)
	require.NoError(t, err)
	defer s.Close()
	got, err := s.Get(context.Background(), id)
	require.NoError(t, err)
	require.Equal(t, []string{"0xb"}, got.Verifiers)
}
