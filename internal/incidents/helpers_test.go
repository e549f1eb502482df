package incidents_test

import (
	"context"
	"crypto/ecdsa"
	"errors"
	"strings"
	"sync"
	"testing"

	"github.com/ethereum/go-ethereum/accounts"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"

	"nexuswatch/internal/ethsig"
	"nexuswatch/internal/events"
	"nexuswatch/internal/incidents"
)

type wallet struct {
	key  *ecdsa.PrivateKey
	addr string
}

func newWallet(t *testing.T) wallet {
	t.Helper()
	key, err := crypto.GenerateKey()
	require.NoError(t, err)
	return wallet{key: key, addr: crypto.PubkeyToAddress(key.PublicKey).Hex()}
}

// sign produces a personal-sign signature the way a browser wallet does.
func (w wallet) sign(t *testing.T, msg string) string {
	t.Helper()
	sig, err := crypto.Sign(accounts.TextHash([]byte(msg)), w.key)
	require.NoError(t, err)
	sig[crypto.RecoveryIDOffset] += 27
	return hexutil.Encode(sig)
}

func (w wallet) lower() string {
	return strings.ToLower(w.addr)
}

type recordingEmitter struct {
	mu     sync.Mutex
	events []events.Event
}

func (r *recordingEmitter) Emit(ev events.Event) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, ev)
}

func (r *recordingEmitter) count(kind events.Kind) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	n := 0
	for _, ev := range r.events {
		if ev.Kind() == kind {
			n++
		}
	}
	return n
}

func (r *recordingEmitter) all() []events.Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]events.Event(nil), r.events...)
}

// failingStore fails every call with err.
type failingStore struct {
	err error
}

func (s failingStore) Create(context.Context, *incidents.Incident) (string, error) {
	return "", s.err
}

func (s failingStore) Get(context.Context, string) (*incidents.Incident, error) {
	return nil, s.err
}

func (s failingStore) List(context.Context, incidents.ListFilter) ([]incidents.Incident, error) {
	return nil, s.err
}

func (s failingStore) AppendVerifier(context.Context, string, string, int) (incidents.AppendResult, error) {
	return incidents.AppendResult{}, s.err
}

var errStoreDown = errors.New("connection refused")

type fixture struct {
	store   incidents.Store
	emitter *recordingEmitter
	engine  *incidents.Engine
}

func newFixture(t *testing.T, store incidents.Store, policy incidents.Policy) *fixture {
	t.Helper()
	em := &recordingEmitter{}
	eng, err := incidents.NewEngine(store, ethsig.NewVerifier(), em, policy, zerolog.Nop(), nil)
	require.NoError(t, err)
	return &fixture{store: store, emitter: em, engine: eng}
}

func reportForm(reporter string) incidents.ReportForm {
	return incidents.ReportForm{
		SuspiciousAddress: "0xBAD0000000000000000000000000000000000001",
		Details:           "fake airdrop site draining wallets",
		Reporter:          reporter,
		Timestamp:         "1700000000000",
	}
}

func submit(t *testing.T, f *fixture, reporter wallet) string {
	t.Helper()
	form := reportForm(reporter.addr)
	id, err := f.engine.Submit(context.Background(), form, reporter.sign(t, form.CanonicalText()))
	require.NoError(t, err)
	return id
}

func verify(t *testing.T, f *fixture, id string, watcher wallet) (*incidents.VerifyResult, error) {
	t.Helper()
	return f.engine.Verify(context.Background(), incidents.VerifyRequest{
		IncidentID: id,
		Watcher:    watcher.addr,
		Signature:  watcher.sign(t, incidents.VerifyText(id)),
	})
}
