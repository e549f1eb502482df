package incidents

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"nexuswatch/internal/ethsig"
	"nexuswatch/internal/events"
)

// SignerRecoverer recovers the normalized account that signed message.
type SignerRecoverer interface {
	RecoverSigner(message string, signature []byte) (string, error)
}

// Metrics receives workflow outcomes.
type Metrics interface {
	IncidentReported()
	VerificationRecorded(outcome string)
}

const (
	OutcomeProgress        = "progress"
	OutcomeTransition      = "transition"
	OutcomeDuplicate       = "duplicate"
	OutcomeAlreadyVerified = "already_verified"
	OutcomeRejected        = "rejected"
	OutcomeFailed          = "failed"
)

type noopMetrics struct{}

func (noopMetrics) IncidentReported()           {}
func (noopMetrics) VerificationRecorded(string) {}

// Engine runs the report and verification workflow. It holds no incident
// state; the Store is the single source of truth.
type Engine struct {
	store    Store
	verifier SignerRecoverer
	emitter  events.Emitter
	policy   Policy
	log      zerolog.Logger
	metrics  Metrics
	now      func() time.Time
}

func NewEngine(store Store, verifier SignerRecoverer, emitter events.Emitter, policy Policy, log zerolog.Logger, metrics Metrics) (*Engine, error) {
	if err := policy.Validate(); err != nil {
		return nil, err
	}
	if metrics == nil {
		metrics = noopMetrics{}
	}
	return &Engine{
		store:    store,
		verifier: verifier,
		emitter:  emitter,
		policy:   policy.withDefaults(),
		log:      log.With().Str("component", "watch_engine").Logger(),
		metrics:  metrics,
		now:      func() time.Time { return time.Now().UTC() },
	}, nil
}

func (e *Engine) Policy() Policy {
	return e.policy
}

// mutationContext detaches a store write from the caller so that a client
// disconnect cannot leave it half applied.
func (e *Engine) mutationContext(ctx context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(context.WithoutCancel(ctx), e.policy.MutationTimeout)
}

// checkSigner fails with ErrSignatureMismatch unless signature over message
// recovers to claim.
func (e *Engine) checkSigner(message, signature, claim string) error {
	raw, err := ethsig.DecodeSignature(signature)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrSignatureMismatch, err)
	}
	signer, err := e.verifier.RecoverSigner(message, raw)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrSignatureMismatch, err)
	}
	if !ethsig.SameAccount(signer, claim) {
		return ErrSignatureMismatch
	}
	return nil
}

// Submit validates and stores a signed report and returns the new incident
// id. Every successful call creates a new incident.
func (e *Engine) Submit(ctx context.Context, form ReportForm, signature string) (string, error) {
	if form.SuspiciousAddress == "" || form.Details == "" || form.Reporter == "" || signature == "" {
		return "", ErrMissingFields
	}
	ts, err := form.TimestampMillis()
	if err != nil {
		return "", err
	}
	if err := e.checkSigner(form.CanonicalText(), signature, form.Reporter); err != nil {
		return "", err
	}

	inc := &Incident{
		SuspiciousAddress: form.SuspiciousAddress,
		Details:           form.Details,
		Reporter:          ethsig.Normalize(form.Reporter),
		ReportSignature:   signature,
		Timestamp:         ts,
	}
	mctx, cancel := e.mutationContext(ctx)
	defer cancel()
	id, err := e.store.Create(mctx, inc)
	if err != nil {
		e.log.Error().Err(err).Str("reporter", inc.Reporter).Msg("could not store incident")
		return "", internal("create incident", err)
	}

	e.metrics.IncidentReported()
	e.log.Info().Str("incident_id", id).Str("reporter", inc.Reporter).Msg("incident reported")
	e.emitter.Emit(events.IncidentReported{ID: id, OccurredAt: e.now()})
	return id, nil
}

type VerifyRequest struct {
	IncidentID string
	Watcher    string
	Signature  string
}

// VerifyResult is the authoritative state after a verification attempt.
type VerifyResult struct {
	IncidentID      string
	Status          Status
	Watchers        int
	AlreadyVerified bool
	Duplicate       bool
	Transitioned    bool
}

// Verify records a signed attestation from a watcher. Verifying an incident
// that is already VERIFIED, or verifying twice, succeeds without effect.
func (e *Engine) Verify(ctx context.Context, req VerifyRequest) (*VerifyResult, error) {
	res, err := e.verify(ctx, req)
	switch {
	case err == nil:
	case IsBadRequest(err), errors.Is(err, ErrNotFound):
		e.metrics.VerificationRecorded(OutcomeRejected)
	default:
		e.metrics.VerificationRecorded(OutcomeFailed)
	}
	return res, err
}

func (e *Engine) verify(ctx context.Context, req VerifyRequest) (*VerifyResult, error) {
	if req.IncidentID == "" || req.Watcher == "" || req.Signature == "" {
		return nil, ErrMissingFields
	}
	inc, err := e.store.Get(ctx, req.IncidentID)
	if errors.Is(err, ErrNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		e.log.Error().Err(err).Str("incident_id", req.IncidentID).Msg("could not load incident")
		return nil, internal("get incident", err)
	}
	if inc.Status == StatusVerified {
		e.metrics.VerificationRecorded(OutcomeAlreadyVerified)
		return &VerifyResult{
			IncidentID:      inc.ID,
			Status:          StatusVerified,
			Watchers:        len(inc.Verifiers),
			AlreadyVerified: true,
		}, nil
	}
	if err := e.checkSigner(VerifyText(req.IncidentID), req.Signature, req.Watcher); err != nil {
		return nil, err
	}
	watcher := ethsig.Normalize(req.Watcher)
	if !e.policy.AllowSelfVerification && watcher == inc.Reporter {
		return nil, ErrSelfVerification
	}

	mctx, cancel := e.mutationContext(ctx)
	defer cancel()
	ar, err := e.store.AppendVerifier(mctx, inc.ID, watcher, e.policy.Quorum)
	if errors.Is(err, ErrNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		e.log.Error().Err(err).Str("incident_id", inc.ID).Str("watcher", watcher).Msg("could not record verification")
		return nil, internal("append verifier", err)
	}

	cur := ar.Incident
	res := &VerifyResult{
		IncidentID: cur.ID,
		Status:     cur.Status,
		Watchers:   len(cur.Verifiers),
	}
	log := e.log.With().Str("incident_id", cur.ID).Str("watcher", watcher).Int("watchers", res.Watchers).Logger()
	switch {
	case ar.Transitioned:
		res.Transitioned = true
		e.metrics.VerificationRecorded(OutcomeTransition)
		log.Info().Msg("incident verified")
		e.emitter.Emit(events.IncidentVerified{ID: cur.ID, Count: res.Watchers, OccurredAt: e.now()})
	case !ar.Appended:
		res.Duplicate = true
		e.metrics.VerificationRecorded(OutcomeDuplicate)
		log.Debug().Msg("duplicate verification ignored")
	case cur.Status == StatusVerified:
		// promoted by a concurrent verifier between our read and the append
		res.AlreadyVerified = true
		e.metrics.VerificationRecorded(OutcomeAlreadyVerified)
		log.Debug().Msg("verification appended to already verified incident")
	default:
		e.metrics.VerificationRecorded(OutcomeProgress)
		log.Info().Msg("incident partially verified")
		e.emitter.Emit(events.IncidentPartiallyVerified{
			ID:         cur.ID,
			WatcherID:  watcher,
			Count:      res.Watchers,
			OccurredAt: e.now(),
		})
	}
	return res, nil
}

func (e *Engine) List(ctx context.Context, f ListFilter) ([]Incident, error) {
	list, err := e.store.List(ctx, f)
	if err != nil {
		e.log.Error().Err(err).Str("status", string(f.Status)).Msg("could not list incidents")
		return nil, internal("list incidents", err)
	}
	return list, nil
}

func (e *Engine) Get(ctx context.Context, id string) (*Incident, error) {
	inc, err := e.store.Get(ctx, id)
	if errors.Is(err, ErrNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		e.log.Error().Err(err).Str("incident_id", id).Msg("could not load incident")
		return nil, internal("get incident", err)
	}
	return inc, nil
}

// Reannounce re-emits IncidentVerified for a VERIFIED incident. Operators
// use it when a broadcast was lost.
func (e *Engine) Reannounce(ctx context.Context, id string) error {
	inc, err := e.Get(ctx, id)
	if err != nil {
		return err
	}
	if inc.Status != StatusVerified {
		return ErrNotVerified
	}
	e.log.Info().Str("incident_id", id).Msg("re-announcing verified incident")
	e.emitter.Emit(events.IncidentVerified{
		ID:         id,
		Count:      len(inc.Verifiers),
		Replay:     true,
		OccurredAt: e.now(),
	})
	return nil
}
