package booking

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	contractx "github.com/tanpawarit/ad-buyer-orchestrator/agent/contract"
)

// StepFunc performs the remote call of one step and returns the id the
// seller issued for it.
type StepFunc func(ctx context.Context, idempotencyKey string) (string, error)

type MachineOption func(*Machine)

func WithClock(now func() time.Time) MachineOption {
	return func(m *Machine) {
		if now != nil {
			m.now = now
		}
	}
}

// Machine drives one booking attempt forward. There is no rollback: a
// failed step is retried by reopening the session, which resumes from the
// last recorded step with the same idempotency keys.
type Machine struct {
	mu    sync.Mutex
	rec   *Record
	store Store
	now   func() time.Time
}

// Open loads the session's record or starts a new draft. A record left
// in Failed resumes at the state where the failure happened.
func Open(ctx context.Context, store Store, sessionID string, opts ...MachineOption) (*Machine, error) {
	if store == nil {
		return nil, errors.New("booking store is required")
	}
	sessionID = strings.TrimSpace(sessionID)
	if sessionID == "" {
		return nil, fmt.Errorf("%w: %v", contractx.ErrValidation, ErrInvalidSession)
	}

	m := &Machine{store: store, now: time.Now}
	for _, opt := range opts {
		if opt != nil {
			opt(m)
		}
	}

	rec, err := store.Load(ctx, sessionID)
	switch {
	case errors.Is(err, ErrRecordNotFound):
		rec = NewRecord(sessionID, m.now())
	case err != nil:
		return nil, fmt.Errorf("load booking session: %w", err)
	}
	rec.ensureMaps()

	if rec.State == StateFailed && rec.Failure != nil {
		log.Info().
			Str("session_id", sessionID).
			Str("at_state", string(rec.Failure.AtState)).
			Str("step", string(rec.Failure.Step)).
			Msg("resuming failed booking session")
		rec.State = rec.Failure.AtState
		rec.Resumes++
	}
	m.rec = rec
	return m, nil
}

func (m *Machine) SessionID() string {
	return m.rec.SessionID
}

func (m *Machine) State() State {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.rec.State
}

// ID returns the remote id recorded for step.
func (m *Machine) ID(step Step) (string, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	id, ok := m.rec.Steps[step]
	return id, ok
}

// Record returns a copy of the current record.
func (m *Machine) Record() *Record {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.rec.Clone()
}

// Require fails with a state violation unless the session has reached s.
func (m *Machine) Require(s State) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.require(s)
}

func (m *Machine) require(s State) error {
	if m.rec.State == StateFailed {
		return m.failedErr()
	}
	if !m.rec.State.AtLeast(s) {
		return fmt.Errorf("%w: session %s is %s, needs %s", contractx.ErrStateViolation, m.rec.SessionID, m.rec.State, s)
	}
	return nil
}

// Run executes step once. A step already recorded with the same arguments
// returns its id without a remote call; recorded with different arguments
// it is rejected as a duplicate. Local errors (validation, duplicates,
// state violations, cancellation) leave the state untouched; remote
// failures move the session to Failed.
func (m *Machine) Run(ctx context.Context, step Step, args map[string]any, call StepFunc) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	r, ok := rules[step]
	if !ok {
		return "", fmt.Errorf("%w: unknown booking step %q", contractx.ErrValidation, step)
	}
	if m.rec.State == StateFailed {
		return "", m.failedErr()
	}

	fp, err := Fingerprint(args)
	if err != nil {
		return "", fmt.Errorf("%w: %v", contractx.ErrValidation, err)
	}
	if id, done := m.rec.Steps[step]; done {
		if m.rec.Fingerprints[step] == fp {
			log.Debug().Str("session_id", m.rec.SessionID).Str("step", string(step)).Str("id", id).Msg("booking step already applied")
			return id, nil
		}
		return "", fmt.Errorf("%w: step %s already recorded id %s for session %s", contractx.ErrDuplicateStep, step, id, m.rec.SessionID)
	}

	if m.rec.State.Terminal() {
		return "", fmt.Errorf("%w: session %s already issued its deal", contractx.ErrStateViolation, m.rec.SessionID)
	}
	if !m.rec.State.AtLeast(r.from) || !r.until.AtLeast(m.rec.State) {
		return "", fmt.Errorf("%w: step %s not allowed in state %s", contractx.ErrStateViolation, step, m.rec.State)
	}
	for _, need := range r.needs {
		if _, ok := m.rec.Steps[need]; !ok {
			return "", fmt.Errorf("%w: step %s needs %s first", contractx.ErrStateViolation, step, need)
		}
	}
	if err := ctx.Err(); err != nil {
		return "", err
	}

	id, err := call(ctx, IdempotencyKey(m.rec.SessionID, step))
	if err == nil && strings.TrimSpace(id) == "" {
		err = contractx.NewProtocolError(string(step), "seller returned no id")
	}
	if err != nil {
		switch contractx.KindOf(err) {
		case contractx.ErrorKindValidation, contractx.ErrorKindDuplicateStep, contractx.ErrorKindStateViolation:
			return "", err
		}
		return "", m.fail(ctx, step, err)
	}

	m.rec.Steps[step] = id
	if fp != "" {
		m.rec.Fingerprints[step] = fp
	}
	if r.advances != "" {
		m.rec.State = r.advances
	}
	m.rec.Failure = nil
	if err := m.save(ctx); err != nil {
		return id, fmt.Errorf("persist booking step %s: %w", step, err)
	}

	log.Info().
		Str("session_id", m.rec.SessionID).
		Str("step", string(step)).
		Str("id", id).
		Str("state", string(m.rec.State)).
		Msg("booking step recorded")
	return id, nil
}

// IssueDeal attaches the issued deal to the record. The deal must belong
// to the recorded deal step and cannot be replaced.
func (m *Machine) IssueDeal(ctx context.Context, deal contractx.Deal) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.rec.State != StateDealIssued {
		return fmt.Errorf("%w: session %s is %s, deal not issued", contractx.ErrStateViolation, m.rec.SessionID, m.rec.State)
	}
	if m.rec.Deal != nil {
		if m.rec.Deal.ID == deal.ID {
			return nil
		}
		return fmt.Errorf("%w: session %s already holds deal %s", contractx.ErrDuplicateStep, m.rec.SessionID, m.rec.Deal.ID)
	}
	if id := m.rec.Steps[StepDeal]; id != deal.ID {
		return fmt.Errorf("%w: deal id %s does not match recorded %s", contractx.ErrValidation, deal.ID, id)
	}
	cp := deal
	m.rec.Deal = &cp
	return m.save(ctx)
}

// Deal returns the issued deal, if any.
func (m *Machine) Deal() (contractx.Deal, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.rec.Deal == nil {
		return contractx.Deal{}, false
	}
	return *m.rec.Deal, true
}

// SetMeta stores free-form session context such as the booked product.
func (m *Machine) SetMeta(ctx context.Context, key, value string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.rec.Meta == nil {
		m.rec.Meta = make(map[string]string, 4)
	}
	if m.rec.Meta[key] == value {
		return nil
	}
	m.rec.Meta[key] = value
	return m.save(ctx)
}

func (m *Machine) Meta(key string) string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.rec.Meta[key]
}

func (m *Machine) fail(ctx context.Context, step Step, cause error) error {
	m.rec.Failure = &Failure{
		AtState: m.rec.State,
		Step:    step,
		Kind:    contractx.KindOf(cause),
		Cause:   cause.Error(),
		LastID:  m.rec.LastID(),
		At:      m.now().UTC(),
	}
	m.rec.State = StateFailed

	// The failure is persisted with a fresh context so a canceled caller
	// still leaves a resumable record.
	saveCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
	defer cancel()
	if err := m.save(saveCtx); err != nil {
		log.Error().Err(err).Str("session_id", m.rec.SessionID).Msg("persist booking failure")
	}

	log.Error().
		Err(cause).
		Str("session_id", m.rec.SessionID).
		Str("step", string(step)).
		Str("at_state", string(m.rec.Failure.AtState)).
		Msg("booking step failed")

	return &contractx.BookingFailedError{
		AtState: string(m.rec.Failure.AtState),
		Step:    string(step),
		LastID:  m.rec.Failure.LastID,
		Cause:   cause,
	}
}

func (m *Machine) failedErr() error {
	f := m.rec.Failure
	if f == nil {
		return fmt.Errorf("%w: session %s failed", contractx.ErrDealBookingFailed, m.rec.SessionID)
	}
	return &contractx.BookingFailedError{
		AtState: string(f.AtState),
		Step:    string(f.Step),
		LastID:  f.LastID,
		Cause:   errors.New(f.Cause),
	}
}

func (m *Machine) save(ctx context.Context) error {
	m.rec.UpdatedAt = m.now().UTC()
	m.rec.Version++
	return m.store.Save(ctx, m.rec)
}
