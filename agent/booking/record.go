package booking

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	contractx "github.com/tanpawarit/ad-buyer-orchestrator/agent/contract"
)

var (
	ErrRecordNotFound = fmt.Errorf("booking record %w", contractx.ErrNotFound)
	ErrNilRecord      = errors.New("booking record is nil")
	ErrInvalidSession = errors.New("booking session id is empty")
)

// Failure describes why a session entered the Failed state.
type Failure struct {
	AtState State               `json:"at_state"`
	Step    Step                `json:"step"`
	Kind    contractx.ErrorKind `json:"kind"`
	Cause   string              `json:"cause"`
	LastID  string              `json:"last_id,omitempty"`
	At      time.Time           `json:"at"`
}

// Record is the persisted form of one booking session: the current state
// and every remote id issued so far.
type Record struct {
	SessionID    string            `json:"session_id"`
	State        State             `json:"state"`
	Steps        map[Step]string   `json:"steps"`
	Fingerprints map[Step]string   `json:"fingerprints,omitempty"`
	Failure      *Failure          `json:"failure,omitempty"`
	Resumes      int               `json:"resumes,omitempty"`
	Deal         *contractx.Deal   `json:"deal,omitempty"`
	Meta         map[string]string `json:"meta,omitempty"`
	Version      int               `json:"version"`
	CreatedAt    time.Time         `json:"created_at"`
	UpdatedAt    time.Time         `json:"updated_at"`
}

func NewRecord(sessionID string, now time.Time) *Record {
	return &Record{
		SessionID:    strings.TrimSpace(sessionID),
		State:        StateDraft,
		Steps:        make(map[Step]string, len(Steps)),
		Fingerprints: make(map[Step]string, len(Steps)),
		Version:      1,
		CreatedAt:    now.UTC(),
		UpdatedAt:    now.UTC(),
	}
}

func (r *Record) ensureMaps() {
	if r.Steps == nil {
		r.Steps = make(map[Step]string, len(Steps))
	}
	if r.Fingerprints == nil {
		r.Fingerprints = make(map[Step]string, len(Steps))
	}
}

func (r *Record) Validate() error {
	if r == nil {
		return ErrNilRecord
	}
	if strings.TrimSpace(r.SessionID) == "" {
		return ErrInvalidSession
	}
	if !r.State.Valid() {
		return fmt.Errorf("invalid booking state %q", r.State)
	}
	if r.State == StateFailed && r.Failure == nil {
		return errors.New("failed booking record carries no failure")
	}
	for step := range r.Steps {
		if !step.Valid() {
			return fmt.Errorf("invalid booking step %q", step)
		}
	}
	return nil
}

// LastID returns the id of the latest recorded step in chain order.
func (r *Record) LastID() string {
	last := ""
	for _, s := range Steps {
		if id, ok := r.Steps[s]; ok {
			last = id
		}
	}
	return last
}

func (r *Record) Clone() *Record {
	if r == nil {
		return nil
	}
	raw, err := json.Marshal(r)
	if err != nil {
		cp := *r
		return &cp
	}
	var out Record
	if err := json.Unmarshal(raw, &out); err != nil {
		cp := *r
		return &cp
	}
	return &out
}

// touch prepares r for a write the way every store expects.
func (r *Record) touch(now time.Time) {
	r.ensureMaps()
	if r.Version <= 0 {
		r.Version = 1
	}
	if r.CreatedAt.IsZero() {
		r.CreatedAt = now.UTC()
	}
	if r.UpdatedAt.IsZero() {
		r.UpdatedAt = now.UTC()
	} else {
		r.UpdatedAt = r.UpdatedAt.UTC()
	}
}
