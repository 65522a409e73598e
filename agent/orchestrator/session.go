package orchestrator

import (
	"context"
	"errors"
	"fmt"

	"github.com/rs/zerolog/log"
	"golang.org/x/sync/errgroup"

	contractx "github.com/tanpawarit/ad-buyer-orchestrator/agent/contract"
)

var (
	ErrNilStructured     = errors.New("structured adapter is required")
	ErrNilConversational = errors.New("conversational adapter is required")
)

// Session owns the adapters of one buyer against one seller. The identity
// is fixed for the life of the session; a different buyer gets its own.
type Session struct {
	identity       contractx.BuyerIdentity
	structured     contractx.ProtocolAdapter
	conversational contractx.Conversational
}

func NewSession(
	identity contractx.BuyerIdentity,
	structured contractx.ProtocolAdapter,
	conversational contractx.Conversational,
) (*Session, error) {
	if structured == nil {
		return nil, ErrNilStructured
	}
	if conversational == nil {
		return nil, ErrNilConversational
	}
	return &Session{
		identity:       identity.Normalize(),
		structured:     structured,
		conversational: conversational,
	}, nil
}

func (s *Session) Identity() contractx.BuyerIdentity { return s.identity }

func (s *Session) Structured() contractx.ProtocolAdapter { return s.structured }

func (s *Session) Conversational() contractx.Conversational { return s.conversational }

// Adapter returns the connected adapter for p. There is no fallback to the
// other protocol.
func (s *Session) Adapter(p contractx.Protocol) (contractx.ProtocolAdapter, error) {
	var a contractx.ProtocolAdapter
	switch p {
	case contractx.ProtocolStructured:
		a = s.structured
	case contractx.ProtocolConversational:
		a = s.conversational
	default:
		return nil, fmt.Errorf("%w: unknown protocol %q", contractx.ErrValidation, p)
	}
	if !a.IsConnected() {
		return nil, fmt.Errorf("%w: %s adapter is not connected", contractx.ErrAdapterUnavailable, p)
	}
	return a, nil
}

// ConnectBoth connects the adapters concurrently. Adapters that are
// already connected are left alone. The returned error names every
// adapter that failed.
func (s *Session) ConnectBoth(ctx context.Context) error {
	adapters := []contractx.ProtocolAdapter{s.structured, s.conversational}
	errs := make([]error, len(adapters))

	var g errgroup.Group
	for i, a := range adapters {
		if a.IsConnected() {
			continue
		}
		g.Go(func() error {
			if err := a.Connect(ctx); err != nil {
				errs[i] = fmt.Errorf("connect %s adapter: %w", a.Protocol(), err)
				return errs[i]
			}
			return nil
		})
	}
	_ = g.Wait()

	if err := errors.Join(errs...); err != nil {
		return err
	}
	log.Info().Str("seat_id", s.identity.SeatID).Msg("orchestrator session connected")
	return nil
}

// Close releases both adapters even when one of them fails to close.
func (s *Session) Close() error {
	return errors.Join(
		s.structured.Close(),
		s.conversational.Close(),
	)
}
