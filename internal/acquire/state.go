package acquire

import (
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
)

// State is a step of a single acquisition.
type State string

// Acquisition states.
const (
	StatePending          State = "pending"
	StateCacheCheck       State = "cache_check"
	StateCacheHit         State = "cache_hit"
	StateCacheMiss        State = "cache_miss"
	StateFetching         State = "fetching"
	StateRetrying         State = "retrying"
	StateReauthenticating State = "reauthenticating"
	StateExtracting       State = "extracting"
	StateCacheWrite       State = "cache_write"
	StateDone             State = "done"
	StateFailed           State = "failed"
)

var transitions = map[State][]State{
	StatePending:          {StateCacheCheck},
	StateCacheCheck:       {StateCacheHit, StateCacheMiss},
	StateCacheHit:         {StateDone},
	StateCacheMiss:        {StateFetching},
	StateFetching:         {StateExtracting, StateReauthenticating, StateRetrying, StateFailed},
	StateReauthenticating: {StateFetching, StateFailed},
	StateRetrying:         {StateFetching, StateFailed},
	StateExtracting:       {StateCacheWrite, StateRetrying, StateDone, StateFailed},
	StateCacheWrite:       {StateDone},
}

// CanTransition reports whether an acquisition may move from one state to another.
func CanTransition(from, to State) bool {
	for _, s := range transitions[from] {
		if s == to {
			return true
		}
	}
	return false
}

// acquisition tracks the state of one fetch-extract-cache round.
type acquisition struct {
	fingerprint string
	state       State
	trail       []string
	span        trace.Span
	logger      *zap.Logger
}

func newAcquisition(fingerprint string, span trace.Span, logger *zap.Logger) *acquisition {
	return &acquisition{
		fingerprint: fingerprint,
		state:       StatePending,
		trail:       []string{string(StatePending)},
		span:        span,
		logger:      logger,
	}
}

func (a *acquisition) to(next State) {
	if !CanTransition(a.state, next) {
		a.logger.DPanic("illegal acquisition transition",
			zap.String("fingerprint", a.fingerprint),
			zap.String("from", string(a.state)),
			zap.String("to", string(next)),
		)
	}
	a.state = next
	a.trail = append(a.trail, string(next))
	a.span.AddEvent(string(next))

	if next == StateDone || next == StateFailed {
		a.span.SetAttributes(attribute.String("state", string(next)))
		a.logger.Debug("acquisition finished",
			zap.String("fingerprint", a.fingerprint),
			zap.Strings("states", a.trail),
		)
	}
}

// fail moves to StateFailed and returns err.
func (a *acquisition) fail(err error) error {
	a.span.RecordError(err)
	a.span.SetStatus(codes.Error, err.Error())
	a.to(StateFailed)
	return err
}
