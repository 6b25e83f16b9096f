package policy

import (
	"context"

	"github.com/rs/zerolog"
)

// Decide applies the state transition for a single evaluation. The password
// gate is checked before the daily quota, so a locked site never reports
// TIME_EXCEEDED until it has been unlocked.
func Decide(in Input) State {
	rule := in.Rule
	if rule == nil {
		return StateUnprotected
	}
	if rule.PasswordProtected() && !in.SessionValid {
		return StatePasswordLocked
	}
	if rule.TimeLimited() && in.Usage >= rule.DailyLimit() {
		return StateTimeExceeded
	}
	return StateGranted
}

// StateMachine is the built-in Evaluator.
type StateMachine struct {
	logger zerolog.Logger
}

// NewStateMachine creates the built-in evaluator.
func NewStateMachine(logger zerolog.Logger) *StateMachine {
	return &StateMachine{
		logger: logger.With().Str("component", "policy").Logger(),
	}
}

// Evaluate implements Evaluator.
func (m *StateMachine) Evaluate(_ context.Context, in Input) (Decision, error) {
	d := NewDecision(in, Decide(in))

	m.logger.Debug().
		Str("domain", in.Domain).
		Str("state", string(d.State)).
		Dur("usage", in.Usage).
		Bool("session_valid", in.SessionValid).
		Msg("Policy evaluated")

	return d, nil
}
