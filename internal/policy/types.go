package policy

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/goodtune/focusguard/internal/site"
)

// State is the outcome of evaluating a focused domain.
type State string

const (
	StateUnprotected    State = "UNPROTECTED"
	StatePasswordLocked State = "PASSWORD_LOCKED"
	StateTimeExceeded   State = "TIME_EXCEEDED"
	StateGranted        State = "GRANTED"
)

// ParseState converts a state name, case-insensitively.
func ParseState(s string) (State, error) {
	state := State(strings.ToUpper(strings.TrimSpace(s)))
	switch state {
	case StateUnprotected, StatePasswordLocked, StateTimeExceeded, StateGranted:
		return state, nil
	default:
		return "", fmt.Errorf("invalid state: %s", s)
	}
}

// UnmarshalJSON implements json.Unmarshaler to normalize state to uppercase.
func (s *State) UnmarshalJSON(data []byte) error {
	var raw string
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	state, err := ParseState(raw)
	if err != nil {
		return err
	}
	*s = state
	return nil
}

// Blocking reports whether the state must show an interstitial.
func (s State) Blocking() bool {
	return s == StatePasswordLocked || s == StateTimeExceeded
}

// Input holds the facts gathered for one evaluation.
type Input struct {
	Domain       string        // focused domain
	Rule         *site.Rule    // matching rule, nil when unprotected
	Usage        time.Duration // today's usage of Rule.Domain
	SessionValid bool          // password session window still open
}

// Decision is the evaluator's verdict.
type Decision struct {
	State     State         `json:"state"`
	Domain    string        `json:"domain"`
	RuleID    string        `json:"rule_id,omitempty"`
	Remaining time.Duration `json:"remaining,omitempty"` // quota left, time-limited rules only
	Reason    string        `json:"reason,omitempty"`
}

// Evaluator decides the state of a focused domain.
type Evaluator interface {
	Evaluate(ctx context.Context, in Input) (Decision, error)
}

// NewDecision fills the fields shared by every evaluator around state.
func NewDecision(in Input, state State) Decision {
	d := Decision{State: state, Domain: in.Domain}
	if in.Rule == nil {
		d.Reason = "no protected site matches"
		return d
	}

	d.RuleID = in.Rule.ID
	if in.Rule.TimeLimited() {
		if left := in.Rule.DailyLimit() - in.Usage; left > 0 {
			d.Remaining = left
		}
	}

	switch state {
	case StatePasswordLocked:
		d.Reason = "password required for " + in.Rule.Domain
	case StateTimeExceeded:
		d.Reason = fmt.Sprintf("daily limit of %d minutes reached for %s", in.Rule.DailyLimitMinutes, in.Rule.Domain)
	case StateGranted:
		d.Reason = "access granted"
	}
	return d
}
