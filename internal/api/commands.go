package api

import (
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/goodtune/focusguard/internal/analytics"
	"github.com/goodtune/focusguard/internal/metrics"
	"github.com/goodtune/focusguard/internal/site"
)

// Action names a command.
type Action string

const (
	ActionAddProtectedSite    Action = "addProtectedSite"
	ActionListProtectedSites  Action = "listProtectedSites"
	ActionRemoveProtectedSite Action = "removeProtectedSite"
	ActionVerifyPassword      Action = "verifyPassword"
	ActionHandleCancel        Action = "handleCancel"
	ActionGetAnalytics        Action = "getAnalytics"
	ActionClearData           Action = "clearData"
	ActionForceSyncAnalytics  Action = "forceSyncAnalytics"
	ActionSyncProtectedSites  Action = "syncProtectedSitesWithBackend"
	ActionGetStatus           Action = "getStatus"
)

var actions = map[Action]struct{}{
	ActionAddProtectedSite:    {},
	ActionListProtectedSites:  {},
	ActionRemoveProtectedSite: {},
	ActionVerifyPassword:      {},
	ActionHandleCancel:        {},
	ActionGetAnalytics:        {},
	ActionClearData:           {},
	ActionForceSyncAnalytics:  {},
	ActionSyncProtectedSites:  {},
	ActionGetStatus:           {},
}

// UnmarshalJSON rejects unknown action names.
func (a *Action) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return err
	}
	if _, ok := actions[Action(s)]; !ok {
		return fmt.Errorf("unknown action %q", s)
	}
	*a = Action(s)
	return nil
}

// Command is a request on the command endpoint.
type Command struct {
	Action   Action          `json:"action"`
	Site     *site.RuleInput `json:"site,omitempty"`
	Domain   string          `json:"domain,omitempty"`
	Password string          `json:"password,omitempty"`
	Period   int             `json:"period,omitempty"`
}

// VerifyResult is the reply to a password verification.
type VerifyResult struct {
	Valid bool `json:"valid"`
}

// CancelResult lists the tabs sent back.
type CancelResult struct {
	Tabs []int `json:"tabs"`
}

func (s *Server) handleCommand(w http.ResponseWriter, r *http.Request) {
	var cmd Command
	if err := json.NewDecoder(r.Body).Decode(&cmd); err != nil {
		metrics.CommandsTotal.WithLabelValues("invalid", "error").Inc()
		writeError(w, http.StatusBadRequest, "invalid command: "+err.Error())
		return
	}
	if cmd.Action == "" {
		metrics.CommandsTotal.WithLabelValues("invalid", "error").Inc()
		writeError(w, http.StatusBadRequest, "missing action")
		return
	}

	s.run(w, r, cmd)
}

// execute runs one command against the engine.
func (s *Server) execute(r *http.Request, cmd Command) (any, error) {
	ctx := r.Context()

	switch cmd.Action {
	case ActionAddProtectedSite:
		if cmd.Site == nil {
			return nil, &site.ValidationError{Field: "site", Reason: "required"}
		}
		rule, err := s.engine.AddProtectedSite(ctx, *cmd.Site)
		if err != nil {
			return nil, err
		}
		return newSiteView(*rule), nil

	case ActionListProtectedSites:
		rules, err := s.engine.ListProtectedSites(ctx)
		if err != nil {
			return nil, err
		}
		return siteViews(rules), nil

	case ActionRemoveProtectedSite:
		if cmd.Domain == "" {
			return nil, &site.ValidationError{Field: "domain", Reason: "required"}
		}
		return nil, s.engine.RemoveProtectedSite(ctx, cmd.Domain)

	case ActionVerifyPassword:
		if cmd.Domain == "" {
			return nil, &site.ValidationError{Field: "domain", Reason: "required"}
		}
		ok, err := s.engine.VerifyPassword(ctx, cmd.Domain, cmd.Password)
		if err != nil {
			return nil, err
		}
		return VerifyResult{Valid: ok}, nil

	case ActionHandleCancel:
		if cmd.Domain == "" {
			return nil, &site.ValidationError{Field: "domain", Reason: "required"}
		}
		return CancelResult{Tabs: s.engine.HandleCancel(ctx, cmd.Domain)}, nil

	case ActionGetAnalytics:
		period := cmd.Period
		if period == 0 {
			period = analytics.DefaultPeriod
		}
		if period < 1 || period > analytics.MaxPeriod {
			return nil, &site.ValidationError{Field: "period", Reason: fmt.Sprintf("must be between 1 and %d", analytics.MaxPeriod)}
		}
		return s.engine.GetAnalytics(ctx, period)

	case ActionClearData:
		return nil, s.engine.ClearData(ctx)

	case ActionForceSyncAnalytics:
		return s.engine.ForceSyncAnalytics(ctx)

	case ActionSyncProtectedSites:
		return s.engine.SyncProtectedSites(ctx)

	case ActionGetStatus:
		return s.engine.Status(ctx)
	}

	return nil, &site.ValidationError{Field: "action", Reason: fmt.Sprintf("unsupported %q", cmd.Action)}
}

// SiteView is a rule as returned to clients, without its password digest.
type SiteView struct {
	site.Rule
	PasswordProtected bool `json:"password_protected"`
}

func newSiteView(rule site.Rule) SiteView {
	v := SiteView{Rule: rule, PasswordProtected: rule.PasswordProtected()}
	v.PasswordHash = ""
	return v
}

func siteViews(rules []site.Rule) []SiteView {
	views := make([]SiteView, len(rules))
	for i, r := range rules {
		views[i] = newSiteView(r)
	}
	return views
}
