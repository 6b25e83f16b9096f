package api

import (
	"encoding/json"
	"net/http"
	"strconv"

	"github.com/goodtune/focusguard/internal/metrics"
	"github.com/goodtune/focusguard/internal/site"
	"github.com/gorilla/mux"
)

// run executes cmd for a REST route and writes the envelope.
func (s *Server) run(w http.ResponseWriter, r *http.Request, cmd Command) {
	data, err := s.execute(r, cmd)
	if err != nil {
		metrics.CommandsTotal.WithLabelValues(string(cmd.Action), "error").Inc()
		s.writeEngineError(w, string(cmd.Action), err)
		return
	}
	metrics.CommandsTotal.WithLabelValues(string(cmd.Action), "ok").Inc()
	writeData(w, data)
}

func (s *Server) handleListSites(w http.ResponseWriter, r *http.Request) {
	s.run(w, r, Command{Action: ActionListProtectedSites})
}

func (s *Server) handleAddSite(w http.ResponseWriter, r *http.Request) {
	var in site.RuleInput
	if err := json.NewDecoder(r.Body).Decode(&in); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	s.run(w, r, Command{Action: ActionAddProtectedSite, Site: &in})
}

func (s *Server) handleRemoveSite(w http.ResponseWriter, r *http.Request) {
	s.run(w, r, Command{Action: ActionRemoveProtectedSite, Domain: mux.Vars(r)["domain"]})
}

func (s *Server) handleVerify(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Password string `json:"password"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	s.run(w, r, Command{Action: ActionVerifyPassword, Domain: mux.Vars(r)["domain"], Password: req.Password})
}

func (s *Server) handleCancel(w http.ResponseWriter, r *http.Request) {
	s.run(w, r, Command{Action: ActionHandleCancel, Domain: mux.Vars(r)["domain"]})
}

func (s *Server) handleAnalytics(w http.ResponseWriter, r *http.Request) {
	cmd := Command{Action: ActionGetAnalytics}
	if p := r.URL.Query().Get("period"); p != "" {
		period, err := strconv.Atoi(p)
		if err != nil || period < 1 {
			writeError(w, http.StatusBadRequest, "invalid period")
			return
		}
		cmd.Period = period
	}
	s.run(w, r, cmd)
}

func (s *Server) handleClearData(w http.ResponseWriter, r *http.Request) {
	s.run(w, r, Command{Action: ActionClearData})
}

func (s *Server) handleSyncAnalytics(w http.ResponseWriter, r *http.Request) {
	s.run(w, r, Command{Action: ActionForceSyncAnalytics})
}

func (s *Server) handleSyncSites(w http.ResponseWriter, r *http.Request) {
	s.run(w, r, Command{Action: ActionSyncProtectedSites})
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	s.run(w, r, Command{Action: ActionGetStatus})
}

func (s *Server) handleLogin(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Token string `json:"token"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.Token == "" {
		writeError(w, http.StatusBadRequest, "token is required")
		return
	}

	state, err := s.account.Login(r.Context(), req.Token)
	if err != nil {
		s.writeEngineError(w, "login", err)
		return
	}
	writeData(w, map[string]any{
		"user":       state.User,
		"expires_at": state.ExpiresAt,
	})
}

func (s *Server) handleLogout(w http.ResponseWriter, r *http.Request) {
	if err := s.account.Logout(r.Context()); err != nil {
		s.writeEngineError(w, "logout", err)
		return
	}
	writeData(w, nil)
}
