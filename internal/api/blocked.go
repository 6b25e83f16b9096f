package api

import (
	"bytes"
	"errors"
	"net/http"

	"github.com/goodtune/focusguard/internal/block"
	"github.com/goodtune/focusguard/internal/gate"
	"github.com/goodtune/focusguard/internal/metrics"
)

func (s *Server) renderBlocked(w http.ResponseWriter, status int, page block.Page) {
	var buf bytes.Buffer
	if err := block.RenderPage(&buf, page); err != nil {
		s.logger.Error().Err(err).Msg("Failed to render interstitial")
		http.Error(w, "Internal Server Error", http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.Header().Set("Cache-Control", "no-store")
	w.WriteHeader(status)
	_, _ = w.Write(buf.Bytes())
}

func (s *Server) handleBlockedPage(w http.ResponseWriter, r *http.Request) {
	b, err := block.ParseBlock(r.URL.Query())
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	s.renderBlocked(w, http.StatusOK, block.Page{Block: b})
}

func (s *Server) handleBlockedUnlock(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseForm(); err != nil {
		http.Error(w, "invalid form", http.StatusBadRequest)
		return
	}
	tab, err := block.ParseTab(r.PostForm.Get("tab"))
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	b := block.Block{Tab: tab, Reason: block.ReasonPasswordRequired, Domain: r.PostForm.Get("domain")}
	if b.Domain == "" {
		http.Error(w, "missing domain", http.StatusBadRequest)
		return
	}

	ok, err := s.engine.Unlock(r.Context(), tab, b.Domain, r.PostForm.Get("password"))
	switch {
	case errors.Is(err, gate.ErrTooManyAttempts):
		metrics.CommandsTotal.WithLabelValues(string(ActionVerifyPassword), "error").Inc()
		s.renderBlocked(w, http.StatusTooManyRequests, block.Page{Block: b, Error: "Too many attempts. Try again in a minute."})
		return
	case err != nil:
		metrics.CommandsTotal.WithLabelValues(string(ActionVerifyPassword), "error").Inc()
		s.writeEngineError(w, "unlock", err)
		return
	case !ok:
		metrics.CommandsTotal.WithLabelValues(string(ActionVerifyPassword), "ok").Inc()
		s.renderBlocked(w, http.StatusUnauthorized, block.Page{Block: b, Error: "Incorrect password."})
		return
	}

	// The presenter has already sent the tab back to where it was headed.
	metrics.CommandsTotal.WithLabelValues(string(ActionVerifyPassword), "ok").Inc()
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleBlockedCancel(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseForm(); err != nil {
		http.Error(w, "invalid form", http.StatusBadRequest)
		return
	}
	tab, err := block.ParseTab(r.PostForm.Get("tab"))
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	if err := s.engine.CancelTab(r.Context(), tab); err != nil {
		s.logger.Warn().Err(err).Int("tab", tab).Msg("Failed to send tab back")
	}
	metrics.CommandsTotal.WithLabelValues(string(ActionHandleCancel), "ok").Inc()
	w.WriteHeader(http.StatusNoContent)
}
