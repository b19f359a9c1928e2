package server

import (
	"errors"
	"net/http"

	"inkwell/internal/assist"
	"inkwell/internal/credentials"
	"inkwell/internal/providers"
	"inkwell/internal/providers/registry"
)

var errKeyFormat = errors.New("API密钥格式不正确")

func (s *Server) listNotifications(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, s.cfg.Notifications.List())
}

func (s *Server) dismissNotification(w http.ResponseWriter, r *http.Request) {
	if !s.cfg.Notifications.Dismiss(r.PathValue("nid")) {
		w.WriteHeader(http.StatusNotFound)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

type settingsView struct {
	Configured bool                 `json:"configured"`
	Config     *credentials.Summary `json:"config,omitempty"`
}

func (s *Server) getSettings(w http.ResponseWriter, r *http.Request) {
	sum, err := s.cfg.Credentials.MaskedConfig(r.Context())
	if err != nil {
		s.writeError(w, http.StatusInternalServerError, err)
		return
	}
	writeJSON(w, http.StatusOK, settingsView{Configured: sum != nil, Config: sum})
}

func (s *Server) putSettings(w http.ResponseWriter, r *http.Request) {
	var in providers.Config
	if err := decodeJSON(w, r, &in); err != nil {
		s.writeError(w, http.StatusBadRequest, err)
		return
	}
	if in.ServiceType.Valid() && !credentials.ValidateAPIKey(in.ServiceType, in.APIKey) {
		s.writeError(w, http.StatusBadRequest, errKeyFormat)
		return
	}
	if err := s.cfg.Credentials.SaveConfig(r.Context(), in); err != nil {
		s.writeError(w, settingsStatus(err), err)
		return
	}
	s.getSettings(w, r)
}

func (s *Server) patchSettings(w http.ResponseWriter, r *http.Request) {
	var in credentials.Patch
	if err := decodeJSON(w, r, &in); err != nil {
		s.writeError(w, http.StatusBadRequest, err)
		return
	}
	if in.APIKey != nil && in.ServiceType != nil && !credentials.ValidateAPIKey(*in.ServiceType, *in.APIKey) {
		s.writeError(w, http.StatusBadRequest, errKeyFormat)
		return
	}
	if err := s.cfg.Credentials.UpdateConfig(r.Context(), in); err != nil {
		s.writeError(w, settingsStatus(err), err)
		return
	}
	s.getSettings(w, r)
}

func settingsStatus(err error) int {
	switch {
	case errors.Is(err, providers.ErrInvalidConfig):
		return http.StatusBadRequest
	case errors.Is(err, credentials.ErrNotFound):
		return http.StatusNotFound
	}
	return http.StatusInternalServerError
}

func (s *Server) deleteSettings(w http.ResponseWriter, r *http.Request) {
	if err := s.cfg.Credentials.DeleteConfig(r.Context()); err != nil {
		s.writeError(w, http.StatusInternalServerError, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) testSettings(w http.ResponseWriter, r *http.Request) {
	ok, err := s.cfg.Prober.Probe(r.Context())
	if errors.Is(err, assist.ErrNotConfigured) {
		s.writeError(w, http.StatusPreconditionFailed, err)
		return
	}
	if err != nil {
		s.writeError(w, settingsStatus(err), err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]bool{"ok": ok})
}

func (s *Server) services(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, registry.SupportedServices())
}
