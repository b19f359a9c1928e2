package server

import (
	"context"
	"errors"
	"net/http"

	"inkwell/internal/assist"
	"inkwell/internal/editor"
	"inkwell/internal/preview"
)

func (s *Server) getContent(w http.ResponseWriter, _ *http.Request, e *editor.Editor) {
	writeJSON(w, http.StatusOK, map[string]string{"content": e.Content()})
}

func (s *Server) putContent(w http.ResponseWriter, r *http.Request, e *editor.Editor) {
	var in struct {
		Content *string `json:"content"`
	}
	if err := decodeJSON(w, r, &in); err != nil || in.Content == nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "content is required"})
		return
	}
	e.SetContent(*in.Content)
	writeJSON(w, http.StatusOK, e.Status())
}

func (s *Server) putSelection(w http.ResponseWriter, r *http.Request, e *editor.Editor) {
	var in editor.Range
	if err := decodeJSON(w, r, &in); err != nil {
		s.writeError(w, http.StatusBadRequest, err)
		return
	}
	e.SetSelection(in.Start, in.End)
	writeJSON(w, http.StatusOK, e.Status())
}

func (s *Server) format(w http.ResponseWriter, r *http.Request, e *editor.Editor) {
	if err := e.InsertFormatting(r.PathValue("kind")); err != nil {
		s.writeError(w, http.StatusBadRequest, err)
		return
	}
	writeJSON(w, http.StatusOK, e.Status())
}

// startAI answers 202 once the action is claimed; the stream outlives the
// request.
func (s *Server) startAI(w http.ResponseWriter, r *http.Request, e *editor.Editor) {
	mode := assist.Mode(r.PathValue("mode"))
	if _, err := e.StartAIAction(context.WithoutCancel(r.Context()), mode); err != nil {
		s.writeError(w, aiStatus(err), err)
		return
	}
	writeJSON(w, http.StatusAccepted, e.Status())
}

func aiStatus(err error) int {
	switch {
	case errors.Is(err, editor.ErrBusy):
		return http.StatusConflict
	case errors.Is(err, editor.ErrEmptySelection), errors.Is(err, editor.ErrUnknownMode):
		return http.StatusBadRequest
	case errors.Is(err, editor.ErrRateLimited):
		return http.StatusTooManyRequests
	case errors.Is(err, assist.ErrNotConfigured):
		return http.StatusPreconditionFailed
	}
	return http.StatusBadGateway
}

func (s *Server) cancelAI(w http.ResponseWriter, _ *http.Request, e *editor.Editor) {
	writeJSON(w, http.StatusOK, map[string]bool{"cancelled": e.Cancel()})
}

func (s *Server) save(w http.ResponseWriter, r *http.Request, e *editor.Editor) {
	if err := e.Save(r.Context()); err != nil {
		s.writeError(w, upstreamStatus(err), err)
		return
	}
	writeJSON(w, http.StatusOK, e.Status())
}

func (s *Server) status(w http.ResponseWriter, _ *http.Request, e *editor.Editor) {
	writeJSON(w, http.StatusOK, e.Status())
}

func (s *Server) preview(w http.ResponseWriter, _ *http.Request, e *editor.Editor) {
	html, err := preview.Render(e.Content())
	if err != nil {
		s.writeError(w, http.StatusInternalServerError, err)
		return
	}
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	_, _ = w.Write([]byte(html))
}
