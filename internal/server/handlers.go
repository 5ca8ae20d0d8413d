package server

import (
	"errors"
	"fmt"
	"io"
	"net/http"

	"github.com/PostPulse/mcp-server-postpulse/internal/mcp"
	"github.com/PostPulse/mcp-server-postpulse/internal/session"
	"github.com/julienschmidt/httprouter"
)

const (
	msgSessionNotFound = "Session not found"
	msgNoSessionID     = "Bad Request: No valid session ID provided"
)

// handleMCP is the single entry for POST, GET and DELETE on the MCP paths.
func (s *Server) handleMCP(w http.ResponseWriter, r *http.Request, _ httprouter.Params) {
	rt := classify(r)
	s.log.Debug("%s %s -> %s %s", r.Method, r.URL.Path, rt.kind, rt.sessionID)

	switch rt.kind {
	case routeHandshake:
		s.handleHandshake(w, r)
	case routeContinue:
		s.handleContinue(w, r, rt.sessionID)
	case routeStream:
		s.handleStream(w, r, rt.sessionID)
	case routeTeardown:
		s.handleTeardown(w, r, rt.sessionID)
	case routeBadRequest:
		http.Error(w, msgNoSessionID, http.StatusBadRequest)
	}
}

// handleHandshake authenticates a session-less POST, checks that it is an
// initialize request and creates the session that answers it.
func (s *Server) handleHandshake(w http.ResponseWriter, r *http.Request) {
	identity, err := s.gate.Authenticate(r)
	if err != nil {
		s.log.Debug("Handshake rejected: %v", err)
		s.gate.Reject(w, err)
		return
	}

	body, ok := s.readBody(w, r)
	if !ok {
		return
	}
	if !mcp.IsInitializeRequest(body) {
		writeJSON(w, http.StatusBadRequest, mcp.ErrorResponse(mcp.CodeBadRequest, msgNoSessionID))
		return
	}

	id := s.opts.NewID()
	sess, err := session.New(id, identity, s.factory, session.WithStreamBuffer(s.opts.StreamBuffer))
	if err != nil {
		s.log.Error("Failed to create session: %v", err)
		http.Error(w, fmt.Sprintf("failed to create session: %v", err), http.StatusInternalServerError)
		return
	}
	s.registry.Insert(sess)

	reply, err := sess.Initialize(r.Context(), body)
	if err != nil {
		s.registry.Remove(id)
		s.log.Warn("Session %s: initialize failed: %v", id, err)
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	if len(reply) == 0 || mcp.IsErrorResponse(reply) {
		s.registry.Remove(id)
		s.log.Info("Session %s: initialize refused by engine", id)
		if len(reply) == 0 {
			http.Error(w, "initialize produced no response", http.StatusInternalServerError)
			return
		}
		writeJSON(w, http.StatusOK, reply)
		return
	}

	w.Header().Set(HeaderSessionID, id)
	writeJSON(w, http.StatusOK, reply)
	if f, ok := w.(http.Flusher); ok {
		f.Flush()
	}

	if err := r.Context().Err(); err != nil {
		// Nobody holds the id, so the session could never be reached.
		s.registry.Remove(id)
		s.log.Info("Session %s: client left during handshake: %v", id, err)
		return
	}
	if err := sess.MarkActive(); err != nil {
		// Torn down while the response was in flight.
		s.log.Debug("Session %s: %v", id, err)
		return
	}
	s.log.Info("Session %s active (client %s, %d live)", id, identity.ClientID, s.registry.Len())
}

// handleContinue forwards a unary call to an existing session.
func (s *Server) handleContinue(w http.ResponseWriter, r *http.Request, id string) {
	sess, ok := s.registry.Lookup(id)
	if !ok {
		writeSessionNotFound(w)
		return
	}

	body, ok := s.readBody(w, r)
	if !ok {
		return
	}

	reply, err := sess.Handle(r.Context(), body)
	switch {
	case errors.Is(err, session.ErrSessionClosed):
		writeSessionNotFound(w)
	case err != nil:
		s.log.Warn("Session %s: %v", id, err)
		http.Error(w, err.Error(), http.StatusInternalServerError)
	case len(reply) == 0:
		w.Header().Set(HeaderSessionID, id)
		w.WriteHeader(http.StatusAccepted)
	default:
		w.Header().Set(HeaderSessionID, id)
		writeJSON(w, http.StatusOK, reply)
	}
}

// handleTeardown closes a session on DELETE.
func (s *Server) handleTeardown(w http.ResponseWriter, r *http.Request, id string) {
	if !s.registry.Remove(id) {
		http.Error(w, msgSessionNotFound, http.StatusNotFound)
		return
	}
	s.log.Info("Session %s closed by client", id)
	w.WriteHeader(http.StatusOK)
}

// readBody reads a bounded request body, answering the request itself on
// failure.
func (s *Server) readBody(w http.ResponseWriter, r *http.Request) ([]byte, bool) {
	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, s.opts.MaxBodyBytes))
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			http.Error(w, "request body too large", http.StatusRequestEntityTooLarge)
			return nil, false
		}
		http.Error(w, fmt.Sprintf("failed to read body: %v", err), http.StatusBadRequest)
		return nil, false
	}
	return body, true
}

func writeSessionNotFound(w http.ResponseWriter) {
	writeJSON(w, http.StatusNotFound, mcp.ErrorResponse(mcp.CodeSessionNotFound, msgSessionNotFound))
}

func writeJSON(w http.ResponseWriter, status int, body []byte) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_, _ = w.Write(body)
}
