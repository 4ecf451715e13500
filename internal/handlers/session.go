package handlers

import (
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/diorsjoy/subscription-based-toy-rental-system-sub001/internal/platform/httpx"
	"github.com/diorsjoy/subscription-based-toy-rental-system-sub001/internal/session"
)

// SessionHandlers signs the browser session in and out of the rental backend.
type SessionHandlers struct {
	stores BucketStores
}

// NewSessionHandlers constructs session handlers. stores may be nil.
func NewSessionHandlers(stores BucketStores) *SessionHandlers {
	return &SessionHandlers{stores: stores}
}

// Routes wires the /session endpoints onto the provided router.
func (h *SessionHandlers) Routes(r chi.Router) {
	if r == nil {
		return
	}
	r.Get("/", h.getSession)
	r.Put("/token", h.putToken)
	r.Delete("/", h.deleteSession)
}

type sessionResponse struct {
	SessionID     string `json:"session_id"`
	UserID        string `json:"user_id,omitempty"`
	Authenticated bool   `json:"authenticated"`
	ExpiresAt     string `json:"expires_at,omitempty"`
}

func buildSessionResponse(sess *session.Session) sessionResponse {
	return sessionResponse{
		SessionID:     sess.ID(),
		UserID:        sess.UserID(),
		Authenticated: sess.Token() != "",
		ExpiresAt:     formatTimestamp(sess.ExpiresAt()),
	}
}

func currentSession(w http.ResponseWriter, r *http.Request) (*session.Session, bool) {
	sess, ok := session.FromContext(r.Context())
	if !ok {
		httpx.WriteError(r.Context(), w, httpx.NewError("session_unavailable", "session is unavailable", http.StatusInternalServerError))
		return nil, false
	}
	return sess, true
}

func (h *SessionHandlers) getSession(w http.ResponseWriter, r *http.Request) {
	sess, ok := currentSession(w, r)
	if !ok {
		return
	}
	httpx.WriteJSON(w, http.StatusOK, buildSessionResponse(sess))
}

type putTokenRequest struct {
	Token string `json:"token"`
}

// putToken remembers the backend bearer token. The session's bucket store is rebuilt on the
// next bucket request because the registry keys stores by token.
func (h *SessionHandlers) putToken(w http.ResponseWriter, r *http.Request) {
	sess, ok := currentSession(w, r)
	if !ok {
		return
	}
	var req putTokenRequest
	if !decodeBody(w, r, &req) {
		return
	}
	token := strings.TrimSpace(req.Token)
	if token == "" {
		httpx.WriteError(r.Context(), w, httpx.NewError("invalid_request", "token is required", http.StatusBadRequest))
		return
	}
	sess.SetToken(token)
	httpx.WriteJSON(w, http.StatusOK, buildSessionResponse(sess))
}

func (h *SessionHandlers) deleteSession(w http.ResponseWriter, r *http.Request) {
	sess, ok := currentSession(w, r)
	if !ok {
		return
	}
	if h.stores != nil {
		h.stores.Drop(sess.ID())
	}
	sess.SetToken("")
	sess.Destroy()
	w.WriteHeader(http.StatusNoContent)
}
