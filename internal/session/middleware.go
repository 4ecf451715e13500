package session

import (
	"context"
	"errors"
	"net/http"

	"go.uber.org/zap"

	"github.com/diorsjoy/subscription-based-toy-rental-system-sub001/internal/platform/requestctx"
)

type sessionContextKey string

const requestSessionKey sessionContextKey = "storefront.session"

// Store abstracts the session manager for middleware integration.
type Store interface {
	Load(*http.Request) (*Session, error)
	New() *Session
	Save(http.ResponseWriter, *Session) error
	Destroy(http.ResponseWriter)
}

// Middleware attaches the decoded session to the request context and writes it back to the
// cookie just before the response header goes out. A bearer header on the request replaces the
// token remembered in the session.
func Middleware(store Store) func(http.Handler) http.Handler {
	if store == nil {
		panic("session store is required")
	}

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			logger := requestctx.Logger(r.Context())

			sess, err := store.Load(r)
			if errors.Is(err, ErrExpired) {
				logger.Debug("session expired; starting a new one")
				sess = store.New()
			} else if err != nil || sess == nil {
				if err != nil {
					logger.Warn("session load failed", zap.Error(err))
				}
				sess = store.New()
			}

			if token := BearerToken(r); token != "" {
				sess.SetToken(token)
			}

			ctx := context.WithValue(r.Context(), requestSessionKey, sess)
			ctx = requestctx.WithSession(ctx, requestctx.SessionInfo{SessionID: sess.ID(), UserID: sess.UserID()})

			sw := &saveOnWrite{ResponseWriter: w, save: func() {
				if err := store.Save(w, sess); err != nil {
					logger.Error("session save failed", zap.Error(err))
				}
			}}
			next.ServeHTTP(sw, r.WithContext(ctx))
			sw.commit()
		})
	}
}

// FromContext retrieves the session attached to this request.
func FromContext(ctx context.Context) (*Session, bool) {
	if ctx == nil {
		return nil, false
	}
	sess, ok := ctx.Value(requestSessionKey).(*Session)
	return sess, ok && sess != nil
}

// saveOnWrite persists the session the first time the handler commits the response header.
type saveOnWrite struct {
	http.ResponseWriter
	save  func()
	saved bool
}

func (w *saveOnWrite) commit() {
	if w.saved {
		return
	}
	w.saved = true
	w.save()
}

func (w *saveOnWrite) WriteHeader(status int) {
	w.commit()
	w.ResponseWriter.WriteHeader(status)
}

func (w *saveOnWrite) Write(b []byte) (int, error) {
	w.commit()
	return w.ResponseWriter.Write(b)
}

func (w *saveOnWrite) Flush() {
	w.commit()
	if f, ok := w.ResponseWriter.(http.Flusher); ok {
		f.Flush()
	}
}

func (w *saveOnWrite) Unwrap() http.ResponseWriter {
	return w.ResponseWriter
}
