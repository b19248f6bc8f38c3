package auth

import (
	"context"
	"net/http"

	"github.com/gorilla/sessions"
	"github.com/koinonia/draftsafe/conf"
	"github.com/koinonia/draftsafe/pkg/errmodel"
)

const sessionJar = "draftsafe-session"

type sessionKey struct{}
type ownerKey struct{}

// A SessionManager manages cookie sessions.
type SessionManager struct {
	store sessions.Store
}

func NewSessionManager(cfg *conf.Config) *SessionManager {
	store := sessions.NewCookieStore([]byte(cfg.SessionSecret))
	store.Options.HttpOnly = true
	store.Options.SameSite = http.SameSiteLaxMode
	return &SessionManager{store: store}
}

// Context adds this session manager to ctx
func (s *SessionManager) Context(ctx context.Context) context.Context {
	return context.WithValue(ctx, sessionKey{}, s)
}

// AddSessionMiddleware adds this manager to the context, allowing any
// handler to utilize it.
func (s *SessionManager) AddSessionMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		next.ServeHTTP(w, r.WithContext(s.Context(r.Context())))
	})
}

// Session returns the session for this request
func (s *SessionManager) Session(r *http.Request) *sessions.Session {
	sess, _ := s.store.Get(r, sessionJar)
	return sess
}

// Login marks the request's session as authenticated as username.
func (s *SessionManager) Login(w http.ResponseWriter, r *http.Request, username string) error {
	sess := s.Session(r)
	sess.Values["authenticated"] = true
	sess.Values["user"] = username
	return sess.Save(r, w)
}

// Logout clears the request's session.
func (s *SessionManager) Logout(w http.ResponseWriter, r *http.Request) error {
	sess := s.Session(r)
	sess.Values["authenticated"] = false
	sess.Values["user"] = ""
	sess.Options.MaxAge = -1
	return sess.Save(r, w)
}

func (s *SessionManager) IsAuthenticated(r *http.Request) bool {
	_, ok := s.User(r)
	return ok
}

// User returns the authenticated username for r.
func (s *SessionManager) User(r *http.Request) (string, bool) {
	sess := s.Session(r)
	if sess.Values["authenticated"] != true {
		return "", false
	}
	user, _ := sess.Values["user"].(string)
	return user, len(user) > 0
}

// RequireUser rejects unauthenticated requests with a JSON 401 and puts
// the authenticated username into the request context for Owner.
func (s *SessionManager) RequireUser(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		user, ok := s.User(r)
		if !ok {
			errmodel.WriteHTTP(w, r, errmodel.Unauthorized("login required"))
			return
		}
		next.ServeHTTP(w, r.WithContext(WithOwner(r.Context(), user)))
	})
}

// WithOwner returns a context carrying the owner of the request.
func WithOwner(ctx context.Context, owner string) context.Context {
	return context.WithValue(ctx, ownerKey{}, owner)
}

// Owner returns the owner stored in ctx by RequireUser.
func Owner(ctx context.Context) (string, bool) {
	owner, ok := ctx.Value(ownerKey{}).(string)
	return owner, ok && len(owner) > 0
}

// SessionFromContext returns the session manager from the context
func SessionFromContext(ctx context.Context) *SessionManager {
	s, _ := ctx.Value(sessionKey{}).(*SessionManager)
	return s
}
