package auth

import (
	"encoding/json"
	"errors"
	"mime"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/koinonia/draftsafe/conf"
	"github.com/koinonia/draftsafe/db"
	"github.com/koinonia/draftsafe/db/monarch"
	"github.com/koinonia/draftsafe/pkg/errmodel"
	"github.com/rs/zerolog"
)

// App serves login and logout.
type App struct {
	db       db.DB
	Sessions *SessionManager
	Users    *UserService
	log      zerolog.Logger
}

// NewApp returns a new authz/n web application.
func NewApp(cfg *conf.Config, conn db.DB) *App {
	return &App{
		db:       conn,
		Sessions: NewSessionManager(cfg),
		Users:    NewUserService(conn),
		log:      zerolog.Nop(),
	}
}

// WithLogger sets the app's logger.
func (a *App) WithLogger(l zerolog.Logger) *App {
	a.log = l
	return a
}

func (a *App) Name() string { return "auth" }

func (a *App) Bind(r chi.Router) {
	r.Post("/login", a.login)
	r.Post("/logout", a.logout)
}

func (a *App) Migrate() error {
	return monarch.UpgradeAll(a.db, Migrations())
}

type credentials struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

func readCredentials(r *http.Request) (credentials, error) {
	var c credentials
	ct, _, _ := mime.ParseMediaType(r.Header.Get("Content-Type"))
	if ct == "application/json" {
		err := json.NewDecoder(r.Body).Decode(&c)
		return c, err
	}
	if err := r.ParseForm(); err != nil {
		return c, err
	}
	c.Username, c.Password = r.Form.Get("username"), r.Form.Get("password")
	return c, nil
}

func (a *App) login(w http.ResponseWriter, r *http.Request) {
	creds, err := readCredentials(r)
	if err != nil {
		errmodel.WriteHTTP(w, r, errmodel.Validation("bad_request", err.Error()))
		return
	}

	ok, err := a.Users.Validate(creds.Username, creds.Password)
	if !ok {
		if err != nil && !errors.Is(err, ErrInvalidCredentials) {
			a.log.Error().Err(err).Str("user", creds.Username).Msg("validating credentials")
		}
		errmodel.WriteHTTP(w, r, errmodel.Unauthorized(ErrInvalidCredentials.Error()))
		return
	}
	if err := a.Sessions.Login(w, r, creds.Username); err != nil {
		errmodel.WriteHTTP(w, r, err)
		return
	}
	a.log.Info().Str("user", creds.Username).Msg("login")
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]string{"user": creds.Username})
}

func (a *App) logout(w http.ResponseWriter, r *http.Request) {
	if err := a.Sessions.Logout(w, r); err != nil {
		errmodel.WriteHTTP(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
