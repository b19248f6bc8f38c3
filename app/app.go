// Package app composes the draft server out of distinct sub-applications.
//
// Each App binds its routes to a router and owns its migrations; the serve
// command migrates every app and then mounts them.
package app

import (
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
)

// Bindable items can bind their URL routes to a router.
type Bindable interface {
	Bind(r chi.Router)
}

// An App is a component that controls a part of the server, eg. auth or
// the draft api.
type App interface {
	Bindable
	Name() string
	Migrate() error
}

// MigrateAll runs every app's migrations in order.
func MigrateAll(apps ...App) error {
	for _, a := range apps {
		if err := a.Migrate(); err != nil {
			return &MigrateError{App: a.Name(), Err: err}
		}
	}
	return nil
}

// A MigrateError is a failed migration of a named app.
type MigrateError struct {
	App string
	Err error
}

func (e *MigrateError) Error() string { return "migrating " + e.App + ": " + e.Err.Error() }
func (e *MigrateError) Unwrap() error { return e.Err }

// PageNumber returns a number for a page (default to 1)
func PageNumber(page string) int {
	num, err := strconv.Atoi(page)
	if err != nil || num < 1 {
		return 1
	}
	return num
}

// QueryInt returns the integer query parameter name, or _default.
func QueryInt(r *http.Request, name string, _default int) int {
	x := _default
	if s := r.URL.Query().Get(name); len(s) > 0 {
		if v, err := strconv.Atoi(s); err == nil {
			x = v
		}
	}
	return x
}
