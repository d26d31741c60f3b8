// Package httpguard protects HTTP handlers with permit decisions.
package httpguard

import (
	"context"
	"net/http"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/oarkflow/permit"
	"github.com/oarkflow/permit/logger"
)

// PrincipalFunc extracts the authenticated principal from a request.
type PrincipalFunc func(r *http.Request) (int64, bool)

// Guard wires permit checks into HTTP middleware. Requests without a
// principal get 401; denied requests get 403.
type Guard struct {
	Engine    *permit.Engine
	Principal PrincipalFunc
	Logger    logger.Logger
}

// RequirePermission lets the request through when the principal holds code.
func (g Guard) RequirePermission(code string) func(http.Handler) http.Handler {
	return g.require("permission "+code, func(ctx context.Context, id int64) bool {
		return g.Engine.HasPermission(ctx, id, code)
	})
}

// RequireAnyPermission needs at least one of codes.
func (g Guard) RequireAnyPermission(codes ...string) func(http.Handler) http.Handler {
	return g.require("any permission "+strings.Join(codes, ","), func(ctx context.Context, id int64) bool {
		return g.Engine.HasAnyPermission(ctx, id, codes)
	})
}

// RequireAllPermissions needs every code.
func (g Guard) RequireAllPermissions(codes ...string) func(http.Handler) http.Handler {
	return g.require("all permissions "+strings.Join(codes, ","), func(ctx context.Context, id int64) bool {
		return g.Engine.HasAllPermissions(ctx, id, codes)
	})
}

func (g Guard) RequireRole(code string) func(http.Handler) http.Handler {
	return g.require("role "+code, func(ctx context.Context, id int64) bool {
		return g.Engine.HasRole(ctx, id, code)
	})
}

func (g Guard) RequireMenu(menuID int64) func(http.Handler) http.Handler {
	return g.require("menu "+strconv.FormatInt(menuID, 10), func(ctx context.Context, id int64) bool {
		return g.Engine.HasMenuAccess(ctx, id, menuID)
	})
}

// RequirePolicy evaluates p for every request.
func (g Guard) RequirePolicy(p permit.Policy) func(http.Handler) http.Handler {
	name := "policy"
	if p != nil {
		name = "policy " + p.String()
	}
	return g.require(name, func(ctx context.Context, id int64) bool {
		return g.Engine.Evaluate(ctx, id, p)
	})
}

// RequireNamedPolicy evaluates a policy registered on the engine.
func (g Guard) RequireNamedPolicy(name string) func(http.Handler) http.Handler {
	return g.require("policy "+name, func(ctx context.Context, id int64) bool {
		return g.Engine.EvaluateNamed(ctx, id, name)
	})
}

func (g Guard) require(what string, allowed func(ctx context.Context, id int64) bool) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			id, ok := g.principal(r)
			if !ok {
				http.Error(w, http.StatusText(http.StatusUnauthorized), http.StatusUnauthorized)
				return
			}
			if !allowed(r.Context(), id) {
				if g.Logger != nil {
					g.Logger.Debug("request denied", "principal_id", id, "requires", what, "path", r.URL.Path)
				}
				http.Error(w, http.StatusText(http.StatusForbidden), http.StatusForbidden)
				return
			}
			next.ServeHTTP(w, r.WithContext(WithPrincipal(r.Context(), id)))
		})
	}
}

func (g Guard) principal(r *http.Request) (int64, bool) {
	if g.Principal == nil {
		return FromContext(r)
	}
	return g.Principal(r)
}

// ============================================================================
// PRINCIPAL EXTRACTORS
// ============================================================================

type principalKey struct{}

// WithPrincipal stores the principal id on ctx, typically from an
// authentication middleware.
func WithPrincipal(ctx context.Context, id int64) context.Context {
	return context.WithValue(ctx, principalKey{}, id)
}

// PrincipalFromContext returns the principal stored by WithPrincipal.
func PrincipalFromContext(ctx context.Context) (int64, bool) {
	id, ok := ctx.Value(principalKey{}).(int64)
	return id, ok && id > 0
}

// FromContext reads the principal set by WithPrincipal.
func FromContext(r *http.Request) (int64, bool) {
	return PrincipalFromContext(r.Context())
}

// FromHeader reads the principal id from a request header.
func FromHeader(name string) PrincipalFunc {
	return func(r *http.Request) (int64, bool) {
		return parsePrincipal(r.Header.Get(name))
	}
}

// FromURLParam reads the principal id from a chi route parameter.
func FromURLParam(name string) PrincipalFunc {
	return func(r *http.Request) (int64, bool) {
		return parsePrincipal(chi.URLParam(r, name))
	}
}

func parsePrincipal(raw string) (int64, bool) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return 0, false
	}
	id, err := strconv.ParseInt(raw, 10, 64)
	if err != nil || id <= 0 {
		return 0, false
	}
	return id, true
}
