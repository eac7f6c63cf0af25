package auth

import (
	"context"
	"net/http"
	"strings"
)

// RoleGate authorizes by role. The operator allow-list grants admin rights to specific
// identities (by id or email) regardless of their stored role.
type RoleGate struct {
	operators map[string]struct{}
}

func NewRoleGate(operators []string) *RoleGate {
	g := &RoleGate{operators: make(map[string]struct{}, len(operators))}
	for _, op := range operators {
		op = strings.ToLower(strings.TrimSpace(op))
		if op != "" {
			g.operators[op] = struct{}{}
		}
	}
	return g
}

func (g *RoleGate) IsAdmin(p Principal) bool {
	if p.Role == RoleAdmin {
		return true
	}
	if g == nil {
		return false
	}
	if _, ok := g.operators[strings.ToLower(p.ID)]; ok {
		return true
	}
	if p.Email != "" {
		if _, ok := g.operators[strings.ToLower(p.Email)]; ok {
			return true
		}
	}
	return false
}

func IsManagerOrAdmin(p Principal) bool {
	return p.Role == RoleAdmin || p.Role == RoleManager
}

// CheckAdmin fails closed with ErrUnauthenticated when ctx carries no principal.
func (g *RoleGate) CheckAdmin(ctx context.Context) error {
	p, ok := PrincipalFromContext(ctx)
	if !ok {
		return ErrUnauthenticated
	}
	if !g.IsAdmin(p) {
		return ErrForbidden
	}
	return nil
}

func (g *RoleGate) CheckManagerOrAdmin(ctx context.Context) error {
	p, ok := PrincipalFromContext(ctx)
	if !ok {
		return ErrUnauthenticated
	}
	if !IsManagerOrAdmin(p) {
		return ErrForbidden
	}
	return nil
}

func (g *RoleGate) RequireAdmin(next http.Handler) http.Handler {
	return requireCheck(g.CheckAdmin, next)
}

func (g *RoleGate) RequireManagerOrAdmin(next http.Handler) http.Handler {
	return requireCheck(g.CheckManagerOrAdmin, next)
}

func requireCheck(check func(context.Context) error, next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if err := check(r.Context()); err != nil {
			WriteError(w, err)
			return
		}
		next.ServeHTTP(w, r)
	})
}

// OwnerResolver produces the identity id owning the resource addressed by r.
type OwnerResolver interface {
	ResolveOwner(r *http.Request) (string, error)
}

type OwnerResolverFunc func(r *http.Request) (string, error)

func (f OwnerResolverFunc) ResolveOwner(r *http.Request) (string, error) {
	return f(r)
}

// AuthorizeOwner allows the resource owner and admins. Resolver errors are returned
// unchanged so a missing resource stays distinguishable from a foreign one.
func AuthorizeOwner(r *http.Request, resolver OwnerResolver) error {
	p, ok := PrincipalFromContext(r.Context())
	if !ok {
		return ErrUnauthenticated
	}

	ownerID, err := resolver.ResolveOwner(r)
	if err != nil {
		return err
	}

	if ownerID == p.ID || p.Role == RoleAdmin {
		return nil
	}
	return ErrForbidden
}

func RequireOwner(resolver OwnerResolver, next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if err := AuthorizeOwner(r, resolver); err != nil {
			WriteError(w, err)
			return
		}
		next.ServeHTTP(w, r)
	})
}
