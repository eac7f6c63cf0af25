package auth

import (
	"context"
	"errors"
	"net/http"

	"store-backend/internal/observability"
)

// IdentityLoader re-reads an identity after token verification.
type IdentityLoader interface {
	FindByID(ctx context.Context, id string) (Identity, error)
}

type Guard struct {
	extractor TokenExtractor
	codec     *TokenCodec
	loader    IdentityLoader
	logger    *observability.Logger
	metrics   *observability.Metrics
}

func NewGuard(extractor TokenExtractor, codec *TokenCodec, loader IdentityLoader, logger *observability.Logger, metrics *observability.Metrics) *Guard {
	if logger == nil {
		logger = observability.Discard()
	}
	return &Guard{
		extractor: extractor,
		codec:     codec,
		loader:    loader,
		logger:    logger,
		metrics:   metrics,
	}
}

// Authenticate resolves the caller of r. Session snapshots are trusted as-is; tokens
// are verified and the identity is reloaded so role and active-status changes since
// issuance take effect.
func (g *Guard) Authenticate(r *http.Request) (Principal, error) {
	credential := g.extractor.Extract(r)

	switch credential.Kind {
	case CredentialSession:
		return principalFromSnapshot(credential.Session), nil
	case CredentialToken:
		claims, err := g.codec.VerifyAccess(credential.Token)
		if err != nil {
			return Principal{}, err
		}

		identity, err := g.loader.FindByID(r.Context(), claims.ID)
		if err != nil {
			if !errors.Is(err, ErrIdentityNotFound) {
				g.logger.Error("guard_identity_lookup_failed", map[string]any{
					"identity_id": claims.ID,
					"error":       err.Error(),
				})
				observability.CaptureError(err)
			}
			return Principal{}, ErrUnauthenticated
		}
		if !identity.Active {
			return Principal{}, ErrAccountInactive
		}

		return principalFromIdentity(identity), nil
	default:
		return Principal{}, ErrUnauthenticated
	}
}

// Protect rejects requests without a valid credential.
func (g *Guard) Protect(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		p, err := g.Authenticate(r)
		if err != nil {
			_, code, _ := Classify(err)
			g.metrics.ObserveRejection(code)
			WriteError(w, err)
			return
		}

		next.ServeHTTP(w, r.WithContext(WithPrincipal(r.Context(), p)))
	})
}

// OptionalAuth attaches the caller when one resolves and otherwise continues
// anonymously. It never rejects.
func (g *Guard) OptionalAuth(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		p, err := g.Authenticate(r)
		if err != nil {
			next.ServeHTTP(w, r)
			return
		}

		next.ServeHTTP(w, r.WithContext(WithPrincipal(r.Context(), p)))
	})
}
