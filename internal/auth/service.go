package auth

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"store-backend/internal/observability"
)

type AdminBootstrapper interface {
	UpsertAdmin(ctx context.Context, email, passwordHash string) (Identity, error)
}

type Service struct {
	store     CredentialStore
	hasher    *PasswordHasher
	lockout   *LockoutTracker
	codec     *TokenCodec
	logger    *observability.Logger
	metrics   *observability.Metrics
	bootstrap AdminBootstrapper
}

type ServiceDeps struct {
	Store     CredentialStore
	Hasher    *PasswordHasher
	Lockout   *LockoutTracker
	Codec     *TokenCodec
	Logger    *observability.Logger
	Metrics   *observability.Metrics
	Bootstrap AdminBootstrapper
}

func NewService(deps ServiceDeps) *Service {
	if deps.Logger == nil {
		deps.Logger = observability.Discard()
	}
	if deps.Hasher == nil {
		deps.Hasher = NewPasswordHasher(0)
	}
	return &Service{
		store:     deps.Store,
		hasher:    deps.Hasher,
		lockout:   deps.Lockout,
		codec:     deps.Codec,
		logger:    deps.Logger,
		metrics:   deps.Metrics,
		bootstrap: deps.Bootstrap,
	}
}

type LoginResult struct {
	Identity Identity
	Tokens   TokenPair
}

func normalizeEmail(email string) string {
	return strings.TrimSpace(strings.ToLower(email))
}

// Login checks the lock before touching the hash so a locked identity costs no bcrypt
// work and leaks no timing.
func (s *Service) Login(ctx context.Context, email, password string) (LoginResult, error) {
	email = normalizeEmail(email)
	if email == "" || password == "" {
		return LoginResult{}, ErrInvalidCredentials
	}

	identity, err := s.store.FindByEmail(ctx, email)
	if err != nil {
		if errors.Is(err, ErrIdentityNotFound) {
			s.hasher.Verify(password, nil)
			s.metrics.ObserveLogin("unknown_identity")
			return LoginResult{}, ErrInvalidCredentials
		}
		return LoginResult{}, fmt.Errorf("load identity: %w", err)
	}

	if err := s.lockout.Check(ctx, identity.ID); err != nil {
		if errors.Is(err, ErrAccountLocked) {
			s.metrics.ObserveLogin("locked")
		}
		return LoginResult{}, err
	}

	if !s.hasher.Verify(password, identity.PasswordHash) {
		state, err := s.lockout.RegisterFailure(ctx, identity.ID)
		if err != nil {
			return LoginResult{}, fmt.Errorf("register failed login: %w", err)
		}

		s.metrics.ObserveLogin("invalid_credentials")
		s.logger.Warn("login_failed", map[string]any{
			"identity_id":     identity.ID,
			"failed_attempts": state.FailedAttempts,
		})

		if !state.LockedUntil.IsZero() {
			s.metrics.ObserveLockout()
			s.logger.Warn("account_locked", map[string]any{
				"identity_id":  identity.ID,
				"locked_until": state.LockedUntil,
			})
		}
		return LoginResult{}, ErrInvalidCredentials
	}

	if err := s.lockout.Reset(ctx, identity.ID); err != nil {
		return LoginResult{}, fmt.Errorf("reset login attempts: %w", err)
	}

	if !identity.Active {
		s.metrics.ObserveLogin("inactive")
		return LoginResult{}, ErrAccountInactive
	}

	tokens, err := s.codec.IssuePair(identity.ID)
	if err != nil {
		return LoginResult{}, err
	}

	s.metrics.ObserveLogin("success")
	identity.PasswordHash = nil
	return LoginResult{Identity: identity, Tokens: tokens}, nil
}

// Refresh exchanges a refresh token for a new pair. The presented refresh token is not
// invalidated.
func (s *Service) Refresh(ctx context.Context, refreshToken string) (TokenPair, error) {
	refreshToken = strings.TrimSpace(refreshToken)
	if refreshToken == "" {
		return TokenPair{}, ErrInvalidToken
	}

	claims, err := s.codec.VerifyRefresh(refreshToken)
	if err != nil {
		return TokenPair{}, err
	}

	identity, err := s.store.FindByID(ctx, claims.ID)
	if err != nil {
		if errors.Is(err, ErrIdentityNotFound) {
			return TokenPair{}, ErrUnauthenticated
		}
		return TokenPair{}, fmt.Errorf("load identity: %w", err)
	}
	if !identity.Active {
		return TokenPair{}, ErrAccountInactive
	}

	return s.codec.IssuePair(identity.ID)
}

// ChangePassword verifies the current secret before storing the hash of the new one.
func (s *Service) ChangePassword(ctx context.Context, identityID, currentPassword, newPassword string) error {
	identity, err := s.store.FindByID(ctx, identityID)
	if err != nil {
		if errors.Is(err, ErrIdentityNotFound) {
			return ErrUnauthenticated
		}
		return fmt.Errorf("load identity: %w", err)
	}

	withSecret, err := s.store.FindByEmail(ctx, identity.Email)
	if err != nil {
		return fmt.Errorf("load credentials: %w", err)
	}

	if err := s.lockout.Check(ctx, identity.ID); err != nil {
		return err
	}

	if !s.hasher.Verify(currentPassword, withSecret.PasswordHash) {
		if _, err := s.lockout.RegisterFailure(ctx, identity.ID); err != nil {
			return fmt.Errorf("register failed password check: %w", err)
		}
		return ErrInvalidCredentials
	}

	hash, err := s.hasher.Hash(newPassword)
	if err != nil {
		return err
	}

	if err := s.store.UpdatePasswordHash(ctx, identity.ID, hash); err != nil {
		return fmt.Errorf("store password hash: %w", err)
	}

	return s.lockout.Reset(ctx, identity.ID)
}

// Unlock clears the lockout state of identityID.
func (s *Service) Unlock(ctx context.Context, identityID string) (LockoutState, error) {
	if _, err := s.store.FindByID(ctx, identityID); err != nil {
		if errors.Is(err, ErrIdentityNotFound) {
			return LockoutState{}, ErrResourceNotFound
		}
		return LockoutState{}, fmt.Errorf("load identity: %w", err)
	}

	previous, err := s.lockout.State(ctx, identityID)
	if err != nil {
		return LockoutState{}, err
	}
	if err := s.lockout.Reset(ctx, identityID); err != nil {
		return LockoutState{}, err
	}

	s.logger.Info("account_unlocked", map[string]any{
		"identity_id":     identityID,
		"failed_attempts": previous.FailedAttempts,
	})
	return previous, nil
}

// BootstrapAdmin creates or refreshes the operator admin account. Both values empty is
// a no-op.
func (s *Service) BootstrapAdmin(ctx context.Context, email, password string) error {
	email = normalizeEmail(email)
	password = strings.TrimSpace(password)

	if email == "" && password == "" {
		return nil
	}
	if email == "" || password == "" {
		return errors.New("ADMIN_EMAIL and ADMIN_PASSWORD are required together")
	}
	if s.bootstrap == nil {
		return errors.New("admin bootstrap is not supported by the credential store")
	}

	hash, err := s.hasher.Hash(password)
	if err != nil {
		return err
	}

	identity, err := s.bootstrap.UpsertAdmin(ctx, email, hash)
	if err != nil {
		return err
	}

	s.logger.Info("admin_bootstrapped", map[string]any{"identity_id": identity.ID})
	return nil
}
