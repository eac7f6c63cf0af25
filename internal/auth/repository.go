package auth

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// Repository is the Postgres credential store over the users table.
type Repository struct {
	db  *sql.DB
	now func() time.Time
}

func NewRepository(db *sql.DB) *Repository {
	return &Repository{db: db, now: time.Now}
}

func (r *Repository) FindByEmail(ctx context.Context, email string) (Identity, error) {
	var identity Identity
	var role string
	var hash sql.NullString
	err := r.db.QueryRowContext(ctx, `
		SELECT id, email, name, role, active, password_hash, created_at, updated_at
		FROM users
		WHERE email = $1
	`, email).Scan(&identity.ID, &identity.Email, &identity.Name, &role, &identity.Active, &hash, &identity.CreatedAt, &identity.UpdatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return Identity{}, ErrIdentityNotFound
		}
		return Identity{}, fmt.Errorf("query user by email: %w", err)
	}

	identity.Role = Role(role)
	if hash.Valid {
		value := hash.String
		identity.PasswordHash = &value
	}
	return identity, nil
}

// FindByID never selects password_hash.
func (r *Repository) FindByID(ctx context.Context, id string) (Identity, error) {
	if _, err := uuid.Parse(id); err != nil {
		return Identity{}, ErrIdentityNotFound
	}

	var identity Identity
	var role string
	err := r.db.QueryRowContext(ctx, `
		SELECT id, email, name, role, active, created_at, updated_at
		FROM users
		WHERE id = $1
	`, id).Scan(&identity.ID, &identity.Email, &identity.Name, &role, &identity.Active, &identity.CreatedAt, &identity.UpdatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return Identity{}, ErrIdentityNotFound
		}
		return Identity{}, fmt.Errorf("query user by id: %w", err)
	}

	identity.Role = Role(role)
	return identity, nil
}

func (r *Repository) UpdatePasswordHash(ctx context.Context, id, hash string) error {
	result, err := r.db.ExecContext(ctx, `
		UPDATE users
		SET password_hash = $2, updated_at = $3
		WHERE id = $1
	`, id, hash, r.now().UTC())
	if err != nil {
		return fmt.Errorf("update password hash: %w", err)
	}

	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("password hash rows affected: %w", err)
	}
	if affected == 0 {
		return ErrIdentityNotFound
	}
	return nil
}

// UpsertAdmin creates the admin identity for email or promotes and re-keys the existing
// one. passwordHash must already be hashed.
func (r *Repository) UpsertAdmin(ctx context.Context, email, passwordHash string) (Identity, error) {
	id, err := uuid.NewV7()
	if err != nil {
		return Identity{}, fmt.Errorf("generate uuid v7: %w", err)
	}

	now := r.now().UTC()
	identity := Identity{Email: email, Role: RoleAdmin, Active: true}
	err = r.db.QueryRowContext(ctx, `
		INSERT INTO users (id, email, name, role, active, password_hash, created_at, updated_at)
		VALUES ($1, $2, $3, $4, TRUE, $5, $6, $6)
		ON CONFLICT (email) DO UPDATE
		SET role = EXCLUDED.role, active = TRUE, password_hash = EXCLUDED.password_hash, updated_at = EXCLUDED.updated_at
		RETURNING id, name, created_at, updated_at
	`, id.String(), email, "Administrator", string(RoleAdmin), passwordHash, now).Scan(&identity.ID, &identity.Name, &identity.CreatedAt, &identity.UpdatedAt)
	if err != nil {
		return Identity{}, fmt.Errorf("upsert admin user: %w", err)
	}

	return identity, nil
}
