// Package identity maps opaque caller credentials to stable internal user
// ids, and fingerprints unauthenticated callers so anonymous askers can be
// matched back to their own threads.
package identity

import (
	"context"
	"errors"
	"fmt"

	"github.com/golang-jwt/jwt/v5"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/momo/pkg/models"
)

// ErrUnresolved means the credential did not map to a known user.
var ErrUnresolved = errors.New("credential did not resolve to a user")

// Resolver maps an opaque caller credential to a stable internal user id.
type Resolver interface {
	Resolve(ctx context.Context, credential string) (string, error)
}

// JWTResolver validates a bearer JWT issued by the identity provider and
// resolves its subject to our user id.
type JWTResolver struct {
	pool   *pgxpool.Pool
	secret []byte
}

// NewJWTResolver creates a resolver verifying HS256 tokens with the given
// shared secret.
func NewJWTResolver(pool *pgxpool.Pool, secret string) *JWTResolver {
	return &JWTResolver{pool: pool, secret: []byte(secret)}
}

func (r *JWTResolver) Resolve(ctx context.Context, credential string) (string, error) {
	token, err := jwt.Parse(credential, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
		}
		return r.secret, nil
	})
	if err != nil || !token.Valid {
		return "", ErrUnresolved
	}

	subject, err := token.Claims.GetSubject()
	if err != nil || subject == "" {
		return "", ErrUnresolved
	}

	var userID string
	err = r.pool.QueryRow(ctx, `SELECT id FROM users WHERE external_id = $1`, subject).Scan(&userID)
	if errors.Is(err, pgx.ErrNoRows) {
		return "", ErrUnresolved
	}
	if err != nil {
		return "", fmt.Errorf("resolve user by subject: %w", err)
	}
	return userID, nil
}

// Users looks up account rows for the board and the notification pipeline.
type Users struct {
	pool *pgxpool.Pool
}

// NewUsers creates a user lookup over the pool.
func NewUsers(pool *pgxpool.Pool) *Users {
	return &Users{pool: pool}
}

// ByID returns the user or ErrUnresolved.
func (u *Users) ByID(ctx context.Context, id string) (*models.User, error) {
	return u.one(ctx, `SELECT id, external_id, email, handle, name, avatar_url, avatar_type, created_at, updated_at
		FROM users WHERE id = $1`, id)
}

// ByHandle returns the user owning the given board handle, or ErrUnresolved.
func (u *Users) ByHandle(ctx context.Context, handle string) (*models.User, error) {
	return u.one(ctx, `SELECT id, external_id, email, handle, name, avatar_url, avatar_type, created_at, updated_at
		FROM users WHERE handle = $1`, handle)
}

func (u *Users) one(ctx context.Context, query string, arg any) (*models.User, error) {
	var m models.User
	err := u.pool.QueryRow(ctx, query, arg).Scan(
		&m.ID, &m.ExternalID, &m.Email, &m.Handle, &m.Name, &m.AvatarURL, &m.AvatarType, &m.CreatedAt, &m.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrUnresolved
	}
	if err != nil {
		return nil, fmt.Errorf("look up user: %w", err)
	}
	return &m, nil
}
