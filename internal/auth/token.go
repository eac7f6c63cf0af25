package auth

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

const (
	defaultAccessTTL  = 7 * 24 * time.Hour
	defaultRefreshTTL = 30 * 24 * time.Hour
)

type TokenConfig struct {
	AccessSecret  string
	RefreshSecret string
	AccessTTL     time.Duration
	RefreshTTL    time.Duration
}

// Claims is the signed payload of both token classes: {"id", "iat", "exp"}. The
// classes differ only in the secret that verifies them.
type Claims struct {
	ID string `json:"id"`
	jwt.RegisteredClaims
}

type TokenCodec struct {
	accessSecret  []byte
	refreshSecret []byte
	accessTTL     time.Duration
	refreshTTL    time.Duration
	now           func() time.Time
}

// DeriveRefreshSecret returns the development fallback refresh secret for an access
// secret. Production deployments must configure an independent secret.
func DeriveRefreshSecret(accessSecret string) string {
	mac := hmac.New(sha256.New, []byte(accessSecret))
	mac.Write([]byte("refresh-token"))
	return hex.EncodeToString(mac.Sum(nil))
}

func NewTokenCodec(cfg TokenConfig) (*TokenCodec, error) {
	access := strings.TrimSpace(cfg.AccessSecret)
	if access == "" {
		return nil, errors.New("access token secret is required")
	}
	refresh := strings.TrimSpace(cfg.RefreshSecret)
	if refresh == "" {
		refresh = DeriveRefreshSecret(access)
	}
	if refresh == access {
		return nil, errors.New("refresh token secret must differ from access token secret")
	}

	codec := &TokenCodec{
		accessSecret:  []byte(access),
		refreshSecret: []byte(refresh),
		accessTTL:     defaultAccessTTL,
		refreshTTL:    defaultRefreshTTL,
		now:           time.Now,
	}
	if cfg.AccessTTL > 0 {
		codec.accessTTL = cfg.AccessTTL
	}
	if cfg.RefreshTTL > 0 {
		codec.refreshTTL = cfg.RefreshTTL
	}
	if codec.refreshTTL <= codec.accessTTL {
		return nil, fmt.Errorf("refresh token ttl (%s) must exceed access token ttl (%s)", codec.refreshTTL, codec.accessTTL)
	}

	return codec, nil
}

func (c *TokenCodec) AccessTTL() time.Duration { return c.accessTTL }

func (c *TokenCodec) IssueAccessToken(identityID string) (string, error) {
	return c.issue(identityID, c.accessSecret, c.accessTTL)
}

func (c *TokenCodec) IssueRefreshToken(identityID string) (string, error) {
	return c.issue(identityID, c.refreshSecret, c.refreshTTL)
}

func (c *TokenCodec) IssuePair(identityID string) (TokenPair, error) {
	access, err := c.IssueAccessToken(identityID)
	if err != nil {
		return TokenPair{}, err
	}
	refresh, err := c.IssueRefreshToken(identityID)
	if err != nil {
		return TokenPair{}, err
	}

	return TokenPair{
		AccessToken:  access,
		RefreshToken: refresh,
		TokenType:    "Bearer",
		ExpiresIn:    int64(c.accessTTL.Seconds()),
	}, nil
}

func (c *TokenCodec) VerifyAccess(token string) (Claims, error) {
	return c.verify(token, c.accessSecret)
}

func (c *TokenCodec) VerifyRefresh(token string) (Claims, error) {
	return c.verify(token, c.refreshSecret)
}

func (c *TokenCodec) issue(identityID string, secret []byte, ttl time.Duration) (string, error) {
	if identityID == "" {
		return "", errors.New("identity id is required")
	}

	now := c.now().UTC()
	claims := Claims{
		ID: identityID,
		RegisteredClaims: jwt.RegisteredClaims{
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
		},
	}

	encoded, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(secret)
	if err != nil {
		return "", fmt.Errorf("sign jwt: %w", err)
	}
	return encoded, nil
}

// verify has no leeway: a token is expired the second its exp passes.
func (c *TokenCodec) verify(raw string, secret []byte) (Claims, error) {
	var claims Claims
	token, err := jwt.ParseWithClaims(raw, &claims, func(token *jwt.Token) (any, error) {
		return secret, nil
	},
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithExpirationRequired(),
		jwt.WithTimeFunc(c.now),
	)
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return Claims{}, ErrTokenExpired
		}
		return Claims{}, ErrInvalidToken
	}
	if !token.Valid || claims.ID == "" {
		return Claims{}, ErrInvalidToken
	}

	return claims, nil
}
