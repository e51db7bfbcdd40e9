// Package writekey issues and validates the signed keys trackers send with ingest requests.
package writekey

import (
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

var (
	// ErrInvalidKey is returned for keys that are malformed, forged or issued elsewhere
	ErrInvalidKey = errors.New("invalid write key")

	// ErrKeyExpired is returned for keys past their expiry
	ErrKeyExpired = errors.New("write key expired")
)

// Claims identifies the project a key writes to
type Claims struct {
	Project string `json:"project"`
	jwt.RegisteredClaims
}

// Keys signs and verifies write keys with a shared HMAC secret
type Keys struct {
	secret []byte
	issuer string
	now    func() time.Time
}

// New creates a key service. Keys issued by another issuer are rejected.
func New(secret, issuer string) (*Keys, error) {
	if secret == "" {
		return nil, errors.New("write key secret is required")
	}
	return &Keys{secret: []byte(secret), issuer: issuer, now: time.Now}, nil
}

// Issue signs a key for project. A zero ttl issues a key without expiry.
func (k *Keys) Issue(project string, ttl time.Duration) (string, error) {
	if project == "" {
		return "", errors.New("project is required")
	}

	now := k.now()
	claims := &Claims{
		Project: project,
		RegisteredClaims: jwt.RegisteredClaims{
			ID:       uuid.NewString(),
			Issuer:   k.issuer,
			Subject:  project,
			IssuedAt: jwt.NewNumericDate(now),
		},
	}
	if ttl > 0 {
		claims.ExpiresAt = jwt.NewNumericDate(now.Add(ttl))
	}

	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(k.secret)
	if err != nil {
		return "", fmt.Errorf("failed to sign write key: %w", err)
	}
	return signed, nil
}

// Validate verifies the signature, issuer and expiry of a key
func (k *Keys) Validate(key string) (*Claims, error) {
	claims := &Claims{}
	token, err := jwt.ParseWithClaims(key, claims, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
		}
		return k.secret, nil
	},
		jwt.WithIssuer(k.issuer),
		jwt.WithTimeFunc(k.now),
	)
	if errors.Is(err, jwt.ErrTokenExpired) {
		return nil, ErrKeyExpired
	}
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidKey, err)
	}
	if !token.Valid || claims.Project == "" {
		return nil, ErrInvalidKey
	}
	return claims, nil
}
