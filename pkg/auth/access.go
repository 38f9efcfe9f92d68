package auth

import (
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// DefaultAccessTTL is the lifetime of an access token
const DefaultAccessTTL = 15 * time.Minute

// ErrInvalidAccessToken is returned when an access token fails validation
var ErrInvalidAccessToken = errors.New("invalid access token")

// AccessClaims are the claims carried by an access token
type AccessClaims struct {
	Email string `json:"email"`
	jwt.RegisteredClaims
}

// UserID returns the subject as a user id
func (c *AccessClaims) UserID() (int64, error) {
	return strconv.ParseInt(c.Subject, 10, 64)
}

// AccessTokenIssuer signs and parses HS256 access tokens
type AccessTokenIssuer struct {
	secret []byte
	issuer string
	ttl    time.Duration
	now    func() time.Time
}

// NewAccessTokenIssuer creates an issuer. A zero ttl selects DefaultAccessTTL.
func NewAccessTokenIssuer(secret, issuer string, ttl time.Duration) (*AccessTokenIssuer, error) {
	if len(secret) < 32 {
		return nil, fmt.Errorf("access token secret must be at least 32 bytes")
	}
	if ttl <= 0 {
		ttl = DefaultAccessTTL
	}
	return &AccessTokenIssuer{
		secret: []byte(secret),
		issuer: issuer,
		ttl:    ttl,
		now:    time.Now,
	}, nil
}

// WithClock replaces the time source used for issuing and validating
func (i *AccessTokenIssuer) WithClock(now func() time.Time) *AccessTokenIssuer {
	i.now = now
	return i
}

// TTL returns the access token lifetime
func (i *AccessTokenIssuer) TTL() time.Duration {
	return i.ttl
}

// Issue signs an access token for user
func (i *AccessTokenIssuer) Issue(user *User) (string, time.Time, error) {
	now := i.now().UTC()
	expiresAt := now.Add(i.ttl)

	claims := &AccessClaims{
		Email: user.Email,
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    i.issuer,
			Subject:   strconv.FormatInt(user.ID, 10),
			IssuedAt:  jwt.NewNumericDate(now),
			NotBefore: jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(expiresAt),
		},
	}

	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(i.secret)
	if err != nil {
		return "", time.Time{}, fmt.Errorf("failed to sign access token: %w", err)
	}
	return signed, expiresAt, nil
}

// Parse validates an access token and returns its claims
func (i *AccessTokenIssuer) Parse(token string) (*AccessClaims, error) {
	claims := &AccessClaims{}
	parsed, err := jwt.ParseWithClaims(token, claims, func(t *jwt.Token) (any, error) {
		return i.secret, nil
	},
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithIssuer(i.issuer),
		jwt.WithTimeFunc(i.now),
	)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidAccessToken, err)
	}
	if !parsed.Valid {
		return nil, ErrInvalidAccessToken
	}
	return claims, nil
}
