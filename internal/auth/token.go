package auth

import (
	"errors"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"github.com/jjudge-oj/authserver/types"
)

const (
	DefaultAccessTTL  = 2 * time.Hour
	DefaultRefreshTTL = 48 * time.Hour
)

// Keys are the two independently rotatable signing secrets and the lifetime
// of the tokens each one signs.
type Keys struct {
	AccessSecret  []byte
	RefreshSecret []byte
	AccessTTL     time.Duration
	RefreshTTL    time.Duration
}

// Claims is the payload of both access and refresh tokens. Username and Role
// are a snapshot taken at issuance.
type Claims struct {
	Username string     `json:"username"`
	Role     types.Role `json:"role"`
	jwt.RegisteredClaims
}

// TokenPair bundles a short-lived access token and a long-lived refresh token.
type TokenPair struct {
	AccessToken  string
	RefreshToken string
}

// Codec signs and verifies HS256 tokens. It never reads global state; both
// secrets arrive through Keys.
type Codec struct {
	keys Keys
	now  func() time.Time
}

type CodecOption func(*Codec)

// WithClock overrides the time source used for issuing and expiry checks.
func WithClock(now func() time.Time) CodecOption {
	return func(c *Codec) {
		c.now = now
	}
}

func NewCodec(keys Keys, opts ...CodecOption) (*Codec, error) {
	if len(keys.AccessSecret) == 0 || len(keys.RefreshSecret) == 0 {
		return nil, errors.New("access and refresh secrets are required")
	}
	if string(keys.AccessSecret) == string(keys.RefreshSecret) {
		return nil, errors.New("access and refresh secrets must differ")
	}
	if keys.AccessTTL <= 0 {
		keys.AccessTTL = DefaultAccessTTL
	}
	if keys.RefreshTTL <= 0 {
		keys.RefreshTTL = DefaultRefreshTTL
	}

	c := &Codec{keys: keys, now: time.Now}
	for _, opt := range opts {
		opt(c)
	}
	return c, nil
}

// IssuePair signs the user's identity twice, once per secret and lifetime.
func (c *Codec) IssuePair(user types.User) (TokenPair, error) {
	now := c.now()
	access, err := c.sign(user, c.keys.AccessSecret, now, c.keys.AccessTTL)
	if err != nil {
		return TokenPair{}, err
	}
	refresh, err := c.sign(user, c.keys.RefreshSecret, now, c.keys.RefreshTTL)
	if err != nil {
		return TokenPair{}, err
	}
	return TokenPair{AccessToken: access, RefreshToken: refresh}, nil
}

// VerifyAccess checks an access token. Every failure is ErrTokenInvalid.
func (c *Codec) VerifyAccess(token string) (*Claims, error) {
	return c.verify(token, c.keys.AccessSecret)
}

// VerifyRefresh checks a refresh token. Every failure is ErrTokenInvalid.
func (c *Codec) VerifyRefresh(token string) (*Claims, error) {
	return c.verify(token, c.keys.RefreshSecret)
}

func (c *Codec) sign(user types.User, secret []byte, now time.Time, ttl time.Duration) (string, error) {
	claims := Claims{
		Username: user.Username,
		Role:     user.Role,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   user.ID,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
			ID:        uuid.NewString(),
		},
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return token.SignedString(secret)
}

func (c *Codec) verify(tokenString string, secret []byte) (*Claims, error) {
	claims := &Claims{}
	token, err := jwt.ParseWithClaims(tokenString, claims, func(token *jwt.Token) (any, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, errors.New("invalid signing method")
		}
		return secret, nil
	},
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithExpirationRequired(),
		jwt.WithTimeFunc(c.now),
	)
	if err != nil || !token.Valid {
		return nil, ErrTokenInvalid
	}
	if strings.TrimSpace(claims.Subject) == "" || !claims.Role.Valid() {
		return nil, ErrTokenInvalid
	}
	return claims, nil
}
