package auth

import (
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

const (
	defaultTokenTTL = 12 * time.Hour
	audienceAPI     = "steeple-api"
)

var (
	errMissingSigningSecret = errors.New("signing secret must be provided")
	errMissingPersonID      = errors.New("person identifier must be provided")
	// ErrInvalidSessionToken covers malformed, mis-signed, or expired tokens.
	ErrInvalidSessionToken = errors.New("auth: invalid session token")
)

// SessionClaims is the validated payload of a session token.
type SessionClaims struct {
	PersonID       int
	PrimaryAliasID int
}

// TokenIssuerConfig configures the session JWT issuer.
type TokenIssuerConfig struct {
	SigningSecret []byte
	Issuer        string
	TokenTTL      time.Duration
	Clock         func() time.Time
}

// TokenIssuer issues and validates HS256 session tokens.
type TokenIssuer struct {
	config TokenIssuerConfig
	clock  func() time.Time
}

// NewTokenIssuer constructs a TokenIssuer with sane defaults.
func NewTokenIssuer(cfg TokenIssuerConfig) *TokenIssuer {
	ttl := cfg.TokenTTL
	if ttl <= 0 {
		ttl = defaultTokenTTL
	}
	clock := cfg.Clock
	if clock == nil {
		clock = time.Now
	}
	return &TokenIssuer{
		config: TokenIssuerConfig{
			SigningSecret: cfg.SigningSecret,
			Issuer:        cfg.Issuer,
			TokenTTL:      ttl,
			Clock:         clock,
		},
		clock: clock,
	}
}

type sessionTokenClaims struct {
	AliasID int `json:"alias_id"`
	jwt.RegisteredClaims
}

// IssueSessionToken produces a signed JWT and its expiry in seconds for the
// authenticated person.
func (i *TokenIssuer) IssueSessionToken(person Person) (string, int64, error) {
	if len(i.config.SigningSecret) == 0 {
		return "", 0, errMissingSigningSecret
	}
	if person.ID == 0 {
		return "", 0, errMissingPersonID
	}

	now := i.clock().UTC()
	expiresAt := now.Add(i.config.TokenTTL).UTC()

	claims := sessionTokenClaims{
		AliasID: person.PrimaryAliasID,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   strconv.Itoa(person.ID),
			Issuer:    i.config.Issuer,
			Audience:  []string{audienceAPI},
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(expiresAt),
		},
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString(i.config.SigningSecret)
	if err != nil {
		return "", 0, fmt.Errorf("auth: signing session token: %w", err)
	}
	return signed, int64(i.config.TokenTTL.Seconds()), nil
}

// ValidateToken parses a session token and returns its claims.
func (i *TokenIssuer) ValidateToken(rawToken string) (SessionClaims, error) {
	if len(i.config.SigningSecret) == 0 {
		return SessionClaims{}, errMissingSigningSecret
	}

	claims := &sessionTokenClaims{}
	token, err := jwt.ParseWithClaims(
		rawToken,
		claims,
		func(token *jwt.Token) (any, error) {
			if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
				return nil, fmt.Errorf("unexpected signing method %v", token.Header["alg"])
			}
			return i.config.SigningSecret, nil
		},
		jwt.WithIssuer(i.config.Issuer),
		jwt.WithAudience(audienceAPI),
		jwt.WithTimeFunc(i.clock),
	)
	if err != nil || !token.Valid {
		return SessionClaims{}, fmt.Errorf("%w: %v", ErrInvalidSessionToken, err)
	}

	personID, err := strconv.Atoi(claims.Subject)
	if err != nil || personID == 0 {
		return SessionClaims{}, fmt.Errorf("%w: bad subject", ErrInvalidSessionToken)
	}

	return SessionClaims{PersonID: personID, PrimaryAliasID: claims.AliasID}, nil
}
