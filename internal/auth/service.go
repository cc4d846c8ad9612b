package auth

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/parishlabs/steeple/internal/cache"
	"github.com/parishlabs/steeple/internal/rock"
)

const personCacheTTL = 5 * time.Minute

var (
	errMissingRockClient  = errors.New("auth: rock client is required")
	errMissingTokenIssuer = errors.New("auth: token issuer is required")
	// ErrBadCredentials indicates the upstream rejected a login attempt.
	ErrBadCredentials = errors.New("auth: bad credentials")
)

// ServiceConfig describes the dependencies of the auth service.
type ServiceConfig struct {
	Rock   *rock.Client
	Tokens *TokenIssuer
	Cache  *cache.Store
	Logger *zap.Logger
}

// Service authenticates people against the upstream system and resolves the
// person behind a validated session token.
type Service struct {
	rock   *rock.Client
	tokens *TokenIssuer
	cache  *cache.Store
	logger *zap.Logger
}

// NewService constructs the auth service with validated configuration.
func NewService(cfg ServiceConfig) (*Service, error) {
	if cfg.Rock == nil {
		return nil, errMissingRockClient
	}
	if cfg.Tokens == nil {
		return nil, errMissingTokenIssuer
	}
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Service{
		rock:   cfg.Rock,
		tokens: cfg.Tokens,
		cache:  cfg.Cache,
		logger: logger,
	}, nil
}

// Authenticate checks credentials upstream and returns a session token plus
// its lifetime in seconds.
func (s *Service) Authenticate(ctx context.Context, username, password string) (string, int64, error) {
	if _, err := s.rock.Post(ctx, "Auth/Login", map[string]any{
		"Username": username,
		"Password": password,
	}); err != nil {
		var requestErr *rock.RequestError
		if errors.As(err, &requestErr) && requestErr.Status >= 400 && requestErr.Status < 500 {
			return "", 0, ErrBadCredentials
		}
		return "", 0, err
	}

	login, err := s.rock.Request("UserLogins").
		Filter(fmt.Sprintf("UserName eq '%s'", username)).
		Expand("Person").
		First(ctx)
	if err != nil {
		return "", 0, err
	}
	if login == nil {
		return "", 0, ErrBadCredentials
	}

	person, err := s.PersonByID(ctx, login.Int("PersonId"))
	if err != nil {
		return "", 0, err
	}

	s.logger.Info("session issued", zap.Int("person_id", person.ID))
	return s.issue(person)
}

// PersonFromToken validates a session token and loads the person it names.
func (s *Service) PersonFromToken(ctx context.Context, rawToken string) (Person, error) {
	claims, err := s.tokens.ValidateToken(rawToken)
	if err != nil {
		return Person{}, err
	}
	return s.PersonByID(ctx, claims.PersonID)
}

// PersonByID loads a person record, briefly cached to keep feed assembly from
// re-fetching the same person on every branch.
func (s *Service) PersonByID(ctx context.Context, personID int) (Person, error) {
	if personID == 0 {
		return Person{}, ErrAuthenticationRequired
	}

	key := cache.NewKey("person", personID)
	if s.cache != nil {
		if cached, ok := s.cache.Get(key).(Person); ok {
			return cached, nil
		}
	}

	record, err := s.rock.GetOne(ctx, fmt.Sprintf("People/%d", personID))
	if err != nil {
		return Person{}, err
	}

	person := Person{
		ID:             record.Int("Id"),
		PrimaryAliasID: record.Int("PrimaryAliasId"),
		FirstName:      record.String("FirstName"),
		LastName:       record.String("LastName"),
		Email:          record.String("Email"),
	}
	if s.cache != nil {
		s.cache.Set(key, person, personCacheTTL)
	}
	return person, nil
}

func (s *Service) issue(person Person) (string, int64, error) {
	return s.tokens.IssueSessionToken(person)
}
