package auth

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"
	"golang.org/x/crypto/bcrypt"
)

// PrincipalStore abstracts DB queries for testability.
type PrincipalStore interface {
	LookupByPrefix(ctx context.Context, prefix string) (*principalRow, error)
}

type principalRow struct {
	PrincipalID string
	APIKeyHash  string
	Role        string
	Disabled    bool
}

// sqlPrincipalStore reads the registry_principals table.
type sqlPrincipalStore struct {
	db *sql.DB
}

func (s *sqlPrincipalStore) LookupByPrefix(ctx context.Context, prefix string) (*principalRow, error) {
	row := &principalRow{}
	err := s.db.QueryRowContext(ctx,
		`SELECT id, api_key_hash, role, disabled
		 FROM registry_principals
		 WHERE api_key_prefix = $1`,
		prefix,
	).Scan(&row.PrincipalID, &row.APIKeyHash, &row.Role, &row.Disabled)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrInvalidAPIKey
		}
		return nil, fmt.Errorf("sqlPrincipalStore.LookupByPrefix: %w", err)
	}
	return row, nil
}

// PostgresAuthenticator validates API keys against registry_principals.
// Results are cached so the hot path skips the DB and bcrypt. Any failure
// rejects the request.
type PostgresAuthenticator struct {
	store  PrincipalStore
	cache  *AuthCache
	logger *zap.Logger
}

// PostgresAuthConfig configures the PostgresAuthenticator.
type PostgresAuthConfig struct {
	DB       *sql.DB
	CacheTTL time.Duration
	Logger   *zap.Logger
}

// NewPostgresAuthenticator creates a new PostgresAuthenticator.
func NewPostgresAuthenticator(cfg PostgresAuthConfig) *PostgresAuthenticator {
	ttl := cfg.CacheTTL
	if ttl == 0 {
		ttl = 30 * time.Second
	}
	return newPostgresAuthenticatorWithStore(&sqlPrincipalStore{db: cfg.DB}, NewAuthCache(ttl), cfg.Logger)
}

func newPostgresAuthenticatorWithStore(store PrincipalStore, cache *AuthCache, logger *zap.Logger) *PostgresAuthenticator {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &PostgresAuthenticator{
		store:  store,
		cache:  cache,
		logger: logger,
	}
}

func (a *PostgresAuthenticator) Authenticate(ctx context.Context) (*Principal, error) {
	token, err := ExtractBearerToken(ctx)
	if err != nil {
		return nil, err
	}

	cacheResult := a.cache.Get(token)
	if cacheResult.Hit {
		if cacheResult.NeedsRefresh {
			go a.refreshInBackground(token)
		}
		return cacheResult.Principal, nil
	}

	p, err := a.authenticateFromDB(ctx, token)
	if err != nil {
		return nil, fmt.Errorf("Authenticate: %w", err)
	}

	a.cache.Set(token, p)
	return p, nil
}

func (a *PostgresAuthenticator) authenticateFromDB(ctx context.Context, token string) (*Principal, error) {
	row, err := a.store.LookupByPrefix(ctx, token[:prefixLen])
	if err != nil {
		return nil, err
	}
	if row.Disabled {
		return nil, ErrInvalidAPIKey
	}
	if err := bcrypt.CompareHashAndPassword([]byte(row.APIKeyHash), []byte(token)); err != nil {
		return nil, ErrInvalidAPIKey
	}
	role, ok := ParseRole(row.Role)
	if !ok {
		a.logger.Warn("principal has unknown role",
			zap.String("principal_id", row.PrincipalID),
			zap.String("role", row.Role),
		)
		return nil, ErrPermissionDenied
	}
	return &Principal{ID: row.PrincipalID, Role: role}, nil
}

func (a *PostgresAuthenticator) refreshInBackground(token string) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	p, err := a.authenticateFromDB(ctx, token)
	if err != nil {
		// A key that stopped validating must not keep serving from cache.
		if errors.Is(err, ErrInvalidAPIKey) || errors.Is(err, ErrPermissionDenied) {
			a.cache.Delete(token)
		}
		a.logger.Warn("background auth refresh failed", zap.Error(err))
		return
	}
	a.cache.Set(token, p)
}
