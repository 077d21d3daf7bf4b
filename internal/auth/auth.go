package auth

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"slices"
	"strings"

	"golang.org/x/crypto/bcrypt"
	"google.golang.org/grpc/metadata"
)

// KeyPrefix starts every registry API key.
const KeyPrefix = "csk_"

// prefixLen is how much of a key is stored in clear for lookup.
const prefixLen = 8

var (
	ErrMissingAPIKey    = errors.New("missing authorization header")
	ErrInvalidAPIKey    = errors.New("invalid API key")
	ErrPermissionDenied = errors.New("permission denied")
)

// Role is what a principal may do with the registry.
type Role string

const (
	RoleWorker       Role = "worker"       // declares its own capabilities
	RoleOrchestrator Role = "orchestrator" // queries only
	RoleAdmin        Role = "admin"
)

// ParseRole resolves a stored role name.
func ParseRole(s string) (Role, bool) {
	switch r := Role(s); r {
	case RoleWorker, RoleOrchestrator, RoleAdmin:
		return r, true
	}
	return "", false
}

// Principal is the authenticated caller.
type Principal struct {
	ID   string
	Role Role
}

// Allowed reports whether the principal holds one of roles.
func (p *Principal) Allowed(roles ...Role) bool {
	return p != nil && slices.Contains(roles, p.Role)
}

// Authenticator validates incoming requests and returns the caller.
type Authenticator interface {
	Authenticate(ctx context.Context) (*Principal, error)
}

// ExtractBearerToken extracts a csk_ API key from gRPC metadata.
func ExtractBearerToken(ctx context.Context) (string, error) {
	md, ok := metadata.FromIncomingContext(ctx)
	if !ok {
		return "", ErrMissingAPIKey
	}
	values := md.Get("authorization")
	if len(values) == 0 {
		return "", ErrMissingAPIKey
	}

	token := values[0]
	// RFC 6750: the "Bearer" scheme is case-insensitive.
	if len(token) > 7 && strings.EqualFold(token[:7], "bearer ") {
		token = token[7:]
	}
	token = strings.TrimSpace(token)

	if !strings.HasPrefix(token, KeyPrefix) || len(token) < prefixLen {
		return "", ErrInvalidAPIKey
	}
	return token, nil
}

// GenerateAPIKey returns a new key, the prefix to store for lookup and the
// bcrypt hash to store for verification.
func GenerateAPIKey() (key, prefix, hash string, err error) {
	raw := make([]byte, 24)
	if _, err := rand.Read(raw); err != nil {
		return "", "", "", fmt.Errorf("GenerateAPIKey: %w", err)
	}
	key = KeyPrefix + hex.EncodeToString(raw)
	h, err := bcrypt.GenerateFromPassword([]byte(key), bcrypt.DefaultCost)
	if err != nil {
		return "", "", "", fmt.Errorf("GenerateAPIKey: %w", err)
	}
	return key, key[:prefixLen], string(h), nil
}
