package auth

import "context"

// StaticAuthenticator is a development-only authenticator that accepts any
// csk_ key and grants it a fixed role.
type StaticAuthenticator struct {
	role Role
}

func NewStaticAuthenticator(role Role) *StaticAuthenticator {
	if role == "" {
		role = RoleAdmin
	}
	return &StaticAuthenticator{role: role}
}

func (a *StaticAuthenticator) Authenticate(ctx context.Context) (*Principal, error) {
	token, err := ExtractBearerToken(ctx)
	if err != nil {
		return nil, err
	}
	return &Principal{
		ID:   "static-" + token[:prefixLen],
		Role: a.role,
	}, nil
}
