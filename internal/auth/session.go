package auth

// SessionAuthenticator adapts a TokenService to the narrow
// (token string) -> (subject string, err error) shape the transport
// package's provisioning handshake expects, without transport needing to
// import this package.
type SessionAuthenticator struct {
	tokens *TokenService
}

// NewSessionAuthenticator wraps tokens for use as a provisioning-time
// Authenticator.
func NewSessionAuthenticator(tokens *TokenService) *SessionAuthenticator {
	return &SessionAuthenticator{tokens: tokens}
}

// Authenticate verifies token and returns the session subject it was
// issued to.
func (a *SessionAuthenticator) Authenticate(token string) (string, error) {
	claims, err := a.tokens.Verify(token)
	if err != nil {
		return "", err
	}
	return claims.Username(), nil
}
