package ports

import "time"

type SignedRequest struct {
	SubjectID string
	ProductID string
	// TimestampMillis is the client clock in epoch milliseconds.
	TimestampMillis int64
	Signature       string
}

// RequestAuthenticator verifies the shared-secret signature on activation requests.
type RequestAuthenticator interface {
	Authenticate(req SignedRequest, now time.Time) error
}

type RedirectClaims struct {
	ActivationID string
	ProductID    string
	TokenID      string
	IssuedAt     time.Time
	ExpiresAt    time.Time
}

// RedirectTokenService issues and verifies short-lived redirect tokens.
type RedirectTokenService interface {
	Issue(activationID, productID string, now time.Time) (string, RedirectClaims, error)
	// Verify returns domain.ErrTokenExpired or domain.ErrTokenInvalid on failure.
	Verify(token string, now time.Time) (RedirectClaims, error)
}
