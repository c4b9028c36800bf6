package security

import (
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"

	"github.com/viralforge/cashback-activation-service/internal/domain"
	"github.com/viralforge/cashback-activation-service/internal/ports"
)

const redirectTokenType = "redirect"

// RedirectTokenSigner implements HS256 redirect tokens bound to one activation.
type RedirectTokenSigner struct {
	secret []byte
	ttl    time.Duration
}

func NewRedirectTokenSigner(secret string, ttl time.Duration) (*RedirectTokenSigner, error) {
	if secret == "" {
		return nil, errors.New("jwt secret is required")
	}
	if ttl <= 0 {
		ttl = 5 * time.Minute
	}
	return &RedirectTokenSigner{secret: []byte(secret), ttl: ttl}, nil
}

type redirectJWTClaims struct {
	Type         string `json:"type"`
	ActivationID string `json:"activation_id"`
	ProductID    string `json:"product_id"`
	jwt.RegisteredClaims
}

func (s *RedirectTokenSigner) Issue(activationID, productID string, now time.Time) (string, ports.RedirectClaims, error) {
	issuedAt := now.UTC().Truncate(time.Second)
	claims := ports.RedirectClaims{
		ActivationID: activationID,
		ProductID:    productID,
		TokenID:      uuid.NewString(),
		IssuedAt:     issuedAt,
		ExpiresAt:    issuedAt.Add(s.ttl),
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, redirectJWTClaims{
		Type:         redirectTokenType,
		ActivationID: activationID,
		ProductID:    productID,
		RegisteredClaims: jwt.RegisteredClaims{
			ID:        claims.TokenID,
			IssuedAt:  jwt.NewNumericDate(claims.IssuedAt),
			ExpiresAt: jwt.NewNumericDate(claims.ExpiresAt),
		},
	})
	signed, err := token.SignedString(s.secret)
	if err != nil {
		return "", ports.RedirectClaims{}, fmt.Errorf("sign redirect token: %w", err)
	}
	return signed, claims, nil
}

func (s *RedirectTokenSigner) Verify(raw string, now time.Time) (ports.RedirectClaims, error) {
	parsed, err := jwt.ParseWithClaims(raw, &redirectJWTClaims{}, func(token *jwt.Token) (any, error) {
		if token.Method.Alg() != jwt.SigningMethodHS256.Alg() {
			return nil, fmt.Errorf("unexpected signing method: %s", token.Method.Alg())
		}
		return s.secret, nil
	},
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithTimeFunc(func() time.Time { return now }),
		jwt.WithExpirationRequired(),
		jwt.WithIssuedAt(),
	)
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return ports.RedirectClaims{}, domain.ErrTokenExpired
		}
		return ports.RedirectClaims{}, domain.ErrTokenInvalid
	}
	claims, ok := parsed.Claims.(*redirectJWTClaims)
	if !ok || !parsed.Valid || claims.Type != redirectTokenType || claims.ActivationID == "" {
		return ports.RedirectClaims{}, domain.ErrTokenInvalid
	}

	return ports.RedirectClaims{
		ActivationID: claims.ActivationID,
		ProductID:    claims.ProductID,
		TokenID:      claims.ID,
		IssuedAt:     claims.IssuedAt.Time.UTC(),
		ExpiresAt:    claims.ExpiresAt.Time.UTC(),
	}, nil
}
