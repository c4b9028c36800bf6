package security

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"strconv"
	"time"

	"github.com/viralforge/cashback-activation-service/internal/domain"
	"github.com/viralforge/cashback-activation-service/internal/ports"
)

// HMACAuthenticator verifies HMAC-SHA256 signatures over "subject|product|timestamp".
type HMACAuthenticator struct {
	secret []byte
	window time.Duration
}

func NewHMACAuthenticator(secret string, window time.Duration) (*HMACAuthenticator, error) {
	if secret == "" {
		return nil, errors.New("hmac secret is required")
	}
	if window <= 0 {
		window = 5 * time.Minute
	}
	return &HMACAuthenticator{secret: []byte(secret), window: window}, nil
}

// Sign returns the lowercase hex signature a client is expected to send.
func (a *HMACAuthenticator) Sign(subjectID, productID string, timestampMillis int64) string {
	return a.signRaw([]byte(signingPayload(subjectID, productID, timestampMillis)))
}

func (a *HMACAuthenticator) signRaw(payload []byte) string {
	mac := hmac.New(sha256.New, a.secret)
	mac.Write(payload)
	return hex.EncodeToString(mac.Sum(nil))
}

func (a *HMACAuthenticator) Authenticate(req ports.SignedRequest, now time.Time) error {
	provided, err := hex.DecodeString(req.Signature)
	if err != nil || len(provided) != sha256.Size {
		return domain.ErrAuthInvalid
	}

	mac := hmac.New(sha256.New, a.secret)
	mac.Write([]byte(signingPayload(req.SubjectID, req.ProductID, req.TimestampMillis)))
	if !hmac.Equal(provided, mac.Sum(nil)) {
		return domain.ErrAuthInvalid
	}

	skew := now.Sub(time.UnixMilli(req.TimestampMillis))
	if skew < 0 {
		skew = -skew
	}
	if skew > a.window {
		return domain.ErrAuthExpired
	}
	return nil
}

// VerifyBody checks a hex HMAC-SHA256 over a raw payload. Used for purchase webhooks.
func (a *HMACAuthenticator) VerifyBody(body []byte, signature string) error {
	provided, err := hex.DecodeString(signature)
	if err != nil || len(provided) != sha256.Size {
		return domain.ErrAuthInvalid
	}
	mac := hmac.New(sha256.New, a.secret)
	mac.Write(body)
	if !hmac.Equal(provided, mac.Sum(nil)) {
		return domain.ErrAuthInvalid
	}
	return nil
}

func signingPayload(subjectID, productID string, timestampMillis int64) string {
	return subjectID + "|" + productID + "|" + strconv.FormatInt(timestampMillis, 10)
}
