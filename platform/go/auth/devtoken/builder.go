package devtoken

import (
	"encoding/base64"
	"encoding/json"
	"errors"
	"strings"
	"time"
)

// Params captures the claims required to mint an unsigned JWT for local and
// CI environments. All fields are provided by the caller; no environment
// variables are read so the builder stays deterministic for tooling.
type Params struct {
	UserID        string        // user_id/sub/uid (required)
	Email         string        // email claim (optional)
	Name          string        // display name (optional)
	EmailVerified bool          // email_verified claim
	IsAdmin       bool          // isAdmin custom claim for backend role checks
	ExpiresIn     time.Duration // relative expiry; default 1h if zero
	Issuer        string        // optional; defaults to "palmyra-graph-dev"
}

// BuildUnsignedToken returns a JWT string with alg "none" and no signature.
// The payload mirrors the claims the auth middleware reads so tokens flow
// through UnsignedTokenVerifier unchanged.
func BuildUnsignedToken(p Params, now time.Time) (string, error) {
	if strings.TrimSpace(p.UserID) == "" {
		return "", errors.New("userID is required")
	}

	if now.IsZero() {
		now = time.Now().UTC()
	}

	expiresIn := p.ExpiresIn
	if expiresIn == 0 {
		expiresIn = time.Hour
	}

	issuer := p.Issuer
	if strings.TrimSpace(issuer) == "" {
		issuer = "palmyra-graph-dev"
	}

	payload := map[string]interface{}{
		"iss":            issuer,
		"auth_time":      now.Unix(),
		"user_id":        p.UserID,
		"sub":            p.UserID,
		"iat":            now.Unix(),
		"exp":            now.Add(expiresIn).Unix(),
		"email":          p.Email,
		"email_verified": p.EmailVerified,
		"name":           p.Name,
		"isAdmin":        p.IsAdmin,
	}

	header := map[string]interface{}{
		"alg": "none",
		"typ": "JWT",
	}

	headerSegment, err := encodeSegment(header)
	if err != nil {
		return "", err
	}

	payloadSegment, err := encodeSegment(payload)
	if err != nil {
		return "", err
	}

	return headerSegment + "." + payloadSegment, nil
}

func encodeSegment(v interface{}) (string, error) {
	raw, err := json.Marshal(v)
	if err != nil {
		return "", err
	}
	return base64.RawURLEncoding.EncodeToString(raw), nil
}
