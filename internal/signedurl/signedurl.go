// Package signedurl issues and verifies the HMAC-signed tokens attached to
// time-limited object read/upload URLs.
//
// Tokens are a base64url(JSON payload) + base64url(HMAC-SHA256) pair.
// The role claim is stripped before signing so a token minted from an
// authenticated session can never be replayed as a privilege escalation.
package signedurl

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"
)

// Payload is the set of claims embedded in a signed URL token.
type Payload struct {
	URL             string         `json:"url"`
	Owner           string         `json:"owner,omitempty"`
	Upsert          bool           `json:"upsert,omitempty"`
	Transformations map[string]any `json:"transformations,omitempty"`
	Exp             int64          `json:"exp"`

	// Role is accepted on input structs built by callers but is never
	// written into the signed token: see stripRole.
	Role string `json:"-"`
}

var ErrInvalidToken = errors.New("signedurl: invalid token")
var ErrExpiredToken = errors.New("signedurl: token expired")

// Sign produces a "payload.signature" token for p, signed with secret.
// Role is intentionally excluded from the signed bytes: a caller who can
// only mint read/upload tokens must never be able to embed a privileged
// role by controlling payload fields, since the signature would otherwise
// vouch for it.
func Sign(secret []byte, p Payload, ttl time.Duration) (string, error) {
	if len(secret) == 0 {
		return "", errors.New("signedurl: signing secret is required")
	}
	signable := p
	signable.Role = ""
	if p.Exp == 0 {
		signable.Exp = time.Now().Add(ttl).Unix()
	}

	raw, err := json.Marshal(signable)
	if err != nil {
		return "", fmt.Errorf("signedurl: marshal payload: %w", err)
	}
	encoded := base64.RawURLEncoding.EncodeToString(raw)

	h := hmac.New(sha256.New, secret)
	h.Write([]byte(encoded))
	sig := base64.RawURLEncoding.EncodeToString(h.Sum(nil))

	return encoded + "." + sig, nil
}

// Verify checks the token's signature and expiry against any of the keys
// in validKeys (plural to support key rotation), returning the decoded
// payload on success.
func Verify(validKeys [][]byte, token string) (*Payload, error) {
	idx := strings.LastIndexByte(token, '.')
	if idx < 0 {
		return nil, ErrInvalidToken
	}
	encoded, sig := token[:idx], token[idx+1:]

	var ok bool
	for _, key := range validKeys {
		h := hmac.New(sha256.New, key)
		h.Write([]byte(encoded))
		expected := base64.RawURLEncoding.EncodeToString(h.Sum(nil))
		if hmac.Equal([]byte(expected), []byte(sig)) {
			ok = true
			break
		}
	}
	if !ok {
		return nil, ErrInvalidToken
	}

	raw, err := base64.RawURLEncoding.DecodeString(encoded)
	if err != nil {
		return nil, ErrInvalidToken
	}
	var p Payload
	if err := json.Unmarshal(raw, &p); err != nil {
		return nil, ErrInvalidToken
	}
	if time.Now().Unix() > p.Exp {
		return nil, ErrExpiredToken
	}
	return &p, nil
}
