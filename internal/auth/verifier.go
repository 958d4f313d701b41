// Package auth verifies bearer credentials presented to the API.
package auth

import (
	"crypto/hmac"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"
)

// Modes.
const (
	ModeNone  = "none"  // every request is an anonymous admin
	ModeToken = "token" // static tokens from configuration
	ModeHMAC  = "hmac"  // HS256 JWTs
)

var (
	ErrMissingToken = errors.New("missing bearer token")
	ErrInvalidToken = errors.New("invalid token")
)

// Principal is the caller a credential resolved to.
type Principal struct {
	Subject string
	Role    string
}

// IsAdmin reports whether the principal has the admin role.
func (p Principal) IsAdmin() bool { return p.Role == "admin" }

type Verifier struct {
	Mode       string
	HMACSecret []byte
	// Tokens maps a static token to its principal.
	Tokens map[string]Principal
	// now is replaced in tests
	now func() time.Time
}

// NewVerifier builds a verifier. tokens is a comma separated list of token=subject[:role]
// entries used in token mode.
func NewVerifier(mode, hmacSecret, tokens string) (*Verifier, error) {
	mode = strings.ToLower(strings.TrimSpace(mode))
	if mode == "" {
		mode = ModeNone
	}
	v := &Verifier{Mode: mode, HMACSecret: []byte(hmacSecret), Tokens: map[string]Principal{}, now: time.Now}
	switch mode {
	case ModeNone:
	case ModeToken:
		for _, entry := range strings.Split(tokens, ",") {
			entry = strings.TrimSpace(entry)
			if entry == "" {
				continue
			}
			tok, who, ok := strings.Cut(entry, "=")
			if !ok || tok == "" || who == "" {
				return nil, fmt.Errorf("auth: malformed token entry %q", entry)
			}
			sub, role, _ := strings.Cut(who, ":")
			if role == "" {
				role = "client"
			}
			v.Tokens[tok] = Principal{Subject: sub, Role: strings.ToLower(role)}
		}
		if len(v.Tokens) == 0 {
			return nil, errors.New("auth: token mode needs at least one token")
		}
	case ModeHMAC:
		if len(v.HMACSecret) == 0 {
			return nil, errors.New("auth: hmac mode needs a secret")
		}
	default:
		return nil, fmt.Errorf("auth: unsupported mode %q", mode)
	}
	return v, nil
}

// Authenticate resolves the Authorization header value.
func (v *Verifier) Authenticate(authorization string) (Principal, error) {
	if v == nil || v.Mode == ModeNone {
		return Principal{Subject: "anonymous", Role: "admin"}, nil
	}
	if len(authorization) < 7 || !strings.EqualFold(authorization[:7], "bearer ") {
		return Principal{}, ErrMissingToken
	}
	return v.Verify(strings.TrimSpace(authorization[7:]))
}

func (v *Verifier) Verify(token string) (Principal, error) {
	switch v.Mode {
	case ModeToken:
		for known, p := range v.Tokens {
			if subtle.ConstantTimeCompare([]byte(known), []byte(token)) == 1 {
				return p, nil
			}
		}
		return Principal{}, ErrInvalidToken
	case ModeHMAC:
		return v.verifyHS256(token)
	default:
		return Principal{Subject: "anonymous", Role: "admin"}, nil
	}
}

func (v *Verifier) verifyHS256(token string) (Principal, error) {
	segs := strings.Split(token, ".")
	if len(segs) != 3 {
		return Principal{}, ErrInvalidToken
	}
	headerJSON, err := b64urlDecode(segs[0])
	if err != nil {
		return Principal{}, ErrInvalidToken
	}
	payloadJSON, err := b64urlDecode(segs[1])
	if err != nil {
		return Principal{}, ErrInvalidToken
	}
	sig, err := b64urlDecode(segs[2])
	if err != nil {
		return Principal{}, ErrInvalidToken
	}
	var hdr struct {
		Alg string `json:"alg"`
	}
	if err := json.Unmarshal(headerJSON, &hdr); err != nil || hdr.Alg != "HS256" {
		return Principal{}, fmt.Errorf("%w: unsupported alg", ErrInvalidToken)
	}
	mac := hmac.New(sha256.New, v.HMACSecret)
	mac.Write([]byte(segs[0] + "." + segs[1]))
	if !hmac.Equal(mac.Sum(nil), sig) {
		return Principal{}, fmt.Errorf("%w: bad signature", ErrInvalidToken)
	}
	var claims struct {
		Sub  string `json:"sub"`
		Role string `json:"role"`
		Exp  int64  `json:"exp"`
	}
	if err := json.Unmarshal(payloadJSON, &claims); err != nil {
		return Principal{}, ErrInvalidToken
	}
	if claims.Exp != 0 && v.now().Unix() >= claims.Exp {
		return Principal{}, fmt.Errorf("%w: expired", ErrInvalidToken)
	}
	if claims.Sub == "" {
		return Principal{}, fmt.Errorf("%w: missing sub claim", ErrInvalidToken)
	}
	if claims.Role == "" {
		claims.Role = "client"
	}
	return Principal{Subject: claims.Sub, Role: strings.ToLower(claims.Role)}, nil
}

// SignHS256 issues a token accepted by an hmac verifier with the same secret.
func SignHS256(secret []byte, sub, role string, exp time.Time) string {
	header := b64urlEncode([]byte(`{"alg":"HS256","typ":"JWT"}`))
	claims := map[string]any{"sub": sub, "role": role}
	if !exp.IsZero() {
		claims["exp"] = exp.Unix()
	}
	payload, _ := json.Marshal(claims)
	input := header + "." + b64urlEncode(payload)
	mac := hmac.New(sha256.New, secret)
	mac.Write([]byte(input))
	return input + "." + b64urlEncode(mac.Sum(nil))
}

func b64urlDecode(s string) ([]byte, error) { return base64.RawURLEncoding.DecodeString(s) }

func b64urlEncode(b []byte) string { return base64.RawURLEncoding.EncodeToString(b) }
