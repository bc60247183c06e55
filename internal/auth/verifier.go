// Package auth provides token verification for relay clients.
package auth

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"encoding/json"
	"errors"
	"strings"
)

// Verifier validates client tokens and extracts role/driver claims.
// Modes: dev (role:driverId shortcut tokens, no verify), hmac (HS256 JWT).
type Verifier struct {
	Mode       string
	HMACSecret []byte
}

// Principal identifies an authenticated relay client.
type Principal struct {
	Role     string // driver, viewer, admin
	DriverID string
}

func (p Principal) IsDriver() bool { return p.Role == "driver" }
func (p Principal) IsAdmin() bool  { return p.Role == "admin" }

func NewVerifier(mode, hmacSecret string) *Verifier {
	mode = strings.ToLower(strings.TrimSpace(mode))
	if mode == "" {
		mode = "dev"
	}
	return &Verifier{Mode: mode, HMACSecret: []byte(hmacSecret)}
}

// Verify parses a token into a Principal. An empty token yields an
// anonymous viewer; only driver-register requires more.
func (v *Verifier) Verify(token string) (Principal, error) {
	token = strings.TrimSpace(token)
	if token == "" {
		return Principal{Role: "viewer"}, nil
	}
	if v.Mode == "dev" {
		// token format: role or role:driverId
		parts := strings.SplitN(token, ":", 2)
		p := Principal{Role: strings.ToLower(parts[0])}
		if len(parts) == 2 {
			p.DriverID = parts[1]
		}
		if p.Role == "" {
			return Principal{}, errors.New("invalid dev token; expected role[:driverId]")
		}
		return p, nil
	}
	segs := strings.Split(token, ".")
	if len(segs) != 3 {
		return Principal{}, errors.New("invalid JWT")
	}
	headerJSON, err := b64urlDecode(segs[0])
	if err != nil {
		return Principal{}, err
	}
	payloadJSON, err := b64urlDecode(segs[1])
	if err != nil {
		return Principal{}, err
	}
	sig, err := b64urlDecode(segs[2])
	if err != nil {
		return Principal{}, err
	}
	var hdr map[string]any
	if err := json.Unmarshal(headerJSON, &hdr); err != nil {
		return Principal{}, err
	}
	var claims map[string]any
	if err := json.Unmarshal(payloadJSON, &claims); err != nil {
		return Principal{}, err
	}
	if alg, _ := hdr["alg"].(string); alg != "HS256" {
		return Principal{}, errors.New("unsupported alg for hmac")
	}
	mac := hmac.New(sha256.New, v.HMACSecret)
	mac.Write([]byte(segs[0] + "." + segs[1]))
	if !hmac.Equal(mac.Sum(nil), sig) {
		return Principal{}, errors.New("bad signature")
	}
	role, _ := claims["role"].(string)
	driver, _ := claims["sub"].(string)
	if role == "" {
		role = "viewer"
	}
	return Principal{Role: strings.ToLower(role), DriverID: driver}, nil
}

func b64urlDecode(s string) ([]byte, error) { return base64.RawURLEncoding.DecodeString(s) }
