// Package auth signs short-lived share links so a report export can be
// downloaded without a session.
package auth

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"errors"
	"net/url"
	"strconv"
	"strings"
	"time"
)

type ShareLink struct {
	Secret  []byte
	BaseURL string
}

var (
	ErrBadToken   = errors.New("bad token")
	ErrBadSig     = errors.New("invalid signature")
	ErrExpired    = errors.New("expired")
	ErrBadPayload = errors.New("bad payload")
)

// tokenPurpose namespaces the signed message so an export token can never be
// mistaken for any other HMAC token minted with the same secret.
const tokenPurpose = "export"

// Sign: use URL-safe base64 WITH padding (clearer in URLs)
func (s ShareLink) Sign(analysisID string, exp time.Time) string {
	msg := tokenPurpose + "|" + analysisID + "|" + strconv.FormatInt(exp.Unix(), 10)
	mac := hmac.New(sha256.New, s.Secret)
	mac.Write([]byte(msg))
	sig := base64.URLEncoding.EncodeToString(mac.Sum(nil))
	payload := base64.URLEncoding.EncodeToString([]byte(msg))
	return payload + "." + sig
}

// decodeURLB64 tries raw (no padding) then padded
func decodeURLB64(v string) ([]byte, error) {
	if b, err := base64.RawURLEncoding.DecodeString(v); err == nil {
		return b, nil
	}
	return base64.URLEncoding.DecodeString(v)
}

// Verify checks the token and returns the analysis id it grants access to.
func (s ShareLink) Verify(token string) (string, error) {
	parts := strings.Split(token, ".")
	if len(parts) != 2 {
		return "", ErrBadToken
	}
	payload, sig := parts[0], parts[1]

	raw, err := decodeURLB64(payload)
	if err != nil {
		return "", ErrBadToken
	}

	mac := hmac.New(sha256.New, s.Secret)
	mac.Write(raw)
	expectedRaw := base64.RawURLEncoding.EncodeToString(mac.Sum(nil))
	expectedPad := base64.URLEncoding.EncodeToString(mac.Sum(nil))

	if sig != expectedRaw && sig != expectedPad {
		return "", ErrBadSig
	}

	fields := strings.Split(string(raw), "|")
	if len(fields) != 3 || fields[0] != tokenPurpose {
		return "", ErrBadPayload
	}
	analysisID := strings.TrimSpace(fields[1])
	ts, err := strconv.ParseInt(fields[2], 10, 64)
	if err != nil || analysisID == "" {
		return "", ErrBadPayload
	}
	if time.Now().After(time.Unix(ts, 0)) {
		return "", ErrExpired
	}
	return analysisID, nil
}

// URL builds a full download link for an analysis export.
func (s ShareLink) URL(analysisID string, ttl time.Duration) string {
	exp := time.Now().Add(ttl)
	tok := s.Sign(analysisID, exp)
	u, _ := url.Parse(s.BaseURL)
	u.Path = "/exports/" + analysisID + "/states.csv"
	q := u.Query()
	q.Set("token", tok)
	u.RawQuery = q.Encode()
	return u.String()
}
