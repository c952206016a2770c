// Package qr issues session tokens and renders them as scannable payloads.
package qr

import (
	"crypto/rand"
	"encoding/base64"
	"fmt"
	"net/url"
	"strings"

	"github.com/skip2/go-qrcode"
)

const tokenBytes = 16

// Code is a freshly issued token together with its scannable encodings.
type Code struct {
	Token   string
	Payload string
	// PNG is the base64-encoded QR image of Payload.
	PNG string
}

// Issuer builds payload URLs of the form BaseURL/token.
type Issuer struct {
	BaseURL string
	Size    int
}

// NewIssuer returns an Issuer; size <= 0 falls back to 256px.
func NewIssuer(baseURL string, size int) *Issuer {
	if size <= 0 {
		size = 256
	}
	return &Issuer{BaseURL: strings.TrimRight(baseURL, "/"), Size: size}
}

// Issue generates a new random token and renders its payload.
func (i *Issuer) Issue() (Code, error) {
	token, err := NewToken()
	if err != nil {
		return Code{}, err
	}
	return i.Render(token)
}

// Render encodes an existing token.
func (i *Issuer) Render(token string) (Code, error) {
	payload := i.Payload(token)
	png, err := qrcode.Encode(payload, qrcode.Medium, i.Size)
	if err != nil {
		return Code{}, fmt.Errorf("encode qr: %w", err)
	}
	return Code{
		Token:   token,
		Payload: payload,
		PNG:     base64.StdEncoding.EncodeToString(png),
	}, nil
}

// Payload is the string a scanner presents back.
func (i *Issuer) Payload(token string) string {
	return i.BaseURL + "/" + token
}

// NewToken returns 128 bits of randomness, URL-safe encoded.
func NewToken() (string, error) {
	buf := make([]byte, tokenBytes)
	if _, err := rand.Read(buf); err != nil {
		return "", fmt.Errorf("read random: %w", err)
	}
	return base64.RawURLEncoding.EncodeToString(buf), nil
}

// ParsePayload extracts the token from a scanned value, which may be either
// the bare token or the full payload URL.
func ParsePayload(scanned string) string {
	s := strings.TrimSpace(scanned)
	if u, err := url.Parse(s); err == nil && u.Scheme != "" {
		s = u.Path
	}
	s = strings.TrimRight(s, "/")
	if idx := strings.LastIndex(s, "/"); idx >= 0 {
		s = s[idx+1:]
	}
	return s
}
