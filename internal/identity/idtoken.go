package identity

import (
	"encoding/base64"
	"fmt"
	"strings"

	"github.com/tidwall/gjson"
)

// idTokenClaims are the display fields read from an ID token.
type idTokenClaims struct {
	Subject string
	Name    string
}

// parseIDTokenClaims decodes the payload of a JWT without checking its signature.
// The result only names the account.
func parseIDTokenClaims(token string) (idTokenClaims, error) {
	parts := strings.Split(token, ".")
	if len(parts) != 3 {
		return idTokenClaims{}, fmt.Errorf("invalid id token format: expected 3 parts, got %d", len(parts))
	}
	payload, err := base64.RawURLEncoding.DecodeString(strings.TrimRight(parts[1], "="))
	if err != nil {
		return idTokenClaims{}, fmt.Errorf("decode id token claims: %w", err)
	}
	if !gjson.ValidBytes(payload) {
		return idTokenClaims{}, fmt.Errorf("id token claims are not valid JSON")
	}
	claims := gjson.ParseBytes(payload)
	return idTokenClaims{
		Subject: claims.Get("sub").String(),
		Name:    firstNonEmpty(claims.Get("preferred_username").String(), claims.Get("name").String()),
	}, nil
}
