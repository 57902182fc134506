// Package misc holds small OAuth and logging helpers shared by the login surfaces and stores.
package misc

import (
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"net/url"
	"strings"
)

// GenerateRandomState returns a hex encoded random OAuth state parameter.
func GenerateRandomState() (string, error) {
	bytes := make([]byte, 16)
	if _, err := rand.Read(bytes); err != nil {
		return "", fmt.Errorf("failed to generate random bytes: %w", err)
	}
	return hex.EncodeToString(bytes), nil
}

// OAuthCallback captures the parsed OAuth callback parameters.
type OAuthCallback struct {
	Code             string
	State            string
	Error            string
	ErrorDescription string
}

// MatchRedirect reports whether location is a completed sign-in redirect: it must
// start with prefix and carry a non-empty code. The query wins over the fragment.
func MatchRedirect(location *url.URL, prefix string) (*OAuthCallback, bool) {
	if location == nil || prefix == "" || !strings.HasPrefix(location.String(), prefix) {
		return nil, false
	}
	cb := callbackFrom(location)
	if cb.Code == "" && cb.Error == "" {
		return nil, false
	}
	return cb, true
}

// NormalizeCallbackInput turns user-pasted text (a full URL, a bare query string or
// host/path) into an absolute URL.
func NormalizeCallbackInput(input string) (*url.URL, error) {
	candidate := strings.TrimSpace(input)
	if candidate == "" {
		return nil, fmt.Errorf("empty callback URL")
	}
	if !strings.Contains(candidate, "://") {
		switch {
		case strings.HasPrefix(candidate, "?"):
			candidate = "http://localhost/" + candidate
		case strings.ContainsAny(candidate, "/?#") || strings.Contains(candidate, ":"):
			candidate = "http://" + candidate
		case strings.Contains(candidate, "="):
			candidate = "http://localhost/?" + candidate
		default:
			return nil, fmt.Errorf("invalid callback URL")
		}
	}
	return url.Parse(candidate)
}

// ParseOAuthCallback extracts OAuth parameters from pasted callback text.
// It returns nil when the input is empty.
func ParseOAuthCallback(input string) (*OAuthCallback, error) {
	if strings.TrimSpace(input) == "" {
		return nil, nil
	}
	parsed, err := NormalizeCallbackInput(input)
	if err != nil {
		return nil, err
	}
	cb := callbackFrom(parsed)
	if cb.Code == "" && cb.Error == "" {
		return nil, fmt.Errorf("callback URL missing code")
	}
	return cb, nil
}

func callbackFrom(u *url.URL) *OAuthCallback {
	query := u.Query()
	cb := &OAuthCallback{
		Code:             strings.TrimSpace(query.Get("code")),
		State:            strings.TrimSpace(query.Get("state")),
		Error:            strings.TrimSpace(query.Get("error")),
		ErrorDescription: strings.TrimSpace(query.Get("error_description")),
	}
	if u.Fragment != "" {
		if frag, errFrag := url.ParseQuery(u.Fragment); errFrag == nil {
			if cb.Code == "" {
				cb.Code = strings.TrimSpace(frag.Get("code"))
			}
			if cb.State == "" {
				cb.State = strings.TrimSpace(frag.Get("state"))
			}
			if cb.Error == "" {
				cb.Error = strings.TrimSpace(frag.Get("error"))
			}
			if cb.ErrorDescription == "" {
				cb.ErrorDescription = strings.TrimSpace(frag.Get("error_description"))
			}
		}
	}
	if cb.Error == "" && cb.ErrorDescription != "" {
		cb.Error, cb.ErrorDescription = cb.ErrorDescription, ""
	}
	return cb
}
