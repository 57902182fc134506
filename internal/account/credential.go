// Package account defines player credentials, the account error taxonomy and the
// in-memory credential directory that fronts a durable persister.
package account

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
)

// AccountType classifies how a credential was issued.
type AccountType int

const (
	// AccountLocal is an offline account with no identity provider behind it.
	AccountLocal AccountType = iota
	// AccountMicrosoft is backed by a Microsoft identity sign-in.
	AccountMicrosoft
)

// String returns the wire value of the account type.
func (t AccountType) String() string {
	switch t {
	case AccountMicrosoft:
		return "microsoft"
	default:
		return "local"
	}
}

// ParseAccountType maps a wire value back to an AccountType.
func ParseAccountType(s string) (AccountType, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "local", "offline":
		return AccountLocal, nil
	case "microsoft", "msa":
		return AccountMicrosoft, nil
	}
	return AccountLocal, fmt.Errorf("account: unknown account type %q", s)
}

// MarshalJSON encodes the type as its wire string.
func (t AccountType) MarshalJSON() ([]byte, error) {
	return json.Marshal(t.String())
}

// UnmarshalJSON decodes the wire string.
func (t *AccountType) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return err
	}
	parsed, err := ParseAccountType(s)
	if err != nil {
		return err
	}
	*t = parsed
	return nil
}

// Credential is one stored account. Values are never mutated once issued;
// a refresh or re-login replaces the whole record under the same ID.
type Credential struct {
	// ID is the canonical UUID of the player account.
	ID       string      `json:"id"`
	Username string      `json:"username"`
	Type     AccountType `json:"type"`
	// Subject is the identity provider's user id, empty for local accounts.
	Subject      string    `json:"subject,omitempty"`
	AccessToken  string    `json:"access_token,omitempty"`
	RefreshToken string    `json:"refresh_token,omitempty"`
	IDToken      string    `json:"id_token,omitempty"`
	TokenType    string    `json:"token_type,omitempty"`
	Expires      time.Time `json:"expires,omitzero"`
	CreatedAt    time.Time `json:"created_at"`
}

// Expired reports whether the access token has passed its expiry at now.
// Credentials without expiry metadata never expire.
func (c Credential) Expired(now time.Time) bool {
	return !c.Expires.IsZero() && !now.Before(c.Expires)
}

// Validate checks the fields every stored credential must carry.
func (c Credential) Validate() error {
	if _, err := uuid.Parse(c.ID); err != nil {
		return fmt.Errorf("account: invalid credential id %q: %w", c.ID, err)
	}
	if strings.TrimSpace(c.Username) == "" {
		return fmt.Errorf("account: credential %s has no username", c.ID)
	}
	return nil
}

// offlineNamespace seeds name-based UUIDs for local accounts so the same
// username always maps to the same player id.
var offlineNamespace = uuid.MustParse("3f0c5d9e-6a57-4c2e-9b1e-7f3c2a8d4e61")

// NewLocalCredential builds an offline credential for username.
func NewLocalCredential(username string, now time.Time) (Credential, error) {
	name := strings.TrimSpace(username)
	if name == "" {
		return Credential{}, ErrInvalidUsername
	}
	return Credential{
		ID:        OfflineID(name).String(),
		Username:  name,
		Type:      AccountLocal,
		CreatedAt: now.UTC(),
	}, nil
}

// OfflineID returns the deterministic player id of an offline username.
func OfflineID(username string) uuid.UUID {
	return uuid.NewMD5(offlineNamespace, []byte("OfflinePlayer:"+username))
}

// CanonicalID normalizes a user identifier to the lowercase hyphenated UUID form.
func CanonicalID(id string) (string, error) {
	parsed, err := uuid.Parse(strings.TrimSpace(id))
	if err != nil {
		return "", NewAuthError(ErrInvalidUserID, err)
	}
	return parsed.String(), nil
}
