// Package identity talks to the OAuth identity provider: it starts authorization-code
// flows and exchanges returned codes for player credentials.
package identity

import (
	"context"
	"time"

	"github.com/launcher-accounts/accountd/internal/account"
)

// FlowDescriptor describes one in-progress authorization attempt.
type FlowDescriptor struct {
	// SignInURL is the page the sign-in surface presents.
	SignInURL string `json:"sign_in_url"`
	State     string `json:"state"`
	// Verifier is the PKCE code verifier bound to SignInURL.
	Verifier  string    `json:"-"`
	StartedAt time.Time `json:"started_at"`
}

// Client starts sign-in flows and completes them.
type Client interface {
	BeginLogin(ctx context.Context) (*FlowDescriptor, error)
	FinishLogin(ctx context.Context, code string, flow *FlowDescriptor) (account.Credential, error)
}
