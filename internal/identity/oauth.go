package identity

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/coreos/go-oidc/v3/oidc"
	"github.com/google/uuid"
	"github.com/launcher-accounts/accountd/internal/account"
	"github.com/launcher-accounts/accountd/internal/config"
	"github.com/launcher-accounts/accountd/internal/misc"
	"github.com/launcher-accounts/accountd/internal/util"
	log "github.com/sirupsen/logrus"
	"github.com/tidwall/gjson"
	"golang.org/x/oauth2"
)

// subjectNamespace derives player ids from provider subjects that are not UUIDs.
var subjectNamespace = uuid.MustParse("b7e2f0c4-1d3a-4f5e-8c6b-2a9d0e1f3c47")

// OAuthClient implements Client with an OAuth 2.0 authorization-code flow using PKCE.
// When an issuer is configured, endpoints come from OIDC discovery and the ID token is verified.
type OAuthClient struct {
	cfg        config.IdentityConfig
	httpClient *http.Client
	now        func() time.Time

	mu       sync.Mutex
	oauth    *oauth2.Config
	verifier *oidc.IDTokenVerifier
}

// NewOAuthClient builds a client from identity settings. proxyURL routes provider traffic.
func NewOAuthClient(cfg config.IdentityConfig, proxyURL string) *OAuthClient {
	return &OAuthClient{
		cfg:        cfg,
		httpClient: util.NewHTTPClient(proxyURL),
		now:        time.Now,
	}
}

// WithHTTPClient replaces the HTTP client used for provider calls.
func (c *OAuthClient) WithHTTPClient(hc *http.Client) *OAuthClient {
	c.httpClient = hc
	return c
}

func (c *OAuthClient) clientContext(ctx context.Context) context.Context {
	return context.WithValue(ctx, oauth2.HTTPClient, c.httpClient)
}

// oauthConfig resolves provider endpoints once, running OIDC discovery if needed.
func (c *OAuthClient) oauthConfig(ctx context.Context) (*oauth2.Config, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.oauth != nil {
		return c.oauth, nil
	}

	endpoint := oauth2.Endpoint{
		AuthURL:   c.cfg.AuthURL,
		TokenURL:  c.cfg.TokenURL,
		AuthStyle: oauth2.AuthStyleInParams,
	}
	if issuer := strings.TrimSpace(c.cfg.Issuer); issuer != "" {
		provider, err := oidc.NewProvider(oidc.ClientContext(ctx, c.httpClient), issuer)
		if err != nil {
			return nil, fmt.Errorf("oidc discovery for %s: %w", issuer, err)
		}
		endpoint = provider.Endpoint()
		endpoint.AuthStyle = oauth2.AuthStyleInParams
		c.verifier = provider.Verifier(&oidc.Config{ClientID: c.cfg.ClientID})
	}
	if endpoint.AuthURL == "" || endpoint.TokenURL == "" {
		return nil, errors.New("identity provider endpoints are not configured")
	}

	c.oauth = &oauth2.Config{
		ClientID:     c.cfg.ClientID,
		ClientSecret: c.cfg.ClientSecret,
		Endpoint:     endpoint,
		RedirectURL:  c.cfg.RedirectURI,
		Scopes:       c.cfg.Scopes,
	}
	return c.oauth, nil
}

// BeginLogin creates a fresh state and PKCE verifier and returns the sign-in URL.
func (c *OAuthClient) BeginLogin(ctx context.Context) (*FlowDescriptor, error) {
	oc, err := c.oauthConfig(ctx)
	if err != nil {
		return nil, account.NewAuthError(account.ErrFlowInit, err)
	}
	state, err := misc.GenerateRandomState()
	if err != nil {
		return nil, account.NewAuthError(account.ErrFlowInit, err)
	}
	verifier := oauth2.GenerateVerifier()

	opts := []oauth2.AuthCodeOption{oauth2.S256ChallengeOption(verifier)}
	if c.cfg.Prompt != "" {
		opts = append(opts, oauth2.SetAuthURLParam("prompt", c.cfg.Prompt))
	}
	return &FlowDescriptor{
		SignInURL: oc.AuthCodeURL(state, opts...),
		State:     state,
		Verifier:  verifier,
		StartedAt: c.now().UTC(),
	}, nil
}

// FinishLogin exchanges code for tokens and resolves the player identity.
func (c *OAuthClient) FinishLogin(ctx context.Context, code string, flow *FlowDescriptor) (account.Credential, error) {
	if flow == nil {
		return account.Credential{}, account.NewAuthError(account.ErrExchange, errors.New("missing flow descriptor"))
	}
	if strings.TrimSpace(code) == "" {
		return account.Credential{}, account.NewAuthError(account.ErrExchange, errors.New("empty authorization code"))
	}
	oc, err := c.oauthConfig(ctx)
	if err != nil {
		return account.Credential{}, account.NewAuthError(account.ErrExchange, err)
	}

	cctx := c.clientContext(ctx)
	tok, err := oc.Exchange(cctx, code, oauth2.VerifierOption(flow.Verifier))
	if err != nil {
		return account.Credential{}, account.NewAuthError(account.ErrExchange, err)
	}

	who, err := c.identify(cctx, tok)
	if err != nil {
		return account.Credential{}, account.NewAuthError(account.ErrExchange, err)
	}

	idToken, _ := tok.Extra("id_token").(string)
	cred := account.Credential{
		ID:           who.playerID(),
		Username:     who.name,
		Type:         account.AccountMicrosoft,
		Subject:      who.subject,
		AccessToken:  tok.AccessToken,
		RefreshToken: tok.RefreshToken,
		IDToken:      idToken,
		TokenType:    tok.Type(),
		Expires:      tok.Expiry,
		CreatedAt:    c.now().UTC(),
	}
	if cred.Username == "" {
		cred.Username = who.subject
	}
	log.WithFields(log.Fields{"user": cred.ID, "account_type": cred.Type}).Debug("identity: code exchanged")
	return cred, nil
}

type identityInfo struct {
	subject   string
	name      string
	profileID string
}

func (i identityInfo) playerID() string {
	if parsed, err := uuid.Parse(i.profileID); err == nil {
		return parsed.String()
	}
	if parsed, err := uuid.Parse(i.subject); err == nil {
		return parsed.String()
	}
	return uuid.NewSHA1(subjectNamespace, []byte(i.subject)).String()
}

// identify collects the user identity from, in order: the ID token (verified
// when an issuer is configured), the provider's user_id token field and the
// configured profile endpoint.
func (c *OAuthClient) identify(ctx context.Context, tok *oauth2.Token) (identityInfo, error) {
	var info identityInfo

	raw, _ := tok.Extra("id_token").(string)
	if raw != "" && c.verifier == nil {
		if claims, err := parseIDTokenClaims(raw); err != nil {
			log.WithError(err).Debug("identity: ignoring unreadable id token")
		} else {
			info.subject = claims.Subject
			info.name = claims.Name
		}
	}
	if raw != "" && c.verifier != nil {
		idt, err := c.verifier.Verify(ctx, raw)
		if err != nil {
			return info, fmt.Errorf("verify id token: %w", err)
		}
		var claims struct {
			Name              string `json:"name"`
			PreferredUsername string `json:"preferred_username"`
		}
		if err = idt.Claims(&claims); err != nil {
			return info, fmt.Errorf("decode id token claims: %w", err)
		}
		info.subject = idt.Subject
		info.name = firstNonEmpty(claims.PreferredUsername, claims.Name)
	}
	if info.subject == "" {
		if uid, ok := tok.Extra("user_id").(string); ok {
			info.subject = uid
		}
	}

	if c.cfg.ProfileURL != "" {
		body, err := c.fetchProfile(ctx, tok)
		if err != nil {
			return info, err
		}
		info.profileID = gjson.GetBytes(body, c.cfg.ProfileIDPath).String()
		if name := gjson.GetBytes(body, c.cfg.ProfileNamePath).String(); name != "" {
			info.name = name
		}
		if info.subject == "" {
			info.subject = info.profileID
		}
	}

	if info.subject == "" && info.profileID == "" {
		return info, errors.New("provider returned no user identity")
	}
	return info, nil
}

func (c *OAuthClient) fetchProfile(ctx context.Context, tok *oauth2.Token) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.cfg.ProfileURL, nil)
	if err != nil {
		return nil, fmt.Errorf("build profile request: %w", err)
	}
	tok.SetAuthHeader(req)
	req.Header.Set("Accept", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("profile request failed: %w", err)
	}
	defer func() {
		if errClose := resp.Body.Close(); errClose != nil {
			log.Errorf("profile response body close error: %v", errClose)
		}
	}()
	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return nil, fmt.Errorf("read profile response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("profile request returned status %d: %s", resp.StatusCode, strings.TrimSpace(string(body)))
	}
	if !gjson.ValidBytes(body) {
		return nil, errors.New("profile response is not valid JSON")
	}
	return body, nil
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}
