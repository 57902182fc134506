package identity

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"net/url"
	"sync/atomic"
	"testing"

	"github.com/launcher-accounts/accountd/internal/account"
	"github.com/launcher-accounts/accountd/internal/config"
)

type providerStub struct {
	server      *httptest.Server
	exchanges   atomic.Int32
	lastForm    url.Values
	tokenStatus int
	profile     string
	idToken     string
}

func newProviderStub(t *testing.T) *providerStub {
	t.Helper()
	p := &providerStub{tokenStatus: http.StatusOK}
	mux := http.NewServeMux()
	mux.HandleFunc("/token", func(w http.ResponseWriter, r *http.Request) {
		p.exchanges.Add(1)
		if err := r.ParseForm(); err != nil {
			t.Errorf("parse form: %v", err)
		}
		p.lastForm = r.PostForm
		w.Header().Set("Content-Type", "application/json")
		if p.tokenStatus != http.StatusOK {
			w.WriteHeader(p.tokenStatus)
			_, _ = w.Write([]byte(`{"error":"invalid_grant"}`))
			return
		}
		body := map[string]any{
			"access_token":  "access-1",
			"refresh_token": "refresh-1",
			"token_type":    "bearer",
			"expires_in":    3600,
			"user_id":       "a1b2c3d4e5f6",
		}
		if p.idToken != "" {
			body["id_token"] = p.idToken
		}
		_ = json.NewEncoder(w).Encode(body)
	})
	mux.HandleFunc("/profile", func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("Authorization") != "Bearer access-1" {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		_, _ = w.Write([]byte(p.profile))
	})
	p.server = httptest.NewServer(mux)
	t.Cleanup(p.server.Close)
	return p
}

func (p *providerStub) identityConfig() config.IdentityConfig {
	return config.IdentityConfig{
		ClientID:        "client-1",
		AuthURL:         p.server.URL + "/authorize",
		TokenURL:        p.server.URL + "/token",
		RedirectURI:     "https://login.live.com/oauth20_desktop.srf",
		Scopes:          []string{"XboxLive.signin", "offline_access"},
		Prompt:          "select_account",
		ProfileIDPath:   "id",
		ProfileNamePath: "name",
	}
}

func TestBeginLoginBuildsPKCEURL(t *testing.T) {
	t.Parallel()

	p := newProviderStub(t)
	c := NewOAuthClient(p.identityConfig(), "").WithHTTPClient(p.server.Client())

	flow, err := c.BeginLogin(context.Background())
	if err != nil {
		t.Fatalf("BeginLogin: %v", err)
	}
	u, err := url.Parse(flow.SignInURL)
	if err != nil {
		t.Fatalf("parse sign-in url: %v", err)
	}
	q := u.Query()
	checks := map[string]string{
		"client_id":             "client-1",
		"response_type":         "code",
		"state":                 flow.State,
		"code_challenge_method": "S256",
		"prompt":                "select_account",
		"redirect_uri":          "https://login.live.com/oauth20_desktop.srf",
	}
	for k, want := range checks {
		if got := q.Get(k); got != want {
			t.Errorf("%s = %q, want %q", k, got, want)
		}
	}
	if q.Get("code_challenge") == "" || flow.Verifier == "" {
		t.Fatal("expected PKCE challenge and verifier")
	}
	if p.exchanges.Load() != 0 {
		t.Fatal("BeginLogin must not call the token endpoint")
	}
}

func TestBeginLoginWithoutEndpointsIsFlowInitError(t *testing.T) {
	t.Parallel()

	c := NewOAuthClient(config.IdentityConfig{ClientID: "x"}, "")
	if _, err := c.BeginLogin(context.Background()); !errors.Is(err, account.ErrFlowInit) {
		t.Fatalf("err = %v, want ErrFlowInit", err)
	}
}

func TestBeginLoginDiscoveryFailureIsFlowInitError(t *testing.T) {
	t.Parallel()

	dead := httptest.NewServer(http.NotFoundHandler())
	dead.Close()
	c := NewOAuthClient(config.IdentityConfig{ClientID: "x", Issuer: dead.URL}, "")
	if _, err := c.BeginLogin(context.Background()); !errors.Is(err, account.ErrFlowInit) {
		t.Fatalf("err = %v, want ErrFlowInit", err)
	}
}

func TestFinishLoginExchangesWithVerifier(t *testing.T) {
	t.Parallel()

	p := newProviderStub(t)
	c := NewOAuthClient(p.identityConfig(), "").WithHTTPClient(p.server.Client())
	ctx := context.Background()

	flow, err := c.BeginLogin(ctx)
	if err != nil {
		t.Fatal(err)
	}
	cred, err := c.FinishLogin(ctx, "M.C507_code", flow)
	if err != nil {
		t.Fatalf("FinishLogin: %v", err)
	}
	if p.exchanges.Load() != 1 {
		t.Fatalf("exchanges = %d, want 1", p.exchanges.Load())
	}
	if p.lastForm.Get("code") != "M.C507_code" || p.lastForm.Get("code_verifier") != flow.Verifier {
		t.Fatalf("unexpected token form: %v", p.lastForm)
	}
	if cred.Type != account.AccountMicrosoft || cred.Subject != "a1b2c3d4e5f6" {
		t.Fatalf("unexpected credential: %+v", cred)
	}
	if cred.AccessToken != "access-1" || cred.RefreshToken != "refresh-1" || cred.Expires.IsZero() {
		t.Fatalf("tokens not carried over: %+v", cred)
	}
	if err = cred.Validate(); err != nil {
		t.Fatalf("credential invalid: %v", err)
	}

	again, _ := c.FinishLogin(ctx, "M.C507_code", flow)
	if again.ID != cred.ID {
		t.Fatal("player id must be stable for the same subject")
	}
}

func TestFinishLoginUsesProfile(t *testing.T) {
	t.Parallel()

	p := newProviderStub(t)
	p.profile = `{"id":"069a79f444e94726a5befca90e38aaf5","name":"Notch"}`
	cfg := p.identityConfig()
	cfg.ProfileURL = p.server.URL + "/profile"
	c := NewOAuthClient(cfg, "").WithHTTPClient(p.server.Client())

	flow, _ := c.BeginLogin(context.Background())
	cred, err := c.FinishLogin(context.Background(), "code", flow)
	if err != nil {
		t.Fatalf("FinishLogin: %v", err)
	}
	if cred.ID != "069a79f4-44e9-4726-a5be-fca90e38aaf5" || cred.Username != "Notch" {
		t.Fatalf("profile not applied: %+v", cred)
	}
}

func unsignedIDToken(claims string) string {
	enc := base64.RawURLEncoding
	return enc.EncodeToString([]byte(`{"alg":"none"}`)) + "." + enc.EncodeToString([]byte(claims)) + ".sig"
}

func TestFinishLoginReadsIDTokenClaimsWithoutIssuer(t *testing.T) {
	t.Parallel()

	p := newProviderStub(t)
	p.idToken = unsignedIDToken(`{"sub":"9f86d081884c7d65","preferred_username":"Alex"}`)
	c := NewOAuthClient(p.identityConfig(), "").WithHTTPClient(p.server.Client())

	flow, _ := c.BeginLogin(context.Background())
	cred, err := c.FinishLogin(context.Background(), "code", flow)
	if err != nil {
		t.Fatalf("FinishLogin: %v", err)
	}
	if cred.Username != "Alex" || cred.Subject != "9f86d081884c7d65" {
		t.Fatalf("id token claims not applied: %+v", cred)
	}
}

func TestParseIDTokenClaims(t *testing.T) {
	t.Parallel()

	cases := []struct {
		name    string
		token   string
		want    idTokenClaims
		wantErr bool
	}{
		{name: "preferred username", token: unsignedIDToken(`{"sub":"s1","preferred_username":"Alex","name":"Alex P"}`), want: idTokenClaims{Subject: "s1", Name: "Alex"}},
		{name: "name fallback", token: unsignedIDToken(`{"sub":"s2","name":"Steve"}`), want: idTokenClaims{Subject: "s2", Name: "Steve"}},
		{name: "two parts", token: "a.b", wantErr: true},
		{name: "bad base64", token: "a.!!!.c", wantErr: true},
		{name: "not json", token: unsignedIDToken("nope"), wantErr: true},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			got, err := parseIDTokenClaims(tc.token)
			if (err != nil) != tc.wantErr {
				t.Fatalf("err = %v, wantErr %v", err, tc.wantErr)
			}
			if got != tc.want {
				t.Fatalf("claims = %+v, want %+v", got, tc.want)
			}
		})
	}
}

func TestFinishLoginFailures(t *testing.T) {
	t.Parallel()

	cases := []struct {
		name    string
		mutate  func(p *providerStub, cfg *config.IdentityConfig)
		code    string
		noFlow  bool
		wantHit int32
	}{
		{name: "token endpoint rejects", mutate: func(p *providerStub, _ *config.IdentityConfig) { p.tokenStatus = http.StatusBadRequest }, code: "c", wantHit: 1},
		{name: "profile invalid json", mutate: func(p *providerStub, cfg *config.IdentityConfig) {
			p.profile = "not json"
			cfg.ProfileURL = p.server.URL + "/profile"
		}, code: "c", wantHit: 1},
		{name: "empty code", code: "", wantHit: 0},
		{name: "missing flow", code: "c", noFlow: true, wantHit: 0},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			p := newProviderStub(t)
			cfg := p.identityConfig()
			if tc.mutate != nil {
				tc.mutate(p, &cfg)
			}
			c := NewOAuthClient(cfg, "").WithHTTPClient(p.server.Client())
			flow, _ := c.BeginLogin(context.Background())
			if tc.noFlow {
				flow = nil
			}
			_, err := c.FinishLogin(context.Background(), tc.code, flow)
			if !errors.Is(err, account.ErrExchange) {
				t.Fatalf("err = %v, want ErrExchange", err)
			}
			if got := p.exchanges.Load(); got != tc.wantHit {
				t.Fatalf("token endpoint hits = %d, want %d", got, tc.wantHit)
			}
		})
	}
}
