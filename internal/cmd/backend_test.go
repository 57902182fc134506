package cmd

import (
	"context"
	"testing"

	"github.com/launcher-accounts/accountd/internal/config"
	"github.com/launcher-accounts/accountd/internal/store"
)

func fakeEnv(values map[string]string) envLookup {
	return func(keys ...string) (string, bool) {
		for _, key := range keys {
			if v, ok := values[key]; ok && v != "" {
				return v, true
			}
		}
		return "", false
	}
}

func TestParseObjectEndpoint(t *testing.T) {
	t.Parallel()

	tests := []struct {
		raw     string
		host    string
		ssl     bool
		wantErr bool
	}{
		{"minio.local:9000", "minio.local:9000", true, false},
		{"http://minio.local:9000/", "minio.local:9000", false, false},
		{"https://s3.example.com/base/", "s3.example.com/base", true, false},
		{"ftp://nope", "", false, true},
		{"http://", "", false, true},
	}
	for _, tt := range tests {
		host, ssl, err := parseObjectEndpoint(tt.raw)
		if (err != nil) != tt.wantErr {
			t.Errorf("parseObjectEndpoint(%q) err = %v, wantErr %v", tt.raw, err, tt.wantErr)
			continue
		}
		if err == nil && (host != tt.host || ssl != tt.ssl) {
			t.Errorf("parseObjectEndpoint(%q) = %q, %v; want %q, %v", tt.raw, host, ssl, tt.host, tt.ssl)
		}
	}
}

func TestOpenBackendSelection(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	cfg := &config.Config{AuthDir: dir}

	b, err := openBackend(context.Background(), cfg, fakeEnv(nil))
	if err != nil {
		t.Fatalf("file backend: %v", err)
	}
	if b.Name != "file" || b.WatchDir != dir {
		t.Fatalf("backend = %+v", b)
	}
	if _, ok := b.Persister.(*store.FileStore); !ok {
		t.Fatalf("persister = %T, want *store.FileStore", b.Persister)
	}

	b, err = openBackend(context.Background(), cfg, fakeEnv(map[string]string{"KEYRING_SERVICE": "accountd-test"}))
	if err != nil {
		t.Fatalf("keyring backend: %v", err)
	}
	if b.Name != "keyring" || b.WatchDir != "" {
		t.Fatalf("backend = %+v", b)
	}

	if _, err = openBackend(context.Background(), cfg, fakeEnv(map[string]string{"OBJECTSTORE_ENDPOINT": "minio:9000"})); err == nil {
		t.Fatal("object backend without credentials should fail")
	}
}
