package cmd

import (
	"context"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/launcher-accounts/accountd/internal/account"
	"github.com/launcher-accounts/accountd/internal/config"
	"github.com/launcher-accounts/accountd/internal/store"
	"github.com/launcher-accounts/accountd/internal/util"
	log "github.com/sirupsen/logrus"
)

// Backend is the persister selected for this process.
type Backend struct {
	Persister account.Persister
	// Name identifies the backend in logs: file, postgres, object, git or keyring.
	Name string
	// WatchDir is the directory whose edits should trigger a reload, empty when
	// the backend owns its own sync.
	WatchDir string
	closeFn  func() error
}

// Close releases backend resources.
func (b *Backend) Close() error {
	if b == nil || b.closeFn == nil {
		return nil
	}
	return b.closeFn()
}

type envLookup func(keys ...string) (string, bool)

func lookupEnv(keys ...string) (string, bool) {
	for _, key := range keys {
		if value, ok := os.LookupEnv(key); ok {
			if trimmed := strings.TrimSpace(value); trimmed != "" {
				return trimmed, true
			}
		}
	}
	return "", false
}

// OpenBackend selects the persister from the environment. Postgres wins over
// object storage, which wins over git, then the OS keyring. Without any of
// those the account directory lives in cfg.AuthDir.
func OpenBackend(ctx context.Context, cfg *config.Config) (*Backend, error) {
	return openBackend(ctx, cfg, lookupEnv)
}

func openBackend(ctx context.Context, cfg *config.Config, env envLookup) (*Backend, error) {
	localBase := func(key, lower string) string {
		if value, ok := env(key, lower); ok {
			return value
		}
		if writable := util.WritablePath(); writable != "" {
			return writable
		}
		wd, err := os.Getwd()
		if err != nil {
			return os.TempDir()
		}
		return wd
	}

	if dsn, ok := env("PGSTORE_DSN", "pgstore_dsn"); ok {
		schema, _ := env("PGSTORE_SCHEMA", "pgstore_schema")
		spool := filepath.Join(localBase("PGSTORE_LOCAL_PATH", "pgstore_local_path"), "pgstore")
		connectCtx, cancel := context.WithTimeout(ctx, 30*time.Second)
		defer cancel()
		pg, err := store.NewPostgresStore(connectCtx, store.PostgresStoreConfig{DSN: dsn, Schema: schema, SpoolDir: spool})
		if err != nil {
			return nil, err
		}
		if err = pg.EnsureSchema(connectCtx); err != nil {
			_ = pg.Close()
			return nil, err
		}
		log.WithField("backend", "postgres").Infof("postgres-backed account store enabled, spool: %s", pg.SpoolDir())
		return &Backend{Persister: pg, Name: "postgres", closeFn: pg.Close}, nil
	}

	if endpoint, ok := env("OBJECTSTORE_ENDPOINT", "objectstore_endpoint"); ok {
		host, useSSL, err := parseObjectEndpoint(endpoint)
		if err != nil {
			return nil, err
		}
		access, _ := env("OBJECTSTORE_ACCESS_KEY", "objectstore_access_key")
		secret, _ := env("OBJECTSTORE_SECRET_KEY", "objectstore_secret_key")
		bucket, _ := env("OBJECTSTORE_BUCKET", "objectstore_bucket")
		obj, err := store.NewObjectStore(store.ObjectStoreConfig{
			Endpoint:  host,
			Bucket:    bucket,
			AccessKey: access,
			SecretKey: secret,
			LocalRoot: filepath.Join(localBase("OBJECTSTORE_LOCAL_PATH", "objectstore_local_path"), "objectstore"),
			UseSSL:    useSSL,
			PathStyle: true,
		})
		if err != nil {
			return nil, err
		}
		log.WithField("backend", "object").Infof("object-backed account store enabled, bucket: %s", bucket)
		return &Backend{Persister: obj, Name: "object"}, nil
	}

	if remote, ok := env("GITSTORE_GIT_URL", "gitstore_git_url"); ok {
		user, _ := env("GITSTORE_GIT_USERNAME", "gitstore_git_username")
		token, _ := env("GITSTORE_GIT_TOKEN", "gitstore_git_token")
		gs, err := store.NewGitStore(store.GitStoreConfig{
			Remote:   remote,
			Username: user,
			Password: token,
			RepoDir:  filepath.Join(localBase("GITSTORE_LOCAL_PATH", "gitstore_local_path"), "gitstore"),
		})
		if err != nil {
			return nil, err
		}
		if err = gs.EnsureRepository(); err != nil {
			return nil, err
		}
		log.WithField("backend", "git").Infof("git-backed account store enabled, accounts: %s", gs.SpoolDir())
		return &Backend{Persister: gs, Name: "git", WatchDir: gs.SpoolDir()}, nil
	}

	if service, ok := env("KEYRING_SERVICE", "keyring_service"); ok {
		log.WithField("backend", "keyring").Infof("keyring-backed account store enabled, service: %s", service)
		return &Backend{Persister: store.NewKeyringStore(service), Name: "keyring"}, nil
	}

	authDir, err := util.ResolveAuthDir(cfg.AuthDir)
	if err != nil {
		return nil, fmt.Errorf("resolve auth directory: %w", err)
	}
	log.WithField("backend", "file").Debugf("file account store at %s", authDir)
	return &Backend{Persister: store.NewFileStore(authDir), Name: "file", WatchDir: authDir}, nil
}

// parseObjectEndpoint accepts host[:port][/path] or an http(s) URL and reports whether TLS is used.
func parseObjectEndpoint(raw string) (string, bool, error) {
	resolved := strings.TrimSpace(raw)
	useSSL := true
	if strings.Contains(resolved, "://") {
		parsed, err := url.Parse(resolved)
		if err != nil {
			return "", false, fmt.Errorf("parse object store endpoint %q: %w", raw, err)
		}
		switch strings.ToLower(parsed.Scheme) {
		case "http":
			useSSL = false
		case "https":
		default:
			return "", false, fmt.Errorf("unsupported object store scheme %q (only http and https are allowed)", parsed.Scheme)
		}
		if parsed.Host == "" {
			return "", false, fmt.Errorf("object store endpoint %q is missing host information", raw)
		}
		resolved = parsed.Host
		if parsed.Path != "" && parsed.Path != "/" {
			resolved = strings.TrimSuffix(parsed.Host+parsed.Path, "/")
		}
	}
	return strings.TrimRight(resolved, "/"), useSSL, nil
}
