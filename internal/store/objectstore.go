package store

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"path"
	"strings"
	"sync"

	"github.com/launcher-accounts/accountd/internal/account"
	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
	log "github.com/sirupsen/logrus"
	"github.com/tidwall/gjson"
	"github.com/tidwall/sjson"
	"golang.org/x/sync/errgroup"
)

const (
	objectStoreUserPrefix   = "users"
	objectStoreDirectoryKey = "directory.json"
	objectStoreFetchLimit   = 8
)

// ObjectStoreConfig captures configuration for the S3-compatible account store.
type ObjectStoreConfig struct {
	Endpoint  string
	Bucket    string
	AccessKey string
	SecretKey string
	Region    string
	Prefix    string
	LocalRoot string
	UseSSL    bool
	PathStyle bool
}

// ObjectStore persists the account directory in an S3-compatible bucket.
// Records are mirrored to a local spool.
type ObjectStore struct {
	client *minio.Client
	cfg    ObjectStoreConfig
	spool  *FileStore
	mu     sync.Mutex
}

// NewObjectStore initializes an object storage backed account store.
func NewObjectStore(cfg ObjectStoreConfig) (*ObjectStore, error) {
	cfg.Endpoint = strings.TrimSpace(cfg.Endpoint)
	cfg.Bucket = strings.TrimSpace(cfg.Bucket)
	cfg.AccessKey = strings.TrimSpace(cfg.AccessKey)
	cfg.SecretKey = strings.TrimSpace(cfg.SecretKey)
	cfg.Prefix = strings.Trim(cfg.Prefix, "/")

	if cfg.Endpoint == "" {
		return nil, fmt.Errorf("object store: endpoint is required")
	}
	if cfg.Bucket == "" {
		return nil, fmt.Errorf("object store: bucket is required")
	}
	if cfg.AccessKey == "" {
		return nil, fmt.Errorf("object store: access key is required")
	}
	if cfg.SecretKey == "" {
		return nil, fmt.Errorf("object store: secret key is required")
	}

	root, err := resolveSpool(cfg.LocalRoot, "objectstore")
	if err != nil {
		return nil, fmt.Errorf("object store: %w", err)
	}

	options := &minio.Options{
		Creds:  credentials.NewStaticV4(cfg.AccessKey, cfg.SecretKey, ""),
		Secure: cfg.UseSSL,
		Region: cfg.Region,
	}
	if cfg.PathStyle {
		options.BucketLookup = minio.BucketLookupPath
	}
	client, err := minio.New(cfg.Endpoint, options)
	if err != nil {
		return nil, fmt.Errorf("object store: create client: %w", err)
	}
	return &ObjectStore{client: client, cfg: cfg, spool: NewFileStore(root)}, nil
}

// SpoolDir returns the local mirror directory.
func (s *ObjectStore) SpoolDir() string { return s.spool.Dir() }

// Load ensures the bucket exists, downloads every record and rebuilds the spool.
func (s *ObjectStore) Load(ctx context.Context) (account.Directory, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.ensureBucket(ctx); err != nil {
		return account.Directory{}, err
	}

	prefix := s.prefixedKey(objectStoreUserPrefix + "/")
	var keys []string
	for object := range s.client.ListObjects(ctx, s.cfg.Bucket, minio.ListObjectsOptions{Prefix: prefix, Recursive: true}) {
		if object.Err != nil {
			return account.Directory{}, fmt.Errorf("object store: list users: %w", object.Err)
		}
		rel := strings.TrimPrefix(object.Key, prefix)
		if rel == "" || strings.Contains(rel, "/") || !strings.HasSuffix(rel, ".json") {
			continue
		}
		keys = append(keys, object.Key)
	}

	users := make([]account.Credential, len(keys))
	ok := make([]bool, len(keys))
	group, groupCtx := errgroup.WithContext(ctx)
	group.SetLimit(objectStoreFetchLimit)
	for i, key := range keys {
		group.Go(func() error {
			data, err := s.getObject(groupCtx, key)
			if err != nil {
				return err
			}
			if errUnmarshal := json.Unmarshal(data, &users[i]); errUnmarshal != nil {
				log.WithField("key", key).Warnf("object store: skipping unreadable record: %v", errUnmarshal)
				return nil
			}
			ok[i] = true
			return nil
		})
	}
	if err := group.Wait(); err != nil {
		return account.Directory{}, err
	}

	var dir account.Directory
	for i := range users {
		if ok[i] {
			dir.Users = append(dir.Users, users[i])
		}
	}
	index, err := s.getObject(ctx, s.prefixedKey(objectStoreDirectoryKey))
	switch {
	case err == nil:
		dir.Default = gjson.GetBytes(index, defaultUserKey).String()
	case isObjectNotFound(err):
	default:
		return account.Directory{}, err
	}

	if errMirror := s.spool.Mirror(ctx, dir); errMirror != nil {
		log.WithError(errMirror).Warn("object store: refresh spool")
	}
	return dir, nil
}

// Save uploads cred and writes it to the spool.
func (s *ObjectStore) Save(ctx context.Context, cred account.Credential) error {
	raw, err := json.Marshal(cred)
	if err != nil {
		return fmt.Errorf("object store: marshal credential: %w", err)
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	if err = s.putObject(ctx, s.userKey(cred.ID), raw); err != nil {
		return err
	}
	return s.spool.Save(ctx, cred)
}

// Delete removes the user object and its spool record.
func (s *ObjectStore) Delete(ctx context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.deleteObject(ctx, s.userKey(id)); err != nil {
		return err
	}
	return s.spool.Delete(ctx, id)
}

// SetDefault rewrites the directory index object.
func (s *ObjectStore) SetDefault(ctx context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	index, err := sjson.SetBytes([]byte("{}"), defaultUserKey, id)
	if err != nil {
		return fmt.Errorf("object store: encode index: %w", err)
	}
	if id == "" {
		err = s.deleteObject(ctx, s.prefixedKey(objectStoreDirectoryKey))
	} else {
		err = s.putObject(ctx, s.prefixedKey(objectStoreDirectoryKey), index)
	}
	if err != nil {
		return err
	}
	return s.spool.SetDefault(ctx, id)
}

func (s *ObjectStore) ensureBucket(ctx context.Context) error {
	exists, err := s.client.BucketExists(ctx, s.cfg.Bucket)
	if err != nil {
		return fmt.Errorf("object store: check bucket: %w", err)
	}
	if exists {
		return nil
	}
	if err = s.client.MakeBucket(ctx, s.cfg.Bucket, minio.MakeBucketOptions{Region: s.cfg.Region}); err != nil {
		return fmt.Errorf("object store: create bucket: %w", err)
	}
	return nil
}

func (s *ObjectStore) getObject(ctx context.Context, key string) ([]byte, error) {
	object, err := s.client.GetObject(ctx, s.cfg.Bucket, key, minio.GetObjectOptions{})
	if err != nil {
		return nil, fmt.Errorf("object store: fetch %s: %w", key, err)
	}
	defer object.Close()
	data, err := io.ReadAll(object)
	if err != nil {
		if isObjectNotFound(err) {
			return nil, err
		}
		return nil, fmt.Errorf("object store: read %s: %w", key, err)
	}
	return data, nil
}

func (s *ObjectStore) putObject(ctx context.Context, key string, data []byte) error {
	_, err := s.client.PutObject(ctx, s.cfg.Bucket, key, bytes.NewReader(data), int64(len(data)), minio.PutObjectOptions{
		ContentType: "application/json",
	})
	if err != nil {
		return fmt.Errorf("object store: put object %s: %w", key, err)
	}
	return nil
}

func (s *ObjectStore) deleteObject(ctx context.Context, key string) error {
	err := s.client.RemoveObject(ctx, s.cfg.Bucket, key, minio.RemoveObjectOptions{})
	if err != nil && !isObjectNotFound(err) {
		return fmt.Errorf("object store: delete object %s: %w", key, err)
	}
	return nil
}

func (s *ObjectStore) userKey(id string) string {
	return s.prefixedKey(path.Join(objectStoreUserPrefix, id+".json"))
}

func (s *ObjectStore) prefixedKey(key string) string {
	key = strings.TrimLeft(key, "/")
	if s.cfg.Prefix == "" {
		return key
	}
	return strings.TrimLeft(s.cfg.Prefix+"/"+key, "/")
}

func isObjectNotFound(err error) bool {
	if err == nil {
		return false
	}
	resp := minio.ToErrorResponse(err)
	if resp.StatusCode == http.StatusNotFound {
		return true
	}
	switch resp.Code {
	case "NoSuchKey", "NotFound", "NoSuchBucket":
		return true
	}
	return false
}
