// Package blobstore is the shared-scratch object store described in
// spec.md §4.1: every job's local scratch directory is archived to a
// single zip and pushed to `{bucket}/{job_id}/data.zip` between stages,
// so the next stage (possibly on a different pool, possibly on a
// different host) can pick the job back up.
package blobstore

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"strings"
	"time"

	"cloud.google.com/go/storage"
	"google.golang.org/api/iterator"
	"google.golang.org/api/option"

	"github.com/yungbote/pipeline-orchestrator/internal/platform/logger"
)

// Store is the interface stages and the HTTP layer depend on. Keeping it
// an interface (rather than a concrete *storage.Client everywhere) is
// what lets tests substitute an in-memory fake per Design Note "Implicit
// global clients".
type Store interface {
	Upload(ctx context.Context, key string, r io.Reader) error
	Download(ctx context.Context, key string) (io.ReadCloser, error)
	Exists(ctx context.Context, key string) (bool, error)
	Delete(ctx context.Context, key string) error
	ListKeys(ctx context.Context, prefix string) ([]string, error)
	PublicURL(key string) string
	MakePublic(ctx context.Context, key string) error
}

type store struct {
	log           *logger.Logger
	client        *storage.Client
	bucketName    string
	storageMode   ObjectStorageMode
	emulatorHost  string
	publicBaseURL string
}

func New(log *logger.Logger) (Store, error) {
	cfg, err := ResolveObjectStorageConfigFromEnv()
	if err != nil {
		return nil, fmt.Errorf("resolve object storage config: %w", err)
	}
	return NewWithConfig(log, cfg)
}

func NewWithConfig(log *logger.Logger, cfg ObjectStorageConfig) (Store, error) {
	if err := ValidateObjectStorageConfig(cfg); err != nil {
		return nil, fmt.Errorf("validate object storage config: %w", err)
	}
	serviceLog := log.With("service", "blobstore")

	bucketName := strings.TrimSpace(os.Getenv("SD_DATA_STORAGE_BUCKET_NAME"))
	if bucketName == "" {
		return nil, fmt.Errorf("missing env var SD_DATA_STORAGE_BUCKET_NAME")
	}

	publicBaseURL, publicBaseSource, err := resolvePublicBaseURL(cfg)
	if err != nil {
		return nil, err
	}

	ctx := context.Background()
	client, err := newStorageClientForMode(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("failed to create storage client: %w", err)
	}

	serviceLog.Info(
		"object storage initialized",
		"mode", cfg.Mode,
		"mode_source", cfg.ModeSource(),
		"emulator_host", cfg.EmulatorHost,
		"public_base_source", publicBaseSource,
		"public_base_url", publicBaseURL,
		"bucket", bucketName,
	)

	return &store{
		log:           serviceLog,
		client:        client,
		bucketName:    bucketName,
		storageMode:   cfg.Mode,
		emulatorHost:  strings.TrimRight(strings.TrimSpace(cfg.EmulatorHost), "/"),
		publicBaseURL: publicBaseURL,
	}, nil
}

func newStorageClientForMode(ctx context.Context, cfg ObjectStorageConfig) (*storage.Client, error) {
	switch cfg.Mode {
	case ObjectStorageModeGCS:
		opts := clientOptionsFromEnv()
		opts = append(opts, option.WithScopes(storage.ScopeReadWrite))
		return storage.NewClient(ctx, opts...)
	case ObjectStorageModeGCSEmulator:
		endpoint := strings.TrimRight(strings.TrimSpace(cfg.EmulatorHost), "/")
		_ = os.Setenv("STORAGE_EMULATOR_HOST", endpoint)
		return storage.NewClient(ctx, option.WithoutAuthentication())
	default:
		return nil, &ObjectStorageConfigError{Code: ObjectStorageConfigErrorInvalidMode, Mode: string(cfg.Mode)}
	}
}

func resolvePublicBaseURL(cfg ObjectStorageConfig) (baseURL, source string, err error) {
	raw := strings.TrimSpace(os.Getenv("OBJECT_STORAGE_PUBLIC_BASE_URL"))
	if raw != "" {
		parsed, parseErr := url.Parse(raw)
		if parseErr != nil || strings.TrimSpace(parsed.Scheme) == "" || strings.TrimSpace(parsed.Host) == "" {
			return "", "", fmt.Errorf("invalid OBJECT_STORAGE_PUBLIC_BASE_URL=%q; expected absolute URL like http://localhost:4443", raw)
		}
		return strings.TrimRight(raw, "/"), "object_storage_public_base_url", nil
	}
	if cfg.IsEmulatorMode() {
		return strings.TrimRight(strings.TrimSpace(cfg.EmulatorHost), "/"), "storage_emulator_host", nil
	}
	return "", "gcs_default", nil
}

func (s *store) Upload(ctx context.Context, key string, r io.Reader) error {
	ctx, cancel := context.WithTimeout(ctx, 5*time.Minute)
	defer cancel()

	w := s.client.Bucket(s.bucketName).Object(key).NewWriter(ctx)
	if strings.HasSuffix(key, ".zip") {
		w.ContentType = "application/zip"
	}
	if _, err := io.Copy(w, r); err != nil {
		_ = w.Close()
		return fmt.Errorf("write object %q: %w", key, err)
	}
	if err := w.Close(); err != nil {
		return fmt.Errorf("close writer for %q: %w", key, err)
	}
	return nil
}

func (s *store) isEmulatorMode() bool {
	return IsEmulatorObjectStorageMode(s.storageMode) && s.emulatorHost != ""
}

func (s *store) emulatorObjectMediaURL(key string) string {
	return fmt.Sprintf("%s/storage/v1/b/%s/o/%s?alt=media",
		strings.TrimRight(s.emulatorHost, "/"), url.PathEscape(s.bucketName), url.PathEscape(key))
}

// Download returns a reader whose Close() cancels the context it was
// opened with. The context must stay alive for the life of the reader —
// canceling eagerly (e.g. via a deferred cancel in this function) makes
// every read return 0 bytes.
func (s *store) Download(ctx context.Context, key string) (io.ReadCloser, error) {
	if s.isEmulatorMode() {
		ctx2, cancel := context.WithTimeout(ctx, 5*time.Minute)
		req, err := http.NewRequestWithContext(ctx2, http.MethodGet, s.emulatorObjectMediaURL(key), nil)
		if err != nil {
			cancel()
			return nil, fmt.Errorf("build emulator download request: %w", err)
		}
		resp, err := http.DefaultClient.Do(req)
		if err != nil {
			cancel()
			return nil, fmt.Errorf("emulator download request: %w", err)
		}
		if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusPartialContent {
			body, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
			_ = resp.Body.Close()
			cancel()
			return nil, fmt.Errorf("emulator download failed: status=%d body=%s", resp.StatusCode, strings.TrimSpace(string(body)))
		}
		return &readCloserWithCancel{ReadCloser: resp.Body, cancel: cancel}, nil
	}

	ctx2, cancel := context.WithTimeout(ctx, 5*time.Minute)
	r, err := s.client.Bucket(s.bucketName).Object(key).NewReader(ctx2)
	if err != nil {
		cancel()
		return nil, fmt.Errorf("open reader for %q: %w", key, err)
	}
	return &readCloserWithCancel{ReadCloser: r, cancel: cancel}, nil
}

func (s *store) Exists(ctx context.Context, key string) (bool, error) {
	ctx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()
	_, err := s.client.Bucket(s.bucketName).Object(key).Attrs(ctx)
	if err == storage.ErrObjectNotExist {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("stat object %q: %w", key, err)
	}
	return true, nil
}

func (s *store) Delete(ctx context.Context, key string) error {
	ctx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()
	if err := s.client.Bucket(s.bucketName).Object(key).Delete(ctx); err != nil {
		return fmt.Errorf("delete object %q: %w", key, err)
	}
	return nil
}

func (s *store) ListKeys(ctx context.Context, prefix string) ([]string, error) {
	ctx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()
	it := s.client.Bucket(s.bucketName).Objects(ctx, &storage.Query{Prefix: prefix})
	out := []string{}
	for {
		attrs, err := it.Next()
		if err == iterator.Done {
			break
		}
		if err != nil {
			return nil, err
		}
		out = append(out, attrs.Name)
	}
	return out, nil
}

// PublicURL mirrors the original service's `blob.public_url` after
// `blob.make_public()` — spec.md §4.8's get_download_url returns this.
func (s *store) PublicURL(key string) string {
	key = strings.TrimLeft(strings.TrimSpace(key), "/")
	if s.isEmulatorMode() {
		if u := s.publicEmulatorObjectMediaURL(key); u != "" {
			return u
		}
	}
	if s.publicBaseURL != "" {
		return fmt.Sprintf("%s/%s/%s", s.publicBaseURL, s.bucketName, key)
	}
	return fmt.Sprintf("https://storage.googleapis.com/%s/%s", s.bucketName, key)
}

func (s *store) publicEmulatorObjectMediaURL(key string) string {
	base := strings.TrimRight(s.publicBaseURL, "/")
	if base == "" {
		base = strings.TrimRight(s.emulatorHost, "/")
	}
	if base == "" {
		return ""
	}
	return fmt.Sprintf("%s/storage/v1/b/%s/o/%s?alt=media", base, url.PathEscape(s.bucketName), url.PathEscape(key))
}

// MakePublic is a no-op against real GCS ACL policy in uniform-bucket-level
// access mode (the bucket's IAM policy governs public readability, not
// per-object ACLs) — its presence documents the original's
// `blob.make_public()` call site without pretending per-object ACLs work
// the way the Python client's default (non-uniform) buckets did.
func (s *store) MakePublic(ctx context.Context, key string) error {
	return nil
}

type readCloserWithCancel struct {
	io.ReadCloser
	cancel context.CancelFunc
}

func (r *readCloserWithCancel) Close() error {
	err := r.ReadCloser.Close()
	if r.cancel != nil {
		r.cancel()
	}
	return err
}
