package gcp

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"path"
	"strings"
	"time"

	"cloud.google.com/go/storage"

	"github.com/yungbote/docretrieval-backend/internal/platform/logger"
)

// ErrObjectNotFound is returned by Download when the object does not exist.
var ErrObjectNotFound = errors.New("object not found")

// ErrObjectTooLarge is returned by Download when the object exceeds the
// configured size cap.
var ErrObjectTooLarge = errors.New("object exceeds size limit")

// BucketService stores uploaded source documents. Locators are either bare
// object keys in the document bucket or gs://bucket/key URIs.
type BucketService interface {
	Upload(ctx context.Context, key string, r io.Reader, contentType string) (string, error)
	Download(ctx context.Context, locator string) (*Object, error)
	Delete(ctx context.Context, locator string) error
	Close() error
}

type Object struct {
	Bucket      string
	Key         string
	ContentType string
	Data        []byte
}

type bucketService struct {
	log          *logger.Logger
	client       *storage.Client
	cfg          ObjectStorageConfig
	bucket       string
	maxBytes     int64
	httpClient   *http.Client
	emulatorBase string
}

const defaultMaxObjectBytes = 64 << 20

func NewBucketService(log *logger.Logger) (BucketService, error) {
	cfg, err := ResolveObjectStorageConfigFromEnv()
	if err != nil {
		return nil, fmt.Errorf("resolve object storage config: %w", err)
	}
	bucket := strings.TrimSpace(os.Getenv("DOCUMENT_GCS_BUCKET_NAME"))
	if bucket == "" {
		return nil, fmt.Errorf("missing env var DOCUMENT_GCS_BUCKET_NAME")
	}
	return NewBucketServiceWithConfig(log, cfg, bucket, defaultMaxObjectBytes)
}

func NewBucketServiceWithConfig(log *logger.Logger, cfg ObjectStorageConfig, bucket string, maxBytes int64) (BucketService, error) {
	if err := ValidateObjectStorageConfig(cfg); err != nil {
		return nil, fmt.Errorf("validate object storage config: %w", err)
	}
	client, err := newStorageClientForMode(context.Background(), cfg)
	if err != nil {
		return nil, fmt.Errorf("failed to create storage client: %w", err)
	}
	if maxBytes <= 0 {
		maxBytes = defaultMaxObjectBytes
	}
	slog := log.With("service", "BucketService")
	slog.Info("Object storage initialized", "mode", cfg.Mode, "inferred_emulator", cfg.InferredEmulator, "bucket", bucket)
	return &bucketService{
		log:          slog,
		client:       client,
		cfg:          cfg,
		bucket:       bucket,
		maxBytes:     maxBytes,
		httpClient:   &http.Client{Timeout: 2 * time.Minute},
		emulatorBase: strings.TrimRight(cfg.EmulatorHost, "/"),
	}, nil
}

func (bs *bucketService) Close() error {
	if bs == nil || bs.client == nil {
		return nil
	}
	return bs.client.Close()
}

// Upload writes r under key and returns the gs:// URI of the stored object.
func (bs *bucketService) Upload(ctx context.Context, key string, r io.Reader, contentType string) (string, error) {
	key = strings.TrimLeft(strings.TrimSpace(key), "/")
	if key == "" {
		return "", fmt.Errorf("upload: empty key")
	}
	ctx, cancel := context.WithTimeout(ctx, 2*time.Minute)
	defer cancel()

	w := bs.client.Bucket(bs.bucket).Object(key).NewWriter(ctx)
	if contentType == "" {
		contentType = contentTypeForKey(key)
	}
	w.ContentType = contentType
	if _, err := io.Copy(w, r); err != nil {
		_ = w.Close()
		return "", fmt.Errorf("failed to write data to GCS: %w", err)
	}
	if err := w.Close(); err != nil {
		return "", fmt.Errorf("failed to close GCS writer: %w", err)
	}
	return "gs://" + bs.bucket + "/" + key, nil
}

func (bs *bucketService) Download(ctx context.Context, locator string) (*Object, error) {
	bucket, key, err := bs.resolve(locator)
	if err != nil {
		return nil, err
	}
	ctx, cancel := context.WithTimeout(ctx, 2*time.Minute)
	defer cancel()

	var (
		body        io.ReadCloser
		contentType string
	)
	if bs.cfg.IsEmulatorMode() {
		// The emulator only speaks the JSON API, so media reads go over plain HTTP.
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, emulatorMediaURL(bs.emulatorBase, bucket, key), nil)
		if err != nil {
			return nil, fmt.Errorf("failed creating emulator download request: %w", err)
		}
		resp, err := bs.httpClient.Do(req)
		if err != nil {
			return nil, fmt.Errorf("failed emulator download request: %w", err)
		}
		if resp.StatusCode == http.StatusNotFound {
			_ = resp.Body.Close()
			return nil, fmt.Errorf("%w: gs://%s/%s", ErrObjectNotFound, bucket, key)
		}
		if resp.StatusCode != http.StatusOK {
			msg, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
			_ = resp.Body.Close()
			return nil, fmt.Errorf("emulator download failed: status=%d body=%s", resp.StatusCode, strings.TrimSpace(string(msg)))
		}
		body, contentType = resp.Body, resp.Header.Get("Content-Type")
	} else {
		r, err := bs.client.Bucket(bucket).Object(key).NewReader(ctx)
		if err != nil {
			if errors.Is(err, storage.ErrObjectNotExist) {
				return nil, fmt.Errorf("%w: gs://%s/%s", ErrObjectNotFound, bucket, key)
			}
			return nil, fmt.Errorf("failed to open GCS reader: %w", err)
		}
		body, contentType = r, r.Attrs.ContentType
	}
	defer body.Close()

	data, err := io.ReadAll(io.LimitReader(body, bs.maxBytes+1))
	if err != nil {
		return nil, fmt.Errorf("read gs://%s/%s: %w", bucket, key, err)
	}
	if int64(len(data)) > bs.maxBytes {
		return nil, fmt.Errorf("%w: gs://%s/%s > %d bytes", ErrObjectTooLarge, bucket, key, bs.maxBytes)
	}
	if contentType == "" {
		contentType = contentTypeForKey(key)
	}
	return &Object{Bucket: bucket, Key: key, ContentType: contentType, Data: data}, nil
}

func (bs *bucketService) Delete(ctx context.Context, locator string) error {
	bucket, key, err := bs.resolve(locator)
	if err != nil {
		return err
	}
	ctx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()
	if err := bs.client.Bucket(bucket).Object(key).Delete(ctx); err != nil && !errors.Is(err, storage.ErrObjectNotExist) {
		return fmt.Errorf("failed to delete gs://%s/%s: %w", bucket, key, err)
	}
	return nil
}

func (bs *bucketService) resolve(locator string) (string, string, error) {
	locator = strings.TrimSpace(locator)
	if strings.HasPrefix(locator, "gs://") {
		return ParseGCSURI(locator)
	}
	key := strings.TrimLeft(locator, "/")
	if key == "" {
		return "", "", fmt.Errorf("empty object locator")
	}
	return bs.bucket, key, nil
}

// ParseGCSURI splits gs://bucket/key.
func ParseGCSURI(uri string) (bucket string, key string, err error) {
	rest, ok := strings.CutPrefix(strings.TrimSpace(uri), "gs://")
	if !ok {
		return "", "", fmt.Errorf("invalid gcs uri %q", uri)
	}
	bucket, key, _ = strings.Cut(rest, "/")
	if bucket == "" || key == "" {
		return "", "", fmt.Errorf("invalid gcs uri %q: want gs://bucket/key", uri)
	}
	return bucket, key, nil
}

func emulatorMediaURL(base, bucket, key string) string {
	return fmt.Sprintf("%s/storage/v1/b/%s/o/%s?alt=media", base, url.PathEscape(bucket), url.PathEscape(key))
}

func contentTypeForKey(key string) string {
	switch strings.ToLower(path.Ext(key)) {
	case ".pdf":
		return "application/pdf"
	case ".docx":
		return "application/vnd.openxmlformats-officedocument.wordprocessingml.document"
	case ".html", ".htm":
		return "text/html"
	case ".md", ".markdown":
		return "text/markdown"
	case ".txt":
		return "text/plain"
	case ".png":
		return "image/png"
	case ".jpg", ".jpeg":
		return "image/jpeg"
	case ".tif", ".tiff":
		return "image/tiff"
	default:
		return "application/octet-stream"
	}
}
