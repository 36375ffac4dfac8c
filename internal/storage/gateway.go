// Package storage is the artifact store gateway: the only path through
// which binary artifacts reach durable storage, backed by Google Cloud
// Storage, with a content-addressed `episodes/{id}/{type}_v{n}.{ext}`
// key layout and emulator-mode support for local runs.
package storage

import (
	"context"
	"crypto/md5"
	"encoding/hex"
	"fmt"
	"io"
	"strings"
	"time"

	"cloud.google.com/go/storage"
	"golang.org/x/sync/errgroup"
	"google.golang.org/api/iterator"
	"google.golang.org/api/option"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"github.com/ataxco/contentforge/internal/corerr"
	"github.com/ataxco/contentforge/internal/platform/logger"
)

const (
	minPresignTTL = 60 * time.Second
	maxPresignTTL = 24 * time.Hour

	maxTransportRetries = 3
	deleteConcurrency   = 8
)

// retryTransient retries fn while the failure is a transient transport
// condition (Unavailable, ResourceExhausted, DeadlineExceeded). Anything
// else, including not-found, returns immediately.
func retryTransient(ctx context.Context, fn func() error) error {
	backoff := 750 * time.Millisecond
	var last error
	for attempt := 0; attempt <= maxTransportRetries; attempt++ {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		err := fn()
		if err == nil {
			return nil
		}
		last = err

		code := status.Code(err)
		if code != codes.Unavailable && code != codes.ResourceExhausted && code != codes.DeadlineExceeded {
			return err
		}
		if attempt == maxTransportRetries {
			break
		}

		time.Sleep(backoff)
		backoff *= 2
		if backoff > 10*time.Second {
			backoff = 10 * time.Second
		}
	}
	return last
}

// UploadResult is returned by Upload.
type UploadResult struct {
	URI      string
	ETag     string
	Size     int64
	Checksum string
}

type Gateway interface {
	Upload(ctx context.Context, bucket, key string, data []byte, contentType string) (UploadResult, error)
	Download(ctx context.Context, bucket, key string) ([]byte, error)
	PresignGet(ctx context.Context, bucket, key string, ttl time.Duration) (string, error)
	PresignPost(ctx context.Context, bucket, key, contentType string, ttl time.Duration) (string, error)
	DeleteEpisodeAssets(ctx context.Context, bucket, episodeID string) error
	EnsureBucket(ctx context.Context, bucket, region string) error
}

// Key builds the canonical content-addressed key for one asset version.
func Key(episodeID, assetType string, version int, ext string) string {
	return fmt.Sprintf("episodes/%s/%s_v%d.%s", episodeID, assetType, version, ext)
}

type gcsGateway struct {
	log    *logger.Logger
	client *storage.Client
	mode   Mode
}

type Mode string

const (
	ModeGCS         Mode = "gcs"
	ModeGCSEmulator Mode = "gcs_emulator"
)

func NewGateway(ctx context.Context, log *logger.Logger, mode Mode, emulatorHost string) (Gateway, error) {
	var client *storage.Client
	var err error
	switch mode {
	case ModeGCSEmulator:
		client, err = storage.NewClient(ctx, option.WithEndpoint(emulatorHost), option.WithoutAuthentication())
	default:
		client, err = storage.NewClient(ctx, option.WithScopes(storage.ScopeReadWrite))
	}
	if err != nil {
		return nil, corerr.Wrap(corerr.KindStorageError, "create storage client", err)
	}
	return &gcsGateway{log: log.With("component", "storage.Gateway"), client: client, mode: mode}, nil
}

func (g *gcsGateway) Upload(ctx context.Context, bucket, key string, data []byte, contentType string) (UploadResult, error) {
	if key == "" {
		return UploadResult{}, corerr.New(corerr.KindValidation, "upload: empty key")
	}
	ctx, cancel := context.WithTimeout(ctx, 2*time.Minute)
	defer cancel()

	if contentType == "" {
		contentType = contentTypeForKey(key)
	}

	var etag string
	err := retryTransient(ctx, func() error {
		w := g.client.Bucket(bucket).Object(key).NewWriter(ctx)
		if contentType != "" {
			w.ContentType = contentType
		}
		if _, err := w.Write(data); err != nil {
			_ = w.Close()
			return err
		}
		if err := w.Close(); err != nil {
			return err
		}
		etag = w.Attrs().Etag
		return nil
	})
	if err != nil {
		return UploadResult{}, corerr.Wrap(corerr.KindStorageError, "write object", err)
	}

	sum := md5.Sum(data)
	checksum := hex.EncodeToString(sum[:])
	return UploadResult{
		URI:      fmt.Sprintf("gs://%s/%s", bucket, key),
		ETag:     etag,
		Size:     int64(len(data)),
		Checksum: checksum,
	}, nil
}

func (g *gcsGateway) Download(ctx context.Context, bucket, key string) ([]byte, error) {
	ctx, cancel := context.WithTimeout(ctx, 2*time.Minute)
	defer cancel()
	var data []byte
	err := retryTransient(ctx, func() error {
		r, err := g.client.Bucket(bucket).Object(key).NewReader(ctx)
		if err != nil {
			return err
		}
		defer r.Close()
		data, err = io.ReadAll(r)
		return err
	})
	if err == storage.ErrObjectNotExist {
		return nil, corerr.Wrap(corerr.KindNotFound, "object not found", err)
	}
	if err != nil {
		return nil, corerr.Wrap(corerr.KindStorageError, "read object", err)
	}
	return data, nil
}

func clampTTL(ttl time.Duration) time.Duration {
	if ttl < minPresignTTL {
		return minPresignTTL
	}
	if ttl > maxPresignTTL {
		return maxPresignTTL
	}
	return ttl
}

func (g *gcsGateway) PresignGet(ctx context.Context, bucket, key string, ttl time.Duration) (string, error) {
	ttl = clampTTL(ttl)
	u, err := g.client.Bucket(bucket).SignedURL(key, &storage.SignedURLOptions{
		Method:  "GET",
		Expires: time.Now().Add(ttl),
	})
	if err != nil {
		return "", corerr.Wrap(corerr.KindStorageError, "sign get url", err)
	}
	return u, nil
}

func (g *gcsGateway) PresignPost(ctx context.Context, bucket, key, contentType string, ttl time.Duration) (string, error) {
	ttl = clampTTL(ttl)
	u, err := g.client.Bucket(bucket).SignedURL(key, &storage.SignedURLOptions{
		Method:      "PUT",
		ContentType: contentType,
		Expires:     time.Now().Add(ttl),
	})
	if err != nil {
		return "", corerr.Wrap(corerr.KindStorageError, "sign post url", err)
	}
	return u, nil
}

func (g *gcsGateway) DeleteEpisodeAssets(ctx context.Context, bucket, episodeID string) error {
	prefix := fmt.Sprintf("episodes/%s/", episodeID)
	ctx, cancel := context.WithTimeout(ctx, 2*time.Minute)
	defer cancel()

	it := g.client.Bucket(bucket).Objects(ctx, &storage.Query{Prefix: prefix})
	var keys []string
	for {
		attrs, err := it.Next()
		if err == iterator.Done {
			break
		}
		if err != nil {
			return corerr.Wrap(corerr.KindStorageError, "list episode prefix", err)
		}
		keys = append(keys, attrs.Name)
	}
	eg, egctx := errgroup.WithContext(ctx)
	eg.SetLimit(deleteConcurrency)
	for _, k := range keys {
		k := k
		eg.Go(func() error {
			if err := g.client.Bucket(bucket).Object(k).Delete(egctx); err != nil && err != storage.ErrObjectNotExist {
				return corerr.Wrap(corerr.KindStorageError, "delete object "+k, err)
			}
			return nil
		})
	}
	return eg.Wait()
}

func (g *gcsGateway) EnsureBucket(ctx context.Context, bucket, region string) error {
	ctx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()
	b := g.client.Bucket(bucket)
	_, err := b.Attrs(ctx)
	if err == nil {
		return nil
	}
	if err != storage.ErrBucketNotExist {
		return corerr.Wrap(corerr.KindStorageError, "check bucket attrs", err)
	}
	if createErr := b.Create(ctx, "", &storage.BucketAttrs{Location: region}); createErr != nil {
		return corerr.Wrap(corerr.KindStorageError, "create bucket", createErr)
	}
	return nil
}

func contentTypeForKey(key string) string {
	s := strings.ToLower(strings.TrimSpace(key))
	switch {
	case strings.HasSuffix(s, ".mp3"):
		return "audio/mpeg"
	case strings.HasSuffix(s, ".mp4"):
		return "video/mp4"
	case strings.HasSuffix(s, ".json"):
		return "application/json"
	case strings.HasSuffix(s, ".md"):
		return "text/markdown"
	case strings.HasSuffix(s, ".png"):
		return "image/png"
	default:
		return ""
	}
}
