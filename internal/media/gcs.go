package media

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"cloud.google.com/go/storage"
	"go.uber.org/zap"
	"google.golang.org/api/iterator"
	"google.golang.org/api/option"

	"github.com/kailas-cloud/matchd/internal/domain"
	"github.com/kailas-cloud/matchd/internal/domain/report"
)

// GCSConfig holds the bucket settings for remote media.
type GCSConfig struct {
	Bucket          string
	Prefix          string
	URLTTL          time.Duration // 0 yields gs:// locations instead of signed URLs
	CredentialsFile string
}

// objectStore is the subset of a bucket the resolver needs.
type objectStore interface {
	objects(ctx context.Context, prefix string) ([]string, error)
	signedURL(object string, ttl time.Duration) (string, error)
}

type gcsLister struct {
	bucket string
	prefix string
	ttl    time.Duration
	store  objectStore
}

// NewGCS creates a Resolver over a Google Cloud Storage bucket. The returned
// close func releases the storage client.
func NewGCS(ctx context.Context, cfg GCSConfig, logger *zap.Logger) (*Resolver, func() error, error) {
	if cfg.Bucket == "" {
		return nil, nil, errors.New("gcs bucket is required")
	}

	var opts []option.ClientOption
	if cfg.CredentialsFile != "" {
		opts = append(opts, option.WithCredentialsFile(cfg.CredentialsFile))
	}
	client, err := storage.NewClient(ctx, opts...)
	if err != nil {
		return nil, nil, fmt.Errorf("create storage client: %w", err)
	}

	l := newGCSLister(cfg, &bucketStore{h: client.Bucket(cfg.Bucket)})
	return newResolver(l, logger), client.Close, nil
}

func newGCSLister(cfg GCSConfig, s objectStore) *gcsLister {
	return &gcsLister{
		bucket: cfg.Bucket,
		prefix: strings.Trim(cfg.Prefix, "/"),
		ttl:    cfg.URLTTL,
		store:  s,
	}
}

func (g *gcsLister) folder(t report.Type) string {
	if g.prefix == "" {
		return Folder(t) + "/"
	}
	return g.prefix + "/" + Folder(t) + "/"
}

func (g *gcsLister) list(ctx context.Context, t report.Type) (map[string]string, error) {
	folder := g.folder(t)
	names, err := g.store.objects(ctx, folder)
	if err != nil {
		return nil, fmt.Errorf("list gs://%s/%s: %w: %w", g.bucket, folder, domain.ErrMediaUnavailable, err)
	}

	out := make(map[string]string, len(names))
	for _, name := range names {
		if strings.HasSuffix(name, "/") {
			continue
		}
		loc, err := g.location(name)
		if err != nil {
			return nil, fmt.Errorf("sign %s: %w: %w", name, domain.ErrMediaUnavailable, err)
		}
		out[baseKey(name)] = loc
	}
	return out, nil
}

func (g *gcsLister) location(object string) (string, error) {
	if g.ttl <= 0 {
		return "gs://" + g.bucket + "/" + object, nil
	}
	return g.store.signedURL(object, g.ttl)
}

// bucketStore adapts *storage.BucketHandle.
type bucketStore struct {
	h *storage.BucketHandle
}

func (b *bucketStore) objects(ctx context.Context, prefix string) ([]string, error) {
	it := b.h.Objects(ctx, &storage.Query{Prefix: prefix})
	var names []string
	for {
		attrs, err := it.Next()
		if errors.Is(err, iterator.Done) {
			return names, nil
		}
		if err != nil {
			return nil, fmt.Errorf("iterate objects: %w", err)
		}
		names = append(names, attrs.Name)
	}
}

func (b *bucketStore) signedURL(object string, ttl time.Duration) (string, error) {
	u, err := b.h.SignedURL(object, &storage.SignedURLOptions{
		Scheme:  storage.SigningSchemeV4,
		Method:  http.MethodGet,
		Expires: time.Now().Add(ttl),
	})
	if err != nil {
		return "", fmt.Errorf("signed url: %w", err)
	}
	return u, nil
}
