package artifact

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/s3"
)

// ──────────────────────────────────────────────────────────────────
// Offline Artifact Access
//
// The risk table, class labels, edge list and fusion model are produced
// by the offline training pipeline. They live either next to the binary
// (DATA_DIR) or in an object store bucket written by the training job.
// Locations prefixed with s3:// are fetched through the AWS SDK using the
// default credential chain; everything else is a local path.
// ──────────────────────────────────────────────────────────────────

// Opener opens an artifact by location.
type Opener interface {
	Open(ctx context.Context, location string) (io.ReadCloser, error)
}

// Router dispatches local paths to the filesystem and s3:// locations to S3.
type Router struct {
	mu sync.Mutex
	s3 *s3.Client // lazily created on first s3:// location
}

// NewRouter returns an opener for both local and S3 locations.
func NewRouter() *Router {
	return &Router{}
}

// Open returns a reader for location. The caller closes it.
func (r *Router) Open(ctx context.Context, location string) (io.ReadCloser, error) {
	if bucket, key, ok := ParseS3(location); ok {
		return r.openS3(ctx, bucket, key)
	}
	f, err := os.Open(filepath.Clean(location))
	if err != nil {
		return nil, fmt.Errorf("open artifact %s: %w", location, err)
	}
	return f, nil
}

func (r *Router) openS3(ctx context.Context, bucket, key string) (io.ReadCloser, error) {
	r.mu.Lock()
	if r.s3 == nil {
		cfg, err := awsconfig.LoadDefaultConfig(ctx)
		if err != nil {
			r.mu.Unlock()
			return nil, fmt.Errorf("load aws config: %w", err)
		}
		r.s3 = s3.NewFromConfig(cfg)
	}
	client := r.s3
	r.mu.Unlock()

	out, err := client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		return nil, fmt.Errorf("get s3://%s/%s: %w", bucket, key, err)
	}
	return out.Body, nil
}

// ParseS3 splits an s3://bucket/key location.
func ParseS3(location string) (bucket, key string, ok bool) {
	rest, found := strings.CutPrefix(location, "s3://")
	if !found {
		return "", "", false
	}
	bucket, key, found = strings.Cut(rest, "/")
	if !found || bucket == "" || key == "" {
		return "", "", false
	}
	return bucket, key, true
}

// Join builds the location of name under base, for either kind of base.
func Join(base, name string) string {
	if strings.HasPrefix(base, "s3://") {
		return strings.TrimSuffix(base, "/") + "/" + name
	}
	return filepath.Join(base, name)
}

// Exists reports whether a local artifact is present. S3 locations are
// assumed present; a missing object surfaces when it is opened.
func Exists(location string) bool {
	if _, _, ok := ParseS3(location); ok {
		return true
	}
	_, err := os.Stat(location)
	return err == nil
}
