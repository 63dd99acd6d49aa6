// Package flatfile downloads and parses the per-date compressed flat
// files published to S3-compatible object storage.
package flatfile

import (
	"compress/gzip"
	"context"
	"fmt"
	"io"
	"log/slog"
	"time"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"

	"barsync/internal/domain"
)

const (
	defaultAttempts  = 3
	defaultBaseDelay = time.Second
)

// Options configures a Client.
type Options struct {
	Endpoint  string
	AccessKey string
	SecretKey string
	Bucket    string
	UseSSL    bool
	// Attempts is the maximum number of download tries for transient
	// failures; zero means 3. BaseDelay is the first backoff delay and
	// doubles per attempt; zero means 1s.
	Attempts  int
	BaseDelay time.Duration
}

// Client fetches flat files from a single bucket. Safe for concurrent
// use.
type Client struct {
	mc        *minio.Client
	bucket    string
	attempts  int
	baseDelay time.Duration
	sleep     func(ctx context.Context, d time.Duration) error
	log       *slog.Logger
}

// New builds a Client against an S3-compatible endpoint with static
// credentials.
func New(opts Options) (*Client, error) {
	mc, err := minio.New(opts.Endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(opts.AccessKey, opts.SecretKey, ""),
		Secure: opts.UseSSL,
	})
	if err != nil {
		return nil, fmt.Errorf("object storage client: %w", err)
	}

	attempts := opts.Attempts
	if attempts <= 0 {
		attempts = defaultAttempts
	}
	baseDelay := opts.BaseDelay
	if baseDelay <= 0 {
		baseDelay = defaultBaseDelay
	}

	return &Client{
		mc:        mc,
		bucket:    opts.Bucket,
		attempts:  attempts,
		baseDelay: baseDelay,
		sleep:     sleepCtx,
		log:       slog.Default().With("component", "flatfile"),
	}, nil
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-time.After(d):
		return nil
	}
}

// ObjectKey returns the bucket key of the flat file for one date, e.g.
// us_stocks_sip/day_aggs_v1/2024/03/2024-03-07.csv.gz.
func ObjectKey(market string, dataType domain.DataType, date time.Time) string {
	return fmt.Sprintf("%s/%s/%04d/%02d/%s.csv.gz",
		market, dataType, date.Year(), int(date.Month()), date.Format("2006-01-02"))
}

// TestConnection probes the configured bucket. Used by commands to fail
// fast on bad credentials or endpoints before any job state is created.
func (c *Client) TestConnection(ctx context.Context) error {
	exists, err := c.mc.BucketExists(ctx, c.bucket)
	if err != nil {
		return fmt.Errorf("object storage probe: %w", classify(c.bucket, err))
	}
	if !exists {
		return fmt.Errorf("object storage probe: bucket %q does not exist", c.bucket)
	}
	return nil
}

// Download fetches one object and returns a reader over its
// decompressed contents. Decompression is streamed; the object is never
// buffered whole. The returned ReadCloser must be closed by the caller.
func (c *Client) Download(ctx context.Context, key string) (io.ReadCloser, error) {
	obj, err := c.mc.GetObject(ctx, c.bucket, key, minio.GetObjectOptions{})
	if err != nil {
		return nil, classify(key, err)
	}

	// GetObject defers the request; Stat forces it so that missing keys
	// surface here instead of mid-stream.
	if _, err := obj.Stat(); err != nil {
		obj.Close()
		return nil, classify(key, err)
	}

	gz, err := gzip.NewReader(obj)
	if err != nil {
		obj.Close()
		return nil, fmt.Errorf("decompress %s: %w", key, err)
	}

	return &gzipObject{gz: gz, obj: obj}, nil
}

// DownloadWithRetry downloads with exponential backoff on transient
// failures. Not-found and fatal errors return immediately; exhausted
// retries return the last error with its kind preserved.
func (c *Client) DownloadWithRetry(ctx context.Context, key string) (io.ReadCloser, error) {
	var lastErr error
	delay := c.baseDelay

	for attempt := 0; attempt < c.attempts; attempt++ {
		rc, err := c.Download(ctx, key)
		if err == nil {
			return rc, nil
		}
		if !IsTransient(err) {
			return nil, err
		}
		lastErr = err

		if attempt < c.attempts-1 {
			c.log.Warn("download failed, backing off",
				"key", key, "attempt", attempt+1, "delay", delay, "error", err)
			if serr := c.sleep(ctx, delay); serr != nil {
				return nil, serr
			}
			delay *= 2
		}
	}

	return nil, fmt.Errorf("download %s: %d attempts exhausted: %w", key, c.attempts, lastErr)
}

// gzipObject closes both the gzip stream and the underlying object.
type gzipObject struct {
	gz  *gzip.Reader
	obj io.Closer
}

func (g *gzipObject) Read(p []byte) (int, error) { return g.gz.Read(p) }

func (g *gzipObject) Close() error {
	gzErr := g.gz.Close()
	objErr := g.obj.Close()
	if gzErr != nil {
		return gzErr
	}
	return objErr
}
