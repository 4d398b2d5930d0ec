package pipeline

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"

	"github.com/autopeer-io/bankupdate/internal/bankd/core"
	"github.com/autopeer-io/bankupdate/pkg/options"
)

// Source is an artifact location plus optional credentials.
type Source struct {
	URL      *url.URL
	Username string
	Password string
}

// HasCredentials reports whether the source carries credentials.
func (s *Source) HasCredentials() bool {
	return s.Username != "" || s.Password != ""
}

// Redacted is the URL without any userinfo, for logs and errors.
func (s *Source) Redacted() string {
	u := *s.URL
	u.User = nil
	return u.String()
}

// ReportFunc receives the running byte count and the expected total (-1 if unknown).
type ReportFunc func(received, total int64)

// Fetcher streams an artifact into dst.
type Fetcher interface {
	Fetch(ctx context.Context, src *Source, dst io.Writer, report ReportFunc) error
}

// Router dispatches on the URL scheme.
type Router map[string]Fetcher

var _ Fetcher = Router(nil)

// NewRouter wires the default sources: plain HTTP(S) and S3.
func NewRouter(s3 *options.S3Options) Router {
	h := &HTTPFetcher{Client: &http.Client{}}
	return Router{
		"http":  h,
		"https": h,
		"s3":    &S3Fetcher{Opts: s3},
	}
}

// Supports reports whether a scheme has a fetcher.
func (r Router) Supports(scheme string) bool {
	_, ok := r[strings.ToLower(scheme)]
	return ok
}

func (r Router) Fetch(ctx context.Context, src *Source, dst io.Writer, report ReportFunc) error {
	f, ok := r[strings.ToLower(src.URL.Scheme)]
	if !ok {
		return fmt.Errorf("%w: unsupported source scheme %q", core.ErrInvalidRequest, src.URL.Scheme)
	}
	return f.Fetch(ctx, src, dst, report)
}

// HTTPFetcher downloads with GET, using Basic auth when credentials are present.
type HTTPFetcher struct {
	Client *http.Client
}

func (f *HTTPFetcher) Fetch(ctx context.Context, src *Source, dst io.Writer, report ReportFunc) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, src.URL.String(), nil)
	if err != nil {
		return err
	}
	if src.HasCredentials() {
		req.SetBasicAuth(src.Username, src.Password)
	}

	resp, err := f.Client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("server returned %s", resp.Status)
	}

	n, err := io.Copy(dst, &countingReader{r: resp.Body, total: resp.ContentLength, report: report})
	if err != nil {
		return err
	}
	if resp.ContentLength > 0 && n != resp.ContentLength {
		return fmt.Errorf("short body: got %d of %d bytes", n, resp.ContentLength)
	}
	return nil
}

// S3Fetcher reads s3://bucket/key objects through minio. Request credentials, when
// present, are used as the access key and secret.
type S3Fetcher struct {
	Opts *options.S3Options
}

func (f *S3Fetcher) Fetch(ctx context.Context, src *Source, dst io.Writer, report ReportFunc) error {
	if f.Opts == nil || f.Opts.Endpoint == "" {
		return fmt.Errorf("no s3 endpoint configured")
	}

	bucket := src.URL.Host
	if bucket == "" {
		bucket = f.Opts.BucketName
	}
	key := strings.TrimPrefix(src.URL.Path, "/")
	if bucket == "" || key == "" {
		return fmt.Errorf("s3 source must look like s3://bucket/key")
	}

	access, secret := f.Opts.AccessKeyID, f.Opts.SecretAccessKey
	if src.HasCredentials() {
		access, secret = src.Username, src.Password
	}

	client, err := minio.New(f.Opts.Endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(access, secret, ""),
		Secure: f.Opts.UseSSL,
		Region: f.Opts.Region,
	})
	if err != nil {
		return fmt.Errorf("create s3 client: %w", err)
	}

	obj, err := client.GetObject(ctx, bucket, key, minio.GetObjectOptions{})
	if err != nil {
		return err
	}
	defer obj.Close()

	info, err := obj.Stat()
	if err != nil {
		return err
	}

	_, err = io.Copy(dst, &countingReader{r: obj, total: info.Size, report: report})
	return err
}

type countingReader struct {
	r      io.Reader
	n      int64
	total  int64
	report ReportFunc
}

func (c *countingReader) Read(b []byte) (int, error) {
	n, err := c.r.Read(b)
	if n > 0 {
		c.n += int64(n)
		if c.report != nil {
			c.report(c.n, c.total)
		}
	}
	return n, err
}
