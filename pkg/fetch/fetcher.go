package fetch

import (
	"context"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"os"
	"strings"
	"time"

	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
)

const (
	// DefaultTimeout bounds a single request
	DefaultTimeout = 30 * time.Second
	// DefaultMaxBytes bounds a single response body read through FetchBytes
	DefaultMaxBytes = 64 << 20

	shaMediaType = "application/vnd.github.sha"
)

// Options configures a Fetcher
type Options struct {
	Timeout   time.Duration
	IPv4Only  bool
	UserAgent string
	MaxBytes  int64

	APIBase     string
	RawBase     string
	ArchiveBase string
}

// DefaultOptions returns options pointing at the public GitHub endpoints
func DefaultOptions() Options {
	return Options{
		Timeout:     DefaultTimeout,
		UserAgent:   "modhub",
		MaxBytes:    DefaultMaxBytes,
		APIBase:     "https://api.github.com",
		RawBase:     "https://raw.githubusercontent.com",
		ArchiveBase: "https://github.com",
	}
}

// StatusError is returned for non-2xx HTTP responses
type StatusError struct {
	URL        string
	StatusCode int
	Status     string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("fetch %s: HTTP %d", e.URL, e.StatusCode)
}

// Fetcher retrieves byte streams and content hashes. It never retries.
type Fetcher struct {
	opts       Options
	httpClient *http.Client
}

// New creates a fetcher
func New(opts Options) *Fetcher {
	defaults := DefaultOptions()
	if opts.Timeout <= 0 {
		opts.Timeout = defaults.Timeout
	}
	if opts.MaxBytes <= 0 {
		opts.MaxBytes = defaults.MaxBytes
	}
	if opts.UserAgent == "" {
		opts.UserAgent = defaults.UserAgent
	}
	if opts.APIBase == "" {
		opts.APIBase = defaults.APIBase
	}
	if opts.RawBase == "" {
		opts.RawBase = defaults.RawBase
	}
	if opts.ArchiveBase == "" {
		opts.ArchiveBase = defaults.ArchiveBase
	}
	opts.APIBase = strings.TrimRight(opts.APIBase, "/")
	opts.RawBase = strings.TrimRight(opts.RawBase, "/")
	opts.ArchiveBase = strings.TrimRight(opts.ArchiveBase, "/")

	dialer := &net.Dialer{Timeout: opts.Timeout, KeepAlive: 30 * time.Second}
	transport := http.DefaultTransport.(*http.Transport).Clone()
	transport.DialContext = dialContext(dialer, opts.IPv4Only)

	return &Fetcher{
		opts: opts,
		httpClient: &http.Client{
			Timeout:   opts.Timeout,
			Transport: otelhttp.NewTransport(transport),
		},
	}
}

// dialContext pins every TCP dial to IPv4 when ipv4Only is set.
// Names that resolve only to IPv6 addresses fail to dial.
func dialContext(dialer *net.Dialer, ipv4Only bool) func(ctx context.Context, network, addr string) (net.Conn, error) {
	return func(ctx context.Context, network, addr string) (net.Conn, error) {
		if ipv4Only && strings.HasPrefix(network, "tcp") {
			network = "tcp4"
		}
		return dialer.DialContext(ctx, network, addr)
	}
}

// Options returns the effective options
func (f *Fetcher) Options() Options {
	return f.opts
}

// Fetch returns a stream for an http(s) URL, a file:// URL or a bare filesystem path.
// The caller closes the stream.
func (f *Fetcher) Fetch(ctx context.Context, rawURL string) (io.ReadCloser, error) {
	switch {
	case strings.HasPrefix(rawURL, "http://"), strings.HasPrefix(rawURL, "https://"):
		resp, err := f.get(ctx, rawURL, "")
		if err != nil {
			return nil, err
		}
		return resp.Body, nil
	case strings.HasPrefix(rawURL, "file://"):
		u, err := url.Parse(rawURL)
		if err != nil {
			return nil, fmt.Errorf("invalid file URL %q: %w", rawURL, err)
		}
		return openFile(u.Path)
	default:
		return openFile(rawURL)
	}
}

// FetchBytes reads the whole stream, bounded by MaxBytes
func (f *Fetcher) FetchBytes(ctx context.Context, rawURL string) ([]byte, error) {
	rc, err := f.Fetch(ctx, rawURL)
	if err != nil {
		return nil, err
	}
	defer rc.Close()

	data, err := io.ReadAll(io.LimitReader(rc, f.opts.MaxBytes+1))
	if err != nil {
		return nil, fmt.Errorf("failed to read %s: %w", rawURL, err)
	}
	if int64(len(data)) > f.opts.MaxBytes {
		return nil, fmt.Errorf("response from %s exceeds %d bytes", rawURL, f.opts.MaxBytes)
	}
	return data, nil
}

// FetchHash returns the commit hash that ref currently points at in repo
func (f *Fetcher) FetchHash(ctx context.Context, repo, ref string) (string, error) {
	hashURL := fmt.Sprintf("%s/repos/%s/commits/%s", f.opts.APIBase, repo, url.PathEscape(ref))

	resp, err := f.get(ctx, hashURL, shaMediaType)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 1024))
	if err != nil {
		return "", fmt.Errorf("failed to read hash for %s@%s: %w", repo, ref, err)
	}

	hash := strings.TrimSpace(string(body))
	if hash == "" || strings.ContainsAny(hash, " \n{") {
		return "", fmt.Errorf("unexpected hash response for %s@%s", repo, ref)
	}
	return hash, nil
}

// RawURL builds the URL of a single file in a repository branch
func (f *Fetcher) RawURL(repo, branch, path string) string {
	return fmt.Sprintf("%s/%s/%s/%s", f.opts.RawBase, repo, branch, strings.TrimLeft(path, "/"))
}

// ArchiveURL builds the URL of a zip archive of a repository branch
func (f *Fetcher) ArchiveURL(repo, branch string) string {
	return fmt.Sprintf("%s/%s/archive/refs/heads/%s.zip", f.opts.ArchiveBase, repo, branch)
}

func (f *Fetcher) get(ctx context.Context, rawURL, accept string) (*http.Response, error) {
	if f.opts.IPv4Only {
		if err := rejectIPv6Literal(rawURL); err != nil {
			return nil, err
		}
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("User-Agent", f.opts.UserAgent)
	if accept != "" {
		req.Header.Set("Accept", accept)
	}

	resp, err := f.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("fetch %s: %w", rawURL, err)
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		// drain a little so the connection can be reused
		_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 4096))
		resp.Body.Close()
		return nil, &StatusError{URL: rawURL, StatusCode: resp.StatusCode, Status: resp.Status}
	}

	return resp, nil
}

func rejectIPv6Literal(rawURL string) error {
	u, err := url.Parse(rawURL)
	if err != nil {
		return fmt.Errorf("invalid URL %q: %w", rawURL, err)
	}
	if ip := net.ParseIP(u.Hostname()); ip != nil && ip.To4() == nil {
		return fmt.Errorf("fetch %s: IPv6 endpoint rejected in IPv4-only mode", rawURL)
	}
	return nil
}

func openFile(path string) (io.ReadCloser, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("fetch %s: %w", path, err)
	}
	return f, nil
}
