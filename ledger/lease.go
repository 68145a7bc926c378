package ledger

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/celer-network/goutils/log"
	"github.com/hashicorp/go-cleanhttp"
	"golang.org/x/time/rate"
)

const maxResponseBytes = 8 << 20

// Session is a scoped connection to the node. It must be released once the
// operation that acquired it is done.
type Session interface {
	Reader
	GetLedgerInfo(ctx context.Context) (*LedgerInfo, error)
	Release()
}

// Connector hands out sessions. Long-lived RPC sessions were observed to go
// stale across long polling intervals, so every cycle and every write attempt
// acquires its own session instead of sharing one.
type Connector interface {
	Acquire(ctx context.Context) (Session, error)
}

type DialerConfig struct {
	// NodeURL is the REST endpoint, with or without the /v1 suffix
	NodeURL string
	// RequestTimeout bounds every single HTTP request
	RequestTimeout time.Duration
	// RateLimit caps requests per second across all sessions, 0 disables it
	RateLimit float64
}

// Dialer creates leases backed by a fresh transport each time
type Dialer struct {
	baseURL string
	timeout time.Duration
	limiter *rate.Limiter
}

func NewDialer(config DialerConfig) (*Dialer, error) {
	base, err := normalizeBaseURL(config.NodeURL)
	if err != nil {
		return nil, err
	}
	limiter := rate.NewLimiter(rate.Inf, 0)
	if config.RateLimit > 0 {
		limiter = rate.NewLimiter(rate.Limit(config.RateLimit), int(config.RateLimit)+1)
	}
	return &Dialer{baseURL: base, timeout: config.RequestTimeout, limiter: limiter}, nil
}

func normalizeBaseURL(nodeURL string) (string, error) {
	u, err := url.Parse(strings.TrimSpace(nodeURL))
	if err != nil {
		return "", fmt.Errorf("invalid node url %q: %w", nodeURL, err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return "", fmt.Errorf("invalid node url %q: unsupported scheme", nodeURL)
	}
	u.Path = strings.TrimSuffix(u.Path, "/")
	if !strings.HasSuffix(u.Path, "/v1") {
		u.Path += "/v1"
	}
	return u.String(), nil
}

func (d *Dialer) Acquire(ctx context.Context) (Session, error) {
	return d.lease(ctx)
}

func (d *Dialer) lease(ctx context.Context) (*Lease, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	transport := cleanhttp.DefaultPooledTransport()
	return &Lease{
		baseURL:   d.baseURL,
		transport: transport,
		client:    &http.Client{Transport: transport, Timeout: d.timeout},
		limiter:   d.limiter,
	}, nil
}

// Lease owns one HTTP transport. Requests made through the same lease may
// reuse its connections; Release closes them.
type Lease struct {
	baseURL   string
	transport *http.Transport
	client    *http.Client
	limiter   *rate.Limiter

	mu       sync.Mutex
	released bool
}

func (l *Lease) Release() {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.released {
		return
	}
	l.released = true
	l.transport.CloseIdleConnections()
}

func (l *Lease) isReleased() bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.released
}

type apiErrorBody struct {
	Message   string `json:"message"`
	ErrorCode string `json:"error_code"`
}

func (l *Lease) do(ctx context.Context, op, method, path string, query url.Values, body, out any) error {
	if l.isReleased() {
		return ErrLeaseReleased
	}
	if err := l.limiter.Wait(ctx); err != nil {
		return &TransientNetworkError{Op: op, Err: err}
	}
	var reqBody io.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("%s: json.Marshal err: %w", op, err)
		}
		reqBody = bytes.NewReader(raw)
	}
	target := l.baseURL + path
	if len(query) > 0 {
		target += "?" + query.Encode()
	}
	req, err := http.NewRequestWithContext(ctx, method, target, reqBody)
	if err != nil {
		return fmt.Errorf("%s: http.NewRequest err: %w", op, err)
	}
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	log.Debugf("ledger %s %s", method, target)
	resp, err := l.client.Do(req)
	if err != nil {
		return &TransientNetworkError{Op: op, Err: err}
	}
	defer resp.Body.Close()
	data, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return &TransientNetworkError{Op: op, Err: err}
	}

	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		if out == nil {
			return nil
		}
		if err := json.Unmarshal(data, out); err != nil {
			return fmt.Errorf("%s: decode response err: %w", op, err)
		}
		return nil
	}

	var apiErr apiErrorBody
	_ = json.Unmarshal(data, &apiErr)
	if apiErr.Message == "" {
		apiErr.Message = strings.TrimSpace(string(data))
	}
	switch {
	case resp.StatusCode == http.StatusNotFound || strings.HasSuffix(apiErr.ErrorCode, "_not_found"):
		return &NotFoundError{Op: op, Code: apiErr.ErrorCode, Message: apiErr.Message}
	case resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= 500:
		return &TransientNetworkError{Op: op, Err: fmt.Errorf("http %d: %s", resp.StatusCode, apiErr.Message)}
	default:
		return &APIError{Op: op, Status: resp.StatusCode, Code: apiErr.ErrorCode, Message: apiErr.Message}
	}
}
