// Package connection provides the pooled JSON-over-HTTP clients directory
// nodes use to talk to each other: the coordinator to its replicas, a worker
// to its coordinator, and peers or operators to a store endpoint.
package connection

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net"
	"net/http"
	"strings"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/propagation"
	"go.uber.org/zap"

	"github.com/sushant-115/microblog-uds/core/transaction"
	"github.com/sushant-115/microblog-uds/pkg/logger"
)

// Options tunes a Manager.
type Options struct {
	// MaxConnsPerHost bounds open connections to one remote node.
	MaxConnsPerHost int
	// DialTimeout bounds connection establishment.
	DialTimeout time.Duration
	// Timeout bounds a call whose context carries no deadline.
	Timeout time.Duration
}

// Manager keeps one pooled transport for every remote node it has talked to.
// It is safe for concurrent use.
type Manager struct {
	mu        sync.RWMutex
	baseURLs  map[string]string // address -> base URL
	transport *http.Transport
	client    *http.Client
	timeout   time.Duration
	logger    *zap.Logger
}

// NewManager creates a Manager.
func NewManager(opts Options, logger *zap.Logger) *Manager {
	if opts.MaxConnsPerHost <= 0 {
		opts.MaxConnsPerHost = 8
	}
	if opts.DialTimeout <= 0 {
		opts.DialTimeout = 3 * time.Second
	}
	transport := &http.Transport{
		Proxy:               http.ProxyFromEnvironment,
		DialContext:         (&net.Dialer{Timeout: opts.DialTimeout, KeepAlive: 30 * time.Second}).DialContext,
		MaxConnsPerHost:     opts.MaxConnsPerHost,
		MaxIdleConnsPerHost: opts.MaxConnsPerHost,
		IdleConnTimeout:     90 * time.Second,
	}
	return &Manager{
		baseURLs:  make(map[string]string),
		transport: transport,
		client:    &http.Client{Transport: transport},
		timeout:   opts.Timeout,
		logger:    logger,
	}
}

// baseURL returns the normalized base URL for address, caching it.
func (m *Manager) baseURL(address string) string {
	m.mu.RLock()
	u, ok := m.baseURLs[address]
	m.mu.RUnlock()
	if ok {
		return u
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	// Double-check after acquiring write lock
	if u, ok = m.baseURLs[address]; ok {
		return u
	}
	u = strings.TrimRight(address, "/")
	if !strings.HasPrefix(u, "http://") && !strings.HasPrefix(u, "https://") {
		u = "http://" + u
	}
	m.baseURLs[address] = u
	return u
}

// Do sends in as the JSON body of method path on address and decodes the JSON
// answer into out. Transport failures, timeouts and non-2xx answers are
// reported as transaction.ErrNodeUnreachable.
func (m *Manager) Do(ctx context.Context, method, address, path string, in, out any) error {
	if _, ok := ctx.Deadline(); !ok && m.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, m.timeout)
		defer cancel()
	}

	var body io.Reader
	if in != nil {
		b, err := json.Marshal(in)
		if err != nil {
			return fmt.Errorf("failed to marshal request for %s%s: %w", address, path, err)
		}
		body = bytes.NewReader(b)
	}

	req, err := http.NewRequestWithContext(ctx, method, m.baseURL(address)+path, body)
	if err != nil {
		return fmt.Errorf("failed to create request for %s%s: %w", address, path, err)
	}
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if id := logger.RequestID(ctx); id != "" {
		req.Header.Set(logger.RequestIDHeader, id)
	}
	otel.GetTextMapPropagator().Inject(ctx, propagation.HeaderCarrier(req.Header))

	resp, err := m.client.Do(req)
	if err != nil {
		return fmt.Errorf("%w: %s: %v", transaction.ErrNodeUnreachable, address, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		bodyBytes, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return fmt.Errorf("%w: %s%s returned status %d: %s",
			transaction.ErrNodeUnreachable, address, path, resp.StatusCode, strings.TrimSpace(string(bodyBytes)))
	}
	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("failed to decode response from %s%s: %w", address, path, err)
	}
	return nil
}

// Close releases every idle pooled connection.
func (m *Manager) Close() {
	m.transport.CloseIdleConnections()
	m.mu.Lock()
	m.baseURLs = make(map[string]string)
	m.mu.Unlock()
}
