// Package transport delivers request payloads to nodes over HTTP.
package transport

import (
	"bytes"
	"context"
	"crypto/tls"
	"crypto/x509"
	"fmt"
	"io"
	"net/http"
	"os"
	"strings"
	"sync"
	"time"

	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"golang.org/x/time/rate"

	"trustclient/errcode"
	"trustclient/plugin"
)

const (
	// DefaultTimeout bounds one HTTP exchange.
	DefaultTimeout = 10 * time.Second
	// maxResponseSize bounds the body read from a node.
	maxResponseSize = 16 << 20
)

// Config controls how payloads are sent.
type Config struct {
	Timeout time.Duration
	// RequestsPerSecond limits outgoing requests across all nodes. Zero
	// disables the limit.
	RequestsPerSecond float64
	Burst             int
	TLSClientCAFile   string
	AllowInsecure     bool
	UserAgent         string
	// MeterProvider receives the round-trip histogram. Nil uses the global
	// provider.
	MeterProvider metric.MeterProvider
}

// HTTP implements plugin.Transport. Payloads addressed to several URLs are
// sent in parallel.
type HTTP struct {
	http      *http.Client
	limiter   *rate.Limiter
	userAgent string
	roundTrip metric.Float64Histogram
}

var _ plugin.Transport = (*HTTP)(nil)

// New constructs an HTTP transport from the provided configuration.
func New(cfg Config) (*HTTP, error) {
	tlsConfig := &tls.Config{}
	if cfg.AllowInsecure {
		tlsConfig.InsecureSkipVerify = true
	} else if strings.TrimSpace(cfg.TLSClientCAFile) != "" {
		systemPool, err := x509.SystemCertPool()
		if err != nil {
			return nil, fmt.Errorf("load system cert pool: %w", err)
		}
		if systemPool == nil {
			systemPool = x509.NewCertPool()
		}
		pemBytes, err := os.ReadFile(cfg.TLSClientCAFile)
		if err != nil {
			return nil, fmt.Errorf("read client ca file: %w", err)
		}
		if ok := systemPool.AppendCertsFromPEM(pemBytes); !ok {
			return nil, fmt.Errorf("append client ca certificates: invalid pem data")
		}
		tlsConfig.RootCAs = systemPool
	}

	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	base := &http.Transport{TLSClientConfig: tlsConfig, Proxy: http.ProxyFromEnvironment}
	t := &HTTP{
		http:      &http.Client{Timeout: timeout, Transport: otelhttp.NewTransport(base)},
		userAgent: strings.TrimSpace(cfg.UserAgent),
	}
	if t.userAgent == "" {
		t.userAgent = "trustclient"
	}
	mp := cfg.MeterProvider
	if mp == nil {
		mp = otel.GetMeterProvider()
	}
	hist, err := mp.Meter("trustclient/transport").Float64Histogram("trustclient.transport.round_trip",
		metric.WithUnit("s"),
		metric.WithDescription("Time from sending a payload to a node until its answer was read."),
	)
	if err != nil {
		return nil, fmt.Errorf("create round trip histogram: %w", err)
	}
	t.roundTrip = hist
	if cfg.RequestsPerSecond > 0 {
		burst := cfg.Burst
		if burst <= 0 {
			burst = 1
		}
		t.limiter = rate.NewLimiter(rate.Limit(cfg.RequestsPerSecond), burst)
	}
	return t, nil
}

// Send posts the payload to every URL and returns the outcomes in URL order.
func (t *HTTP) Send(ctx context.Context, req *plugin.TransportRequest) []plugin.TransportResponse {
	out := make([]plugin.TransportResponse, len(req.URLs))
	var wg sync.WaitGroup
	for i, url := range req.URLs {
		wg.Add(1)
		go func(i int, url string) {
			defer wg.Done()
			out[i] = t.post(ctx, url, req)
			outcome := "ok"
			if out[i].Err != nil {
				outcome = "error"
			}
			t.roundTrip.Record(ctx, out[i].Duration.Seconds(), metric.WithAttributes(attribute.String("outcome", outcome)))
		}(i, url)
	}
	wg.Wait()
	return out
}

func (t *HTTP) post(ctx context.Context, url string, req *plugin.TransportRequest) plugin.TransportResponse {
	if t.limiter != nil {
		if err := t.limiter.Wait(ctx); err != nil {
			return plugin.TransportResponse{Err: errcode.Wrap(errcode.Transport, "rate limit", err)}
		}
	}
	start := time.Now()
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(req.Payload))
	if err != nil {
		return plugin.TransportResponse{Err: errcode.Wrap(errcode.Invalid, "build request", err)}
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("User-Agent", t.userAgent)

	resp, err := t.http.Do(httpReq)
	if err != nil {
		return plugin.TransportResponse{Err: errcode.Wrap(errcode.Transport, "call node", err), Duration: time.Since(start)}
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseSize))
	took := time.Since(start)
	if err != nil {
		return plugin.TransportResponse{Err: errcode.Wrap(errcode.Transport, "read response", err), Duration: took}
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return plugin.TransportResponse{
			Err:      errcode.Newf(errcode.Transport, "node answered with status %s", resp.Status),
			Duration: took,
		}
	}
	return plugin.TransportResponse{Data: body, Duration: took}
}
