// Package health probes whether the deployed service answers HTTP at its
// mount path. Any HTTP response counts as reachable.
package health

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"strconv"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/alvesdmateus/shipper/internal/resolver"
)

// DefaultTimeout bounds a single probe
const DefaultTimeout = 5 * time.Second

// Status is the outcome of a probe
type Status struct {
	URL        string
	Reachable  bool
	StatusCode int
	Latency    time.Duration
	Err        error
}

func (s Status) String() string {
	if s.Reachable {
		return fmt.Sprintf("reachable: %s (HTTP %d, %s)", s.URL, s.StatusCode, s.Latency.Round(time.Millisecond))
	}
	return fmt.Sprintf("not reachable: %s: %v", s.URL, s.Err)
}

// Prober issues single GET requests with a timeout
type Prober struct {
	client  *http.Client
	timeout time.Duration
}

// NewProber creates a prober. A zero timeout uses DefaultTimeout.
func NewProber(timeout time.Duration) *Prober {
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	return &Prober{
		client: &http.Client{
			CheckRedirect: func(*http.Request, []*http.Request) error {
				return http.ErrUseLastResponse
			},
		},
		timeout: timeout,
	}
}

// URL builds the probe address for a runtime configuration
func URL(host string, port int, mountPath string) string {
	return "http://" + net.JoinHostPort(host, strconv.Itoa(port)) + resolver.NormalizeMountPath(mountPath) + "/"
}

// Probe reports whether url answers. It never retries.
func (p *Prober) Probe(ctx context.Context, url string) Status {
	ctx, cancel := context.WithTimeout(ctx, p.timeout)
	defer cancel()

	status := Status{URL: url}
	start := time.Now()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		status.Err = err
		return status
	}

	resp, err := p.client.Do(req)
	status.Latency = time.Since(start)
	if err != nil {
		status.Err = err
		log.Debug().Err(err).Str("url", url).Msg("Health probe failed")
		return status
	}
	resp.Body.Close()

	status.Reachable = true
	status.StatusCode = resp.StatusCode
	log.Debug().Str("url", url).Int("status", resp.StatusCode).Dur("latency", status.Latency).Msg("Health probe answered")
	return status
}
