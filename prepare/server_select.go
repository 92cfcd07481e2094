package prepare

import (
	"context"
	"errors"
	"net/url"
	"slices"
	"strings"
	"time"
	"vault-test-support/logging"
	"vault-test-support/testclient"

	"go.uber.org/zap"
)

const HealthPath = "/v1/sys/health"

type ServerSelector struct {
	Template     *testclient.Template
	HealthPath   string
	ProbeTimeout time.Duration
	AcceptStatus []int
	Log          *zap.Logger
}

type probeResult struct {
	addr    string
	latency time.Duration
}

// Select returns the lowest-latency address whose health endpoint answers
// with an accepted status. Standby and DR nodes report non-2xx codes, so the
// status is read from the error as well.
func (s *ServerSelector) Select(ctx context.Context, addrs []string) (string, error) {
	results := make([]probeResult, 0, len(addrs))

	for _, a := range addrs {
		u, err := url.Parse(a)
		if err != nil || u.Scheme == "" || u.Host == "" {
			continue
		}
		pctx, cancel := context.WithTimeout(ctx, s.ProbeTimeout)
		lat, ok := s.probe(pctx, strings.TrimRight(a, "/"))
		cancel()
		if ok {
			results = append(results, probeResult{addr: a, latency: lat})
		}
	}

	if len(results) == 0 {
		return "", errors.New("no responsive Vault servers")
	}

	best := results[0]
	for _, r := range results[1:] {
		if r.latency < best.latency {
			best = r
		}
	}
	return best.addr, nil
}

func (s *ServerSelector) probe(ctx context.Context, addr string) (time.Duration, bool) {
	log := logging.OrNop(s.Log)
	path := s.HealthPath
	if path == "" {
		path = HealthPath
	}

	start := time.Now()
	resp, err := s.Template.GetForEntity(ctx, addr+path)
	var code int
	switch se, isStatus := testclient.AsStatusError(err); {
	case err == nil:
		code = resp.StatusCode()
	case isStatus:
		code = se.StatusCode
	default:
		log.Debug("probe failed", zap.String("addr", addr), zap.Error(err))
		return 0, false
	}

	if !slices.Contains(s.AcceptStatus, code) {
		log.Debug("probe rejected", zap.String("addr", addr), zap.Int("status", code))
		return 0, false
	}
	return time.Since(start), true
}
