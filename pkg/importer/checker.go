package importer

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"sort"
	"time"

	"github.com/hazyhaar/french-cities/pkg/metrics"
)

// SourceCheck is the outcome of one HEAD request against an import source.
// Status is 0 when the request never got an answer.
type SourceCheck struct {
	AdapterID string
	Target    string
	URL       string
	Status    int
	Err       error
}

// Reachable reports a 2xx or 3xx answer.
func (sc SourceCheck) Reachable() bool {
	return sc.Err == nil && sc.Status >= 200 && sc.Status < 400
}

// CheckReport gathers the checks of one pass.
type CheckReport struct {
	Checks []SourceCheck
}

// Failed returns the unreachable sources.
func (r CheckReport) Failed() []SourceCheck {
	var out []SourceCheck
	for _, c := range r.Checks {
		if !c.Reachable() {
			out = append(out, c)
		}
	}
	return out
}

// StrandedTargets returns, sorted, the targets (TargetPostal, TargetAreas)
// none of whose sources answered: a refresh of those stores cannot succeed.
func (r CheckReport) StrandedTargets() []string {
	up := map[string]bool{}
	for _, c := range r.Checks {
		up[c.Target] = up[c.Target] || c.Reachable()
	}
	var out []string
	for target, ok := range up {
		if !ok {
			out = append(out, target)
		}
	}
	sort.Strings(out)
	return out
}

// Checker verifies that the reference-data downloads are still published,
// records the answer in the SourceDB and exports it per adapter and target.
type Checker struct {
	sources  *SourceDB
	logger   *slog.Logger
	interval time.Duration
	client   *http.Client
}

// NewChecker returns a Checker repeating every interval once started.
func NewChecker(sources *SourceDB, logger *slog.Logger, interval time.Duration) *Checker {
	if logger == nil {
		logger = slog.Default()
	}
	return &Checker{
		sources:  sources,
		logger:   logger,
		interval: interval,
		client: &http.Client{
			Timeout: 30 * time.Second,
			// A moved file is reported, not followed.
			CheckRedirect: func(*http.Request, []*http.Request) error {
				return http.ErrUseLastResponse
			},
		},
	}
}

// Start checks immediately, then every interval until ctx is cancelled.
func (c *Checker) Start(ctx context.Context) {
	c.CheckAll(ctx)

	ticker := time.NewTicker(c.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			c.CheckAll(ctx)
		}
	}
}

// CheckAll checks every registered source once.
func (c *Checker) CheckAll(ctx context.Context) CheckReport {
	var report CheckReport
	sources, err := c.sources.ListSources()
	if err != nil {
		c.logger.Error("import sources unreadable", "error", err)
		return report
	}

	for _, src := range sources {
		if ctx.Err() != nil {
			break
		}
		check := SourceCheck{AdapterID: src.AdapterID, Target: src.Target, URL: src.SourceURL}
		check.Status, check.Err = c.head(ctx, src.SourceURL)
		report.Checks = append(report.Checks, check)

		metrics.SourceStatus.WithLabelValues(src.AdapterID, src.Target).Set(float64(check.Status))
		errMsg := ""
		if check.Err != nil {
			errMsg = check.Err.Error()
		}
		if err := c.sources.UpdateCheck(src.AdapterID, check.Status, errMsg); err != nil {
			c.logger.Error("source check not recorded", "adapter", src.AdapterID, "error", err)
		}
		if !check.Reachable() {
			c.logger.Warn("import source unreachable",
				"adapter", src.AdapterID, "target", src.Target, "url", src.SourceURL,
				"status", check.Status, "error", errMsg)
		}
	}

	for _, target := range report.StrandedTargets() {
		c.logger.Error("no reachable source, the store cannot be refreshed", "target", target)
	}
	if len(report.Checks) > 0 {
		c.logger.Info("import sources checked", "total", len(report.Checks), "failed", len(report.Failed()))
	}
	return report
}

func (c *Checker) head(ctx context.Context, url string) (int, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodHead, url, nil)
	if err != nil {
		return 0, fmt.Errorf("build request: %w", err)
	}
	resp, err := c.client.Do(req)
	if err != nil {
		return 0, fmt.Errorf("HEAD %s: %w", url, err)
	}
	resp.Body.Close()
	return resp.StatusCode, nil
}
