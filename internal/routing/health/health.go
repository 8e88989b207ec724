// Package health probes vendor prerequisites. A prerequisite is healthy only
// when its status endpoint answers 200 with a JSON body whose status is "UP".
package health

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"idproof/internal/routing/models"
	"idproof/pkg/platform/circuit"
	"idproof/pkg/requestcontext"
)

// ErrUnhealthy is returned for a reachable prerequisite reporting trouble.
var ErrUnhealthy = errors.New("prerequisite unhealthy")

// ErrCircuitOpen is returned without probing while a breaker is cooling down.
var ErrCircuitOpen = errors.New("prerequisite circuit open")

const maxStatusBytes = 64 << 10

// HTTPProber issues GET requests with a short timeout.
type HTTPProber struct {
	client  *http.Client
	timeout time.Duration
}

func NewHTTPProber(timeout time.Duration) *HTTPProber {
	return &HTTPProber{client: &http.Client{}, timeout: timeout}
}

func (p *HTTPProber) Check(ctx context.Context, prereq models.Prerequisite) error {
	ctx, cancel := context.WithTimeout(ctx, p.timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, prereq.URL, nil)
	if err != nil {
		return fmt.Errorf("build probe for %s: %w", prereq.Name, err)
	}
	resp, err := p.client.Do(req)
	if err != nil {
		return fmt.Errorf("probe %s: %w", prereq.Name, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		_, _ = io.Copy(io.Discard, resp.Body)
		return fmt.Errorf("%w: %s returned %d", ErrUnhealthy, prereq.Name, resp.StatusCode)
	}
	body, err := io.ReadAll(io.LimitReader(resp.Body, maxStatusBytes))
	if err != nil {
		return fmt.Errorf("probe %s: %w", prereq.Name, err)
	}
	var status struct {
		Status string `json:"status"`
	}
	if err := json.Unmarshal(body, &status); err != nil {
		return fmt.Errorf("%w: %s returned an unreadable status body", ErrUnhealthy, prereq.Name)
	}
	if !strings.EqualFold(status.Status, "UP") {
		return fmt.Errorf("%w: %s status %q", ErrUnhealthy, prereq.Name, status.Status)
	}
	return nil
}

// Checker is anything that can probe a prerequisite.
type Checker interface {
	Check(ctx context.Context, prereq models.Prerequisite) error
}

// BreakerChecker stops hammering a dependency that keeps failing: once its
// breaker opens, checks fail fast until the cooldown lets a probe through.
type BreakerChecker struct {
	next     Checker
	breakers map[string]*circuit.Breaker
	opts     []circuit.Option
}

func NewBreakerChecker(next Checker, prereqs map[string]models.Prerequisite, opts ...circuit.Option) *BreakerChecker {
	b := &BreakerChecker{next: next, breakers: make(map[string]*circuit.Breaker, len(prereqs)), opts: opts}
	for name := range prereqs {
		b.breakers[name] = circuit.New(name, opts...)
	}
	return b
}

func (b *BreakerChecker) Check(ctx context.Context, prereq models.Prerequisite) error {
	br, ok := b.breakers[prereq.Name]
	if !ok {
		return b.next.Check(ctx, prereq)
	}
	now := requestcontext.Now(ctx)
	if !br.AllowProbe(now) {
		return fmt.Errorf("%w: %s", ErrCircuitOpen, prereq.Name)
	}
	if err := b.next.Check(ctx, prereq); err != nil {
		br.RecordFailureAt(now)
		return err
	}
	br.RecordSuccess()
	return nil
}

// State exposes the breaker state for a prerequisite, for status pages.
func (b *BreakerChecker) State(name string) (circuit.State, bool) {
	br, ok := b.breakers[name]
	if !ok {
		return circuit.StateClosed, false
	}
	return br.State(), true
}
