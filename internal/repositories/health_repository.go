package repositories

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	domain "github.com/hanko-field/checkout/internal/domain"
)

const defaultProbeTimeout = 1500 * time.Millisecond

// DependencyCheck is one readiness probe, e.g. a database ping.
type DependencyCheck struct {
	Name     string
	Timeout  time.Duration
	Optional bool
	Check    func(context.Context) error
}

// ReadinessProbe runs dependency checks concurrently.
type ReadinessProbe struct {
	checks  []DependencyCheck
	timeout time.Duration
	now     func() time.Time
}

// ReadinessOption customises a ReadinessProbe.
type ReadinessOption func(*ReadinessProbe)

// WithProbeTimeout sets the timeout used by checks that do not declare one.
func WithProbeTimeout(timeout time.Duration) ReadinessOption {
	return func(p *ReadinessProbe) {
		if timeout > 0 {
			p.timeout = timeout
		}
	}
}

func WithProbeClock(clock func() time.Time) ReadinessOption {
	return func(p *ReadinessProbe) {
		if clock != nil {
			p.now = clock
		}
	}
}

func NewReadinessProbe(checks []DependencyCheck, opts ...ReadinessOption) (*ReadinessProbe, error) {
	if len(checks) == 0 {
		return nil, errors.New("readiness probe: at least one check is required")
	}
	for _, check := range checks {
		if strings.TrimSpace(check.Name) == "" {
			return nil, errors.New("readiness probe: check name is required")
		}
		if check.Check == nil {
			return nil, fmt.Errorf("readiness probe: check %s has no function", check.Name)
		}
	}
	p := &ReadinessProbe{
		checks:  append([]DependencyCheck(nil), checks...),
		timeout: defaultProbeTimeout,
		now:     time.Now,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(p)
		}
	}
	return p, nil
}

// Collect probes every dependency. A failing required check makes the report an error; a
// failing optional check only degrades it.
func (p *ReadinessProbe) Collect(ctx context.Context) domain.ReadinessReport {
	results := make(map[string]domain.DependencyHealth, len(p.checks))
	var (
		mu sync.Mutex
		wg sync.WaitGroup
	)
	for _, check := range p.checks {
		wg.Add(1)
		go func(check DependencyCheck) {
			defer wg.Done()
			result := p.run(ctx, check)
			mu.Lock()
			results[check.Name] = result
			mu.Unlock()
		}(check)
	}
	wg.Wait()

	status := domain.HealthStatusOK
	for _, check := range p.checks {
		if results[check.Name].Status == domain.HealthStatusOK {
			continue
		}
		if !check.Optional {
			status = domain.HealthStatusError
			break
		}
		status = domain.HealthStatusDegraded
	}
	return domain.ReadinessReport{Status: status, Checks: results, GeneratedAt: p.now()}
}

func (p *ReadinessProbe) run(ctx context.Context, check DependencyCheck) domain.DependencyHealth {
	timeout := check.Timeout
	if timeout <= 0 {
		timeout = p.timeout
	}
	checkCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	start := p.now()
	err := check.Check(checkCtx)
	end := p.now()

	result := domain.DependencyHealth{Status: domain.HealthStatusOK, Latency: end.Sub(start), CheckedAt: end}
	if err == nil && checkCtx.Err() != nil {
		err = checkCtx.Err()
	}
	switch {
	case err == nil:
	case errors.Is(err, context.DeadlineExceeded):
		result.Status = domain.HealthStatusError
		result.Detail = "timeout"
	case check.Optional:
		result.Status = domain.HealthStatusDegraded
		result.Detail = err.Error()
	default:
		result.Status = domain.HealthStatusError
		result.Detail = err.Error()
	}
	return result
}
