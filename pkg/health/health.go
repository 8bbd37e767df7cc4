// Package health implements C5: two waiters — per-instance application
// health-check polling, and load-balancer membership/health polling —
// sharing one fixed-period, attempt-budgeted poll structure (spec.md
// §4.5). Built on the same message-passing reschedule idiom as
// pkg/tracker rather than a blocking sleep loop.
package health

import (
	"context"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/go-kit/kit/log"

	"github.com/maestro-deploy/maestro/pkg/cloud"
	"github.com/maestro-deploy/maestro/pkg/mmetrics"
)

// PollPeriod is the fixed period between observation cycles.
const PollPeriod = time.Second

// Callbacks the waiter invokes on terminal outcomes.
type Callbacks struct {
	OnComplete func()
	OnTimeout  func()
}

// cycleFunc performs one observation cycle, returning the set of
// targets observed healthy in that cycle.
type cycleFunc func(ctx context.Context) (healthy map[string]bool, allTargets []string, err error)

type waiter struct {
	logger    log.Logger
	ticker    tickScheduler
	operation string
	started   time.Time
}

type tickScheduler interface {
	After(d time.Duration, fn func())
}

type realScheduler struct{}

func (realScheduler) After(d time.Duration, fn func()) { time.AfterFunc(d, fn) }

func newWaiter(logger log.Logger, operation string) *waiter {
	return &waiter{logger: logger, ticker: realScheduler{}, operation: operation}
}

// run drives cycle every PollPeriod until every target has been
// observed healthy in one cycle (OnComplete) or attempts is exhausted
// (OnTimeout). No partial credit: any cycle where not every target is
// healthy consumes one attempt, flaps included.
func (w *waiter) run(ctx context.Context, cycle cycleFunc, attempts int, cb Callbacks) {
	w.started = time.Now()
	w.tick(ctx, cycle, attempts, cb)
}

func (w *waiter) tick(ctx context.Context, cycle cycleFunc, remaining int, cb Callbacks) {
	if remaining <= 0 {
		w.finish(false, cb.OnTimeout)
		return
	}

	cycleStart := time.Now()
	healthy, all, err := cycle(ctx)
	cycleDuration.With(mmetrics.LabelOperation, w.operation).Observe(time.Since(cycleStart).Seconds())
	if err != nil {
		w.logger.Log("warning", "health poll cycle failed, consuming an attempt", "err", err)
		w.reschedule(ctx, cycle, remaining-1, cb)
		return
	}

	if allHealthy(healthy, all) {
		w.finish(true, cb.OnComplete)
		return
	}
	w.reschedule(ctx, cycle, remaining-1, cb)
}

func (w *waiter) finish(success bool, fn func()) {
	waitDuration.With(mmetrics.LabelOperation, w.operation, mmetrics.LabelSuccess, strconv.FormatBool(success)).Observe(time.Since(w.started).Seconds())
	fn()
}

func (w *waiter) reschedule(ctx context.Context, cycle cycleFunc, remaining int, cb Callbacks) {
	w.ticker.After(PollPeriod, func() {
		w.tick(ctx, cycle, remaining, cb)
	})
}

func allHealthy(healthy map[string]bool, all []string) bool {
	if len(all) == 0 {
		return true
	}
	for _, id := range all {
		if !healthy[id] {
			return false
		}
	}
	return true
}

// InstanceHealthChecker performs one HTTP health check against an
// instance. For real use cmd/maestrod supplies NewHTTPHealthChecker (a
// thin wrapper over net/http.Client); tests substitute their own.
type InstanceHealthChecker interface {
	Check(ctx context.Context, ip string, port int, path string) (healthy bool)
}

type httpHealthChecker struct {
	client *http.Client
}

func NewHTTPHealthChecker(client *http.Client) InstanceHealthChecker {
	return &httpHealthChecker{client: client}
}

func (h *httpHealthChecker) Check(ctx context.Context, ip string, port int, path string) bool {
	url := fmt.Sprintf("http://%s:%d%s", ip, port, path)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return false
	}
	resp, err := h.client.Do(req)
	if err != nil {
		return false
	}
	defer resp.Body.Close()
	return resp.StatusCode == http.StatusOK
}

// WaitInstances implements wait-for-instance-health (spec.md §4.4 step
// 2): every instance in the ASG must respond 200 within
// instanceHealthyAttempts poll cycles.
func WaitInstances(ctx context.Context, logger log.Logger, checker InstanceHealthChecker, instances []cloud.Instance, port int, path string, attempts int, cb Callbacks) {
	w := newWaiter(logger, "instance-health")
	ids := make([]string, len(instances))
	for i, inst := range instances {
		ids[i] = inst.ID
	}
	cycle := func(ctx context.Context) (map[string]bool, []string, error) {
		healthy := map[string]bool{}
		for _, inst := range instances {
			if checker.Check(ctx, inst.PrivateIP, port, path) {
				healthy[inst.ID] = true
			}
		}
		return healthy, ids, nil
	}
	w.run(ctx, cycle, attempts, cb)
}

// WaitELB implements wait-for-elb-health (spec.md §4.4 step 4): every
// instance in the new ASG must be reported healthy by every named load
// balancer. Callers must only invoke this when selected-load-balancers
// is non-empty and health-check-type is ELB; otherwise the task
// completes immediately as a no-op (see pkg/executor).
func WaitELB(ctx context.Context, logger log.Logger, facade cloud.Facade, region string, loadBalancerNames []string, asgInstanceIDs []string, attempts int, cb Callbacks) {
	w := newWaiter(logger, "elb-health")
	cycle := func(ctx context.Context) (map[string]bool, []string, error) {
		lbs, err := facade.DescribeLoadBalancers(ctx, region, loadBalancerNames)
		if err != nil {
			return nil, asgInstanceIDs, err
		}
		healthy := map[string]bool{}
		for _, lb := range lbs {
			for _, inst := range lb.Instances {
				if inst.State == "InService" {
					healthy[inst.InstanceID] = true
				}
			}
		}
		return healthy, asgInstanceIDs, nil
	}
	w.run(ctx, cycle, attempts, cb)
}
