package coordinator

import (
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/phuslu/log"
	"nuha.dev/loctrack/internal/fix"
)

// Priority of a positioning request, ordered from cheapest to most accurate.
type Priority int

const (
	PriorityLowPower Priority = iota
	PriorityBalancedPower
	PriorityHighAccuracy
)

func (p Priority) String() string {
	switch p {
	case PriorityLowPower:
		return "low_power"
	case PriorityBalancedPower:
		return "balanced_power"
	case PriorityHighAccuracy:
		return "high_accuracy"
	default:
		return "unknown"
	}
}

// Subscription is one open stream of fixes on the positioning source.
type Subscription interface {
	Cancel()
}

// Source is the external positioning source. At most one subscription
// is open per process; the coordinator is its sole owner.
//
// RequestUpdates is called with the coordinator mutex held and the
// sink re-enters it, so implementations must not invoke the sink
// synchronously from inside RequestUpdates. Fixes are delivered from
// the source's own goroutine.
type Source interface {
	RequestUpdates(prio Priority, interval time.Duration, minDistance float64, sink func(fix.Fix)) (Subscription, error)
}

// Request is the single merged parameter set sent to the source:
// strictest interval, smallest distance, highest priority among all
// registered consumers.
type Request struct {
	Interval    time.Duration
	MinDistance float64
	Priority    Priority
}

var ErrDuplicateConsumer = errors.New("consumer id already registered")

// SourceError reports that a consumer was registered but the source
// subscription could not be opened; no fixes will arrive until a later
// Register or Unregister restarts the request.
type SourceError struct {
	Err error
}

func (e *SourceError) Error() string {
	return fmt.Sprintf("positioning source request failed: %s", e.Err.Error())
}

func (e *SourceError) Unwrap() error {
	return e.Err
}

type consumer struct {
	id          string
	interval    time.Duration
	minDistance float64
	prio        Priority
	sink        func(fix.Fix)
	lastAt      time.Time
	lastFix     *fix.Fix
}

// Coordinator multiplexes any number of consumers with conflicting
// cadence requirements onto the single source request, then refilters
// each incoming fix against every consumer's own criteria.
type Coordinator struct {
	mu        sync.Mutex
	source    Source
	consumers map[string]*consumer
	current   Request
	sub       Subscription
	log       log.Logger
}

func New(source Source) *Coordinator {
	c := &Coordinator{}
	c.source = source
	c.consumers = make(map[string]*consumer)
	c.log = log.DefaultLogger
	c.log.Context = log.NewContext(nil).Str("module", "coordinator").Value()
	return c
}

// Register adds a consumer and restarts the source request if the
// merged parameters changed. ErrDuplicateConsumer means nothing was
// registered. A *SourceError means the consumer IS registered but the
// source request could not be opened.
func (c *Coordinator) Register(id string, interval time.Duration, minDistance float64, prio Priority, sink func(fix.Fix)) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if _, ok := c.consumers[id]; ok {
		return ErrDuplicateConsumer
	}
	c.consumers[id] = &consumer{id: id, interval: interval, minDistance: minDistance, prio: prio, sink: sink}
	c.log.Debug().Str("consumer", id).Dur("interval", interval).Float64("min_distance", minDistance).Str("priority", prio.String()).Msg("consumer registered")
	return c.updateRequest()
}

// Unregister removes a consumer, no-op on unknown id. The last
// consumer out cancels the source subscription entirely.
func (c *Coordinator) Unregister(id string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if _, ok := c.consumers[id]; !ok {
		return
	}
	delete(c.consumers, id)
	c.log.Debug().Str("consumer", id).Msg("consumer unregistered")
	err := c.updateRequest()
	if err != nil {
		c.log.Error().Err(err).Msg("source restart failed after unregister")
	}
}

// Active reports whether id is currently registered.
func (c *Coordinator) Active(id string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	_, ok := c.consumers[id]
	return ok
}

// Current returns the merged request now in effect. Zero value when
// no consumer is registered.
func (c *Coordinator) Current() Request {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.current
}

func (c *Coordinator) updateRequest() error {
	if len(c.consumers) == 0 {
		c.stopTracking()
		c.current = Request{}
		return nil
	}
	merged := c.mergeParameters()
	if c.sub != nil && merged == c.current {
		return nil
	}
	c.stopTracking()
	c.current = merged
	sub, err := c.source.RequestUpdates(merged.Priority, merged.Interval, merged.MinDistance, c.OnFix)
	if err != nil {
		c.log.Error().Err(err).Msg("unable to open source request")
		return &SourceError{Err: err}
	}
	c.sub = sub
	c.log.Info().Dur("interval", merged.Interval).Float64("min_distance", merged.MinDistance).Str("priority", merged.Priority.String()).Msg("source request opened")
	return nil
}

func (c *Coordinator) mergeParameters() Request {
	merged := Request{Interval: time.Duration(1<<63 - 1), MinDistance: float64(1<<63 - 1), Priority: PriorityLowPower}
	for _, con := range c.consumers {
		if con.interval < merged.Interval {
			merged.Interval = con.interval
		}
		if con.minDistance < merged.MinDistance {
			merged.MinDistance = con.minDistance
		}
		if con.prio > merged.Priority {
			merged.Priority = con.prio
		}
	}
	return merged
}

func (c *Coordinator) stopTracking() {
	if c.sub != nil {
		c.sub.Cancel()
		c.sub = nil
	}
}

// OnFix fans one source fix out to every consumer whose own filter it
// satisfies. Runs in the same critical section as Register/Unregister
// so consumer delivery state is never raced.
func (c *Coordinator) OnFix(f fix.Fix) {
	c.mu.Lock()
	defer c.mu.Unlock()
	now := time.Now()
	for _, con := range c.consumers {
		if !c.shouldDeliver(con, f, now) {
			continue
		}
		con.lastAt = now
		ff := f
		con.lastFix = &ff
		con.sink(f)
	}
}

func (c *Coordinator) shouldDeliver(con *consumer, f fix.Fix, now time.Time) bool {
	if con.lastFix == nil {
		return true
	}
	if now.Sub(con.lastAt) < con.interval {
		return false
	}
	if fix.Distance(f, *con.lastFix) < con.minDistance {
		return false
	}
	return true
}

// Shutdown drops all consumers and cancels the source subscription.
func (c *Coordinator) Shutdown() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.consumers = make(map[string]*consumer)
	c.stopTracking()
	c.current = Request{}
}
