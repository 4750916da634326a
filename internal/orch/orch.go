// Package orch is the single-threaded dispatcher (spec.md §5): one
// event drained, handled to completion, and only then does the loop
// look at the next source. No operation suspends mid-sequence, and
// the manager never takes a lock on its own -- the loop's own
// single-threadedness is what keeps (shadow, HAL, journal) in lockstep.
//
// Grounded on the teacher's bgp/speaker.go Start/listener accept-loop
// (one loop, one event at a time, a goroutine only for the outer
// accept, never for state mutation) generalized from "accept one TCP
// connection" to "drain one event from whichever source is next".
package orch

import (
	"net/netip"

	"github.com/rs/zerolog"

	"github.com/sonic-net/fgnhgorch/internal/collab"
	"github.com/sonic-net/fgnhgorch/internal/config"
	"github.com/sonic-net/fgnhgorch/internal/linkreactor"
	"github.com/sonic-net/fgnhgorch/internal/logging"
	"github.com/sonic-net/fgnhgorch/internal/metrics"
	"github.com/sonic-net/fgnhgorch/internal/queue"
	"github.com/sonic-net/fgnhgorch/internal/routereactor"
)

// RouteEvent is one program_route/remove_route request.
type RouteEvent struct {
	VRF    string
	Prefix netip.Prefix
	NHG    []netip.Addr
	Remove bool
}

// LinkEvent is one port oper-state change.
type LinkEvent struct {
	Alias string
	Up    bool
}

// Loop is the orchestration loop: it owns the three deferred-retry
// FIFOs and the channels external sources feed it through.
type Loop struct {
	routeCh chan RouteEvent
	linkCh  chan LinkEvent

	groupQ  *queue.Queue
	prefixQ *queue.Queue
	memberQ *queue.Queue

	cfg    *config.Manager
	routes *routereactor.Reactor
	links  *linkreactor.Reactor
	rp     collab.RouteProcessor

	stop chan struct{}
	log  zerolog.Logger
}

// New creates a Loop wired to its handlers. Channel sizes are small:
// a slow consumer is meant to apply backpressure to its producer, not
// buffer unboundedly.
func New(cfg *config.Manager, routes *routereactor.Reactor, links *linkreactor.Reactor, rp collab.RouteProcessor) *Loop {
	return &Loop{
		routeCh: make(chan RouteEvent, 64),
		linkCh:  make(chan LinkEvent, 64),
		groupQ:  queue.New(),
		prefixQ: queue.New(),
		memberQ: queue.New(),
		cfg:     cfg,
		routes:  routes,
		links:   links,
		rp:      rp,
		stop:    make(chan struct{}),
		log:     logging.Component("orch"),
	}
}

// SubmitGroup enqueues a FG_NHG table write onto the group FIFO.
func (l *Loop) SubmitGroup(u config.GroupUpdate) {
	l.groupQ.Push(queue.Entry{Key: u.Name, Value: u})
	metrics.DeferredQueueDepth.WithLabelValues("group").Set(float64(l.groupQ.Len()))
}

// SubmitPrefix enqueues a FG_NHG_PREFIX table write onto the prefix FIFO.
func (l *Loop) SubmitPrefix(u config.PrefixUpdate) {
	l.prefixQ.Push(queue.Entry{Key: u.Prefix.String(), Value: u})
	metrics.DeferredQueueDepth.WithLabelValues("prefix").Set(float64(l.prefixQ.Len()))
}

// SubmitMember enqueues a FG_NHG_MEMBER table write onto the member FIFO.
func (l *Loop) SubmitMember(u config.MemberUpdate) {
	l.memberQ.Push(queue.Entry{Key: u.IP.String(), Value: u})
	metrics.DeferredQueueDepth.WithLabelValues("member").Set(float64(l.memberQ.Len()))
}

// SubmitRoute feeds a route event to the loop. Blocks if the channel
// is full, applying backpressure to the route pipeline.
func (l *Loop) SubmitRoute(e RouteEvent) { l.routeCh <- e }

// SubmitLink feeds a port oper-state change to the loop.
func (l *Loop) SubmitLink(e LinkEvent) { l.linkCh <- e }

// Stop ends Run's dispatch loop after its current event finishes.
func (l *Loop) Stop() { close(l.stop) }

// Run drains events until Stop is called. Each source queue is
// checked in a fixed order per spec.md §5's "relative order across
// queues is determined by the dispatcher but each queue drains FIFO":
// deferred-retry tables first (they gate new route/link work), then
// the route channel, then the link channel, then back around. A
// source with nothing pending is skipped without blocking the others.
func (l *Loop) Run() {
	for {
		select {
		case <-l.stop:
			return
		default:
		}

		if l.drainOneDeferred() {
			continue
		}

		select {
		case e := <-l.routeCh:
			l.handleRoute(e)
			continue
		default:
		}

		select {
		case e := <-l.linkCh:
			l.handleLink(e)
			continue
		default:
		}

		select {
		case <-l.stop:
			return
		case e := <-l.routeCh:
			l.handleRoute(e)
		case e := <-l.linkCh:
			l.handleLink(e)
		}
	}
}

// drainOneDeferred advances at most one entry from the first
// non-empty deferred-retry FIFO, in group/member/prefix priority
// order, and reports whether it did any work.
func (l *Loop) drainOneDeferred() bool {
	if l.groupQ.Len() > 0 {
		e, _ := l.groupQ.Peek()
		u := e.Value.(config.GroupUpdate)
		if l.cfg.HandleGroupEntry(u) == config.Handled {
			l.groupQ.Advance()
		} else {
			l.groupQ.Requeue(e)
		}
		metrics.DeferredQueueDepth.WithLabelValues("group").Set(float64(l.groupQ.Len()))
		return true
	}
	if l.memberQ.Len() > 0 {
		e, _ := l.memberQ.Peek()
		u := e.Value.(config.MemberUpdate)
		if l.cfg.HandleMemberEntry(u) == config.Handled {
			l.memberQ.Advance()
		} else {
			l.memberQ.Requeue(e)
		}
		metrics.DeferredQueueDepth.WithLabelValues("member").Set(float64(l.memberQ.Len()))
		return true
	}
	if l.prefixQ.Len() > 0 {
		e, _ := l.prefixQ.Peek()
		u := e.Value.(config.PrefixUpdate)
		outcome, result := l.cfg.HandlePrefixEntry(u, l.rp, e.Attempts)
		if outcome == config.Handled {
			l.prefixQ.Advance()
			l.applyPrefixBindResult(u, result)
		} else {
			l.prefixQ.Requeue(e)
		}
		metrics.DeferredQueueDepth.WithLabelValues("prefix").Set(float64(l.prefixQ.Len()))
		return true
	}
	return false
}

// applyPrefixBindResult implements the route-reentry half of spec.md
// §4.7's two-phase dance: once the prefix is bound, the cached
// original next-hop group (if any) re-enters the route pipeline as a
// fine-grained route instead of a conventional one.
func (l *Loop) applyPrefixBindResult(u config.PrefixUpdate, result *config.PrefixBindResult) {
	if result == nil || !result.Bound || len(result.OriginalNHG) == 0 {
		return
	}
	l.handleRoute(RouteEvent{VRF: "default", Prefix: u.Prefix, NHG: result.OriginalNHG})
}

func (l *Loop) handleRoute(e RouteEvent) {
	if e.Remove {
		if err := l.routes.RemoveRoute(e.VRF, e.Prefix); err != nil {
			l.log.Warn().Err(err).Str("prefix", e.Prefix.String()).Msg("remove_route failed")
		}
		return
	}
	if !l.routes.IsFineGrained(e.VRF, e.Prefix, e.NHG) {
		return
	}
	if _, _, err := l.routes.ProgramRoute(e.VRF, e.Prefix, e.NHG); err != nil {
		l.log.Warn().Err(err).Str("prefix", e.Prefix.String()).Msg("program_route failed")
	}
}

func (l *Loop) handleLink(e LinkEvent) {
	if err := l.links.HandlePortStateChange(e.Alias, e.Up); err != nil {
		l.log.Warn().Err(err).Str("alias", e.Alias).Msg("port state change handling failed")
	}
}
