// Package hal is the typed wrapper around the hardware abstraction
// layer's group/member API, spec.md §4.5. It is deliberately narrow:
// the HAL itself computes the hash function and owns the ASIC state;
// this package only issues the handful of calls the manager needs and
// classifies their failures.
//
// Grounded on the teacher's bgp/speaker.go (a typed struct wrapping a
// narrow transport with lifecycle methods) and stream/stream.go
// (small typed helpers around an underlying channel).
package hal

import (
	"time"

	"github.com/rs/zerolog"
	"github.com/sonic-net/fgnhgorch/internal/logging"
	"github.com/sonic-net/fgnhgorch/internal/metrics"
	"github.com/sonic-net/fgnhgorch/internal/orchtypes"
)

// Handle is an opaque HAL object identifier. It is not a bare int so
// shadow-table code can't accidentally use it as a bucket index.
type Handle string

// Status is the platform classifier's verdict on a HAL call's error,
// per spec.md §4.5/§9 "HAL error taxonomy".
type Status int

const (
	Success Status = iota
	TransientFailure
	FatalFailure
)

// Classifier maps a raw driver error to a Status. Production builds
// supply the vendor-specific classifier; FakeDriver uses
// DefaultClassifier.
type Classifier func(err error) Status

// DefaultClassifier treats every non-nil error as transient. Vendor
// HAL bindings should replace this with a classifier that inspects
// the underlying SAI/platform status code.
func DefaultClassifier(err error) Status {
	if err == nil {
		return Success
	}
	return TransientFailure
}

// Driver is the HAL's narrow bucket/group API. Resource counters
// (group-member usage, spec.md §4.5) are the concern of the concrete
// implementation, since only it knows a member's owning group once
// only the member handle is in hand.
type Driver interface {
	// CreateGroup creates a fine-grained ECMP group sized for
	// bucketSize buckets and returns its handle plus the real size the
	// HAL actually allocated (vendors may round up).
	CreateGroup(bucketSize int) (Handle, int, error)
	// DestroyGroup frees a group and all its members.
	DestroyGroup(g Handle) error
	// CreateMember creates one bucket's member object, bound to
	// nextHopID, at the given bucket index.
	CreateMember(group Handle, nextHopID string, index int) (Handle, error)
	// DestroyMember frees a single member object.
	DestroyMember(m Handle) error
	// SetMemberAttribute rewrites an existing member's next-hop
	// binding -- this is the per-bucket write spec.md §4.2.3 requires
	// to be issued one at a time, in order.
	SetMemberAttribute(member Handle, nextHopID string) error
	// RouteSetNextHop points a route at a next-hop-id: either a HAL
	// group's next-hop-id or a RIF handle, per spec.md §4.4.
	RouteSetNextHop(vrf string, prefix string, nextHopID string) error
}

// InstrumentedDriver wraps a Driver with latency metrics and a status
// classifier, translating raw errors into *orchtypes.Error.
type InstrumentedDriver struct {
	inner    Driver
	classify Classifier
	log      zerolog.Logger
}

// NewInstrumentedDriver wraps inner with metrics/logging/error
// classification. A nil classifier uses DefaultClassifier.
func NewInstrumentedDriver(inner Driver, classify Classifier) *InstrumentedDriver {
	if classify == nil {
		classify = DefaultClassifier
	}
	return &InstrumentedDriver{
		inner:    inner,
		classify: classify,
		log:      logging.Component("hal"),
	}
}

func (d *InstrumentedDriver) observe(method string, start time.Time) {
	metrics.HALCallDuration.WithLabelValues(method).Observe(time.Since(start).Seconds())
}

func (d *InstrumentedDriver) classifyErr(method string, err error) error {
	if err == nil {
		return nil
	}
	status := d.classify(err)
	if status == FatalFailure {
		d.log.Error().Str("method", method).Err(err).Msg("fatal HAL failure")
		return orchtypes.Wrap(orchtypes.KindFatalHAL, method, err)
	}
	d.log.Warn().Str("method", method).Err(err).Msg("transient HAL failure")
	return orchtypes.Wrap(orchtypes.KindTransientHAL, method, err)
}

// CreateGroup implements Driver.
func (d *InstrumentedDriver) CreateGroup(bucketSize int) (Handle, int, error) {
	start := time.Now()
	defer d.observe("create_group", start)
	g, real, err := d.inner.CreateGroup(bucketSize)
	if err != nil {
		return g, real, d.classifyErr("create_group", err)
	}
	return g, real, nil
}

// DestroyGroup implements Driver.
func (d *InstrumentedDriver) DestroyGroup(g Handle) error {
	start := time.Now()
	defer d.observe("destroy_group", start)
	return d.classifyErr("destroy_group", d.inner.DestroyGroup(g))
}

// CreateMember implements Driver.
func (d *InstrumentedDriver) CreateMember(group Handle, nextHopID string, index int) (Handle, error) {
	start := time.Now()
	defer d.observe("create_member", start)
	m, err := d.inner.CreateMember(group, nextHopID, index)
	if err != nil {
		return m, d.classifyErr("create_member", err)
	}
	return m, nil
}

// DestroyMember implements Driver.
func (d *InstrumentedDriver) DestroyMember(m Handle) error {
	start := time.Now()
	defer d.observe("destroy_member", start)
	return d.classifyErr("destroy_member", d.inner.DestroyMember(m))
}

// SetMemberAttribute implements Driver.
func (d *InstrumentedDriver) SetMemberAttribute(member Handle, nextHopID string) error {
	start := time.Now()
	defer d.observe("set_member_attribute", start)
	return d.classifyErr("set_member_attribute", d.inner.SetMemberAttribute(member, nextHopID))
}

// RouteSetNextHop implements Driver.
func (d *InstrumentedDriver) RouteSetNextHop(vrf string, prefix string, nextHopID string) error {
	start := time.Now()
	defer d.observe("route_set_next_hop", start)
	return d.classifyErr("route_set_next_hop", d.inner.RouteSetNextHop(vrf, prefix, nextHopID))
}
