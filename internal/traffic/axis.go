// Package traffic models per-minute gateway traffic samples and aggregates them
// along the service, route and consumer axes.
package traffic

// AxisKind identifies which entity a sample is attributed to.
type AxisKind int

const (
	// AxisService marks a service-wide rollup (no route, no consumer).
	AxisService AxisKind = iota
	// AxisRoute marks a per-route sample.
	AxisRoute
	// AxisConsumer marks a per-consumer sample.
	AxisConsumer
)

// String returns the string representation of the axis kind.
func (k AxisKind) String() string {
	switch k {
	case AxisService:
		return "service"
	case AxisRoute:
		return "route"
	case AxisConsumer:
		return "consumer"
	default:
		return "unknown"
	}
}

// Axis is the tagged union Service | Route(id) | Consumer(id).
// The zero value is the service axis.
type Axis struct {
	kind AxisKind
	id   string
}

// ServiceAxis returns the service-wide axis.
func ServiceAxis() Axis {
	return Axis{kind: AxisService}
}

// RouteAxis returns the axis for a single route.
func RouteAxis(routeID string) Axis {
	return Axis{kind: AxisRoute, id: routeID}
}

// ConsumerAxis returns the axis for a single consumer.
func ConsumerAxis(consumerID string) Axis {
	return Axis{kind: AxisConsumer, id: consumerID}
}

// Kind returns the axis kind.
func (a Axis) Kind() AxisKind {
	return a.kind
}

// ID returns the route or consumer id, or "" for the service axis.
func (a Axis) ID() string {
	return a.id
}

// RouteID returns the route id when this is a route axis.
func (a Axis) RouteID() string {
	if a.kind == AxisRoute {
		return a.id
	}
	return ""
}

// ConsumerID returns the consumer id when this is a consumer axis.
func (a Axis) ConsumerID() string {
	if a.kind == AxisConsumer {
		return a.id
	}
	return ""
}

// String returns a display label such as "route:r_1".
func (a Axis) String() string {
	if a.kind == AxisService {
		return a.kind.String()
	}
	return a.kind.String() + ":" + a.id
}

// AxisFromColumns rebuilds an Axis from the flattened storage columns.
// Empty strings mean absent. Both present is rejected.
func AxisFromColumns(routeID, consumerID string) (Axis, error) {
	switch {
	case routeID != "" && consumerID != "":
		return Axis{}, ErrAxisConflict
	case routeID != "":
		return RouteAxis(routeID), nil
	case consumerID != "":
		return ConsumerAxis(consumerID), nil
	default:
		return ServiceAxis(), nil
	}
}
