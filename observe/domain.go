package observe

import (
	"strconv"

	"go.opentelemetry.io/otel/attribute"
)

// DomainMeta identifies the domain concept an operation works on, so spans
// and log entries can be queried by aggregate, command or event rather than
// by technical call name.
type DomainMeta struct {
	AggregateName string // e.g. "Order"
	AggregateID   string // e.g. "ord-123" (optional)
	CommandName   string // e.g. "PlaceOrder" (optional)
	EventName     string // e.g. "OrderPlaced" (optional)
	EventVersion  int    // schema version of EventName (optional)
}

// Attribute keys stamped on domain spans and log entries.
const (
	AttrAggregateName = "ddd.aggregate.name"
	AttrAggregateID   = "ddd.aggregate.id"
	AttrCommandName   = "ddd.command.name"
	AttrEventName     = "ddd.event.name"
	AttrEventVersion  = "ddd.event.version"
	AttrCorrelationID = "correlation_id"
	AttrCausationID   = "causation_id"
)

// SpanName returns the deterministic span name for this concept.
// Format: command.<aggregate>.<command>, event.<aggregate>.<event> or
// aggregate.<aggregate>.
func (m DomainMeta) SpanName() string {
	prefix := m.AggregateName
	if prefix == "" {
		prefix = "unknown"
	}
	switch {
	case m.CommandName != "":
		return "command." + prefix + "." + m.CommandName
	case m.EventName != "":
		return "event." + prefix + "." + m.EventName
	default:
		return "aggregate." + prefix
	}
}

// Attributes returns the set fields as span attributes.
func (m DomainMeta) Attributes() []attribute.KeyValue {
	attrs := make([]attribute.KeyValue, 0, 5)
	if m.AggregateName != "" {
		attrs = append(attrs, attribute.String(AttrAggregateName, m.AggregateName))
	}
	if m.AggregateID != "" {
		attrs = append(attrs, attribute.String(AttrAggregateID, m.AggregateID))
	}
	if m.CommandName != "" {
		attrs = append(attrs, attribute.String(AttrCommandName, m.CommandName))
	}
	if m.EventName != "" {
		attrs = append(attrs, attribute.String(AttrEventName, m.EventName))
		if m.EventVersion > 0 {
			attrs = append(attrs, attribute.Int(AttrEventVersion, m.EventVersion))
		}
	}
	return attrs
}

// Fields returns the set fields as log fields, keyed like Attributes.
func (m DomainMeta) Fields() []Field {
	attrs := m.Attributes()
	fields := make([]Field, 0, len(attrs))
	for _, a := range attrs {
		fields = append(fields, Field{Key: string(a.Key), Value: a.Value.AsInterface()})
	}
	return fields
}

// String renders the concept for messages, e.g. "Order/ord-123 PlaceOrder".
func (m DomainMeta) String() string {
	s := m.AggregateName
	if m.AggregateID != "" {
		s += "/" + m.AggregateID
	}
	if m.CommandName != "" {
		s += " " + m.CommandName
	}
	if m.EventName != "" {
		s += " " + m.EventName
		if m.EventVersion > 0 {
			s += "@v" + strconv.Itoa(m.EventVersion)
		}
	}
	return s
}
