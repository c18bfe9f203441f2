// Package events holds the domain event model and the in-process bus that
// carries events from the state machines to their subscribers.
package events

import (
	"time"

	"github.com/oklog/ulid/v2"
)

// Name identifies a domain event. Names double as the wire event names used
// on the live channel.
type Name string

const (
	NewDelivery       Name = "new-delivery"
	DeliveryAccepted  Name = "delivery-accepted"
	PointWithdrawn    Name = "point-withdrawn"
	DeliveryCancelled Name = "delivery-cancelled"
	DriverOnSite      Name = "driver-on-site"
	DeliveryStarted   Name = "delivery-started"
	DeliveryEnd       Name = "delivery-end"
	DeliveryExpired   Name = "delivery-expired"
	NewConflict       Name = "new-conflict"
	NewAssignment     Name = "new-assignment"
	ConflictSolved    Name = "conflict-solved"
	ConflictCancelled Name = "conflict-cancelled"
	NewPosition       Name = "new-position"
)

// Parties are the users an event may concern. Routing picks from them.
type Parties struct {
	ClientID   string   `json:"client_id,omitempty"`
	DriverID   string   `json:"driver_id,omitempty"`
	Candidates []string `json:"candidates,omitempty"`
	AssignerID string   `json:"assigner_id,omitempty"`
	AssigneeID string   `json:"assignee_id,omitempty"`
}

// Event is an immutable notification that a transition was committed.
type Event struct {
	ID         string    `json:"id"`
	Name       Name      `json:"name"`
	EntityID   string    `json:"entity_id"`
	Parties    Parties   `json:"parties"`
	Payload    any       `json:"payload,omitempty"`
	OccurredAt time.Time `json:"occurred_at"`
}

// New builds an event with a sortable unique id.
func New(name Name, entityID string, parties Parties, payload any) Event {
	return Event{
		ID:         ulid.Make().String(),
		Name:       name,
		EntityID:   entityID,
		Parties:    parties,
		Payload:    payload,
		OccurredAt: time.Now().UTC(),
	}
}
