package notification

import (
	"delivery/internal/domain"
	"delivery/internal/events"
	"delivery/internal/presence"
)

type party int

const (
	partyClient party = iota
	partyDriver
	partyCandidates
	partyAssigner
	partyAssignee
)

type audience struct {
	party    party
	ns       presence.Namespace
	fallback bool
}

// route is the static recipient list for one event name.
type route struct {
	audiences []audience
	// operators broadcasts to the operator role group of the conflict namespace.
	operators bool
	// room emits to the delivery tracking room keyed by the event entity id.
	room bool
	// dropRoom tears the tracking room down after delivery.
	dropRoom bool
}

func live(p party, ns presence.Namespace) audience {
	return audience{party: p, ns: ns}
}

func withFallback(p party, ns presence.Namespace) audience {
	return audience{party: p, ns: ns, fallback: true}
}

var routes = map[events.Name]route{
	events.NewDelivery: {
		audiences: []audience{withFallback(partyCandidates, presence.NamespaceDelivery)},
	},
	events.DeliveryAccepted: {
		audiences: []audience{withFallback(partyClient, presence.NamespaceDelivery)},
	},
	events.PointWithdrawn: {
		audiences: []audience{withFallback(partyDriver, presence.NamespaceDelivery)},
	},
	events.DeliveryCancelled: {
		audiences: []audience{
			withFallback(partyDriver, presence.NamespaceDelivery),
			withFallback(partyCandidates, presence.NamespaceDelivery),
		},
		dropRoom: true,
	},
	events.DriverOnSite: {
		audiences: []audience{
			withFallback(partyClient, presence.NamespaceDelivery),
			withFallback(partyDriver, presence.NamespaceDelivery),
		},
	},
	events.DeliveryStarted: {
		audiences: []audience{
			withFallback(partyClient, presence.NamespaceDelivery),
			withFallback(partyDriver, presence.NamespaceDelivery),
		},
	},
	events.DeliveryEnd: {
		audiences: []audience{withFallback(partyClient, presence.NamespaceDelivery)},
		dropRoom:  true,
	},
	events.DeliveryExpired: {
		audiences: []audience{withFallback(partyClient, presence.NamespaceDelivery)},
	},
	events.NewConflict: {
		audiences: []audience{withFallback(partyClient, presence.NamespaceDelivery)},
		operators: true,
	},
	events.NewAssignment: {
		audiences: []audience{withFallback(partyAssignee, presence.NamespaceConflict)},
	},
	events.ConflictSolved: {
		audiences: []audience{withFallback(partyAssigner, presence.NamespaceConflict)},
	},
	events.ConflictCancelled: {
		audiences: []audience{
			withFallback(partyClient, presence.NamespaceDelivery),
			withFallback(partyDriver, presence.NamespaceDelivery),
		},
	},
	events.NewPosition: {
		audiences: []audience{live(partyClient, presence.NamespaceDelivery)},
		room:      true,
	},
}

type recipient struct {
	userID   string
	ns       presence.Namespace
	fallback bool
}

// recipients resolves a route against the event parties. A user listed by
// several audiences of the same namespace is notified once.
func recipients(e events.Event, rt route) []recipient {
	seen := make(map[string]struct{})
	var out []recipient

	add := func(userID string, a audience) {
		if userID == "" {
			return
		}
		key := string(a.ns) + "/" + userID
		if _, dup := seen[key]; dup {
			return
		}
		seen[key] = struct{}{}
		out = append(out, recipient{userID: userID, ns: a.ns, fallback: a.fallback})
	}

	for _, a := range rt.audiences {
		switch a.party {
		case partyClient:
			add(e.Parties.ClientID, a)
		case partyDriver:
			add(e.Parties.DriverID, a)
		case partyAssigner:
			add(e.Parties.AssignerID, a)
		case partyAssignee:
			add(e.Parties.AssigneeID, a)
		case partyCandidates:
			for _, id := range e.Parties.Candidates {
				add(id, a)
			}
		}
	}
	return out
}

// operatorRole is the role group that receives new conflicts.
const operatorRole = domain.RoleOperator
