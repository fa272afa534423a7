// Package subscription implements the Subscription Controller (C4): the
// state machine governing a subscriber's relationship to a streamer's
// shared folder, and the periodic tree-sync loop that keeps it current.
package subscription

import (
	"github.com/opd-ai/shinkai-node/errs"
)

// State is a subscription's position in the lifecycle graph.
type State uint8

const (
	// StateNone is the initial, unpersisted state: no subscription exists.
	StateNone State = iota
	// StateRequested means a request has been sent, awaiting confirmation.
	StateRequested
	// StateConfirmed is the steady state: the subscription is active.
	StateConfirmed
	// StateUpdateRequested is a pending update to an already-confirmed
	// subscription (e.g. changed credentials), awaiting acknowledgement.
	StateUpdateRequested
	// StateUnsubRequested means an unsubscribe has been sent, awaiting ack.
	StateUnsubRequested
	// StateUnsubConfirmed means the streamer acknowledged the unsubscribe;
	// the row is eligible for garbage collection.
	StateUnsubConfirmed
)

func (s State) String() string {
	switch s {
	case StateNone:
		return "None"
	case StateRequested:
		return "Requested"
	case StateConfirmed:
		return "Confirmed"
	case StateUpdateRequested:
		return "UpdateRequested"
	case StateUnsubRequested:
		return "UnsubRequested"
	case StateUnsubConfirmed:
		return "UnsubConfirmed"
	default:
		return "Unknown"
	}
}

// Event drives a state transition.
type Event uint8

const (
	EventRequest Event = iota
	EventConfirm
	EventUpdateRequest
	EventAck
	EventUnsubRequest
	EventGC
)

// transitions maps (state, event) to the resulting state. Any (state,
// event) pair absent from this table is rejected as InvalidState, which
// also rejects every regression (e.g. Confirmed -> Requested).
var transitions = map[State]map[Event]State{
	StateNone: {
		EventRequest: StateRequested,
	},
	StateRequested: {
		EventRequest: StateRequested, // idempotent retry
		EventConfirm: StateConfirmed,
	},
	StateConfirmed: {
		EventConfirm:       StateConfirmed, // idempotent retry
		EventUpdateRequest: StateUpdateRequested,
		EventUnsubRequest:  StateUnsubRequested,
	},
	StateUpdateRequested: {
		EventUpdateRequest: StateUpdateRequested, // idempotent retry
		EventAck:           StateConfirmed,
	},
	StateUnsubRequested: {
		EventUnsubRequest: StateUnsubRequested, // idempotent retry
		EventAck:          StateUnsubConfirmed,
	},
	StateUnsubConfirmed: {
		EventGC: StateUnsubConfirmed, // terminal; GC removes the row, not the state
	},
}

// Next computes the state resulting from applying event to current,
// rejecting any transition absent from the lifecycle graph as
// errs.InvalidState.
func Next(current State, event Event) (State, error) {
	byEvent, ok := transitions[current]
	if !ok {
		return current, errs.New("subscription.Next", errs.InvalidState,
			invalidTransition(current, event))
	}
	next, ok := byEvent[event]
	if !ok {
		return current, errs.New("subscription.Next", errs.InvalidState,
			invalidTransition(current, event))
	}
	return next, nil
}

type transitionError struct {
	from  State
	event Event
}

func (e *transitionError) Error() string {
	return e.from.String() + ": no transition for event " + eventName(e.event)
}

func invalidTransition(from State, event Event) error {
	return &transitionError{from: from, event: event}
}

func eventName(e Event) string {
	switch e {
	case EventRequest:
		return "request"
	case EventConfirm:
		return "confirm"
	case EventUpdateRequest:
		return "update_request"
	case EventAck:
		return "ack"
	case EventUnsubRequest:
		return "unsub_request"
	case EventGC:
		return "gc"
	default:
		return "unknown"
	}
}
