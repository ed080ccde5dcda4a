// Package changebus implements the change-notification bus spec.md §6
// requires: subscribe by (account, owner_account, type_bitmap), receive
// {types: [(TypeState, modseq), ...]} events, with bus closure signaling
// shutdown.
package changebus

import "context"

// TypeState classifies one kind of change, mirroring the store's
// collections plus the delivery-specific event the original source
// distinguishes from a plain Email mutation.
type TypeState uint8

const (
	TypeEmail TypeState = iota
	TypeMailbox
	TypeEmailDelivery
)

// TypeSet is a bitmask of TypeState values used to filter a subscription.
type TypeSet uint8

func SetOf(types ...TypeState) TypeSet {
	var s TypeSet
	for _, t := range types {
		s |= 1 << t
	}
	return s
}

func (s TypeSet) Has(t TypeState) bool { return s&(1<<t) != 0 }

// AuthenticatedTypes is the subscription filter for a session with no
// mailbox selected (spec.md §4.6).
var AuthenticatedTypes = SetOf(TypeMailbox)

// SelectedTypes is the subscription filter for a session with a mailbox
// selected (spec.md §4.6).
var SelectedTypes = SetOf(TypeEmail, TypeMailbox, TypeEmailDelivery)

// StateChange is one (type, modseq) pair within an Event.
type StateChange struct {
	Type   TypeState
	Modseq uint64
}

// Event is a batch of state changes for one account, as delivered to a
// subscriber.
type Event struct {
	AccountID      uint32
	OwnerAccountID uint32
	Changes        []StateChange
}

// Subscription is a live receiver handed back by Subscribe. Closed
// (Events closed with no further sends) signals the bus shut down — spec.md
// §4.6: "A None from the subscription (bus closed) emits `* BYE Server
// shutting down.`".
type Subscription interface {
	Events() <-chan Event
	Close()
}

// Bus is the narrow change-notification interface the engine depends on.
type Bus interface {
	// Subscribe registers interest in accountID's changes matching types.
	Subscribe(ctx context.Context, accountID uint32, types TypeSet) (Subscription, error)

	// Publish notifies subscribers of accountID that changes occurred.
	// ownerAccountID lets a shared-mailbox publish distinguish the acting
	// account from the mailbox's owner.
	Publish(ctx context.Context, accountID, ownerAccountID uint32, changes []StateChange) error

	// Close shuts the bus down, closing every live subscription.
	Close() error
}
