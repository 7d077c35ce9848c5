package notifications

import (
	"time"
)

// EventType names a confirmed ledger write.
type EventType string

const (
	EventRegistryInitialized EventType = "registry.initialized"
	EventVerifierRegistered  EventType = "verifier.registered"
	EventProjectRegistered   EventType = "project.registered"
	EventProjectVerified     EventType = "project.verified"
	EventCreditsMinted       EventType = "credits.minted"
	EventCreditsTransferred  EventType = "credits.transferred"
	EventCreditsRetired      EventType = "credits.retired"
	EventListingCreated      EventType = "listing.created"
	EventListingPurchased    EventType = "listing.purchased"
	EventListingCancelled    EventType = "listing.cancelled"
	EventMonitoringSubmitted EventType = "monitoring.submitted"
	EventDocumentsPinned     EventType = "documents.pinned"
)

// Event is published after a write is confirmed by the ledger and the
// affected accounts have been re-read.
type Event struct {
	ID        string                 `json:"id"`
	Type      EventType              `json:"type"`
	Signature string                 `json:"signature,omitempty"`
	Actor     string                 `json:"actor,omitempty"`
	Accounts  []string               `json:"accounts,omitempty"`
	Data      map[string]interface{} `json:"data,omitempty"`
	Timestamp time.Time              `json:"timestamp"`
}

// Touches reports whether the event affected the given account address.
func (e Event) Touches(address string) bool {
	for _, a := range e.Accounts {
		if a == address {
			return true
		}
	}
	return false
}

// WebSocketMessage represents WebSocket messages
type WebSocketMessage struct {
	Type      string                 `json:"type"`
	Data      map[string]interface{} `json:"data"`
	Timestamp time.Time              `json:"timestamp"`
	Channel   string                 `json:"channel"`
	Target    string                 `json:"target,omitempty"`
	Source    string                 `json:"source,omitempty"`
}

// WebSocket message types
const (
	WSMessageTypeEvent       = "event"
	WSMessageTypeStatus      = "status"
	WSMessageTypeSubscribe   = "subscribe"
	WSMessageTypeUnsubscribe = "unsubscribe"
)

// Channels
const (
	ChannelBroadcast = "broadcast"
	ChannelAccount   = "account"
	ChannelPrivate   = "private"
)
