package listingfeed

import (
	"encoding/json"
	"fmt"
	"time"
)

// Event types emitted by the listing authoring service.
const (
	eventPublished = "listing.published"
	eventSold      = "listing.sold"
)

// listingEvent is the raw JSON structure from the listing event stream.
type listingEvent struct {
	Seq     int64          `json:"seq"`
	Type    string         `json:"type"`
	Listing *listingRecord `json:"listing,omitempty"`
}

// listingRecord is the listing snapshot carried by an event.
type listingRecord struct {
	ID          string    `json:"id"`
	OwnerID     string    `json:"ownerId"`
	Title       string    `json:"title"`
	PublishedAt time.Time `json:"publishedAt"`
	AutoRenew   bool      `json:"autoRenew"`
}

func parseEvent(data []byte) (*listingEvent, error) {
	var event listingEvent
	if err := json.Unmarshal(data, &event); err != nil {
		return nil, fmt.Errorf("unmarshal event: %w", err)
	}
	if event.Type == "" {
		return nil, fmt.Errorf("event %d has no type", event.Seq)
	}
	if (event.Type == eventPublished || event.Type == eventSold) && (event.Listing == nil || event.Listing.ID == "") {
		return nil, fmt.Errorf("%s event %d has no listing id", event.Type, event.Seq)
	}
	return &event, nil
}
