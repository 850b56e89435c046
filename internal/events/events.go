// Package events announces registry changes to Kafka consumers and live map clients.
package events

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/terrahash/landregistry/pkg/metrics"
)

type Type string

const (
	ParcelCreated        Type = "parcel.created"
	ParcelUpdated        Type = "parcel.updated"
	ParcelDeleted        Type = "parcel.deleted"
	ListingCreated       Type = "listing.created"
	ListingUpdated       Type = "listing.updated"
	ListingDeleted       Type = "listing.deleted"
	TransactionCompleted Type = "transaction.completed"
	TransactionFailed    Type = "transaction.failed"
	ObjectionCreated     Type = "objection.created"
	ObjectionUpdated     Type = "objection.updated"
)

// Event is a registry change
type Event struct {
	ID         string    `json:"id"`
	Type       Type      `json:"type"`
	ParcelID   string    `json:"parcel_id,omitempty"`
	ActorID    string    `json:"actor_id,omitempty"`
	Payload    any       `json:"payload,omitempty"`
	OccurredAt time.Time `json:"occurred_at"`
}

// New stamps an event with an id and the current time
func New(t Type, parcelID, actorID string, payload any) Event {
	return Event{
		ID:         uuid.NewString(),
		Type:       t,
		ParcelID:   parcelID,
		ActorID:    actorID,
		Payload:    payload,
		OccurredAt: time.Now().UTC(),
	}
}

// Publisher delivers events
type Publisher interface {
	Publish(ctx context.Context, evt Event) error
}

// Fanout publishes to every sink and joins their errors
type Fanout struct {
	sinks map[string]Publisher
}

func NewFanout() *Fanout {
	return &Fanout{sinks: make(map[string]Publisher)}
}

// Add registers a named sink; nil sinks are ignored.
func (f *Fanout) Add(name string, p Publisher) *Fanout {
	if p != nil {
		f.sinks[name] = p
	}
	return f
}

func (f *Fanout) Publish(ctx context.Context, evt Event) error {
	var errs []error
	for name, sink := range f.sinks {
		err := sink.Publish(ctx, evt)
		result := "ok"
		if err != nil {
			result = "error"
			errs = append(errs, err)
		}
		metrics.EventsPublished.WithLabelValues(name, result).Inc()
	}
	return errors.Join(errs...)
}

// PublishTimeout bounds how long Emit waits on the publishers
var PublishTimeout = 2 * time.Second

// Emit publishes evt without letting a delivery failure reach the caller.
func Emit(ctx context.Context, p Publisher, log *zap.Logger, evt Event) {
	if p == nil {
		return
	}
	ctx, cancel := context.WithTimeout(ctx, PublishTimeout)
	defer cancel()
	if err := p.Publish(ctx, evt); err != nil {
		log.Warn("Event publish failed",
			zap.String("type", string(evt.Type)),
			zap.String("parcel_id", evt.ParcelID),
			zap.Error(err))
	}
}

// Noop drops every event
type Noop struct{}

func (Noop) Publish(context.Context, Event) error { return nil }
