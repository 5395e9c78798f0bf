package notify

import (
	"context"
	"errors"
	"fmt"
	"time"

	"cardstack/internal/cards"

	"go.mongodb.org/mongo-driver/bson/primitive"
)

// Store persists notifications.
type Store interface {
	Insert(ctx context.Context, n *Notification) error
	RecentExists(ctx context.Context, userID string, cardID primitive.ObjectID, t Type, since time.Time) (bool, error)
}

// Deduper decides whether a notification was already sent recently.
type Deduper interface {
	Claim(ctx context.Context, userID string, cardID primitive.ObjectID, t Type, window time.Duration) (bool, error)
	Release(ctx context.Context, userID string, cardID primitive.ObjectID, t Type) error
}

// Checker creates the due-soon, overdue and reminder notifications a card
// calls for.
type Checker struct {
	store Store
	dedup Deduper
	now   func() time.Time
}

// NewChecker returns a Checker. A nil dedup falls back to querying store.
func NewChecker(store Store, dedup Deduper) *Checker {
	c := &Checker{store: store, dedup: dedup, now: time.Now}
	if dedup == nil {
		c.dedup = storeDeduper{store: store, now: func() time.Time { return c.now() }}
	}
	return c
}

// Check stores every notification the card is due for and returns the ones
// it created.
func (c *Checker) Check(ctx context.Context, card cards.Card) ([]*Notification, error) {
	var created []*Notification
	var errs []error
	for _, n := range Due(card, c.now()) {
		ok, err := c.dedup.Claim(ctx, n.UserID, n.CardID, n.Type, n.Type.window())
		if err != nil {
			errs = append(errs, fmt.Errorf("dedup %s: %w", n.Type, err))
			continue
		}
		if !ok {
			continue
		}
		if err := c.store.Insert(ctx, n); err != nil {
			if rerr := c.dedup.Release(ctx, n.UserID, n.CardID, n.Type); rerr != nil {
				err = errors.Join(err, fmt.Errorf("release dedup key: %w", rerr))
			}
			errs = append(errs, fmt.Errorf("insert %s notification: %w", n.Type, err))
			continue
		}
		created = append(created, n)
	}
	return created, errors.Join(errs...)
}
