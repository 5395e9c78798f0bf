package notify

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"cardstack/internal/cards"
)

// handoffTimeout is how long CardChanged waits for room in a full queue.
const handoffTimeout = 15 * time.Millisecond

// CardChecker runs the notification check for one card.
type CardChecker interface {
	Check(ctx context.Context, card cards.Card) ([]*Notification, error)
}

// Dispatcher runs notification checks on a fixed pool of workers. Callers
// never wait for a check; a job that finds the queue full is dropped.
type Dispatcher struct {
	checker CardChecker
	log     *slog.Logger
	timeout time.Duration

	mu     sync.RWMutex
	jobs   chan cards.Card
	closed bool
	wg     sync.WaitGroup
}

func NewDispatcher(checker CardChecker, log *slog.Logger, workers, buffer int, timeout time.Duration) *Dispatcher {
	d := &Dispatcher{
		checker: checker,
		log:     log,
		timeout: timeout,
		jobs:    make(chan cards.Card, buffer),
	}
	for i := 0; i < workers; i++ {
		d.wg.Add(1)
		go d.worker(i)
	}
	log.Info("notification dispatcher started", "workers", workers, "buffer", buffer, "timeout", timeout)
	return d
}

func (d *Dispatcher) worker(id int) {
	defer d.wg.Done()
	for card := range d.jobs {
		ctx, cancel := context.WithTimeout(context.Background(), d.timeout)
		created, err := d.checker.Check(ctx, card)
		cancel()

		if err != nil {
			d.log.Error("notification check failed", "error", err, "card_id", card.ID.Hex(), "worker", id)
		}
		for _, n := range created {
			d.log.Info("notification created", "type", n.Type, "card_id", card.ID.Hex(), "user_id", n.UserID)
		}
	}
}

// CardChanged queues a check for card. Cards without a due date or reminder
// are ignored.
func (d *Dispatcher) CardChanged(card cards.Card) {
	if card.DueDate == nil && card.Reminder == nil {
		return
	}

	d.mu.RLock()
	defer d.mu.RUnlock()
	if d.closed {
		return
	}

	select {
	case d.jobs <- card:
		return
	default:
	}

	timer := time.NewTimer(handoffTimeout)
	defer timer.Stop()
	select {
	case d.jobs <- card:
	case <-timer.C:
		d.log.Warn("notification queue full, dropping check", "card_id", card.ID.Hex())
	}
}

// Close stops accepting jobs and waits for queued checks to finish.
func (d *Dispatcher) Close() {
	d.mu.Lock()
	if !d.closed {
		d.closed = true
		close(d.jobs)
	}
	d.mu.Unlock()
	d.wg.Wait()
}
