package cards

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/yuin/goldmark"
	"go.mongodb.org/mongo-driver/bson/primitive"
)

// maxWriteAttempts bounds the read-modify-write retries of one mutation.
const maxWriteAttempts = 3

// Store persists cards. Replace must only succeed while the stored version
// equals card.Version, and must increment card.Version when it does.
type Store interface {
	Insert(ctx context.Context, c *Card) error
	FindOwned(ctx context.Context, id primitive.ObjectID, userID string) (*Card, error)
	Replace(ctx context.Context, c *Card) error
	List(ctx context.Context, userID string, q ListQuery) ([]*Card, int64, error)
}

// Notifier is told about cards whose due date or reminder may need a
// notification. Implementations must not block.
type Notifier interface {
	CardChanged(c Card)
}

type Service struct {
	store    Store
	notifier Notifier
	files    FileStore
	log      *slog.Logger
	md       goldmark.Markdown
	now      func() time.Time
}

func NewService(store Store, notifier Notifier, files FileStore, log *slog.Logger) *Service {
	return &Service{
		store:    store,
		notifier: notifier,
		files:    files,
		log:      log,
		md:       goldmark.New(),
		now:      func() time.Time { return time.Now().UTC().Truncate(time.Millisecond) },
	}
}

// Create validates input and stores a new card owned by userID.
func (s *Service) Create(ctx context.Context, userID string, input CreateCardInput) (*Card, error) {
	title := strings.TrimSpace(input.Title)
	if title == "" {
		return nil, invalid("title", "title is required")
	}
	if input.AreaID.IsZero() {
		return nil, invalid("areaId", "areaId is required")
	}

	status := input.Status
	if status == "" {
		status = StatusTodo
	}
	if !status.Valid() {
		return nil, invalid("status", "invalid status %q", status)
	}
	energy := input.EnergyLevel
	if energy == "" {
		energy = EnergyMedium
	}
	if !energy.Valid() {
		return nil, invalid("energyLevel", "invalid energyLevel %q", energy)
	}

	checklist, err := normalizeChecklist(input.Checklist)
	if err != nil {
		return nil, err
	}

	now := s.now()
	card := &Card{
		UserID:          userID,
		AreaID:          input.AreaID,
		ProjectID:       input.ProjectID,
		FolderID:        input.FolderID,
		Title:           title,
		Content:         input.Content,
		Blocks:          make([]Block, 0, len(input.Blocks)),
		Checklist:       checklist,
		Tags:            normalizeTags(input.Tags),
		Link:            input.Link,
		Status:          status,
		EnergyLevel:     energy,
		DueDate:         input.DueDate,
		Reminder:        input.Reminder,
		BlocksSortBy:    SortByOrder,
		BlocksSortOrder: SortAsc,
		CreatedAt:       now,
		UpdatedAt:       now,
	}
	for i, in := range input.Blocks {
		if in.Order == nil {
			order := i
			in.Order = &order
		}
		if _, err := card.addBlock(in, now); err != nil {
			return nil, err
		}
	}

	if err := s.store.Insert(ctx, card); err != nil {
		return nil, err
	}
	s.notify(card)
	return card, nil
}

// Get returns a card owned by userID.
func (s *Service) Get(ctx context.Context, userID, cardID string) (*Card, error) {
	id, err := parseCardID(cardID)
	if err != nil {
		return nil, err
	}
	return s.store.FindOwned(ctx, id, userID)
}

// List returns a page of the user's cards, newest first.
func (s *Service) List(ctx context.Context, userID string, q ListQuery) (*ListResult, error) {
	if q.Page <= 0 {
		q.Page = 1
	}
	if q.Limit <= 0 {
		q.Limit = 20
	}
	if q.Limit > 100 {
		q.Limit = 100
	}
	if q.Status != "" && !q.Status.Valid() {
		return nil, invalid("status", "invalid status %q", q.Status)
	}

	cards, total, err := s.store.List(ctx, userID, q)
	if err != nil {
		return nil, err
	}
	if cards == nil {
		cards = []*Card{}
	}
	pages := (total + int64(q.Limit) - 1) / int64(q.Limit)
	return &ListResult{
		Cards: cards,
		Pagination: Pagination{
			Total:      total,
			Page:       q.Page,
			Limit:      q.Limit,
			TotalPages: pages,
		},
	}, nil
}

// Update applies a partial update to the card's scalar fields.
func (s *Service) Update(ctx context.Context, userID, cardID string, input UpdateCardInput) (*Card, error) {
	card, err := s.mutate(ctx, userID, cardID, func(c *Card, now time.Time) error {
		if input.Title != nil {
			title := strings.TrimSpace(*input.Title)
			if title == "" {
				return invalid("title", "title must not be empty")
			}
			c.Title = title
		}
		if input.Content != nil {
			c.Content = *input.Content
		}
		if input.Tags != nil {
			c.Tags = normalizeTags(input.Tags)
		}
		if input.Link != nil {
			c.Link = input.Link
		}
		if input.Status != nil {
			if !input.Status.Valid() {
				return invalid("status", "invalid status %q", *input.Status)
			}
			c.Status = *input.Status
		}
		if input.EnergyLevel != nil {
			if !input.EnergyLevel.Valid() {
				return invalid("energyLevel", "invalid energyLevel %q", *input.EnergyLevel)
			}
			c.EnergyLevel = *input.EnergyLevel
		}
		if input.DueDate != nil {
			if c.Kind() != KindTask {
				return invalid("dueDate", "card is a note, use convert-to-task to set a due date")
			}
			due := *input.DueDate
			c.DueDate = &due
		}
		if input.ClearReminder {
			c.Reminder = nil
		} else if input.Reminder != nil {
			r := *input.Reminder
			c.Reminder = &r
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	s.notify(card)
	return card, nil
}

// Delete soft-deletes the card. It stays in the store, archived.
func (s *Service) Delete(ctx context.Context, userID, cardID string) (*Card, error) {
	return s.mutate(ctx, userID, cardID, func(c *Card, now time.Time) error {
		c.DeletedAt = &now
		c.IsArchived = true
		return nil
	})
}

func (s *Service) Archive(ctx context.Context, userID, cardID string) (*Card, error) {
	return s.setArchived(ctx, userID, cardID, true)
}

func (s *Service) Unarchive(ctx context.Context, userID, cardID string) (*Card, error) {
	return s.setArchived(ctx, userID, cardID, false)
}

func (s *Service) setArchived(ctx context.Context, userID, cardID string, archived bool) (*Card, error) {
	return s.mutate(ctx, userID, cardID, func(c *Card, now time.Time) error {
		c.IsArchived = archived
		return nil
	})
}

// Move puts the card into another project.
func (s *Service) Move(ctx context.Context, userID, cardID string, projectID primitive.ObjectID) (*Card, error) {
	if projectID.IsZero() {
		return nil, invalid("targetProjectId", "targetProjectId is required")
	}
	return s.mutate(ctx, userID, cardID, func(c *Card, now time.Time) error {
		c.ProjectID = &projectID
		return nil
	})
}

// UpdateChecklist replaces the legacy checklist.
func (s *Service) UpdateChecklist(ctx context.Context, userID, cardID string, items []ChecklistItem) (*Card, error) {
	checklist, err := normalizeChecklist(items)
	if err != nil {
		return nil, err
	}
	return s.mutate(ctx, userID, cardID, func(c *Card, now time.Time) error {
		c.Checklist = checklist
		return nil
	})
}

// ConvertToTask turns a note into a task due at due.
func (s *Service) ConvertToTask(ctx context.Context, userID, cardID string, due time.Time, projectID *primitive.ObjectID, status Status) (*Card, error) {
	card, err := s.mutate(ctx, userID, cardID, func(c *Card, now time.Time) error {
		return c.ConvertToTask(due, projectID, status)
	})
	if err != nil {
		return nil, err
	}
	s.notify(card)
	return card, nil
}

// ConvertToNote turns a task back into a note.
func (s *Service) ConvertToNote(ctx context.Context, userID, cardID string, folderID *primitive.ObjectID) (*Card, error) {
	return s.mutate(ctx, userID, cardID, func(c *Card, now time.Time) error {
		return c.ConvertToNote(folderID)
	})
}

// mutate loads the card, applies fn and writes it back. A write that loses
// against a concurrent writer is retried on a fresh copy of the card.
func (s *Service) mutate(ctx context.Context, userID, cardID string, fn func(c *Card, now time.Time) error) (*Card, error) {
	id, err := parseCardID(cardID)
	if err != nil {
		return nil, err
	}

	for attempt := 1; attempt <= maxWriteAttempts; attempt++ {
		card, err := s.store.FindOwned(ctx, id, userID)
		if err != nil {
			return nil, err
		}

		now := s.now()
		if err := fn(card, now); err != nil {
			return nil, err
		}
		card.UpdatedAt = now

		err = s.store.Replace(ctx, card)
		if errors.Is(err, ErrVersionConflict) {
			s.log.Debug("card write lost version race", "card_id", cardID, "attempt", attempt)
			continue
		}
		if err != nil {
			return nil, err
		}
		return card, nil
	}
	return nil, ErrConcurrentUpdate
}

func (s *Service) notify(c *Card) {
	if s.notifier == nil || c == nil {
		return
	}
	s.notifier.CardChanged(*c)
}

func parseCardID(id string) (primitive.ObjectID, error) {
	oid, err := primitive.ObjectIDFromHex(id)
	if err != nil {
		return primitive.NilObjectID, fmt.Errorf("%w: invalid card ID %q", ErrCardNotFound, id)
	}
	return oid, nil
}

func parseBlockID(id string) (primitive.ObjectID, error) {
	oid, err := primitive.ObjectIDFromHex(id)
	if err != nil {
		return primitive.NilObjectID, fmt.Errorf("%w: invalid block ID %q", ErrBlockNotFound, id)
	}
	return oid, nil
}

func normalizeTags(tags []string) []string {
	out := make([]string, 0, len(tags))
	seen := make(map[string]bool, len(tags))
	for _, t := range tags {
		t = strings.TrimSpace(t)
		if t == "" || seen[t] {
			continue
		}
		seen[t] = true
		out = append(out, t)
	}
	return out
}

func normalizeChecklist(items []ChecklistItem) ([]ChecklistItem, error) {
	out := make([]ChecklistItem, 0, len(items))
	for i, item := range items {
		item.Text = strings.TrimSpace(item.Text)
		if item.Text == "" {
			return nil, invalid(fmt.Sprintf("checklist[%d].text", i), "checklist item text is required")
		}
		if item.ID.IsZero() {
			item.ID = primitive.NewObjectID()
		}
		out = append(out, item)
	}
	return out, nil
}
