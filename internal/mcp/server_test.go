package mcp

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"cardstack/internal/auth"
	"cardstack/internal/cards"
	"cardstack/internal/notify"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"
)

// cardStore is a minimal in-memory cards.Store.
type cardStore struct {
	mu   sync.Mutex
	docs map[primitive.ObjectID][]byte
}

func (s *cardStore) Insert(_ context.Context, c *cards.Card) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	c.ID = primitive.NewObjectID()
	return s.put(c)
}

func (s *cardStore) put(c *cards.Card) error {
	data, err := bson.Marshal(c)
	if err != nil {
		return err
	}
	s.docs[c.ID] = data
	return nil
}

func (s *cardStore) FindOwned(_ context.Context, id primitive.ObjectID, userID string) (*cards.Card, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	data, ok := s.docs[id]
	if !ok {
		return nil, cards.ErrCardNotFound
	}
	var c cards.Card
	if err := bson.Unmarshal(data, &c); err != nil {
		return nil, err
	}
	if c.UserID != userID {
		return nil, cards.ErrCardNotFound
	}
	return &c, nil
}

func (s *cardStore) Replace(_ context.Context, c *cards.Card) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	c.Version++
	return s.put(c)
}

func (s *cardStore) List(_ context.Context, userID string, _ cards.ListQuery) ([]*cards.Card, int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []*cards.Card
	for _, data := range s.docs {
		var c cards.Card
		if err := bson.Unmarshal(data, &c); err != nil {
			return nil, 0, err
		}
		if c.UserID == userID {
			out = append(out, &c)
		}
	}
	return out, int64(len(out)), nil
}

type notificationList struct {
	items []*notify.Notification
	err   error
}

func (n notificationList) ListUnread(_ context.Context, userID string, limit int) ([]*notify.Notification, error) {
	if n.err != nil {
		return nil, n.err
	}
	var out []*notify.Notification
	for _, item := range n.items {
		if item.UserID == userID && len(out) < limit {
			out = append(out, item)
		}
	}
	return out, nil
}

const user = "user-1"

func newService(t *testing.T) *cards.Service {
	t.Helper()
	store := &cardStore{docs: make(map[primitive.ObjectID][]byte)}
	return cards.NewService(store, nil, nil, slog.New(slog.NewTextHandler(io.Discard, nil)))
}

func newCard(t *testing.T, svc *cards.Service, blocks ...string) *cards.Card {
	t.Helper()
	in := cards.CreateCardInput{AreaID: primitive.NewObjectID(), Title: "Weekend"}
	for _, text := range blocks {
		in.Blocks = append(in.Blocks, cards.AddBlockInput{Type: cards.BlockText, Content: cards.ContentPatch{Text: &text}})
	}
	card, err := svc.Create(context.Background(), user, in)
	require.NoError(t, err)
	return card
}

func call(args map[string]any) mcp.CallToolRequest {
	var req mcp.CallToolRequest
	req.Params.Arguments = args
	return req
}

func resultText(t *testing.T, res *mcp.CallToolResult) string {
	t.Helper()
	require.NotNil(t, res)
	require.NotEmpty(t, res.Content)
	text, ok := res.Content[0].(mcp.TextContent)
	require.True(t, ok)
	return text.Text
}

func decodeResult[T any](t *testing.T, res *mcp.CallToolResult) T {
	t.Helper()
	require.False(t, res.IsError, resultText(t, res))
	var v T
	require.NoError(t, json.Unmarshal([]byte(resultText(t, res)), &v))
	return v
}

func TestGetCardDescribesBlocksInDisplayOrder(t *testing.T) {
	svc := newService(t)
	ctx := context.Background()
	card := newCard(t, svc, "first", "second")
	_, err := svc.PinBlock(ctx, user, card.ID.Hex(), card.Blocks[1].ID.Hex())
	require.NoError(t, err)

	res, err := handleGetCard(svc, users(user))(ctx, call(map[string]any{"id": card.ID.Hex()}))
	require.NoError(t, err)
	got := decodeResult[CardResult](t, res)

	assert.Equal(t, "Weekend", got.Title)
	assert.Equal(t, cards.KindNote, got.Kind)
	require.Len(t, got.Blocks, 2)
	assert.Equal(t, "📌 second", got.Blocks[0].Markdown)
	assert.Equal(t, "first", got.Blocks[1].Markdown)
}

func TestGetCardErrors(t *testing.T) {
	svc := newService(t)
	ctx := context.Background()
	card := newCard(t, svc)

	res, err := handleGetCard(svc, users(user))(ctx, call(map[string]any{}))
	require.NoError(t, err)
	assert.True(t, res.IsError)
	assert.Equal(t, "id is required", resultText(t, res))

	res, err = handleGetCard(svc, users("other"))(ctx, call(map[string]any{"id": card.ID.Hex()}))
	require.NoError(t, err)
	assert.True(t, res.IsError)
	assert.Equal(t, "card not found", resultText(t, res))

	res, err = handleGetCard(svc, users(""))(ctx, call(map[string]any{"id": card.ID.Hex()}))
	require.NoError(t, err)
	assert.True(t, res.IsError)
}

func TestToolsUseAuthenticatedUser(t *testing.T) {
	svc := newService(t)
	card := newCard(t, svc)
	ctx := auth.WithUserID(context.Background(), user)

	res, err := handleGetCard(svc, users("someone-else"))(ctx, call(map[string]any{"id": card.ID.Hex()}))
	require.NoError(t, err)
	assert.False(t, res.IsError, resultText(t, res))
}

func TestAddTextBlockAndToggle(t *testing.T) {
	svc := newService(t)
	ctx := context.Background()
	card := newCard(t, svc, "body")

	res, err := handleAddTextBlock(svc, users(user))(ctx, call(map[string]any{
		"card_id": card.ID.Hex(),
		"text":    "Packing",
		"heading": true,
	}))
	require.NoError(t, err)
	got := decodeResult[CardResult](t, res)
	require.Len(t, got.Blocks, 2)
	assert.Equal(t, "## Packing", got.Blocks[1].Markdown)
	headingID := got.Blocks[1].ID

	res, err = handleTogglePinBlock(svc, users(user))(ctx, call(map[string]any{
		"card_id":  card.ID.Hex(),
		"block_id": headingID,
	}))
	require.NoError(t, err)
	got = decodeResult[CardResult](t, res)
	assert.Equal(t, "📌 ## Packing", got.Blocks[0].Markdown)

	res, err = handleTogglePinBlock(svc, users(user))(ctx, call(map[string]any{
		"card_id":  card.ID.Hex(),
		"block_id": primitive.NewObjectID().Hex(),
	}))
	require.NoError(t, err)
	assert.Equal(t, "block not found", resultText(t, res))
}

func TestGetBlocksSorted(t *testing.T) {
	svc := newService(t)
	card := newCard(t, svc, "a", "b", "c")

	res, err := handleGetBlocksSorted(svc, users(user))(context.Background(), call(map[string]any{
		"card_id":    card.ID.Hex(),
		"sort_order": "desc",
	}))
	require.NoError(t, err)
	rows := decodeResult[[]BlockRow](t, res)
	require.Len(t, rows, 3)
	assert.Equal(t, []string{"c", "b", "a"}, []string{rows[0].Markdown, rows[1].Markdown, rows[2].Markdown})

	res, err = handleGetBlocksSorted(svc, users(user))(context.Background(), call(map[string]any{
		"card_id": card.ID.Hex(),
		"sort_by": "title",
	}))
	require.NoError(t, err)
	assert.True(t, res.IsError)
	assert.Equal(t, "Invalid sortBy value. Must be: order, createdAt, or updatedAt", resultText(t, res))
}

func TestConvertTools(t *testing.T) {
	svc := newService(t)
	ctx := context.Background()
	card := newCard(t, svc)
	project := primitive.NewObjectID().Hex()

	res, err := handleConvertToTask(svc, users(user))(ctx, call(map[string]any{
		"card_id":    card.ID.Hex(),
		"due_date":   "2026-01-01",
		"project_id": project,
	}))
	require.NoError(t, err)
	got := decodeResult[CardResult](t, res)
	assert.Equal(t, cards.KindTask, got.Kind)
	require.NotNil(t, got.DueDate)
	assert.True(t, got.DueDate.Equal(time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)))

	res, err = handleConvertToTask(svc, users(user))(ctx, call(map[string]any{
		"card_id":  card.ID.Hex(),
		"due_date": "2026-01-01",
	}))
	require.NoError(t, err)
	assert.Equal(t, "Card is already a task", resultText(t, res))

	res, err = handleConvertToTask(svc, users(user))(ctx, call(map[string]any{
		"card_id":  card.ID.Hex(),
		"due_date": "next week",
	}))
	require.NoError(t, err)
	assert.True(t, res.IsError)

	res, err = handleConvertToNote(svc, users(user))(ctx, call(map[string]any{"card_id": card.ID.Hex()}))
	require.NoError(t, err)
	got = decodeResult[CardResult](t, res)
	assert.Equal(t, cards.KindNote, got.Kind)
	assert.Nil(t, got.DueDate)
}

func TestListCards(t *testing.T) {
	svc := newService(t)
	newCard(t, svc)
	newCard(t, svc)

	res, err := handleListCards(svc, users(user))(context.Background(), call(map[string]any{"limit": 10}))
	require.NoError(t, err)
	got := decodeResult[struct {
		Cards      []CardResult     `json:"cards"`
		Pagination cards.Pagination `json:"pagination"`
	}](t, res)
	assert.Len(t, got.Cards, 2)
	assert.Equal(t, int64(2), got.Pagination.Total)
	assert.Equal(t, 10, got.Pagination.Limit)
}

func TestListNotifications(t *testing.T) {
	cardID := primitive.NewObjectID()
	lister := notificationList{items: []*notify.Notification{
		{ID: primitive.NewObjectID(), UserID: user, CardID: cardID, Type: notify.TypeOverdue, Title: "⚠️ Task overdue"},
		{ID: primitive.NewObjectID(), UserID: "other", CardID: cardID, Type: notify.TypeDueSoon},
	}}

	res, err := handleListNotifications(lister, users(user))(context.Background(), call(map[string]any{}))
	require.NoError(t, err)
	got := decodeResult[[]NotificationResult](t, res)
	require.Len(t, got, 1)
	assert.Equal(t, "overdue", got[0].Type)
	assert.Equal(t, cardID.Hex(), got[0].CardID)

	res, err = handleListNotifications(notificationList{err: errors.New("mongo down")}, users(user))(context.Background(), call(map[string]any{}))
	require.NoError(t, err)
	assert.True(t, res.IsError)
	assert.Contains(t, resultText(t, res), "mongo down")
}

func TestNewServerBuilds(t *testing.T) {
	assert.NotNil(t, NewServer(newService(t), notificationList{}, user))
}
