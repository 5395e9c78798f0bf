package mcp

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"cardstack/internal/auth"
	"cardstack/internal/cards"
	"cardstack/internal/notify"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"
	"go.mongodb.org/mongo-driver/bson/primitive"
)

// NotificationLister returns a user's unread notifications.
type NotificationLister interface {
	ListUnread(ctx context.Context, userID string, limit int) ([]*notify.Notification, error)
}

// NewServer creates an MCP server with tools for card operations. Tools act
// as the user authenticated on the request, or as defaultUser when the
// request carries none.
func NewServer(svc *cards.Service, notifications NotificationLister, defaultUser string) *server.MCPServer {
	s := server.NewMCPServer(
		"Cardstack",
		"1.0.0",
		server.WithToolCapabilities(true),
	)
	u := users(defaultUser)

	// Tool: list_cards - Page through the user's cards
	s.AddTool(
		mcp.NewTool("list_cards",
			mcp.WithDescription("List the user's cards (notes and tasks), newest first. Use this to find a card ID before reading or editing it."),
			mcp.WithString("status",
				mcp.Description("Optional: Filter by status (todo, doing, done, pending)"),
			),
			mcp.WithString("search",
				mcp.Description("Optional: Full-text search over title and content"),
			),
			mcp.WithBoolean("archived",
				mcp.Description("Optional: true for archived cards only, false for active cards only"),
			),
			mcp.WithNumber("page",
				mcp.Description("Page number starting at 1 (default: 1)"),
			),
			mcp.WithNumber("limit",
				mcp.Description("Cards per page (default: 20, max: 100)"),
			),
		),
		handleListCards(svc, u),
	)

	// Tool: get_card - Read one card with its blocks
	s.AddTool(
		mcp.NewTool("get_card",
			mcp.WithDescription("Get a card by ID. Blocks are returned in display order as one line of markdown each, pinned blocks first."),
			mcp.WithString("id",
				mcp.Required(),
				mcp.Description("The card ID (24-character hex string)"),
			),
		),
		handleGetCard(svc, u),
	)

	s.AddTool(
		mcp.NewTool("get_blocks_sorted",
			mcp.WithDescription("Get a card's blocks in display order. Without sortBy/sortOrder the card's saved preference is used."),
			mcp.WithString("card_id",
				mcp.Required(),
				mcp.Description("The card ID"),
			),
			mcp.WithString("sort_by",
				mcp.Description("Optional: order, createdAt or updatedAt"),
			),
			mcp.WithString("sort_order",
				mcp.Description("Optional: asc or desc"),
			),
		),
		handleGetBlocksSorted(svc, u),
	)

	s.AddTool(
		mcp.NewTool("add_text_block",
			mcp.WithDescription("Append a text or heading block to a card."),
			mcp.WithString("card_id",
				mcp.Required(),
				mcp.Description("The card ID"),
			),
			mcp.WithString("text",
				mcp.Required(),
				mcp.Description("Block text; markdown is rendered for text blocks"),
			),
			mcp.WithBoolean("heading",
				mcp.Description("Optional: add a heading block instead of a text block"),
			),
		),
		handleAddTextBlock(svc, u),
	)

	s.AddTool(
		mcp.NewTool("toggle_pin_block",
			mcp.WithDescription("Pin a block to the top of its card, or unpin it if it is already pinned."),
			mcp.WithString("card_id",
				mcp.Required(),
				mcp.Description("The card ID"),
			),
			mcp.WithString("block_id",
				mcp.Required(),
				mcp.Description("The block ID"),
			),
		),
		handleTogglePinBlock(svc, u),
	)

	// Tool: convert_to_task - Give a note a due date
	s.AddTool(
		mcp.NewTool("convert_to_task",
			mcp.WithDescription("Turn a note into a task with a due date. Fails if the card is already a task."),
			mcp.WithString("card_id",
				mcp.Required(),
				mcp.Description("The card ID"),
			),
			mcp.WithString("due_date",
				mcp.Required(),
				mcp.Description("Due date (ISO format: YYYY-MM-DD or RFC3339)"),
			),
			mcp.WithString("project_id",
				mcp.Description("Optional: move the task into this project"),
			),
		),
		handleConvertToTask(svc, u),
	)

	s.AddTool(
		mcp.NewTool("convert_to_note",
			mcp.WithDescription("Turn a task back into a note, dropping its due date and reminder. Fails if the card is already a note."),
			mcp.WithString("card_id",
				mcp.Required(),
				mcp.Description("The card ID"),
			),
			mcp.WithString("folder_id",
				mcp.Description("Optional: move the note into this folder"),
			),
		),
		handleConvertToNote(svc, u),
	)

	// Tool: list_notifications - Unread due-date and reminder notifications
	s.AddTool(
		mcp.NewTool("list_notifications",
			mcp.WithDescription("List the user's unread task notifications (due soon, overdue, reminders), newest first."),
			mcp.WithNumber("limit",
				mcp.Description("Maximum number of notifications to return (default: 50)"),
			),
		),
		handleListNotifications(notifications, u),
	)

	return s
}

// CardResult is a card as the tools present it.
type CardResult struct {
	ID          string     `json:"id"`
	Title       string     `json:"title"`
	Kind        cards.Kind `json:"kind"`
	Status      string     `json:"status"`
	EnergyLevel string     `json:"energyLevel"`
	DueDate     *time.Time `json:"dueDate,omitempty"`
	Reminder    *time.Time `json:"reminder,omitempty"`
	Tags        []string   `json:"tags,omitempty"`
	Archived    bool       `json:"archived"`
	Blocks      []BlockRow `json:"blocks,omitempty"`
	UpdatedAt   time.Time  `json:"updatedAt"`
}

// BlockRow is one block rendered as a line of markdown.
type BlockRow struct {
	ID       string `json:"id"`
	Type     string `json:"type"`
	Markdown string `json:"markdown"`
}

// NotificationResult represents a notification in tool responses
type NotificationResult struct {
	ID        string    `json:"id"`
	CardID    string    `json:"cardId"`
	Type      string    `json:"type"`
	Title     string    `json:"title"`
	Message   string    `json:"message"`
	DueDate   time.Time `json:"dueDate"`
	CreatedAt time.Time `json:"createdAt"`
}

// userFunc resolves the user a tool call acts for.
type userFunc func(ctx context.Context) (string, bool)

func users(defaultUser string) userFunc {
	return func(ctx context.Context) (string, bool) {
		if id, ok := auth.UserID(ctx); ok {
			return id, true
		}
		return defaultUser, defaultUser != ""
	}
}

func noUser() *mcp.CallToolResult {
	return mcp.NewToolResultError("unauthenticated: no user for this request")
}

func handleListCards(svc *cards.Service, user userFunc) server.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		userID, ok := user(ctx)
		if !ok {
			return noUser(), nil
		}

		q := cards.ListQuery{
			Status: cards.Status(req.GetString("status", "")),
			Search: req.GetString("search", ""),
			Page:   req.GetInt("page", 1),
			Limit:  req.GetInt("limit", 20),
		}
		if args := req.GetArguments(); args["archived"] != nil {
			archived := req.GetBool("archived", false)
			q.Archived = &archived
		}

		result, err := svc.List(ctx, userID, q)
		if err != nil {
			return mcp.NewToolResultError(fmt.Sprintf("failed to list cards: %v", err)), nil
		}

		results := make([]CardResult, len(result.Cards))
		for i, c := range result.Cards {
			results[i] = cardToResult(c, false)
		}
		return jsonResult(map[string]any{
			"cards":      results,
			"pagination": result.Pagination,
		})
	}
}

func handleGetCard(svc *cards.Service, user userFunc) server.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		userID, ok := user(ctx)
		if !ok {
			return noUser(), nil
		}
		id, err := req.RequireString("id")
		if err != nil {
			return mcp.NewToolResultError("id is required"), nil
		}

		card, err := svc.Get(ctx, userID, id)
		if err != nil {
			return toolError("get card", err), nil
		}
		return jsonResult(cardToResult(card, true))
	}
}

func handleGetBlocksSorted(svc *cards.Service, user userFunc) server.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		userID, ok := user(ctx)
		if !ok {
			return noUser(), nil
		}
		cardID, err := req.RequireString("card_id")
		if err != nil {
			return mcp.NewToolResultError("card_id is required"), nil
		}

		blocks, err := svc.GetBlocksSorted(ctx, userID, cardID,
			cards.SortBy(req.GetString("sort_by", "")),
			cards.SortOrder(req.GetString("sort_order", "")))
		if err != nil {
			return toolError("get blocks", err), nil
		}
		return jsonResult(blocksToRows(blocks))
	}
}

func handleAddTextBlock(svc *cards.Service, user userFunc) server.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		userID, ok := user(ctx)
		if !ok {
			return noUser(), nil
		}
		cardID, err := req.RequireString("card_id")
		if err != nil {
			return mcp.NewToolResultError("card_id is required"), nil
		}
		text, err := req.RequireString("text")
		if err != nil {
			return mcp.NewToolResultError("text is required"), nil
		}

		in := cards.AddBlockInput{Type: cards.BlockText, Content: cards.ContentPatch{Text: &text}}
		if req.GetBool("heading", false) {
			in.Type = cards.BlockHeading
		}
		card, err := svc.AddBlock(ctx, userID, cardID, in)
		if err != nil {
			return toolError("add block", err), nil
		}
		return jsonResult(cardToResult(card, true))
	}
}

func handleTogglePinBlock(svc *cards.Service, user userFunc) server.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		userID, ok := user(ctx)
		if !ok {
			return noUser(), nil
		}
		cardID, err := req.RequireString("card_id")
		if err != nil {
			return mcp.NewToolResultError("card_id is required"), nil
		}
		blockID, err := req.RequireString("block_id")
		if err != nil {
			return mcp.NewToolResultError("block_id is required"), nil
		}

		card, err := svc.TogglePinBlock(ctx, userID, cardID, blockID)
		if err != nil {
			return toolError("toggle pin", err), nil
		}
		return jsonResult(cardToResult(card, true))
	}
}

func handleConvertToTask(svc *cards.Service, user userFunc) server.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		userID, ok := user(ctx)
		if !ok {
			return noUser(), nil
		}
		cardID, err := req.RequireString("card_id")
		if err != nil {
			return mcp.NewToolResultError("card_id is required"), nil
		}
		dueStr, err := req.RequireString("due_date")
		if err != nil {
			return mcp.NewToolResultError("due_date is required"), nil
		}
		due, err := parseDate(dueStr)
		if err != nil {
			return mcp.NewToolResultError(fmt.Sprintf("invalid 'due_date' format: %v", err)), nil
		}
		projectID, err := optionalID(req.GetString("project_id", ""))
		if err != nil {
			return mcp.NewToolResultError("invalid project_id"), nil
		}

		card, err := svc.ConvertToTask(ctx, userID, cardID, due, projectID, "")
		if err != nil {
			return toolError("convert to task", err), nil
		}
		return jsonResult(cardToResult(card, false))
	}
}

func handleConvertToNote(svc *cards.Service, user userFunc) server.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		userID, ok := user(ctx)
		if !ok {
			return noUser(), nil
		}
		cardID, err := req.RequireString("card_id")
		if err != nil {
			return mcp.NewToolResultError("card_id is required"), nil
		}
		folderID, err := optionalID(req.GetString("folder_id", ""))
		if err != nil {
			return mcp.NewToolResultError("invalid folder_id"), nil
		}

		card, err := svc.ConvertToNote(ctx, userID, cardID, folderID)
		if err != nil {
			return toolError("convert to note", err), nil
		}
		return jsonResult(cardToResult(card, false))
	}
}

func handleListNotifications(lister NotificationLister, user userFunc) server.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		userID, ok := user(ctx)
		if !ok {
			return noUser(), nil
		}

		list, err := lister.ListUnread(ctx, userID, req.GetInt("limit", 50))
		if err != nil {
			return mcp.NewToolResultError(fmt.Sprintf("failed to list notifications: %v", err)), nil
		}

		results := make([]NotificationResult, len(list))
		for i, n := range list {
			results[i] = NotificationResult{
				ID:        n.ID.Hex(),
				CardID:    n.CardID.Hex(),
				Type:      string(n.Type),
				Title:     n.Title,
				Message:   n.Message,
				DueDate:   n.DueDate,
				CreatedAt: n.CreatedAt,
			}
		}
		return jsonResult(results)
	}
}

// Helper functions

func cardToResult(c *cards.Card, withBlocks bool) CardResult {
	r := CardResult{
		ID:          c.ID.Hex(),
		Title:       c.Title,
		Kind:        c.Kind(),
		Status:      string(c.Status),
		EnergyLevel: string(c.EnergyLevel),
		DueDate:     c.DueDate,
		Reminder:    c.Reminder,
		Tags:        c.Tags,
		Archived:    c.IsArchived,
		UpdatedAt:   c.UpdatedAt,
	}
	if withBlocks {
		r.Blocks = blocksToRows(c.SortedBlocks())
	}
	return r
}

func blocksToRows(blocks []cards.Block) []BlockRow {
	rows := make([]BlockRow, len(blocks))
	for i, b := range blocks {
		rows[i] = BlockRow{
			ID:       b.ID.Hex(),
			Type:     string(b.Type),
			Markdown: cards.Describe(b),
		}
	}
	return rows
}

// toolError turns a service error into a tool error the model can act on.
func toolError(action string, err error) *mcp.CallToolResult {
	var validation *cards.ValidationError
	var conflict *cards.ConflictError
	switch {
	case errors.Is(err, cards.ErrCardNotFound):
		return mcp.NewToolResultError("card not found")
	case errors.Is(err, cards.ErrBlockNotFound):
		return mcp.NewToolResultError("block not found")
	case errors.As(err, &validation):
		return mcp.NewToolResultError(validation.Message)
	case errors.As(err, &conflict):
		return mcp.NewToolResultError(conflict.Message)
	}
	return mcp.NewToolResultError(fmt.Sprintf("failed to %s: %v", action, err))
}

func jsonResult(v any) (*mcp.CallToolResult, error) {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("encode tool result: %w", err)
	}
	return mcp.NewToolResultText(string(data)), nil
}

func optionalID(s string) (*primitive.ObjectID, error) {
	if s == "" {
		return nil, nil
	}
	id, err := primitive.ObjectIDFromHex(s)
	if err != nil {
		return nil, err
	}
	return &id, nil
}

func parseDate(s string) (time.Time, error) {
	// Try RFC3339 first
	t, err := time.Parse(time.RFC3339, s)
	if err == nil {
		return t, nil
	}

	// Try YYYY-MM-DD
	t, err = time.Parse("2006-01-02", s)
	if err == nil {
		return t, nil
	}

	return time.Time{}, fmt.Errorf("expected YYYY-MM-DD or RFC3339 format")
}
