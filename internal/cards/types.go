package cards

import (
	"time"

	"go.mongodb.org/mongo-driver/bson/primitive"
)

type Status string

const (
	StatusTodo    Status = "todo"
	StatusDoing   Status = "doing"
	StatusDone    Status = "done"
	StatusPending Status = "pending"
)

func (s Status) Valid() bool {
	switch s {
	case StatusTodo, StatusDoing, StatusDone, StatusPending:
		return true
	}
	return false
}

type EnergyLevel string

const (
	EnergyLow    EnergyLevel = "low"
	EnergyMedium EnergyLevel = "medium"
	EnergyHigh   EnergyLevel = "high"
	EnergyUrgent EnergyLevel = "urgent"
)

func (e EnergyLevel) Valid() bool {
	switch e {
	case EnergyLow, EnergyMedium, EnergyHigh, EnergyUrgent:
		return true
	}
	return false
}

// SortBy selects the key unpinned blocks are ordered by.
type SortBy string

const (
	SortByOrder     SortBy = "order"
	SortByCreatedAt SortBy = "createdAt"
	SortByUpdatedAt SortBy = "updatedAt"
)

func (s SortBy) Valid() bool {
	return s == SortByOrder || s == SortByCreatedAt || s == SortByUpdatedAt
}

type SortOrder string

const (
	SortAsc  SortOrder = "asc"
	SortDesc SortOrder = "desc"
)

func (s SortOrder) Valid() bool {
	return s == SortAsc || s == SortDesc
}

// ChecklistItem is an entry of the legacy flat checklist, kept separately
// from blocks.
type ChecklistItem struct {
	ID      primitive.ObjectID `bson:"_id" json:"id"`
	Text    string             `bson:"text" json:"text"`
	Checked bool               `bson:"checked" json:"checked"`
}

// Card is a note or a task. It owns its blocks as embedded sub-documents.
type Card struct {
	ID        primitive.ObjectID  `bson:"_id,omitempty" json:"id"`
	UserID    string              `bson:"userId" json:"userId"`
	AreaID    primitive.ObjectID  `bson:"areaId" json:"areaId"`
	ProjectID *primitive.ObjectID `bson:"projectId" json:"projectId"`
	FolderID  *primitive.ObjectID `bson:"folderId" json:"folderId"`

	Title     string          `bson:"title" json:"title"`
	Content   string          `bson:"content" json:"content"`
	Blocks    []Block         `bson:"blocks" json:"blocks"`
	Checklist []ChecklistItem `bson:"checklist" json:"checklist"`
	Tags      []string        `bson:"tags" json:"tags"`
	Link      *string         `bson:"link" json:"link"`

	Status      Status      `bson:"status" json:"status"`
	EnergyLevel EnergyLevel `bson:"energyLevel" json:"energyLevel"`
	DueDate     *time.Time  `bson:"dueDate" json:"dueDate"`
	Reminder    *time.Time  `bson:"reminder" json:"reminder"`
	IsArchived  bool        `bson:"isArchived" json:"isArchived"`
	DeletedAt   *time.Time  `bson:"deletedAt" json:"deletedAt"`

	BlocksSortBy    SortBy    `bson:"blocksSortBy" json:"blocksSortBy"`
	BlocksSortOrder SortOrder `bson:"blocksSortOrder" json:"blocksSortOrder"`

	Version   int64     `bson:"version" json:"version"`
	CreatedAt time.Time `bson:"createdAt" json:"createdAt"`
	UpdatedAt time.Time `bson:"updatedAt" json:"updatedAt"`
}

// blockIndex returns the position of the block with id, or -1.
func (c *Card) blockIndex(id primitive.ObjectID) int {
	for i := range c.Blocks {
		if c.Blocks[i].ID == id {
			return i
		}
	}
	return -1
}

// block returns a pointer into Blocks for id.
func (c *Card) block(id primitive.ObjectID) (*Block, error) {
	i := c.blockIndex(id)
	if i < 0 {
		return nil, ErrBlockNotFound
	}
	return &c.Blocks[i], nil
}

// nextOrder is one past the largest order in use, or 0 for an empty card.
func (c *Card) nextOrder() int {
	if len(c.Blocks) == 0 {
		return 0
	}
	max := c.Blocks[0].Order
	for _, b := range c.Blocks[1:] {
		if b.Order > max {
			max = b.Order
		}
	}
	return max + 1
}

// sortPreference returns the stored preference, filling in defaults for
// documents written before the fields existed.
func (c *Card) sortPreference() (SortBy, SortOrder) {
	by, order := c.BlocksSortBy, c.BlocksSortOrder
	if !by.Valid() {
		by = SortByOrder
	}
	if !order.Valid() {
		order = SortAsc
	}
	return by, order
}

// ChecklistProgress summarizes the legacy checklist.
type ChecklistProgress struct {
	Completed  int `json:"completed"`
	Total      int `json:"total"`
	Percentage int `json:"percentage"`
}

func (c *Card) ChecklistProgress() ChecklistProgress {
	p := ChecklistProgress{Total: len(c.Checklist)}
	if p.Total == 0 {
		return p
	}
	for _, item := range c.Checklist {
		if item.Checked {
			p.Completed++
		}
	}
	p.Percentage = (p.Completed*100 + p.Total/2) / p.Total
	return p
}

// SortedBlocks returns the blocks in display order using the card's stored
// sort preference.
func (c *Card) SortedBlocks() []Block {
	by, order := c.sortPreference()
	return SortBlocks(c.Blocks, by, order)
}

// CreateCardInput is the body of a create request.
type CreateCardInput struct {
	AreaID      primitive.ObjectID  `json:"areaId"`
	ProjectID   *primitive.ObjectID `json:"projectId"`
	FolderID    *primitive.ObjectID `json:"folderId"`
	Title       string              `json:"title"`
	Content     string              `json:"content"`
	Tags        []string            `json:"tags"`
	Link        *string             `json:"link"`
	Status      Status              `json:"status"`
	EnergyLevel EnergyLevel         `json:"energyLevel"`
	DueDate     *time.Time          `json:"dueDate"`
	Reminder    *time.Time          `json:"reminder"`
	Blocks      []AddBlockInput     `json:"blocks"`
	Checklist   []ChecklistItem     `json:"checklist"`
}

// UpdateCardInput is a partial update of a card's scalar fields. Nil fields
// are left untouched. Blocks are only changed through the block operations.
type UpdateCardInput struct {
	Title       *string      `json:"title"`
	Content     *string      `json:"content"`
	Tags        []string     `json:"tags"`
	Link        *string      `json:"link"`
	Status      *Status      `json:"status"`
	EnergyLevel *EnergyLevel `json:"energyLevel"`
	DueDate     *time.Time   `json:"dueDate"`
	Reminder    *time.Time   `json:"reminder"`

	// ClearReminder removes the reminder. DueDate can only be moved on a
	// task; use the conversion operations to add or remove it.
	ClearReminder bool `json:"clearReminder"`
}

// AddBlockInput describes a new block. Order is assigned when nil.
type AddBlockInput struct {
	Type     BlockType    `json:"type"`
	Order    *int         `json:"order"`
	IsPinned bool         `json:"isPinned"`
	Content  ContentPatch `json:"content"`
	Metadata FileMeta     `json:"metadata"`
}

// BlockOrder moves one block to a new order value.
type BlockOrder struct {
	BlockID primitive.ObjectID `json:"blockId"`
	Order   int                `json:"order"`
}

// ListQuery filters the owner's cards.
type ListQuery struct {
	AreaID    *primitive.ObjectID
	FolderID  *primitive.ObjectID
	ProjectID *primitive.ObjectID
	Status    Status
	Archived  *bool
	Search    string
	Page      int
	Limit     int
}

// Pagination accompanies list results.
type Pagination struct {
	Total      int64 `json:"total"`
	Page       int   `json:"page"`
	Limit      int   `json:"limit"`
	TotalPages int64 `json:"totalPages"`
}

// ListResult is a page of cards.
type ListResult struct {
	Cards      []*Card    `json:"cards"`
	Pagination Pagination `json:"pagination"`
}
