package cards

import (
	"context"
	"slices"
	"time"

	"go.mongodb.org/mongo-driver/bson/primitive"
)

// newBlock builds a block of in.Type stamped at now.
func newBlock(in AddBlockInput, order int, now time.Time) (Block, error) {
	if !in.Type.Valid() {
		return Block{}, invalid("type", "invalid block type %q", in.Type)
	}
	content := in.Content.Apply(emptyContent(in.Type))
	if err := validateContent(content); err != nil {
		return Block{}, err
	}

	b := Block{
		ID:      primitive.NewObjectID(),
		Type:    in.Type,
		Order:   order,
		Content: content,
		Metadata: BlockMetadata{
			CreatedAt: now,
			UpdatedAt: now,
			FileMeta:  in.Metadata,
		},
	}
	if in.IsPinned {
		b.pin(now)
	}
	return b, nil
}

func (c *Card) addBlock(in AddBlockInput, now time.Time) (Block, error) {
	order := c.nextOrder()
	if in.Order != nil {
		order = *in.Order
	}
	b, err := newBlock(in, order, now)
	if err != nil {
		return Block{}, err
	}
	c.Blocks = append(c.Blocks, b)
	return b, nil
}

// updateBlock merges patch into the block's content. A non-nil file
// replaces the block's file attributes.
func (c *Card) updateBlock(id primitive.ObjectID, patch ContentPatch, file *FileMeta, now time.Time) (Block, error) {
	b, err := c.block(id)
	if err != nil {
		return Block{}, err
	}
	content := patch.Apply(b.Content)
	if err := validateContent(content); err != nil {
		return Block{}, err
	}
	b.Content = content
	if file != nil {
		b.Metadata.FileMeta = *file
	}
	b.Metadata.UpdatedAt = now
	return *b, nil
}

// deleteBlock removes the block and renumbers the rest 0..n-1 in their
// current sequence.
func (c *Card) deleteBlock(id primitive.ObjectID) error {
	i := c.blockIndex(id)
	if i < 0 {
		return ErrBlockNotFound
	}
	c.Blocks = slices.Delete(c.Blocks, i, i+1)
	for i := range c.Blocks {
		c.Blocks[i].Order = i
	}
	return nil
}

// reorderBlocks applies the given orders, skipping unknown ids, and stores
// the blocks sorted by order. Equal orders keep their previous sequence.
func (c *Card) reorderBlocks(orders []BlockOrder) {
	for _, o := range orders {
		if b, err := c.block(o.BlockID); err == nil {
			b.Order = o.Order
		}
	}
	slices.SortStableFunc(c.Blocks, sortKey(SortByOrder))
}

// replaceBlocks discards the current blocks in favour of blocks. Orders
// become positional. An id is only kept when it already belongs to this
// card, so ids never move between cards.
func (c *Card) replaceBlocks(blocks []Block, now time.Time) error {
	owned := make(map[primitive.ObjectID]bool, len(c.Blocks))
	for _, b := range c.Blocks {
		owned[b.ID] = true
	}

	out := make([]Block, 0, len(blocks))
	seen := make(map[primitive.ObjectID]bool, len(blocks))
	for i, b := range blocks {
		if !b.Type.Valid() || b.Content == nil {
			return invalid("blocks", "block %d has invalid type %q", i, b.Type)
		}
		if err := validateContent(b.Content); err != nil {
			return err
		}
		if b.ID.IsZero() || !owned[b.ID] || seen[b.ID] {
			b.ID = primitive.NewObjectID()
		}
		seen[b.ID] = true

		b.Order = i
		if b.Metadata.CreatedAt.IsZero() {
			b.Metadata.CreatedAt = now
		}
		b.Metadata.UpdatedAt = now
		switch {
		case !b.IsPinned:
			b.PinnedAt = nil
		case b.PinnedAt == nil:
			b.PinnedAt = &now
		}
		out = append(out, b)
	}
	c.Blocks = out
	return nil
}

func (c *Card) pinBlock(id primitive.ObjectID, now time.Time) error {
	b, err := c.block(id)
	if err != nil {
		return err
	}
	if b.IsPinned {
		return errAlreadyPinned
	}
	b.pin(now)
	return nil
}

func (c *Card) unpinBlock(id primitive.ObjectID, now time.Time) error {
	b, err := c.block(id)
	if err != nil {
		return err
	}
	if !b.IsPinned {
		return errNotPinned
	}
	b.unpin(now)
	return nil
}

func (c *Card) togglePinBlock(id primitive.ObjectID, now time.Time) error {
	b, err := c.block(id)
	if err != nil {
		return err
	}
	if b.IsPinned {
		b.unpin(now)
	} else {
		b.pin(now)
	}
	return nil
}

// AddBlock appends a block to the card. Without an explicit order it goes
// after the current last block.
func (s *Service) AddBlock(ctx context.Context, userID, cardID string, in AddBlockInput) (*Card, error) {
	return s.mutate(ctx, userID, cardID, func(c *Card, now time.Time) error {
		_, err := c.addBlock(in, now)
		return err
	})
}

// UpdateBlock shallow-merges patch into the block's content.
func (s *Service) UpdateBlock(ctx context.Context, userID, cardID, blockID string, patch ContentPatch) (*Card, error) {
	bid, err := parseBlockID(blockID)
	if err != nil {
		return nil, err
	}
	return s.mutate(ctx, userID, cardID, func(c *Card, now time.Time) error {
		_, err := c.updateBlock(bid, patch, nil, now)
		return err
	})
}

func (s *Service) DeleteBlock(ctx context.Context, userID, cardID, blockID string) (*Card, error) {
	bid, err := parseBlockID(blockID)
	if err != nil {
		return nil, err
	}
	return s.mutate(ctx, userID, cardID, func(c *Card, now time.Time) error {
		return c.deleteBlock(bid)
	})
}

func (s *Service) ReorderBlocks(ctx context.Context, userID, cardID string, orders []BlockOrder) (*Card, error) {
	return s.mutate(ctx, userID, cardID, func(c *Card, now time.Time) error {
		c.reorderBlocks(orders)
		return nil
	})
}

// UpdateAllBlocks replaces every block of the card with blocks.
func (s *Service) UpdateAllBlocks(ctx context.Context, userID, cardID string, blocks []Block) (*Card, error) {
	return s.mutate(ctx, userID, cardID, func(c *Card, now time.Time) error {
		return c.replaceBlocks(blocks, now)
	})
}

func (s *Service) PinBlock(ctx context.Context, userID, cardID, blockID string) (*Card, error) {
	return s.mutateBlock(ctx, userID, cardID, blockID, (*Card).pinBlock)
}

func (s *Service) UnpinBlock(ctx context.Context, userID, cardID, blockID string) (*Card, error) {
	return s.mutateBlock(ctx, userID, cardID, blockID, (*Card).unpinBlock)
}

func (s *Service) TogglePinBlock(ctx context.Context, userID, cardID, blockID string) (*Card, error) {
	return s.mutateBlock(ctx, userID, cardID, blockID, (*Card).togglePinBlock)
}

func (s *Service) mutateBlock(ctx context.Context, userID, cardID, blockID string, fn func(c *Card, id primitive.ObjectID, now time.Time) error) (*Card, error) {
	bid, err := parseBlockID(blockID)
	if err != nil {
		return nil, err
	}
	return s.mutate(ctx, userID, cardID, func(c *Card, now time.Time) error {
		return fn(c, bid, now)
	})
}

// SetBlocksSortPreference stores the card's default block ordering. The
// blocks themselves are not touched.
func (s *Service) SetBlocksSortPreference(ctx context.Context, userID, cardID string, by SortBy, order SortOrder) (*Card, error) {
	if !by.Valid() {
		return nil, invalid("sortBy", "Invalid sortBy value. Must be: order, createdAt, or updatedAt")
	}
	if !order.Valid() {
		return nil, invalid("sortOrder", "Invalid sortOrder value. Must be: asc or desc")
	}
	return s.mutate(ctx, userID, cardID, func(c *Card, now time.Time) error {
		c.BlocksSortBy = by
		c.BlocksSortOrder = order
		return nil
	})
}

// GetBlocksSorted returns the card's blocks in display order. Empty
// arguments fall back to the card's stored preference.
func (s *Service) GetBlocksSorted(ctx context.Context, userID, cardID string, by SortBy, order SortOrder) ([]Block, error) {
	if by != "" && !by.Valid() {
		return nil, invalid("sortBy", "Invalid sortBy value. Must be: order, createdAt, or updatedAt")
	}
	if order != "" && !order.Valid() {
		return nil, invalid("sortOrder", "Invalid sortOrder value. Must be: asc or desc")
	}

	card, err := s.Get(ctx, userID, cardID)
	if err != nil {
		return nil, err
	}
	defBy, defOrder := card.sortPreference()
	if by == "" {
		by = defBy
	}
	if order == "" {
		order = defOrder
	}
	return SortBlocks(card.Blocks, by, order), nil
}
