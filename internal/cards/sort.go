package cards

import (
	"cmp"
	"slices"
	"time"
)

// SortBlocks returns blocks in display order. Pinned blocks come first,
// most recently pinned on top, whatever sortBy and sortOrder say. The rest
// follow, ordered by sortBy in the sortOrder direction. Equal keys keep
// their input order. The input slice is not modified.
//
// When sortBy is a timestamp and some unpinned block has no value for it,
// the unpinned blocks are ordered by their order field instead.
func SortBlocks(blocks []Block, sortBy SortBy, sortOrder SortOrder) []Block {
	if len(blocks) == 0 {
		return []Block{}
	}

	pinned := make([]Block, 0, len(blocks))
	unpinned := make([]Block, 0, len(blocks))
	for _, b := range blocks {
		if b.IsPinned {
			pinned = append(pinned, b)
		} else {
			unpinned = append(unpinned, b)
		}
	}

	slices.SortStableFunc(pinned, func(a, b Block) int {
		return pinnedTime(b).Compare(pinnedTime(a))
	})

	if !sortBy.Valid() || missingTimestamp(unpinned, sortBy) {
		sortBy = SortByOrder
	}
	key := sortKey(sortBy)
	desc := sortOrder == SortDesc
	slices.SortStableFunc(unpinned, func(a, b Block) int {
		if desc {
			return key(b, a)
		}
		return key(a, b)
	})

	return append(pinned, unpinned...)
}

func sortKey(by SortBy) func(a, b Block) int {
	switch by {
	case SortByCreatedAt:
		return func(a, b Block) int { return a.Metadata.CreatedAt.Compare(b.Metadata.CreatedAt) }
	case SortByUpdatedAt:
		return func(a, b Block) int { return a.Metadata.UpdatedAt.Compare(b.Metadata.UpdatedAt) }
	default:
		return func(a, b Block) int { return cmp.Compare(a.Order, b.Order) }
	}
}

func missingTimestamp(blocks []Block, by SortBy) bool {
	for _, b := range blocks {
		switch by {
		case SortByCreatedAt:
			if b.Metadata.CreatedAt.IsZero() {
				return true
			}
		case SortByUpdatedAt:
			if b.Metadata.UpdatedAt.IsZero() {
				return true
			}
		}
	}
	return false
}

// pinnedTime treats a pinned block without a timestamp as pinned long ago.
func pinnedTime(b Block) time.Time {
	if b.PinnedAt == nil {
		return time.Time{}
	}
	return *b.PinnedAt
}
