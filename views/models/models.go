package models

import "time"

// CardView represents a card for template rendering
type CardView struct {
	ID          string
	Title       string
	Kind        string
	Status      string
	EnergyLevel string
	Tags        []string
	DueDate     *time.Time
	Reminder    *time.Time
	Archived    bool
	SortLabel   string
	Blocks      []BlockView
	Checklist   ChecklistView
	UpdatedAt   time.Time
}

// BlockView is one block in display order. HTML holds pre-rendered
// markdown for text and heading blocks.
type BlockView struct {
	ID      string
	Type    string
	Pinned  bool
	HTML    string
	Text    string
	URL     string
	Caption string
	Checked bool
	Items   []ListItemView
}

type ListItemView struct {
	Text    string
	Checked bool
}

type ChecklistView struct {
	Completed  int
	Total      int
	Percentage int
}
