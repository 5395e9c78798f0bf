package pages

import (
	"context"
	"fmt"
	"io"
	"strings"

	"cardstack/views/components"
	"cardstack/views/models"

	"github.com/a-h/templ"
)

// CardPage renders a read-only page for one card.
func CardPage(card models.CardView) templ.Component {
	return templ.ComponentFunc(func(ctx context.Context, w io.Writer) error {
		title := templ.EscapeString(card.Title)
		if _, err := fmt.Fprintf(w, `<!DOCTYPE html><html lang="en"><head><meta charset="utf-8"><title>%s</title></head><body><article class="card card-%s">`,
			title, templ.EscapeString(card.Kind)); err != nil {
			return err
		}
		if _, err := fmt.Fprintf(w, `<header><h1>%s</h1>%s</header>`, title, meta(card)); err != nil {
			return err
		}
		if err := components.BlockList(card.Blocks).Render(ctx, w); err != nil {
			return err
		}
		if card.Checklist.Total > 0 {
			if _, err := fmt.Fprintf(w, `<p class="checklist">%d/%d done (%d%%)</p>`,
				card.Checklist.Completed, card.Checklist.Total, card.Checklist.Percentage); err != nil {
				return err
			}
		}
		_, err := fmt.Fprintf(w, `<footer>Updated %s</footer></article></body></html>`,
			card.UpdatedAt.Format("Jan 2, 2006 15:04"))
		return err
	})
}

func meta(card models.CardView) string {
	parts := []string{
		card.Kind,
		card.Status,
		card.EnergyLevel + " energy",
		"sorted by " + card.SortLabel,
	}
	if card.DueDate != nil {
		parts = append(parts, "due "+card.DueDate.Format("Jan 2, 2006"))
	}
	if card.Archived {
		parts = append(parts, "archived")
	}
	for _, tag := range card.Tags {
		parts = append(parts, "#"+tag)
	}
	for i, p := range parts {
		parts[i] = templ.EscapeString(p)
	}
	return `<p class="meta">` + strings.Join(parts, " · ") + `</p>`
}
