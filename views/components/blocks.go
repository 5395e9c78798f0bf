package components

import (
	"context"
	"fmt"
	"io"

	"cardstack/views/models"

	"github.com/a-h/templ"
)

// BlockList renders blocks in the order given.
func BlockList(blocks []models.BlockView) templ.Component {
	return templ.ComponentFunc(func(ctx context.Context, w io.Writer) error {
		if len(blocks) == 0 {
			_, err := io.WriteString(w, `<p class="empty">No blocks yet.</p>`)
			return err
		}
		if _, err := io.WriteString(w, `<ol class="blocks">`); err != nil {
			return err
		}
		for _, b := range blocks {
			if err := Block(b).Render(ctx, w); err != nil {
				return err
			}
		}
		_, err := io.WriteString(w, `</ol>`)
		return err
	})
}

// Block renders a single block according to its type.
func Block(b models.BlockView) templ.Component {
	return templ.ComponentFunc(func(ctx context.Context, w io.Writer) error {
		class := "block block-" + b.Type
		if b.Pinned {
			class += " pinned"
		}
		if _, err := fmt.Fprintf(w, `<li id="block-%s" class="%s">`, templ.EscapeString(b.ID), templ.EscapeString(class)); err != nil {
			return err
		}
		if err := blockBody(w, b); err != nil {
			return err
		}
		_, err := io.WriteString(w, `</li>`)
		return err
	})
}

func blockBody(w io.Writer, b models.BlockView) error {
	var err error
	switch b.Type {
	case "text", "heading":
		_, err = io.WriteString(w, b.HTML)
	case "image":
		_, err = fmt.Fprintf(w, `<figure><img src="%s" alt="%s"><figcaption>%s</figcaption></figure>`,
			templ.EscapeString(b.URL), templ.EscapeString(b.Caption), templ.EscapeString(b.Caption))
	case "audio":
		_, err = fmt.Fprintf(w, `<audio controls src="%s"></audio>`, templ.EscapeString(b.URL))
	case "checkbox":
		_, err = fmt.Fprintf(w, `<label><input type="checkbox" disabled%s> %s</label>`,
			checkedAttr(b.Checked), templ.EscapeString(b.Text))
	case "list":
		if _, err = io.WriteString(w, `<ul>`); err != nil {
			return err
		}
		for _, item := range b.Items {
			if _, err = fmt.Fprintf(w, `<li><input type="checkbox" disabled%s> %s</li>`,
				checkedAttr(item.Checked), templ.EscapeString(item.Text)); err != nil {
				return err
			}
		}
		_, err = io.WriteString(w, `</ul>`)
	default:
		_, err = fmt.Fprintf(w, `<p class="unknown">%s block</p>`, templ.EscapeString(b.Type))
	}
	return err
}

func checkedAttr(checked bool) string {
	if checked {
		return " checked"
	}
	return ""
}
