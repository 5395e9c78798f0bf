package cards

import (
	"bytes"
	"fmt"
	"strings"
)

// RenderMarkdown converts markdown content to HTML
func (s *Service) RenderMarkdown(content string) string {
	var buf bytes.Buffer
	if err := s.md.Convert([]byte(content), &buf); err != nil {
		return content // Return raw content on error
	}
	return buf.String()
}

// Describe renders a block as one line of markdown, the way the MCP tools
// show it.
func Describe(b Block) string {
	var sb strings.Builder
	if b.IsPinned {
		sb.WriteString("📌 ")
	}
	switch c := b.Content.(type) {
	case TextContent:
		sb.WriteString(c.Text)
	case HeadingContent:
		sb.WriteString("## " + c.Text)
	case ImageContent:
		fmt.Fprintf(&sb, "![%s](%s)", c.ImageCaption, c.ImageURL)
	case AudioContent:
		fmt.Fprintf(&sb, "[audio %.0fs](%s)", c.AudioDuration, c.AudioURL)
	case CheckboxContent:
		sb.WriteString(checkbox(c.Checked) + c.Label)
	case ListContent:
		for i, item := range c.Items {
			if i > 0 {
				sb.WriteString("\n")
			}
			sb.WriteString("- " + checkbox(item.Checked) + item.Text)
		}
	default:
		fmt.Fprintf(&sb, "(%s block)", b.Type)
	}
	return sb.String()
}

func checkbox(checked bool) string {
	if checked {
		return "[x] "
	}
	return "[ ] "
}
