package chat

import (
	"strings"

	"github.com/charmbracelet/glamour"
	"github.com/charmbracelet/glamour/ansi"
	"github.com/charmbracelet/glamour/styles"
)

var customStyle = getCustomStyle()

// renderer handles markdown rendering with syntax highlighting.
type renderer struct {
	glamour *glamour.TermRenderer
	width   int
}

// newRenderer creates a new markdown renderer.
func newRenderer(width int) (*renderer, error) {
	gr, err := glamour.NewTermRenderer(
		glamour.WithStyles(customStyle),
		glamour.WithWordWrap(width),
	)
	if err != nil {
		return nil, err
	}
	return &renderer{glamour: gr, width: width}, nil
}

// toMarkdown renders markdown content, falling back to plain text on error.
func (r *renderer) toMarkdown(content string) string {
	rendered, err := r.glamour.Render(content)
	if err != nil {
		return content
	}
	return strings.Trim(rendered, "\n")
}

// SetWidth rebuilds the renderer for a new word-wrap width.
func (r *renderer) SetWidth(width int) error {
	if r.width == width {
		return nil
	}
	fresh, err := newRenderer(width)
	if err != nil {
		return err
	}
	*r = *fresh
	return nil
}

func getCustomStyle() ansi.StyleConfig {
	// Start with dark style and modify
	style := styles.DraculaStyleConfig
	zero := uint(0)
	style.Document.Margin = &zero
	style.CodeBlock.Margin = &zero
	style.CodeBlock.Indent = &zero
	style.CodeBlock.Prefix = ""
	style.CodeBlock.BlockPrefix = ""

	style.Code.Margin = &zero
	style.Code.Indent = &zero
	style.Code.Prefix = ""
	style.Code.Suffix = ""

	style.Paragraph.BlockPrefix = ""
	style.Paragraph.BlockSuffix = ""

	return style
}
