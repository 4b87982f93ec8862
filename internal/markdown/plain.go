// ABOUTME: Renders model markdown output as plain text for a text-only chat platform.
// ABOUTME: Walks the goldmark AST, keeping paragraph breaks and dropping markup.

package markdown

import (
	"bytes"
	"regexp"
	"strings"

	"github.com/yuin/goldmark"
	"github.com/yuin/goldmark/ast"
	"github.com/yuin/goldmark/text"
)

var md = goldmark.New()

var blankRuns = regexp.MustCompile(`\n{3,}`)

// PlainText strips markdown structure from source, preserving the visible
// text and paragraph boundaries. Emphasis markers, headings markup, links,
// and code fences are removed; their contents are kept.
func PlainText(source string) string {
	src := []byte(source)
	doc := md.Parser().Parse(text.NewReader(src))

	var buf bytes.Buffer
	_ = ast.Walk(doc, func(n ast.Node, entering bool) (ast.WalkStatus, error) {
		switch node := n.(type) {
		case *ast.Text:
			if entering {
				buf.Write(node.Segment.Value(src))
				if node.SoftLineBreak() || node.HardLineBreak() {
					buf.WriteByte('\n')
				}
			}
		case *ast.AutoLink:
			if entering {
				buf.Write(node.URL(src))
			}
		case *ast.Paragraph, *ast.Heading:
			if !entering {
				buf.WriteString("\n\n")
			}
		case *ast.TextBlock:
			if !entering {
				buf.WriteByte('\n')
			}
		case *ast.FencedCodeBlock, *ast.CodeBlock:
			if entering {
				lines := n.Lines()
				for i := 0; i < lines.Len(); i++ {
					seg := lines.At(i)
					buf.Write(seg.Value(src))
				}
			} else {
				buf.WriteString("\n\n")
			}
		}
		return ast.WalkContinue, nil
	})

	out := blankRuns.ReplaceAllString(buf.String(), "\n\n")
	return strings.TrimSpace(out)
}
