package service

import (
	"strings"

	"github.com/yuin/goldmark"
	"github.com/yuin/goldmark/ast"
	"github.com/yuin/goldmark/extension"
	"github.com/yuin/goldmark/text"
)

const excerptLength = 200

var markdown = goldmark.New(
	goldmark.WithExtensions(extension.Table, extension.Strikethrough),
)

// summarizeMarkdown returns the post title and excerpt derived from content:
// the first level 1 heading (or level 2 when there is no level 1) and the
// text of the first paragraph, truncated to excerptLength runes.
func summarizeMarkdown(content string) (title, excerpt string) {
	if strings.TrimSpace(content) == "" {
		return "", ""
	}
	source := []byte(content)
	doc := markdown.Parser().Parse(text.NewReader(source))

	var firstH1, firstH2 string
	_ = ast.Walk(doc, func(n ast.Node, entering bool) (ast.WalkStatus, error) {
		if !entering {
			return ast.WalkContinue, nil
		}

		switch node := n.(type) {
		case *ast.Heading:
			headingText := nodeText(node, source)
			if node.Level == 1 && firstH1 == "" {
				firstH1 = headingText
			} else if node.Level == 2 && firstH2 == "" {
				firstH2 = headingText
			}
			return ast.WalkSkipChildren, nil
		case *ast.Paragraph:
			if excerpt == "" {
				excerpt = truncateRunes(nodeText(node, source), excerptLength)
			}
			return ast.WalkSkipChildren, nil
		}

		if firstH1 != "" && excerpt != "" {
			return ast.WalkStop, nil
		}
		return ast.WalkContinue, nil
	})

	title = firstH1
	if title == "" {
		title = firstH2
	}
	return title, excerpt
}

// nodeText extracts text content from a node and its children.
func nodeText(n ast.Node, source []byte) string {
	var b strings.Builder
	_ = ast.Walk(n, func(node ast.Node, entering bool) (ast.WalkStatus, error) {
		if !entering {
			return ast.WalkContinue, nil
		}
		switch v := node.(type) {
		case *ast.Text:
			b.Write(v.Segment.Value(source))
			if v.SoftLineBreak() || v.HardLineBreak() {
				b.WriteByte(' ')
			}
		case *ast.String:
			b.Write(v.Value)
		}
		return ast.WalkContinue, nil
	})
	return strings.TrimSpace(b.String())
}

func truncateRunes(s string, n int) string {
	runes := []rune(s)
	if len(runes) <= n {
		return s
	}
	return strings.TrimSpace(string(runes[:n])) + "…"
}
