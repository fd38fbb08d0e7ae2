package chunker

import (
	"strings"

	"github.com/yuin/goldmark"
	"github.com/yuin/goldmark/ast"
	"github.com/yuin/goldmark/text"
)

// markdownSeparators inspects the document's AST and builds the separator
// list from the heading levels that actually occur, strongest level first.
// The split itself stays textual so segment text remains a verbatim slice of
// the source.
func markdownSeparators(content string) []string {
	md := goldmark.New()
	doc := md.Parser().Parse(text.NewReader([]byte(content)))

	levels := map[int]bool{}
	for node := doc.FirstChild(); node != nil; node = node.NextSibling() {
		if h, ok := node.(*ast.Heading); ok {
			levels[h.Level] = true
		}
	}

	seps := make([]string, 0, 10)
	for level := 1; level <= 6; level++ {
		if levels[level] {
			seps = append(seps, "\n"+strings.Repeat("#", level)+" ")
		}
	}
	return append(seps, "\n\n", "\n", " ", "")
}
