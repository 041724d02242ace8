// Package highlight maps a file path + content to per-line HTML-escaped
// token spans, using chroma's lexer registry to detect language from
// extension. It is pure and reentrant: the same input always produces the
// same output (spec.md §4.3).
package highlight

import (
	"strings"

	"github.com/alecthomas/chroma/v2"
	"github.com/alecthomas/chroma/v2/formatters/html"
	"github.com/alecthomas/chroma/v2/lexers"
	"github.com/alecthomas/chroma/v2/styles"
)

const tokenClassPrefix = "pf-"

var (
	formatter = html.New(
		html.WithClasses(true),
		html.ClassPrefix(tokenClassPrefix),
	)
	highlightStyle = styles.Get("github")
)

// Lines returns one HTML-escaped markup string per physical line of
// content, with token-class spans, when path's extension maps to a known
// chroma lexer. It returns nil when the language cannot be determined.
func Lines(path, content string) []string {
	lexer := lexers.Match(path)
	if lexer == nil {
		return nil
	}
	lexer = chroma.Coalesce(lexer)

	physicalLines := splitLines(content)
	out := make([]string, 0, len(physicalLines))

	for _, line := range physicalLines {
		iterator, err := lexer.Tokenise(nil, line)
		if err != nil {
			return nil
		}
		var sb strings.Builder
		if err := formatter.Format(&sb, highlightStyle, iterator); err != nil {
			return nil
		}
		out = append(out, stripWrapper(sb.String()))
	}
	return out
}

// splitLines splits content into physical lines without their trailing
// terminators, matching the trailing-newline stripping spec.md requires.
func splitLines(content string) []string {
	content = strings.TrimSuffix(content, "\n")
	if content == "" {
		return nil
	}
	return strings.Split(content, "\n")
}

// stripWrapper removes the <pre><code>...</code></pre> (or <pre>...</pre>)
// wrapper chroma's html formatter emits around a single tokenised line,
// leaving only the inner token spans.
func stripWrapper(rendered string) string {
	rendered = strings.TrimSpace(rendered)
	rendered = strings.TrimPrefix(rendered, `<pre tabindex="0" class="`+tokenClassPrefix+`chroma">`)
	rendered = strings.TrimPrefix(rendered, `<pre tabindex="0" class="chroma">`)
	rendered = strings.TrimPrefix(rendered, "<pre>")
	rendered = strings.TrimSuffix(rendered, "</pre>")
	rendered = strings.TrimPrefix(rendered, "<code>")
	rendered = strings.TrimSuffix(rendered, "</code>")
	return strings.TrimSuffix(rendered, "\n")
}
