package draft

import (
	"github.com/gomarkdown/markdown"
	"github.com/gomarkdown/markdown/html"
	"github.com/gomarkdown/markdown/parser"
)

// RenderPreview renders the payload's content, which is markdown, to HTML.
func RenderPreview(p Payload) []byte {
	md := markdown.NormalizeNewlines([]byte(p.Content()))
	doc := parser.NewWithExtensions(
		parser.CommonExtensions | parser.AutoHeadingIDs | parser.Footnotes,
	).Parse(md)

	opts := html.RendererOptions{Flags: html.CommonFlags | html.SkipHTML | html.Safelink}
	return markdown.Render(doc, html.NewRenderer(opts))
}
