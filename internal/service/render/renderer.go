package render

import (
	"bytes"
	"fmt"
	"html"
	"html/template"
	"regexp"
	"strings"

	"github.com/microcosm-cc/bluemonday"
	"github.com/yuin/goldmark"
	"github.com/yuin/goldmark/extension"
	"github.com/yuin/goldmark/renderer"
	"github.com/yuin/goldmark/util"

	"github.com/zhouzirui/ragchat/backend/internal/model/chat"
	"github.com/zhouzirui/ragchat/backend/internal/model/rag"
)

// FallbackAnswer replaces an answer whose markdown renders, or sanitizes, to nothing.
const FallbackAnswer = "Please try again"

const (
	citationHeader    = "<br /><strong>Citations:</strong><br />"
	citationSeparator = "<br />"
)

// Renderer turns microservice answers into display markup.
type Renderer struct {
	md     goldmark.Markdown
	policy *bluemonday.Policy
}

// New builds a Renderer. HTML inside the answer is always shown as text. When sanitize is
// false the combined markup is emitted verbatim, citation anchors included.
func New(sanitize bool) *Renderer {
	r := &Renderer{
		md: goldmark.New(
			goldmark.WithExtensions(extension.Table, extension.Strikethrough),
			goldmark.WithRendererOptions(
				renderer.WithNodeRenderers(util.Prioritized(escapedHTML{}, 100)),
			),
		),
	}
	if sanitize {
		r.policy = newPolicy()
	}
	return r
}

func newPolicy() *bluemonday.Policy {
	policy := bluemonday.UGCPolicy()
	policy.AllowAttrs("target").Matching(regexp.MustCompile(`^_blank$`)).OnElements("a")
	return policy
}

// Markdown renders a commonmark document, substituting FallbackAnswer for empty output.
func (r *Renderer) Markdown(src string) (string, error) {
	var buf bytes.Buffer
	if err := r.md.Convert([]byte(src), &buf); err != nil {
		return "", fmt.Errorf("render markdown: %w", err)
	}

	out := buf.String()
	if strings.TrimSpace(out) == "" {
		return FallbackAnswer, nil
	}
	return out, nil
}

// Answer combines the rendered answer with its citation block. The block is always present,
// even when the microservice returned no citations.
func (r *Renderer) Answer(resp rag.GenerateResponse) (string, error) {
	answer, err := r.Markdown(resp.Response)
	if err != nil {
		return "", err
	}

	citations := citationHeader + Citations(resp.CitationLinks)
	if r.policy != nil {
		answer = r.policy.Sanitize(answer)
		if strings.TrimSpace(answer) == "" {
			answer = FallbackAnswer
		}
		citations = r.policy.Sanitize(citations)
	}
	return answer + citations, nil
}

// Citations renders each link as an anchor opening in a new browsing context, joined by line breaks.
func Citations(links []rag.CitationLink) string {
	anchors := make([]string, 0, len(links))
	for _, link := range links {
		anchors = append(anchors, fmt.Sprintf(`<a href="%s" target="_blank">%s</a>`,
			html.EscapeString(link.URL), html.EscapeString(link.Title)))
	}
	return strings.Join(anchors, citationSeparator)
}

// MessageHTML renders one log entry. User text is escaped so it is never read as markup;
// bot content is already rendered.
func MessageHTML(m chat.Message) template.HTML {
	switch m.Sender {
	case chat.SenderBot:
		return template.HTML(m.Content)
	case chat.SenderError:
		return template.HTML(`<p class="notice">` + html.EscapeString(m.Content) + "</p>")
	default:
		return template.HTML("<p>" + html.EscapeString(m.Content) + "</p>")
	}
}
