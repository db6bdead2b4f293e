package markup

import (
	"bytes"
	"fmt"
	"html"
	"regexp"
	"strings"
	"unicode/utf8"

	"github.com/microcosm-cc/bluemonday"
	"github.com/sirupsen/logrus"
	"github.com/yuin/goldmark"
	"github.com/yuin/goldmark/ast"
	"github.com/yuin/goldmark/extension"
	"github.com/yuin/goldmark/parser"
	"github.com/yuin/goldmark/renderer"
	gmhtml "github.com/yuin/goldmark/renderer/html"
	"github.com/yuin/goldmark/text"
	"github.com/yuin/goldmark/util"
	xhtml "golang.org/x/net/html"
)

// Heading is a node of the table of contents.
type Heading struct {
	Level    int
	Title    string
	ID       string
	Children []Heading
}

// Result is the output of a render.
type Result struct {
	HTML string
	TOC  []Heading
}

// Options toggles optional pipeline stages.
type Options struct {
	TOC bool
}

// PostProcessor rewrites generated HTML before it is sanitised.
type PostProcessor func(string) string

var strikethroughPattern = regexp.MustCompile(`(?s)~~(.+?)~~`)

// Strikethrough wraps ~~text~~ runs in <del>.
func Strikethrough(in string) string {
	return strikethroughPattern.ReplaceAllString(in, "<del>$1</del>")
}

var headingLinePattern = regexp.MustCompile(`(?m)^[ \t]*#[^\n]*`)

// Renderer converts page text to sanitised HTML.
type Renderer struct {
	withTOC    goldmark.Markdown
	withoutTOC goldmark.Markdown
	post       []PostProcessor
	policy     *bluemonday.Policy
	logger     *logrus.Logger
}

// NewRenderer builds the markup pipeline.
func NewRenderer(logger *logrus.Logger) *Renderer {
	return &Renderer{
		withTOC:    newMarkdown(true),
		withoutTOC: newMarkdown(false),
		post:       []PostProcessor{Strikethrough},
		policy:     newPolicy(),
		logger:     logger,
	}
}

func newMarkdown(headingIDs bool) goldmark.Markdown {
	p := parser.NewParser(
		parser.WithBlockParsers(blockParsers()...),
		parser.WithInlineParsers(inlineParsers()...),
		parser.WithParagraphTransformers(parser.DefaultParagraphTransformers()...),
	)
	if headingIDs {
		p.AddOptions(parser.WithAutoHeadingID())
	}

	return goldmark.New(
		goldmark.WithParser(p),
		goldmark.WithExtensions(extension.Table, extension.Footnote),
		goldmark.WithRendererOptions(
			gmhtml.WithUnsafe(),
			renderer.WithNodeRenderers(util.Prioritized(&spoilerRenderer{}, 500)),
		),
	)
}

func newPolicy() *bluemonday.Policy {
	policy := bluemonday.UGCPolicy()
	policy.AllowElements("del", "span", "sup")
	policy.AllowAttrs("class").Matching(regexp.MustCompile(`^spoiler$`)).OnElements("span")
	policy.AllowAttrs("class").Matching(regexp.MustCompile(`^language-[\w+#-]+$`)).OnElements("code")
	policy.AllowAttrs("class").Matching(regexp.MustCompile(`^footnote-(ref|backref)$`)).OnElements("a")
	policy.AllowAttrs("class").Matching(regexp.MustCompile(`^footnotes$`)).OnElements("div")
	policy.AllowAttrs("id").Matching(regexp.MustCompile(`^[\w:.-]+$`)).OnElements("h1", "h2", "h3", "h4", "h5", "h6", "li", "sup")
	return policy
}

// Render converts text to HTML. It never fails: a fault inside the pipeline
// is reported inline and the table of contents is left empty.
func (r *Renderer) Render(src string, opts Options) (result Result) {
	defer func() {
		if recovered := recover(); recovered != nil {
			result = r.failure(fmt.Errorf("%v", recovered))
		}
	}()

	md := r.withoutTOC
	if opts.TOC {
		md = r.withTOC
	}

	source := []byte(src)
	doc := md.Parser().Parse(text.NewReader(source))

	var buf bytes.Buffer
	if err := md.Renderer().Render(&buf, source, doc); err != nil {
		return r.failure(err)
	}

	out := buf.String()
	for _, post := range r.post {
		out = post(out)
	}

	result.HTML = r.policy.Sanitize(out)
	if opts.TOC {
		result.TOC = tableOfContents(doc, source)
	}

	return result
}

// StripMarkup renders text without heading lines and returns its plain text.
func (r *Renderer) StripMarkup(src string) string {
	rendered := r.Render(headingLinePattern.ReplaceAllString(src, ""), Options{})
	return plainText(rendered.HTML)
}

// Excerpt returns at most limit characters of the plain text, with an
// ellipsis when truncated.
func (r *Renderer) Excerpt(src string, limit int) string {
	plain := r.StripMarkup(src)
	if limit <= 0 || utf8.RuneCountInString(plain) <= limit {
		return plain
	}

	runes := []rune(plain)
	return strings.TrimSpace(string(runes[:limit])) + "…"
}

func (r *Renderer) failure(err error) Result {
	if r.logger != nil {
		r.logger.WithFields(logrus.Fields{
			"component": "markup",
			"error":     err.Error(),
		}).Error("rendering page text failed")
	}

	return Result{
		HTML: `<p class="error">Error rendering page: ` + html.EscapeString(err.Error()) + `</p>`,
	}
}

func tableOfContents(doc ast.Node, source []byte) []Heading {
	var roots []Heading
	var stack []*Heading

	_ = ast.Walk(doc, func(n ast.Node, entering bool) (ast.WalkStatus, error) {
		heading, ok := n.(*ast.Heading)
		if !ok || !entering {
			return ast.WalkContinue, nil
		}

		item := Heading{Level: heading.Level, Title: nodeText(heading, source)}
		if id, found := heading.AttributeString("id"); found {
			if raw, isBytes := id.([]byte); isBytes {
				item.ID = string(raw)
			}
		}

		for len(stack) > 0 && stack[len(stack)-1].Level >= item.Level {
			stack = stack[:len(stack)-1]
		}

		if len(stack) == 0 {
			roots = append(roots, item)
			stack = append(stack, &roots[len(roots)-1])
		} else {
			parent := stack[len(stack)-1]
			parent.Children = append(parent.Children, item)
			stack = append(stack, &parent.Children[len(parent.Children)-1])
		}

		return ast.WalkSkipChildren, nil
	})

	return roots
}

func nodeText(n ast.Node, source []byte) string {
	var buf bytes.Buffer
	_ = ast.Walk(n, func(child ast.Node, entering bool) (ast.WalkStatus, error) {
		if !entering {
			return ast.WalkContinue, nil
		}
		switch t := child.(type) {
		case *ast.Text:
			buf.Write(t.Segment.Value(source))
			if t.SoftLineBreak() {
				buf.WriteByte(' ')
			}
		case *ast.String:
			buf.Write(t.Value)
		}
		return ast.WalkContinue, nil
	})
	return strings.TrimSpace(buf.String())
}

func plainText(fragment string) string {
	tokenizer := xhtml.NewTokenizer(strings.NewReader(fragment))
	var parts []string
	for {
		switch tokenizer.Next() {
		case xhtml.ErrorToken:
			return strings.Join(strings.Fields(strings.Join(parts, "")), " ")
		case xhtml.TextToken:
			parts = append(parts, string(tokenizer.Text()))
		}
	}
}
