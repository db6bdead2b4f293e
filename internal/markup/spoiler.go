package markup

import (
	"bytes"

	"github.com/yuin/goldmark/ast"
	"github.com/yuin/goldmark/parser"
	"github.com/yuin/goldmark/renderer"
	"github.com/yuin/goldmark/text"
	"github.com/yuin/goldmark/util"
)

var (
	spoilerOpen  = []byte(">!")
	spoilerClose = []byte("!<")
)

// KindSpoiler is the node kind of inline spoilers.
var KindSpoiler = ast.NewNodeKind("Spoiler")

// Spoiler is an inline span hidden until the reader reveals it.
type Spoiler struct {
	ast.BaseInline
}

// Kind implements ast.Node.
func (n *Spoiler) Kind() ast.NodeKind {
	return KindSpoiler
}

// Dump implements ast.Node.
func (n *Spoiler) Dump(source []byte, level int) {
	ast.DumpHelper(n, source, level, nil, nil)
}

// spoilerParser turns >!text!< into a Spoiler node. A marker opening a line is
// left as literal text.
type spoilerParser struct{}

func (p *spoilerParser) Trigger() []byte {
	return []byte{'>'}
}

func (p *spoilerParser) Parse(parent ast.Node, block text.Reader, pc parser.Context) ast.Node {
	line, segment := block.PeekLine()
	if !bytes.HasPrefix(line, spoilerOpen) {
		return nil
	}

	source := block.Source()
	if segment.Start == 0 || source[segment.Start-1] == '\n' {
		return nil
	}

	end := bytes.Index(line[len(spoilerOpen):], spoilerClose)
	if end <= 0 {
		return nil
	}

	node := &Spoiler{}
	inner := text.NewSegment(segment.Start+len(spoilerOpen), segment.Start+len(spoilerOpen)+end)
	node.AppendChild(node, ast.NewTextSegment(inner))
	block.Advance(len(spoilerOpen) + end + len(spoilerClose))

	return node
}

type spoilerRenderer struct{}

func (r *spoilerRenderer) RegisterFuncs(reg renderer.NodeRendererFuncRegisterer) {
	reg.Register(KindSpoiler, r.render)
}

func (r *spoilerRenderer) render(w util.BufWriter, source []byte, node ast.Node, entering bool) (ast.WalkStatus, error) {
	if entering {
		_, _ = w.WriteString(`<span class="spoiler">`)
	} else {
		_, _ = w.WriteString("</span>")
	}
	return ast.WalkContinue, nil
}

// spoilerAwareBlockquote keeps lines opening with >! out of blockquotes.
type spoilerAwareBlockquote struct {
	parser.BlockParser
}

func (b *spoilerAwareBlockquote) Open(parent ast.Node, reader text.Reader, pc parser.Context) (ast.Node, parser.State) {
	line, _ := reader.PeekLine()
	if opensSpoiler(line) {
		return nil, parser.NoChildren
	}
	return b.BlockParser.Open(parent, reader, pc)
}

func (b *spoilerAwareBlockquote) Continue(node ast.Node, reader text.Reader, pc parser.Context) parser.State {
	line, _ := reader.PeekLine()
	if opensSpoiler(line) {
		return parser.Close
	}
	return b.BlockParser.Continue(node, reader, pc)
}

func opensSpoiler(line []byte) bool {
	indent := 0
	for indent < len(line) && indent < 3 && line[indent] == ' ' {
		indent++
	}
	return bytes.HasPrefix(line[indent:], spoilerOpen)
}

func blockParsers() []util.PrioritizedValue {
	defaults := parser.DefaultBlockParsers()
	parsers := make([]util.PrioritizedValue, 0, len(defaults))
	for _, v := range defaults {
		if bp, ok := v.Value.(parser.BlockParser); ok && bytes.IndexByte(bp.Trigger(), '>') >= 0 {
			v = util.Prioritized(&spoilerAwareBlockquote{BlockParser: bp}, v.Priority)
		}
		parsers = append(parsers, v)
	}
	return parsers
}

func inlineParsers() []util.PrioritizedValue {
	// Emphasis sits at 500; lower values run first.
	return append(parser.DefaultInlineParsers(), util.Prioritized(&spoilerParser{}, 450))
}
