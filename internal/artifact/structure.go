package artifact

import (
	"regexp"
	"strings"

	"github.com/yuin/goldmark"
	"github.com/yuin/goldmark/ast"
	"github.com/yuin/goldmark/extension"
	east "github.com/yuin/goldmark/extension/ast"
	"github.com/yuin/goldmark/text"
)

// Block types emitted in structure JSON.
const (
	BlockTitle    = "title"
	BlockText     = "text"
	BlockList     = "list"
	BlockTable    = "table"
	BlockEquation = "interline_equation"
	BlockCode     = "code"
	BlockImage    = "image"
)

// Block is one layout element of a page.
type Block struct {
	Type  string     `json:"type"`
	Index int        `json:"index"`
	Level int        `json:"level,omitempty"`
	Text  string     `json:"text,omitempty"`
	Items []string   `json:"items,omitempty"`
	Rows  [][]string `json:"rows,omitempty"`
	HTML  string     `json:"html,omitempty"`
	Lang  string     `json:"lang,omitempty"`
	Src   string     `json:"src,omitempty"`
}

// PageInfo holds the blocks recognized on one page.
type PageInfo struct {
	PageIdx    int     `json:"page_idx"`
	ParaBlocks []Block `json:"para_blocks"`
}

// Structure is the content of <doc>_middle.json.
type Structure struct {
	PDFInfo []PageInfo `json:"pdf_info"`
	Backend string     `json:"_backend"`
	Version string     `json:"_version_name"`
}

// StructureVersion is stamped into every structure document.
const StructureVersion = "ocrd-1"

var md = goldmark.New(goldmark.WithExtensions(extension.Table))

// BuildStructure parses each page's markdown into typed blocks.
func BuildStructure(pages []PageOutput, backend string) Structure {
	st := Structure{PDFInfo: make([]PageInfo, 0, len(pages)), Backend: backend, Version: StructureVersion}
	for _, pg := range pages {
		st.PDFInfo = append(st.PDFInfo, PageInfo{PageIdx: pg.Index, ParaBlocks: ParseBlocks(pg.Markdown)})
	}
	return st
}

var displayMath = regexp.MustCompile(`(?s)^\s*(?:\$\$(.*)\$\$|\\\[(.*)\\\])\s*$`)

// ParseBlocks splits markdown into top-level blocks.
func ParseBlocks(markdown string) []Block {
	src := []byte(markdown)
	doc := md.Parser().Parse(text.NewReader(src))
	blocks := []Block{}
	for n := doc.FirstChild(); n != nil; n = n.NextSibling() {
		b, ok := blockOf(n, src)
		if !ok {
			continue
		}
		b.Index = len(blocks)
		blocks = append(blocks, b)
	}
	return blocks
}

func blockOf(n ast.Node, src []byte) (Block, bool) {
	switch v := n.(type) {
	case *ast.Heading:
		return Block{Type: BlockTitle, Level: v.Level, Text: inlineText(v, src)}, true
	case *ast.Paragraph:
		raw := strings.TrimSpace(string(rawLines(v, src)))
		if m := displayMath.FindStringSubmatch(raw); m != nil {
			return Block{Type: BlockEquation, Text: strings.TrimSpace(m[1] + m[2])}, true
		}
		if img, ok := onlyImage(v); ok {
			return Block{Type: BlockImage, Src: string(img.Destination), Text: inlineText(img, src)}, true
		}
		return Block{Type: BlockText, Text: inlineText(v, src)}, true
	case *ast.List:
		b := Block{Type: BlockList}
		for it := v.FirstChild(); it != nil; it = it.NextSibling() {
			b.Items = append(b.Items, inlineText(it, src))
		}
		return b, true
	case *east.Table:
		b := Block{Type: BlockTable}
		for row := v.FirstChild(); row != nil; row = row.NextSibling() {
			var cells []string
			for c := row.FirstChild(); c != nil; c = c.NextSibling() {
				cells = append(cells, inlineText(c, src))
			}
			b.Rows = append(b.Rows, cells)
		}
		return b, true
	case *ast.HTMLBlock:
		raw := strings.TrimSpace(string(rawLines(v, src)))
		if strings.Contains(strings.ToLower(raw), "<table") {
			return Block{Type: BlockTable, HTML: raw}, true
		}
		return Block{Type: BlockText, Text: raw}, true
	case *ast.FencedCodeBlock:
		return Block{Type: BlockCode, Lang: string(v.Language(src)), Text: strings.TrimRight(string(rawLines(v, src)), "\n")}, true
	case *ast.CodeBlock:
		return Block{Type: BlockCode, Text: strings.TrimRight(string(rawLines(v, src)), "\n")}, true
	case *ast.Blockquote:
		return Block{Type: BlockText, Text: inlineText(v, src)}, true
	}
	return Block{}, false
}

func rawLines(n ast.Node, src []byte) []byte {
	var out []byte
	lines := n.Lines()
	for i := 0; i < lines.Len(); i++ {
		seg := lines.At(i)
		out = append(out, seg.Value(src)...)
	}
	return out
}

func onlyImage(p *ast.Paragraph) (*ast.Image, bool) {
	if p.ChildCount() != 1 {
		return nil, false
	}
	img, ok := p.FirstChild().(*ast.Image)
	return img, ok
}

// inlineText flattens the text under n, joining soft breaks with spaces and
// nested blocks with newlines.
func inlineText(n ast.Node, src []byte) string {
	var b strings.Builder
	_ = ast.Walk(n, func(c ast.Node, entering bool) (ast.WalkStatus, error) {
		if !entering {
			if c != n && c.Type() == ast.TypeBlock && c.NextSibling() != nil {
				b.WriteByte('\n')
			}
			return ast.WalkContinue, nil
		}
		switch v := c.(type) {
		case *ast.Text:
			b.Write(v.Segment.Value(src))
			if v.SoftLineBreak() || v.HardLineBreak() {
				b.WriteByte(' ')
			}
		case *ast.String:
			b.Write(v.Value)
		case *ast.AutoLink:
			b.Write(v.URL(src))
			return ast.WalkSkipChildren, nil
		case *ast.RawHTML:
			segs := v.Segments
			for i := 0; i < segs.Len(); i++ {
				s := segs.At(i)
				b.Write(s.Value(src))
			}
		}
		return ast.WalkContinue, nil
	})
	return strings.TrimSpace(b.String())
}
