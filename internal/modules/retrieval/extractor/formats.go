package extractor

import (
	"bytes"
	"fmt"
	"mime"
	"path"
	"regexp"
	"strings"

	"github.com/fumiama/go-docx"
	"github.com/gabriel-vasile/mimetype"
	pdflib "github.com/ledongthuc/pdf"
	"github.com/yuin/goldmark"
	"github.com/yuin/goldmark/ast"
	"github.com/yuin/goldmark/text"
	"golang.org/x/net/html"
)

const (
	MimePDF      = "application/pdf"
	MimeDOCX     = "application/vnd.openxmlformats-officedocument.wordprocessingml.document"
	MimeHTML     = "text/html"
	MimeMarkdown = "text/markdown"
	MimeText     = "text/plain"
	MimeBinary   = "application/octet-stream"
)

// DetectMIME sniffs data. When sniffing only says generic text or binary,
// the declared type and then the locator's extension refine it.
func DetectMIME(data []byte, declared, locator string) string {
	sniffed := baseType(mimetype.Detect(data).String())
	if sniffed != MimeText && sniffed != MimeBinary && sniffed != "" {
		return sniffed
	}
	if d := baseType(declared); d != "" && d != MimeBinary {
		if sniffed == MimeText && !strings.HasPrefix(d, "text/") && d != "application/json" {
			return sniffed
		}
		return d
	}
	if byExt := mimeForExt(path.Ext(strings.ToLower(locator))); byExt != "" {
		return byExt
	}
	if sniffed == "" {
		return MimeBinary
	}
	return sniffed
}

func baseType(v string) string {
	v = strings.TrimSpace(v)
	if v == "" {
		return ""
	}
	if mt, _, err := mime.ParseMediaType(v); err == nil {
		return strings.ToLower(mt)
	}
	return strings.ToLower(v)
}

func mimeForExt(ext string) string {
	switch ext {
	case ".md", ".markdown":
		return MimeMarkdown
	case ".txt", ".text", ".log", ".csv":
		return MimeText
	case ".html", ".htm":
		return MimeHTML
	case ".pdf":
		return MimePDF
	case ".docx":
		return MimeDOCX
	}
	return ""
}

func isPlainText(mt string) bool {
	if strings.HasPrefix(mt, "text/") {
		return true
	}
	switch mt {
	case "application/json", "application/xml", "application/x-yaml", "application/yaml":
		return true
	}
	return false
}

// PDFText concatenates the plain text of every page, pages separated by a
// blank line. The pdf reader panics on some malformed files; that is reported
// as an error.
func PDFText(data []byte) (out string, err error) {
	defer func() {
		if r := recover(); r != nil {
			out, err = "", fmt.Errorf("pdf reader panic: %v", r)
		}
	}()
	r, err := pdflib.NewReader(bytes.NewReader(data), int64(len(data)))
	if err != nil {
		return "", err
	}
	var b strings.Builder
	for i := 1; i <= r.NumPage(); i++ {
		page := r.Page(i)
		if page.V.IsNull() {
			continue
		}
		t, err := page.GetPlainText(nil)
		if err != nil {
			continue
		}
		if strings.TrimSpace(t) == "" {
			continue
		}
		if b.Len() > 0 {
			b.WriteString("\n\n")
		}
		b.WriteString(t)
	}
	return b.String(), nil
}

// DOCXText returns body paragraphs separated by blank lines.
func DOCXText(data []byte) (string, error) {
	doc, err := docx.Parse(bytes.NewReader(data), int64(len(data)))
	if err != nil {
		return "", fmt.Errorf("parse docx: %w", err)
	}
	var paras []string
	for _, item := range doc.Document.Body.Items {
		p, ok := item.(*docx.Paragraph)
		if !ok {
			continue
		}
		if t := paragraphText(p); t != "" {
			paras = append(paras, t)
		}
	}
	return strings.Join(paras, "\n\n"), nil
}

func paragraphText(p *docx.Paragraph) string {
	var b strings.Builder
	for _, child := range p.Children {
		run, ok := child.(*docx.Run)
		if !ok {
			continue
		}
		for _, rc := range run.Children {
			if t, ok := rc.(*docx.Text); ok {
				b.WriteString(t.Text)
			}
		}
	}
	return strings.TrimSpace(b.String())
}

var htmlBlockTags = map[string]bool{
	"p": true, "div": true, "section": true, "article": true, "li": true,
	"h1": true, "h2": true, "h3": true, "h4": true, "h5": true, "h6": true,
	"blockquote": true, "pre": true, "tr": true, "table": true, "br": true,
}

// HTMLText returns visible text with block elements separated by blank
// lines. script, style, noscript and template contents are skipped.
func HTMLText(data []byte) (string, error) {
	doc, err := html.Parse(bytes.NewReader(data))
	if err != nil {
		return "", fmt.Errorf("parse html: %w", err)
	}
	var (
		b         strings.Builder
		paragraph bool
	)
	var walk func(*html.Node)
	walk = func(n *html.Node) {
		switch n.Type {
		case html.TextNode:
			if t := strings.Join(strings.Fields(n.Data), " "); t != "" {
				switch {
				case b.Len() == 0:
				case paragraph:
					b.WriteString("\n\n")
				default:
					b.WriteByte(' ')
				}
				paragraph = false
				b.WriteString(t)
			}
			return
		case html.ElementNode:
			switch n.Data {
			case "script", "style", "noscript", "template", "head":
				return
			}
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			walk(c)
		}
		if n.Type == html.ElementNode && htmlBlockTags[n.Data] {
			paragraph = true
		}
	}
	walk(doc)
	return b.String(), nil
}

// MarkdownText renders the goldmark AST as plain text. Block nodes are
// separated by blank lines; markup characters are dropped.
func MarkdownText(src []byte) string {
	root := goldmark.New().Parser().Parse(text.NewReader(src))
	var b strings.Builder
	_ = ast.Walk(root, func(n ast.Node, entering bool) (ast.WalkStatus, error) {
		if !entering {
			if n.Type() == ast.TypeBlock && n.Kind() != ast.KindDocument && n.Kind() != ast.KindList && n.Kind() != ast.KindListItem {
				b.WriteString("\n\n")
			}
			return ast.WalkContinue, nil
		}
		switch node := n.(type) {
		case *ast.Text:
			b.Write(node.Segment.Value(src))
			if node.SoftLineBreak() || node.HardLineBreak() {
				b.WriteByte('\n')
			}
		case *ast.String:
			b.Write(node.Value)
		case *ast.AutoLink:
			b.Write(node.Label(src))
		case *ast.FencedCodeBlock, *ast.CodeBlock:
			lines := n.Lines()
			for i := 0; i < lines.Len(); i++ {
				seg := lines.At(i)
				b.Write(seg.Value(src))
			}
			return ast.WalkSkipChildren, nil
		case *ast.HTMLBlock, *ast.RawHTML:
			return ast.WalkSkipChildren, nil
		}
		return ast.WalkContinue, nil
	})
	return b.String()
}

var (
	trailingSpace = regexp.MustCompile(`[ \t]+\n`)
	blankRuns     = regexp.MustCompile(`\n{3,}`)
)

// NormalizeText repairs invalid UTF-8, unifies line endings and collapses
// runs of blank lines to a single paragraph break. Paragraph breaks are kept
// because the chunker cuts on them.
func NormalizeText(s string) string {
	s = strings.ToValidUTF8(s, " ")
	s = strings.ReplaceAll(s, "\r\n", "\n")
	s = strings.ReplaceAll(s, "\r", "\n")
	s = strings.ReplaceAll(s, "\u00a0", " ")
	s = strings.ReplaceAll(s, "\x00", "")
	s = trailingSpace.ReplaceAllString(s, "\n")
	s = blankRuns.ReplaceAllString(s, "\n\n")
	return strings.TrimSpace(s)
}
