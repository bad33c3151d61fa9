// Package reporting turns markdown report bodies into printable HTML pages.
// The browser's print dialog produces the PDF.
package reporting

import (
	"bytes"
	"fmt"
	"html"

	"github.com/yuin/goldmark"
	"github.com/yuin/goldmark/extension"
	gmhtml "github.com/yuin/goldmark/renderer/html"
)

// Letterhead is printed above every report.
type Letterhead struct {
	Name     string `mapstructure:"name"`
	Subtitle string `mapstructure:"subtitle"`
	Address  string `mapstructure:"address"`
}

const footerText = "Este informe es válido únicamente con firma y sello del profesional responsable"

const printCSS = `
body{margin:0;background:#f0f0f0;font-family:Arial,sans-serif;color:#333;}
#report-root{max-width:800px;margin:0 auto;background:#fff;padding:24px 24px 40px;min-height:100vh;}
.letterhead{text-align:center;border-bottom:3px solid #1976d2;padding-bottom:20px;margin-bottom:30px;}
.letterhead h1{font-size:28px;color:#1976d2;margin:0 0 8px;}
.letterhead h3{font-size:20px;color:#1976d2;margin:0 0 8px;}
.letterhead p{font-size:14px;color:#666;margin:0;}
h1{font-size:20px;text-transform:uppercase;border-bottom:2px solid #e0e0e0;padding-bottom:10px;}
h2{font-size:18px;text-transform:uppercase;border-bottom:2px solid #1976d2;padding-bottom:8px;}
h3{font-size:16px;color:#1976d2;background:#e3f2fd;padding:12px 16px;border-left:4px solid #1976d2;border-radius:4px;}
h4{color:#1976d2;background:#f1f8ff;border-left:4px solid #1976d2;padding:6px 12px;}
table{width:100%;border-collapse:collapse;font-size:14px;margin-bottom:16px;}
th{background:#f5f5f5;padding:10px;border-bottom:2px solid #ddd;}
td{padding:12px;border-bottom:1px solid #eee;vertical-align:top;}
.signature{margin-top:48px;text-align:center;}
.signature span{display:inline-block;min-width:200px;border-top:1px solid #333;margin-top:50px;padding-top:8px;font-size:12px;color:#666;}
footer{margin-top:32px;padding-top:16px;border-top:1px solid #e0e0e0;text-align:center;font-size:11px;color:#999;}
@media print{
@page{size:A4;margin:0;}
body{background:#fff;}
#report-root{padding:12mm 15mm 14mm 15mm;min-height:auto;}
html,body{-webkit-print-color-adjust:exact;print-color-adjust:exact;}
}
`

// Renderer converts report markdown to a standalone HTML document.
type Renderer struct {
	md   goldmark.Markdown
	head Letterhead
}

// NewRenderer builds a renderer with GitHub-flavored tables. Raw HTML in the
// markdown is passed through, so callers must escape user text.
func NewRenderer(head Letterhead) *Renderer {
	return &Renderer{
		md: goldmark.New(
			goldmark.WithExtensions(extension.GFM),
			goldmark.WithRendererOptions(gmhtml.WithUnsafe()),
		),
		head: head,
	}
}

// RenderHTML wraps the converted markdown in a printable page.
func (r *Renderer) RenderHTML(title, markdown string) ([]byte, error) {
	var body bytes.Buffer
	if err := r.md.Convert([]byte(markdown), &body); err != nil {
		return nil, fmt.Errorf("markdown convert: %w", err)
	}

	var out bytes.Buffer
	out.WriteString("<!doctype html><html><head><meta charset='utf-8'>")
	fmt.Fprintf(&out, "<title>%s</title>", html.EscapeString(title))
	out.WriteString("<style>" + printCSS + "</style></head><body><div id='report-root'>")
	if r.head.Name != "" {
		out.WriteString("<header class='letterhead'>")
		fmt.Fprintf(&out, "<h1>%s</h1>", html.EscapeString(r.head.Name))
		if r.head.Subtitle != "" {
			fmt.Fprintf(&out, "<h3>%s</h3>", html.EscapeString(r.head.Subtitle))
		}
		if r.head.Address != "" {
			fmt.Fprintf(&out, "<p>%s</p>", html.EscapeString(r.head.Address))
		}
		out.WriteString("</header>")
	}
	out.Write(body.Bytes())
	out.WriteString("<div class='signature'><span>Firma del Profesional</span></div>")
	out.WriteString("<footer>" + html.EscapeString(footerText) + "</footer>")
	out.WriteString("</div></body></html>")
	return out.Bytes(), nil
}
