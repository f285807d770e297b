// Package export renders the board to PDF.
package export

import (
	"fmt"
	"io"
	"log"
	"math"
	"net/http"
	"os"
	"strings"

	"github.com/jung-kurt/gofpdf"

	"github.com/inkboard/board-app/internal/canvas"
	"github.com/inkboard/board-app/internal/protocol"
)

const (
	margin   = 24.0    // points around the drawing
	minPage  = 200.0   // smallest page edge in points
	maxPage  = 14400.0 // largest page edge PDF viewers accept
	pageUnit = "pt"
)

// pdfRenderer paints events onto a gofpdf document. One world pixel maps
// to one point, scaled down only when the drawing would exceed maxPage.
type pdfRenderer struct {
	pdf     *gofpdf.Fpdf
	tr      func(string) string
	originX float64
	originY float64
	scale   float64
	pageW   float64
	pageH   float64
}

func newPDFRenderer(b canvas.Bounds) *pdfRenderer {
	r := &pdfRenderer{scale: 1}
	w, h := minPage, minPage
	if !b.Empty {
		w = math.Max(b.Width()+2*margin, minPage)
		h = math.Max(b.Height()+2*margin, minPage)
		if edge := math.Max(w, h); edge > maxPage {
			r.scale = maxPage / edge
			w *= r.scale
			h *= r.scale
		}
		// Center the drawing on pages padded up to minPage.
		r.originX = b.MinX - (w/r.scale-b.Width())/2
		r.originY = b.MinY - (h/r.scale-b.Height())/2
	}
	r.pageW, r.pageH = w, h

	// Size already carries the orientation; "L" would swap the edges.
	r.pdf = gofpdf.NewCustom(&gofpdf.InitType{
		OrientationStr: "P",
		UnitStr:        pageUnit,
		Size:           gofpdf.SizeType{Wd: w, Ht: h},
	})
	r.pdf.SetMargins(0, 0, 0)
	r.pdf.SetAutoPageBreak(false, 0)
	r.pdf.SetTitle("Inkboard", true)
	r.pdf.SetCreator("inkboard", true)
	r.tr = r.pdf.UnicodeTranslatorFromDescriptor("")
	return r
}

func (r *pdfRenderer) x(wx float64) float64 { return (wx - r.originX) * r.scale }
func (r *pdfRenderer) y(wy float64) float64 { return (wy - r.originY) * r.scale }

// Reset starts the page and fills it with the board background. The view
// is ignored: exports are always fitted to the drawing.
func (r *pdfRenderer) Reset(canvas.View) {
	r.pdf.AddPage()
	cr, cg, cb := parseColor(canvas.BackgroundColor)
	r.pdf.SetFillColor(cr, cg, cb)
	r.pdf.Rect(0, 0, r.pageW, r.pageH, "F")
	r.pdf.SetLineCapStyle("round")
	r.pdf.SetLineJoinStyle("round")
}

func (r *pdfRenderer) Segment(s protocol.Segment) {
	cr, cg, cb := parseColor(s.Color)
	r.pdf.SetDrawColor(cr, cg, cb)
	r.pdf.SetLineWidth(s.Width * r.scale)
	r.pdf.Line(r.x(s.X0), r.y(s.Y0), r.x(s.X1), r.y(s.Y1))
}

func (r *pdfRenderer) Text(t protocol.Text) {
	cr, cg, cb := parseColor(t.Color)
	r.pdf.SetTextColor(cr, cg, cb)
	r.pdf.SetFont(fontFamily(t.FontFamily), "", t.PixelSize()*r.scale)
	// gofpdf anchors text at its baseline, like the board.
	r.pdf.Text(r.x(t.X), r.y(t.Y), r.tr(t.Content))
}

// fontFamily maps a CSS font family onto one of the PDF core fonts.
func fontFamily(css string) string {
	f := strings.ToLower(css)
	switch {
	case strings.Contains(f, "mono") || strings.Contains(f, "courier"):
		return "Courier"
	case strings.Contains(f, "serif") && !strings.Contains(f, "sans"):
		return "Times"
	default:
		return "Helvetica"
	}
}

// Render writes events as a single-page PDF fitted to their bounds.
func Render(w io.Writer, events []protocol.Event) error {
	r := newPDFRenderer(canvas.Measure(events))
	canvas.Replay(r, canvas.View{}, events)
	if err := r.pdf.Output(w); err != nil {
		return fmt.Errorf("export: render pdf: %w", err)
	}
	return nil
}

// WriteFile renders events to the PDF file at path.
func WriteFile(path string, events []protocol.Event) error {
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("export: %w", err)
	}
	if err := Render(f, events); err != nil {
		f.Close()
		return err
	}
	return f.Close()
}

// Handler serves the board returned by snapshot as a PDF download.
func Handler(snapshot func() []protocol.Event) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		events := snapshot()
		w.Header().Set("Content-Type", "application/pdf")
		w.Header().Set("Content-Disposition", `inline; filename="board.pdf"`)
		if err := Render(w, events); err != nil {
			log.Printf("export: pdf failed events=%d: %v", len(events), err)
			http.Error(w, "export failed", http.StatusInternalServerError)
		}
	})
}
