// Package export renders a room snapshot into a portable document.
package export

import (
	"fmt"
	"io"

	"github.com/jung-kurt/gofpdf"

	"boardsync/internal/state"
)

// Canvas coordinates are divided by this factor to land on an A4 page.
const scale = 3

// WritePDF draws every visible stroke of a snapshot into a PDF. Eraser
// strokes paint white over earlier ink, matching the canvas behavior; image
// strokes become placeholder bounds since the core never decodes image data.
func WritePDF(w io.Writer, snap state.Snapshot) error {
	p := gofpdf.New("L", "mm", "A4", "")
	p.AddPage()

	for _, s := range snap.Strokes {
		r, g, b := hexColor(s.Color)
		if s.Tool == state.ToolEraser {
			r, g, b = 255, 255, 255
		}
		p.SetDrawColor(r, g, b)
		p.SetTextColor(r, g, b)
		p.SetLineWidth(s.Width / scale)

		switch s.Tool {
		case state.ToolRect:
			if s.Shape != nil {
				p.Rect(s.Shape.X/scale, s.Shape.Y/scale, s.Shape.Width/scale, s.Shape.Height/scale, "D")
			}
		case state.ToolCircle:
			if s.Shape != nil {
				p.Circle(s.Shape.X/scale, s.Shape.Y/scale, s.Shape.Radius/scale, "D")
			}
		case state.ToolText:
			p.SetFont("Helvetica", "", s.FontSize/scale)
			p.Text(s.X/scale, s.Y/scale, s.Text)
		case state.ToolImage:
			p.SetDashPattern([]float64{1, 1}, 0)
			p.Rect(s.X/scale, s.Y/scale, s.Width/scale, s.Height/scale, "D")
			p.SetDashPattern([]float64{}, 0)
		default:
			for i := 1; i < len(s.Points); i++ {
				p.Line(
					s.Points[i-1].X/scale, s.Points[i-1].Y/scale,
					s.Points[i].X/scale, s.Points[i].Y/scale,
				)
			}
		}
	}

	if err := p.Output(w); err != nil {
		return fmt.Errorf("write pdf: %w", err)
	}
	return nil
}

// hexColor parses "#rrggbb"; anything else falls back to black.
func hexColor(s string) (int, int, int) {
	if len(s) != 7 || s[0] != '#' {
		return 0, 0, 0
	}
	var r, g, b int
	if _, err := fmt.Sscanf(s[1:], "%02x%02x%02x", &r, &g, &b); err != nil {
		return 0, 0, 0
	}
	return r, g, b
}
