// Package detect finds table regions on a normalized page and decomposes each
// into a cell grid with recognized text.
package detect

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"unicode"

	"timetable/internal/normalize"
	"timetable/internal/ocr"
	"timetable/internal/table"
	"timetable/internal/util"
)

type Options struct {
	// Locator supplies words for pages without a text layer.
	Locator ocr.Locator
	// MinConfidence tags recognized cells below it as low confidence.
	MinConfidence float64
	// Tolerance is the pixel slack when matching line ends and boundaries.
	Tolerance int
	Logger    *slog.Logger
}

type Detector struct {
	locator ocr.Locator
	minConf float64
	tol     int
	logger  *slog.Logger
}

func New(opts Options) *Detector {
	d := &Detector{locator: opts.Locator, minConf: opts.MinConfidence, tol: opts.Tolerance, logger: opts.Logger}
	if d.locator == nil {
		d.locator = ocr.NopLocator{}
	}
	if d.minConf <= 0 {
		d.minConf = 0.5
	}
	if d.tol <= 0 {
		d.tol = 6
	}
	if d.logger == nil {
		d.logger = slog.Default()
	}
	return d
}

// Detect returns the accepted table regions of page in reading order. A page
// without any acceptable region yields an empty slice and no error.
func (d *Detector) Detect(ctx context.Context, page normalize.Page) ([]table.Grid, error) {
	scan, err := d.Scan(ctx, page)
	return scan.Grids, err
}

// Scan is a detection pass and the words it read the page with.
type Scan struct {
	Grids []table.Grid
	Words []ocr.Word
}

// Scan detects like Detect and also returns the page words, located ones
// included, so text outside the regions stays available.
func (d *Detector) Scan(ctx context.Context, page normalize.Page) (Scan, error) {
	if len(page.Tables) > 0 {
		out := make([]table.Grid, 0, len(page.Tables))
		for _, g := range page.Tables {
			if g.Accepted() {
				g.Page = page.Number
				out = append(out, d.tag(g))
			}
		}
		table.SortRegions(out)
		return Scan{Grids: out, Words: page.Words}, nil
	}
	if page.Image == nil {
		return Scan{Words: page.Words}, nil
	}

	words := page.Words
	if len(words) == 0 {
		located, err := d.locator.Locate(ctx, page.Image)
		if err != nil {
			return Scan{}, fmt.Errorf("locate text on page %d: %w", page.Number, err)
		}
		words = located
	}
	rec := ocr.NewWordIndex(words)

	var skeletons []skeleton
	bm := binarize(page.Image)
	params := lineParams{
		minLength:    max(24, max(bm.w, bm.h)/40),
		maxGap:       2,
		maxThickness: max(8, max(bm.w, bm.h)/150),
	}
	hs, vs := horizontalLines(bm, params), verticalLines(bm, params)
	for _, c := range groupLines(hs, vs, d.tol) {
		if len(c.hs) < 3 || len(c.vs) < 3 {
			continue
		}
		if sk, ok := buildSkeleton(c, d.tol); ok {
			skeletons = append(skeletons, sk)
		}
	}
	if len(skeletons) == 0 && len(words) > 0 {
		if sk, ok := borderlessSkeleton(words, max(8, medianHeight(words))); ok {
			skeletons = append(skeletons, dropTitleRows(sk, words))
		}
	}

	var out []table.Grid
	for _, sk := range skeletons {
		g, err := d.recognize(ctx, page, sk, rec)
		if err != nil {
			return Scan{}, err
		}
		if g.Accepted() {
			out = append(out, g)
		}
	}
	table.SortRegions(out)
	d.logger.Debug("page regions detected", "page", page.Number, "regions", len(out),
		"h_lines", len(hs), "v_lines", len(vs), "words", len(words))
	return Scan{Grids: out, Words: words}, nil
}

func (d *Detector) recognize(ctx context.Context, page normalize.Page, sk skeleton, rec ocr.Recognizer) (table.Grid, error) {
	g := table.Grid{
		Page:   page.Number,
		Bounds: sk.bounds(),
		Rows:   len(sk.ys) - 1,
		Cols:   len(sk.xs) - 1,
	}
	for _, sp := range sk.spans {
		r := sk.cellRect(sp)
		cell := table.Cell{Row: sp[0], Col: sp[1], RowSpan: sp[2], ColSpan: sp[3], Bounds: r}
		res, err := rec.Recognize(ctx, page.Image, r)
		text := util.SanitizeText(res.Text)
		switch {
		case err != nil && ctx.Err() != nil:
			return table.Grid{}, ctx.Err()
		case err != nil:
			d.logger.Warn("cell recognition failed", "page", page.Number, "row", sp[0], "col", sp[1], "error", err)
			cell.State = table.CellUnrecognized
		case !res.Found || text == "":
			cell.State = table.CellEmpty
			cell.Confidence = res.Confidence
		case !legible(text):
			cell.State = table.CellUnrecognized
			cell.Text = text
			cell.Confidence = res.Confidence
		default:
			cell.State = table.CellText
			cell.Text = text
			cell.Confidence = res.Confidence
		}
		g.Cells = append(g.Cells, cell)
	}
	g.Sort()
	return d.tag(g), nil
}

// tag flags recognized cells under the confidence threshold. Nothing is
// dropped here.
func (d *Detector) tag(g table.Grid) table.Grid {
	cells := make([]table.Cell, len(g.Cells))
	copy(cells, g.Cells)
	for i := range cells {
		c := &cells[i]
		c.LowConfidence = c.State != table.CellEmpty && c.Confidence < d.minConf
	}
	g.Cells = cells
	return g
}

// legible is false for text without a single letter or digit, which OCR
// produces when it sees stray marks.
func legible(s string) bool {
	for _, r := range s {
		if unicode.IsLetter(r) || unicode.IsDigit(r) {
			return true
		}
	}
	return false
}

func medianHeight(words []ocr.Word) int {
	hs := make([]int, 0, len(words))
	for _, w := range words {
		hs = append(hs, w.Box.Dy())
	}
	if len(hs) == 0 {
		return 0
	}
	sort.Ints(hs)
	return hs[len(hs)/2]
}
