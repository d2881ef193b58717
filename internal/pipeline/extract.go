package pipeline

import (
	"context"
	"errors"
	"fmt"

	"golang.org/x/sync/errgroup"

	"timetable/internal/detect"
	"timetable/internal/models"
	"timetable/internal/normalize"
	"timetable/internal/observability"
	"timetable/internal/structure"
	"timetable/internal/table"
)

type RegionReport struct {
	Page        int                   `json:"page"`
	Rows        int                   `json:"rows"`
	Cols        int                   `json:"cols"`
	Orientation structure.Orientation `json:"orientation,omitempty"`
	Records     int                   `json:"records"`
	Rejected    string                `json:"rejected,omitempty"`
}

// Extraction is everything one document yielded, in page and reading order.
// Confidence runs parallel to Records.
type Extraction struct {
	MIME       string                  `json:"mime"`
	Pages      int                     `json:"pages"`
	Metadata   models.DocumentMetadata `json:"metadata"`
	Regions    []RegionReport          `json:"regions"`
	Grids      []table.Grid            `json:"grids"`
	Records    []models.ActivityRecord `json:"records"`
	Confidence []float64               `json:"confidence"`
	Warnings   []structure.Warning     `json:"warnings"`
}

func (e Extraction) WarningText() []string {
	if len(e.Warnings) == 0 {
		return nil
	}
	out := make([]string, 0, len(e.Warnings))
	for _, w := range e.Warnings {
		out = append(out, w.String())
	}
	return out
}

type pageResult struct {
	regions    []RegionReport
	grids      []table.Grid
	records    []models.ActivityRecord
	confidence []float64
	warnings   []structure.Warning
	text       []string
}

// Extract normalizes data and structures every table found on its pages.
// Pages are worked on concurrently. Results are gathered by page index, so
// the output matches a sequential run.
func (p *Pipeline) Extract(ctx context.Context, data []byte, mimeType string) (Extraction, error) {
	doc, err := p.normalizer.Normalize(data, mimeType)
	if err != nil {
		return Extraction{}, err
	}
	results := make([]pageResult, doc.PageCount())

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(p.workers)
	var pageErr error
	for page, err := range doc.Pages() {
		if err != nil {
			pageErr = err
			break
		}
		if gctx.Err() != nil {
			break
		}
		i := page.Number - 1
		g.Go(func() error {
			r, err := p.extractPage(gctx, page)
			if err != nil {
				return err
			}
			results[i] = r
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return Extraction{}, err
	}
	if pageErr != nil {
		return Extraction{}, pageErr
	}
	if err := ctx.Err(); err != nil {
		return Extraction{}, err
	}

	ext := Extraction{MIME: doc.MIME, Pages: doc.PageCount(), Records: []models.ActivityRecord{}, Confidence: []float64{}, Warnings: []structure.Warning{}}
	var text []string
	for _, r := range results {
		ext.Regions = append(ext.Regions, r.regions...)
		ext.Grids = append(ext.Grids, r.grids...)
		ext.Records = append(ext.Records, r.records...)
		ext.Confidence = append(ext.Confidence, r.confidence...)
		ext.Warnings = append(ext.Warnings, r.warnings...)
		text = append(text, r.text...)
	}
	ext.Metadata = ParseMetadata(text)
	return ext, nil
}

func (p *Pipeline) extractPage(ctx context.Context, page normalize.Page) (pageResult, error) {
	scan, err := p.detect(ctx, page)
	if err != nil {
		return pageResult{}, fmt.Errorf("detect page %d: %w", page.Number, err)
	}
	grids := scan.Grids
	observability.RegionsDetected.Add(float64(len(grids)))

	out := pageResult{text: pageText(page.Text, scan.Words, grids)}
	for _, grid := range grids {
		report := RegionReport{Page: page.Number, Rows: grid.Rows, Cols: grid.Cols}
		res, err := p.structurer.Structure(grid)
		switch {
		case errors.Is(err, structure.ErrLayoutUnresolved):
			observability.LayoutRejected.Inc()
			p.logger.Info("region skipped", "page", page.Number, "reason", err)
			report.Rejected = err.Error()
		case err != nil:
			return pageResult{}, fmt.Errorf("structure page %d: %w", page.Number, err)
		default:
			report.Orientation = res.Orientation
			report.Records = len(res.Records)
			out.records = append(out.records, res.Records...)
			out.confidence = append(out.confidence, res.Confidence...)
			out.warnings = append(out.warnings, res.Warnings...)
			observability.CellWarnings.Add(float64(len(res.Warnings)))
		}
		out.regions = append(out.regions, report)
		out.grids = append(out.grids, grid)
	}
	return out, nil
}

func (p *Pipeline) detect(ctx context.Context, page normalize.Page) (detect.Scan, error) {
	if s, ok := p.detector.(scanner); ok {
		return s.Scan(ctx, page)
	}
	grids, err := p.detector.Detect(ctx, page)
	return detect.Scan{Grids: grids, Words: page.Words}, err
}
