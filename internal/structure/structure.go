// Package structure turns a detected cell grid into activity records.
//
// Row 0 and column 0 are header candidates. The axis whose headers read as
// day names is the day axis; the other is the time axis. Cells either carry
// just a label and take their time from the header, or embed their own time
// range, which wins over the header.
package structure

import (
	"errors"
	"fmt"
	"strings"

	"timetable/internal/models"
	"timetable/internal/table"
)

// ErrLayoutUnresolved rejects a grid whose day axis cannot be found. The
// region contributes no records; the run continues.
var ErrLayoutUnresolved = errors.New("layout unresolved")

type Orientation string

const (
	DaysAsColumns Orientation = "days_as_columns"
	DaysAsRows    Orientation = "days_as_rows"
)

// headerMatch is the share of non-empty header cells that must match for an
// axis to count as a day or time axis.
const headerMatch = 0.5

type Warning struct {
	Page    int    `json:"page"`
	Row     int    `json:"row"`
	Col     int    `json:"col"`
	Message string `json:"message"`
}

func (w Warning) String() string {
	return fmt.Sprintf("page %d cell (%d,%d): %s", w.Page, w.Row, w.Col, w.Message)
}

// Result holds the records of one grid. Confidence[i] is the recognition
// confidence of the cell Records[i] came from.
type Result struct {
	Orientation Orientation             `json:"orientation"`
	Records     []models.ActivityRecord `json:"records"`
	Confidence  []float64               `json:"confidence"`
	Warnings    []Warning               `json:"warnings,omitempty"`
}

type Options struct {
	// DropLowConfidence discards low-confidence cells instead of keeping
	// them with a warning.
	DropLowConfidence bool
	// SlotMinutes is the width given to a lone header time with no
	// neighbour to end it. Defaults to 30.
	SlotMinutes int
}

type Structurer struct {
	dropLow bool
	width   models.Clock
}

func New(opts Options) *Structurer {
	s := &Structurer{dropLow: opts.DropLowConfidence, width: models.Clock(opts.SlotMinutes)}
	if s.width <= 0 {
		s.width = 30
	}
	return s
}

type dayHeader struct {
	day  models.Day
	ok   bool
	text string
}

// layout is a resolved grid orientation. days and slots are indexed by grid
// line along their axis.
type layout struct {
	orientation Orientation
	days        []dayHeader
	slots       []slot
	timed       bool
	unambiguous bool
	firstRow    int
	firstCol    int
}

func (l layout) at(row, col int) (dayHeader, slot) {
	if l.orientation == DaysAsColumns {
		return l.days[col], l.slots[row]
	}
	return l.days[row], l.slots[col]
}

func (s *Structurer) resolve(g *table.Grid) (layout, error) {
	if !g.Accepted() {
		return layout{}, fmt.Errorf("%w: %dx%d grid on page %d", ErrLayoutUnresolved, g.Rows, g.Cols, g.Page)
	}
	row0 := make([]string, g.Cols)
	for c := 1; c < g.Cols; c++ {
		row0[c] = g.Text(0, c)
	}
	col0 := make([]string, g.Rows)
	for r := 1; r < g.Rows; r++ {
		col0[r] = g.Text(r, 0)
	}
	rowDays, colDays := share(row0[1:], isDay), share(col0[1:], isDay)

	l := layout{orientation: DaysAsColumns, firstRow: 1, firstCol: 1}
	switch {
	case rowDays >= headerMatch && rowDays >= colDays:
	case colDays >= headerMatch:
		l.orientation = DaysAsRows
	default:
		return layout{}, fmt.Errorf("%w: no day header on page %d", ErrLayoutUnresolved, g.Page)
	}

	dayTexts, timeTexts := row0, col0
	if l.orientation == DaysAsRows {
		dayTexts, timeTexts = col0, row0
	}
	// A day in the corner means the day header runs the full width and no
	// time header exists.
	if _, ok := dayOf(g.Text(0, 0)); ok {
		dayTexts[0] = g.Text(0, 0)
		timeTexts = make([]string, len(timeTexts))
		if l.orientation == DaysAsColumns {
			l.firstCol = 0
		} else {
			l.firstRow = 0
		}
	}

	l.days = make([]dayHeader, len(dayTexts))
	for i, t := range dayTexts {
		d, ok := dayOf(t)
		l.days[i] = dayHeader{day: d, ok: ok, text: t}
	}
	if share(timeTexts[1:], isTime) >= headerMatch {
		l.timed = true
		l.slots, l.unambiguous = headerSlots(timeTexts, s.width)
	} else {
		l.slots = make([]slot, len(timeTexts))
	}
	return l, nil
}

// Structure interprets one grid. It fails only with ErrLayoutUnresolved;
// every per-cell problem becomes a warning.
func (s *Structurer) Structure(grid table.Grid) (Result, error) {
	g := &grid
	l, err := s.resolve(g)
	if err != nil {
		return Result{}, err
	}
	res := Result{Orientation: l.orientation}
	warn := func(c table.Cell, format string, args ...any) {
		res.Warnings = append(res.Warnings, Warning{Page: g.Page, Row: c.Row, Col: c.Col, Message: fmt.Sprintf(format, args...)})
	}

	cells := append([]table.Cell(nil), g.Cells...)
	sortCells(cells)
	for _, c := range cells {
		if c.Row < l.firstRow || c.Col < l.firstCol {
			continue
		}
		if c.Row >= g.Rows || c.Col >= g.Cols {
			warn(c, "cell outside the %dx%d grid", g.Rows, g.Cols)
			continue
		}
		if c.Merged() && (c.Row+c.RowSpan > g.Rows || c.Col+c.ColSpan > g.Cols) {
			warn(c, "span %dx%d clipped to the grid edge", c.RowSpan, c.ColSpan)
			c.RowSpan = min(c.RowSpan, g.Rows-c.Row)
			c.ColSpan = min(c.ColSpan, g.Cols-c.Col)
		}
		switch c.State {
		case table.CellUnrecognized:
			warn(c, "unrecognized cell text %q", c.Text)
			continue
		case table.CellEmpty:
			continue
		}
		if placeholder(c.Text) {
			continue
		}
		if c.LowConfidence {
			if s.dropLow {
				continue
			}
			warn(c, "low confidence %.2f for %q", c.Confidence, c.Text)
		}
		recs := s.expand(l, c, warn)
		res.Records = append(res.Records, recs...)
		for range recs {
			res.Confidence = append(res.Confidence, c.Confidence)
		}
	}
	return res, nil
}

// expand emits the records of one anchor cell. An embedded range yields one
// record per spanned day; a header-timed label yields one per spanned slot.
func (s *Structurer) expand(l layout, c table.Cell, warn func(table.Cell, string, ...any)) []models.ActivityRecord {
	embedded, hasRange := findSpan(c.Text)
	hasRange = hasRange && embedded.ranged
	label, notes := splitText(c.Text)
	if hasRange {
		label, notes = splitText(c.Text[:embedded.loc[0]] + "\n" + c.Text[embedded.loc[1]:])
	}

	var out []models.ActivityRecord
	seenDay := map[int]bool{}
	for r := c.Row; r < c.Row+max(c.RowSpan, 1); r++ {
		for col := c.Col; col < c.Col+max(c.ColSpan, 1); col++ {
			day, sl := l.at(r, col)
			dayIdx := col
			if l.orientation == DaysAsRows {
				dayIdx = r
			}
			if !day.ok {
				if !seenDay[dayIdx] {
					warn(c, "unmatched day text %q", day.text)
				}
				seenDay[dayIdx] = true
				continue
			}

			var start, end models.Clock
			switch {
			case hasRange:
				if seenDay[dayIdx] {
					continue
				}
				sp := embedded
				if sp.shiftable && sl.ok && l.unambiguous && nearer(sp.start+halfDay, sp.start, sl.start) {
					sp = sp.shift(halfDay)
				}
				start, end = sp.start, sp.end
			case sl.ok:
				start, end = sl.start, sl.end
			case !l.timed:
				warn(c, "no time header and no time range in %q", c.Text)
				continue
			default:
				warn(c, "no header time for %q", label)
				continue
			}
			seenDay[dayIdx] = true
			if start >= end {
				warn(c, "zero-length interval %s-%s", start, end)
				continue
			}

			rec := models.ActivityRecord{Day: day.day, Start: start, End: end, Label: label}
			if notes != "" {
				rec.Notes = models.StringPtr(notes)
			}
			if err := rec.Validate(); err != nil {
				warn(c, "%v", err)
				continue
			}
			out = append(out, rec)
		}
	}
	return out
}

func nearer(a, b, target models.Clock) bool {
	da, db := a-target, b-target
	if da < 0 {
		da = -da
	}
	if db < 0 {
		db = -db
	}
	return da < db
}

func sortCells(cells []table.Cell) {
	g := table.Grid{Cells: cells}
	g.Sort()
}

func share(texts []string, match func(string) bool) float64 {
	var seen, hit int
	for _, t := range texts {
		if strings.TrimSpace(t) == "" {
			continue
		}
		seen++
		if match(t) {
			hit++
		}
	}
	if seen == 0 {
		return 0
	}
	return float64(hit) / float64(seen)
}

func isDay(t string) bool {
	_, ok := dayOf(t)
	return ok
}

func isTime(t string) bool {
	_, ok := findSpan(t)
	return ok
}

// dayOf matches the whole header, then its first line, then its first word.
func dayOf(text string) (models.Day, bool) {
	text = strings.TrimSpace(text)
	if text == "" {
		return "", false
	}
	if d, ok := models.ParseDay(text); ok {
		return d, true
	}
	first, _, _ := strings.Cut(text, "\n")
	if d, ok := models.ParseDay(first); ok {
		return d, true
	}
	if f := strings.Fields(first); len(f) > 1 {
		return models.ParseDay(f[0])
	}
	return "", false
}

var placeholders = map[string]bool{"-": true, "–": true, "—": true, "nan": true, "none": true, "n/a": true}

func placeholder(text string) bool {
	return placeholders[strings.ToLower(strings.TrimSpace(text))]
}

// splitText puts the first non-empty line in the label and the rest in notes.
func splitText(text string) (label, notes string) {
	var lines []string
	for _, l := range strings.Split(text, "\n") {
		l = strings.Trim(l, " \t-–—:|,;")
		if l != "" {
			lines = append(lines, l)
		}
	}
	if len(lines) == 0 {
		return "", ""
	}
	return lines[0], strings.Join(lines[1:], "\n")
}
