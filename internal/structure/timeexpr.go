package structure

import (
	"regexp"
	"strconv"
	"strings"

	"timetable/internal/models"
)

const pointPattern = `(\d{1,2})(?:[:.](\d{2}))?\s*(?:([aApP])\.?\s?[mM]\b\.?)?`

var (
	rangeRe = regexp.MustCompile(`\b` + pointPattern + `\s*(?:-|–|—|(?i:\bto\b))\s*` + pointPattern)
	pointRe = regexp.MustCompile(`\b` + pointPattern)
)

const halfDay = models.Clock(12 * 60)

// point is one parsed time of day before period resolution.
type point struct {
	hour, minute int
	minutes      bool
	period       byte // 'a', 'p' or 0
}

func (p point) marked() bool { return p.period != 0 }

// usable reports whether p is a time on its own: a bare hour needs a period.
func (p point) usable() bool { return p.minutes || p.marked() }

func (p point) clock(period byte) (models.Clock, bool) {
	h := p.hour
	if p.minute > 59 {
		return 0, false
	}
	switch period {
	case 'a', 'p':
		if h < 1 || h > 12 {
			return 0, false
		}
		if h == 12 {
			h = 0
		}
		if period == 'p' {
			h += 12
		}
	default:
		if h > 24 || (h == 24 && p.minute > 0) {
			return 0, false
		}
	}
	return models.NewClock(h, p.minute), true
}

func flip(period byte) byte {
	if period == 'a' {
		return 'p'
	}
	return 'a'
}

// span is a time expression found in cell text.
type span struct {
	start, end models.Clock
	ranged     bool // end is known
	marked     bool // an explicit am/pm appeared
	// shiftable is set when no period was given and the whole expression
	// also reads as a valid afternoon time 12 h later.
	shiftable bool
	loc       [2]int
}

func (s span) shift(d models.Clock) span {
	s.start += d
	if s.ranged {
		s.end += d
	}
	return s
}

func pointFrom(text string, m []int, group int) point {
	var p point
	p.hour, _ = strconv.Atoi(text[m[2*group]:m[2*group+1]])
	if m[2*group+2] >= 0 {
		p.minute, _ = strconv.Atoi(text[m[2*group+2]:m[2*group+3]])
		p.minutes = true
	}
	if m[2*group+4] >= 0 {
		p.period = strings.ToLower(text[m[2*group+4]:m[2*group+5]])[0]
	}
	return p
}

// findSpan returns the first time range in text, or failing that the first
// standalone time.
func findSpan(text string) (span, bool) {
	for _, m := range rangeRe.FindAllStringSubmatchIndex(text, -1) {
		a, b := pointFrom(text, m, 1), pointFrom(text, m, 4)
		if sp, ok := rangeSpan(a, b); ok {
			sp.loc = [2]int{m[0], m[1]}
			return sp, true
		}
	}
	for _, m := range pointRe.FindAllStringSubmatchIndex(text, -1) {
		p := pointFrom(text, m, 1)
		if !p.usable() {
			continue
		}
		c, ok := p.clock(p.period)
		if !ok {
			continue
		}
		return span{
			start:     c,
			marked:    p.marked(),
			shiftable: !p.marked() && p.hour >= 1 && p.hour < 12,
			loc:       [2]int{m[0], m[1]},
		}, true
	}
	return span{}, false
}

// rangeSpan resolves the periods of a range. A marked side lends its period to
// an unmarked one; if that would run the range backwards the borrowed period
// is flipped ("11:30-12:30pm" starts in the morning).
func rangeSpan(a, b point) (span, bool) {
	if !a.usable() && !b.usable() {
		return span{}, false
	}
	pa, pb := a.period, b.period
	switch {
	case pa == 0 && pb != 0:
		pa = pb
	case pb == 0 && pa != 0:
		pb = pa
	}
	start, ok := a.clock(pa)
	if !ok {
		return span{}, false
	}
	end, ok := b.clock(pb)
	if !ok {
		return span{}, false
	}
	if end <= start {
		switch {
		case a.period == 0 && pa != 0:
			if s, ok := a.clock(flip(pa)); ok && s < end {
				start = s
			}
		case b.period == 0 && pb != 0:
			if e, ok := b.clock(flip(pb)); ok && e > start {
				end = e
			}
		case pa == 0 && pb == 0 && end+halfDay <= models.ClockMax && end+halfDay-start <= 6*60:
			// "12:30-1:30" crosses noon
			end += halfDay
		}
	}
	marked := a.marked() || b.marked()
	return span{
		start:     start,
		end:       end,
		ranged:    true,
		marked:    marked,
		shiftable: !marked && a.hour >= 1 && a.hour < 12 && end+halfDay <= models.ClockMax,
	}, true
}

// slot is the time range one header line assigns to its cells.
type slot struct {
	start, end models.Clock
	ok         bool
}

// headerSlots parses the time header lines. Unmarked times roll forward 12 h
// when the sequence goes backwards ("11:00, 12:00, 1:00"). A single time ends
// where the next header starts; the last one reuses the previous width.
// unambiguous is true when every non-empty header parsed.
func headerSlots(texts []string, defaultWidth models.Clock) (slots []slot, unambiguous bool) {
	spans := make([]span, len(texts))
	found := make([]bool, len(texts))
	unambiguous = true
	prev := models.Clock(-1)
	for i, t := range texts {
		if strings.TrimSpace(t) == "" {
			continue
		}
		sp, ok := findSpan(t)
		if !ok {
			unambiguous = false
			continue
		}
		if !sp.marked && prev >= 0 && sp.start < prev && sp.shiftable {
			sp = sp.shift(halfDay)
		}
		spans[i], found[i] = sp, true
		prev = sp.start
	}

	slots = make([]slot, len(texts))
	width := defaultWidth
	for i := range texts {
		if !found[i] {
			continue
		}
		sp := spans[i]
		end := sp.end
		if !sp.ranged {
			end = sp.start + width
			for j := i + 1; j < len(texts); j++ {
				if found[j] && spans[j].start != sp.start {
					end = spans[j].start
					break
				}
			}
		}
		slots[i] = slot{start: sp.start, end: end, ok: true}
		if end > sp.start {
			width = end - sp.start
		}
	}
	return slots, unambiguous
}
