// Package calendar projects activity records onto a fixed day by time-slot grid.
package calendar

import (
	"fmt"

	"timetable/internal/models"
)

// Grid is the presentation axis. It is configuration, never derived from data.
type Grid struct {
	SlotMinutes int          `json:"slot_minutes"`
	DayStart    models.Clock `json:"day_start"`
	DayEnd      models.Clock `json:"day_end"`
}

func DefaultGrid() Grid {
	return Grid{SlotMinutes: 30, DayStart: models.NewClock(8, 0), DayEnd: models.NewClock(16, 0)}
}

func (g Grid) Validate() error {
	if g.SlotMinutes <= 0 {
		return fmt.Errorf("slot granularity must be positive, got %d", g.SlotMinutes)
	}
	if g.DayStart < 0 || g.DayEnd > models.ClockMax || g.DayStart >= g.DayEnd {
		return fmt.Errorf("invalid day window %s-%s", g.DayStart, g.DayEnd)
	}
	return nil
}

// SlotStarts lists every slot start from DayStart while it is before DayEnd.
func (g Grid) SlotStarts() []models.Clock {
	if g.SlotMinutes <= 0 {
		return nil
	}
	out := make([]models.Clock, 0, int(g.DayEnd-g.DayStart)/g.SlotMinutes+1)
	for s := g.DayStart; s < g.DayEnd; s += models.Clock(g.SlotMinutes) {
		out = append(out, s)
	}
	return out
}

type Slot struct {
	Start models.Clock `json:"start"`
	End   models.Clock `json:"end"`
}

// Calendar is the projection result. Cells[day][i] holds the records that
// overlap Slots[i] on that day, in input order.
type Calendar struct {
	Days  []models.Day                             `json:"days"`
	Slots []Slot                                   `json:"slots"`
	Cells map[models.Day][][]models.ActivityRecord `json:"cells"`
}

// At returns the occupants of slot i on day, or nil when out of range.
func (c Calendar) At(day models.Day, i int) []models.ActivityRecord {
	col, ok := c.Cells[models.Canonical(day)]
	if !ok || i < 0 || i >= len(col) {
		return nil
	}
	return col[i]
}

// Project places each record into every slot its interval overlaps.
// Records whose day is not in the vocabulary, or not in days, are left out.
func Project(records []models.ActivityRecord, days []models.Day, g Grid) Calendar {
	starts := g.SlotStarts()
	cal := Calendar{
		Days:  make([]models.Day, 0, len(days)),
		Slots: make([]Slot, len(starts)),
		Cells: make(map[models.Day][][]models.ActivityRecord, len(days)),
	}
	width := models.Clock(g.SlotMinutes)
	for i, s := range starts {
		cal.Slots[i] = Slot{Start: s, End: s + width}
	}
	for _, d := range days {
		c := models.Canonical(d)
		if c == "" {
			continue
		}
		if _, dup := cal.Cells[c]; dup {
			continue
		}
		cal.Days = append(cal.Days, c)
		cal.Cells[c] = make([][]models.ActivityRecord, len(starts))
	}

	for _, r := range records {
		day, ok := models.ParseDay(string(r.Day))
		if !ok {
			continue
		}
		col, ok := cal.Cells[day]
		if !ok {
			continue
		}
		for i, slot := range cal.Slots {
			if r.Overlaps(slot.Start, slot.End) {
				col[i] = append(col[i], r)
			}
		}
	}
	return cal
}
