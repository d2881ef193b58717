// Package table holds the detected cell grid handed from detection to
// structuring. Grids are pipeline-internal and never persisted.
package table

import (
	"image"
	"sort"
)

type CellState string

const (
	CellEmpty        CellState = "empty"
	CellText         CellState = "text"
	CellUnrecognized CellState = "unrecognized"
)

// Cell is an anchor cell. A merged cell covers RowSpan x ColSpan grid slots
// starting at (Row, Col).
type Cell struct {
	Row           int             `json:"row"`
	Col           int             `json:"col"`
	RowSpan       int             `json:"row_span"`
	ColSpan       int             `json:"col_span"`
	Bounds        image.Rectangle `json:"bounds"`
	Text          string          `json:"text,omitempty"`
	Confidence    float64         `json:"confidence"`
	State         CellState       `json:"state"`
	LowConfidence bool            `json:"low_confidence,omitempty"`
}

func (c Cell) Merged() bool { return c.RowSpan > 1 || c.ColSpan > 1 }

func (c Cell) covers(r, col int) bool {
	return r >= c.Row && r < c.Row+c.RowSpan && col >= c.Col && col < c.Col+c.ColSpan
}

// Grid is one accepted table region and its cell decomposition.
type Grid struct {
	Page   int             `json:"page"`
	Bounds image.Rectangle `json:"bounds"`
	Rows   int             `json:"rows"`
	Cols   int             `json:"cols"`
	Cells  []Cell          `json:"cells"`
	Native bool            `json:"native,omitempty"`
}

// At returns the anchor cell covering slot (r, c).
func (g *Grid) At(r, c int) (Cell, bool) {
	for _, cell := range g.Cells {
		if cell.covers(r, c) {
			return cell, true
		}
	}
	return Cell{}, false
}

// Text returns the trimmed text of the cell covering (r, c).
func (g *Grid) Text(r, c int) string {
	cell, ok := g.At(r, c)
	if !ok || cell.State != CellText {
		return ""
	}
	return cell.Text
}

// Sort orders cells row-major by anchor.
func (g *Grid) Sort() {
	sort.SliceStable(g.Cells, func(i, j int) bool {
		if g.Cells[i].Row != g.Cells[j].Row {
			return g.Cells[i].Row < g.Cells[j].Row
		}
		return g.Cells[i].Col < g.Cells[j].Col
	})
}

// Accepted reports whether the grid is large enough to be a table.
func (g *Grid) Accepted() bool {
	return g.Rows >= 2 && g.Cols >= 2
}

// SortRegions orders grids in page reading order: top to bottom, then left
// to right. Regions whose vertical extents overlap are treated as one band.
func SortRegions(grids []Grid) {
	sort.SliceStable(grids, func(i, j int) bool {
		a, b := grids[i], grids[j]
		if a.Page != b.Page {
			return a.Page < b.Page
		}
		if a.Bounds.Max.Y <= b.Bounds.Min.Y || b.Bounds.Max.Y <= a.Bounds.Min.Y {
			return a.Bounds.Min.Y < b.Bounds.Min.Y
		}
		return a.Bounds.Min.X < b.Bounds.Min.X
	})
}
