package detect

import (
	"image"
	"sort"

	"timetable/internal/ocr"
)

type textLine struct {
	y0, y1 int
	words  []ocr.Word
}

// wordLines groups located words into text lines top to bottom.
func wordLines(words []ocr.Word) []textLine {
	sorted := append([]ocr.Word(nil), words...)
	sort.SliceStable(sorted, func(i, j int) bool { return sorted[i].Center().Y < sorted[j].Center().Y })
	var out []textLine
	for _, w := range sorted {
		n := len(out)
		if n > 0 {
			last := &out[n-1]
			h := min(last.y1-last.y0, w.Box.Dy())
			if 2*abs(w.Center().Y-(last.y0+last.y1)/2) < max(h, 1) {
				last.words = append(last.words, w)
				last.y0, last.y1 = min(last.y0, w.Box.Min.Y), max(last.y1, w.Box.Max.Y)
				continue
			}
		}
		out = append(out, textLine{y0: w.Box.Min.Y, y1: w.Box.Max.Y, words: []ocr.Word{w}})
	}
	return out
}

// borderlessSkeleton infers a grid for tables drawn without ruling lines:
// rows come from text lines and column separators from vertical strips that
// (almost) no line puts ink into. One crossing line per eight is tolerated so
// a title above the table does not hide the columns.
func borderlessSkeleton(words []ocr.Word, minGap int) (skeleton, bool) {
	lines := wordLines(words)
	if len(lines) < 2 {
		return skeleton{}, false
	}
	left, right := words[0].Box.Min.X, words[0].Box.Max.X
	for _, w := range words {
		left, right = min(left, w.Box.Min.X), max(right, w.Box.Max.X)
	}
	width := right - left
	if width <= 0 {
		return skeleton{}, false
	}
	cover := make([]int, width)
	for _, l := range lines {
		seen := make([]bool, width)
		for _, w := range l.words {
			for x := max(w.Box.Min.X, left); x < min(w.Box.Max.X, right); x++ {
				seen[x-left] = true
			}
		}
		for i, s := range seen {
			if s {
				cover[i]++
			}
		}
	}
	allowed := 0
	if len(lines) >= 4 {
		allowed = max(1, len(lines)/8)
	}

	pad := max(2, minGap/2)
	xs := []int{left - pad}
	for x := 0; x < width; {
		if cover[x] > allowed {
			x++
			continue
		}
		start := x
		for x < width && cover[x] <= allowed {
			x++
		}
		if x-start >= minGap && start > 0 && x < width {
			xs = append(xs, left+(start+x)/2)
		}
	}
	xs = append(xs, right+pad)
	if len(xs) < 3 {
		return skeleton{}, false
	}

	ys := []int{lines[0].y0 - pad}
	for i := 1; i < len(lines); i++ {
		ys = append(ys, (lines[i-1].y1+lines[i].y0)/2)
	}
	ys = append(ys, lines[len(lines)-1].y1+pad)

	sk := skeleton{xs: xs, ys: ys}
	for r := 0; r < len(ys)-1; r++ {
		for c := 0; c < len(xs)-1; c++ {
			sk.spans = append(sk.spans, [4]int{r, c, 1, 1})
		}
	}
	return sk, true
}

// dropTitleRows removes leading rows that put text in only one column while
// the rest of the grid is wider.
func dropTitleRows(sk skeleton, words []ocr.Word) skeleton {
	cols := len(sk.xs) - 1
	if cols < 2 {
		return sk
	}
	occupied := func(r int) int {
		n := 0
		for c := 0; c < cols; c++ {
			cell := image.Rect(sk.xs[c], sk.ys[r], sk.xs[c+1], sk.ys[r+1])
			for _, w := range words {
				if w.Center().In(cell) {
					n++
					break
				}
			}
		}
		return n
	}
	drop := 0
	for r := 0; r < len(sk.ys)-3 && occupied(r) <= 1; r++ {
		drop++
	}
	if drop == 0 {
		return sk
	}
	out := skeleton{xs: sk.xs, ys: sk.ys[drop:]}
	for _, sp := range sk.spans {
		if sp[0] >= drop {
			out.spans = append(out.spans, [4]int{sp[0] - drop, sp[1], sp[2], sp[3]})
		}
	}
	return out
}
