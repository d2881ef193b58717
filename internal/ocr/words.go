package ocr

import (
	"context"
	"image"
	"sort"
	"strings"
)

// WordIndex answers per-cell recognition from words already located on the
// page. A word belongs to a cell when its centre lies inside the cell.
type WordIndex struct {
	words []Word
}

func NewWordIndex(words []Word) *WordIndex {
	return &WordIndex{words: words}
}

func (w *WordIndex) Len() int { return len(w.words) }

func (w *WordIndex) Words() []Word { return w.words }

func (w *WordIndex) Recognize(ctx context.Context, _ image.Image, cell image.Rectangle) (Recognition, error) {
	if err := ctx.Err(); err != nil {
		return Recognition{}, err
	}
	var inside []Word
	for _, word := range w.words {
		if word.Center().In(cell) {
			inside = append(inside, word)
		}
	}
	if len(inside) == 0 {
		return Recognition{Confidence: 1}, nil
	}
	var sum float64
	for _, word := range inside {
		sum += word.Confidence
	}
	return Recognition{
		Text:       strings.Join(Lines(inside), "\n"),
		Confidence: sum / float64(len(inside)),
		Found:      true,
	}, nil
}

// Lines groups words into text lines in reading order. Two words share a line
// when their vertical centres are closer than half the smaller word height.
func Lines(words []Word) []string {
	sorted := make([]Word, len(words))
	copy(sorted, words)
	sort.SliceStable(sorted, func(i, j int) bool {
		return sorted[i].Center().Y < sorted[j].Center().Y
	})

	var lines [][]Word
	for _, word := range sorted {
		n := len(lines)
		if n > 0 && sameLine(lines[n-1][len(lines[n-1])-1], word) {
			lines[n-1] = append(lines[n-1], word)
			continue
		}
		lines = append(lines, []Word{word})
	}

	out := make([]string, 0, len(lines))
	for _, line := range lines {
		sort.SliceStable(line, func(i, j int) bool { return line[i].Box.Min.X < line[j].Box.Min.X })
		parts := make([]string, 0, len(line))
		for _, word := range line {
			parts = append(parts, word.Text)
		}
		out = append(out, strings.Join(parts, " "))
	}
	return out
}

func sameLine(a, b Word) bool {
	h := min(a.Box.Dy(), b.Box.Dy())
	if h <= 0 {
		h = 1
	}
	d := a.Center().Y - b.Center().Y
	if d < 0 {
		d = -d
	}
	return 2*d < h
}
