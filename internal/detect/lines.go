package detect

import "sort"

// line is a ruling line. For a horizontal line pos is the y band [p0, p1]
// and span is the x extent [s0, s1]; vertical lines swap the axes.
type line struct {
	p0, p1 int
	s0, s1 int
}

func (l line) center() int { return (l.p0 + l.p1) / 2 }

func (l line) length() int { return l.s1 - l.s0 }

type lineParams struct {
	minLength    int
	maxGap       int
	maxThickness int
}

// horizontalLines finds long dark runs row by row and stacks runs on
// adjacent rows into one thick line.
func horizontalLines(b *bitmap, p lineParams) []line {
	return scanLines(b.h, b.w, func(pos, s int) bool { return b.at(s, pos) }, p)
}

func verticalLines(b *bitmap, p lineParams) []line {
	return scanLines(b.w, b.h, func(pos, s int) bool { return b.at(pos, s) }, p)
}

func scanLines(n, m int, dark func(pos, s int) bool, p lineParams) []line {
	var done, open []line
	for pos := 0; pos < n; pos++ {
		runs := runsAt(pos, m, dark, p)
		next := open[:0:0]
		used := make([]bool, len(runs))
		for _, l := range open {
			extended := false
			for i, r := range runs {
				if used[i] || !overlapsHalf(l.s0, l.s1, r[0], r[1]) {
					continue
				}
				l.p1 = pos
				l.s0, l.s1 = min(l.s0, r[0]), max(l.s1, r[1])
				used[i] = true
				extended = true
				break
			}
			if extended {
				next = append(next, l)
			} else {
				done = append(done, l)
			}
		}
		for i, r := range runs {
			if !used[i] {
				next = append(next, line{p0: pos, p1: pos, s0: r[0], s1: r[1]})
			}
		}
		open = next
	}
	done = append(done, open...)

	out := done[:0]
	for _, l := range done {
		if l.p1-l.p0+1 <= p.maxThickness {
			out = append(out, l)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].center() != out[j].center() {
			return out[i].center() < out[j].center()
		}
		return out[i].s0 < out[j].s0
	})
	return out
}

// runsAt returns dark runs at pos that are at least minLength long, bridging
// gaps up to maxGap pixels.
func runsAt(pos, m int, dark func(pos, s int) bool, p lineParams) [][2]int {
	var out [][2]int
	start, last := -1, -1
	for s := 0; s < m; s++ {
		if !dark(pos, s) {
			continue
		}
		if start >= 0 && s-last-1 <= p.maxGap {
			last = s
			continue
		}
		if start >= 0 && last-start+1 >= p.minLength {
			out = append(out, [2]int{start, last + 1})
		}
		start, last = s, s
	}
	if start >= 0 && last-start+1 >= p.minLength {
		out = append(out, [2]int{start, last + 1})
	}
	return out
}

func overlapsHalf(a0, a1, b0, b1 int) bool {
	ov := min(a1, b1) - max(a0, b0)
	if ov <= 0 {
		return false
	}
	return 2*ov >= min(a1-a0, b1-b0)
}

// clusterPositions merges line centres closer than tol into one boundary.
func clusterPositions(ls []line, tol int) []int {
	cs := make([]int, 0, len(ls))
	for _, l := range ls {
		cs = append(cs, l.center())
	}
	sort.Ints(cs)
	var out []int
	var group []int
	flush := func() {
		if len(group) == 0 {
			return
		}
		sum := 0
		for _, v := range group {
			sum += v
		}
		out = append(out, sum/len(group))
		group = group[:0]
	}
	for _, c := range cs {
		if len(group) > 0 && c-group[len(group)-1] > tol {
			flush()
		}
		group = append(group, c)
	}
	flush()
	return out
}

// coverage sums how much of [from, to) is covered by lines whose centre is
// within tol of pos.
func coverage(ls []line, pos, from, to, tol int) float64 {
	if to <= from {
		return 0
	}
	type iv struct{ a, b int }
	var ivs []iv
	for _, l := range ls {
		if abs(l.center()-pos) > tol {
			continue
		}
		a, b := max(l.s0, from), min(l.s1, to)
		if b > a {
			ivs = append(ivs, iv{a, b})
		}
	}
	sort.Slice(ivs, func(i, j int) bool { return ivs[i].a < ivs[j].a })
	covered, end := 0, from
	for _, v := range ivs {
		if v.b <= end {
			continue
		}
		covered += v.b - max(v.a, end)
		end = v.b
	}
	return float64(covered) / float64(to-from)
}

func abs(v int) int {
	if v < 0 {
		return -v
	}
	return v
}
