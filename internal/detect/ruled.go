package detect

import (
	"image"
	"sort"
)

// candidate is one connected group of ruling lines.
type candidate struct {
	hs, vs []line
}

func (c candidate) bounds() image.Rectangle {
	r := image.Rectangle{}
	for i, h := range c.hs {
		lr := image.Rect(h.s0, h.p0, h.s1, h.p1+1)
		if i == 0 {
			r = lr
			continue
		}
		r = r.Union(lr)
	}
	for _, v := range c.vs {
		r = r.Union(image.Rect(v.p0, v.s0, v.p1+1, v.s1))
	}
	return r
}

type unionFind []int

func newUnionFind(n int) unionFind {
	u := make(unionFind, n)
	for i := range u {
		u[i] = i
	}
	return u
}

func (u unionFind) find(i int) int {
	for u[i] != i {
		u[i] = u[u[i]]
		i = u[i]
	}
	return i
}

func (u unionFind) union(a, b int) {
	ra, rb := u.find(a), u.find(b)
	if ra != rb {
		if ra < rb {
			u[rb] = ra
		} else {
			u[ra] = rb
		}
	}
}

// intersects reports whether horizontal h and vertical v touch, allowing a
// tol pixel shortfall at either end.
func intersects(h, v line, tol int) bool {
	x, y := v.center(), h.center()
	return x >= h.s0-tol && x <= h.s1+tol && y >= v.s0-tol && y <= v.s1+tol
}

// groupLines splits ruling lines into connected candidates.
func groupLines(hs, vs []line, tol int) []candidate {
	u := newUnionFind(len(hs) + len(vs))
	for i, h := range hs {
		for j, v := range vs {
			if intersects(h, v, tol) {
				u.union(i, len(hs)+j)
			}
		}
	}
	byRoot := map[int]*candidate{}
	var roots []int
	get := func(i int) *candidate {
		r := u.find(i)
		c, ok := byRoot[r]
		if !ok {
			c = &candidate{}
			byRoot[r] = c
			roots = append(roots, r)
		}
		return c
	}
	for i, h := range hs {
		c := get(i)
		c.hs = append(c.hs, h)
	}
	for j, v := range vs {
		c := get(len(hs) + j)
		c.vs = append(c.vs, v)
	}
	sort.Ints(roots)
	out := make([]candidate, 0, len(roots))
	for _, r := range roots {
		out = append(out, *byRoot[r])
	}
	return out
}

// skeleton is the grid geometry of a candidate before recognition.
type skeleton struct {
	xs, ys []int
	// spans[i] is (row, col, rowSpan, colSpan) of anchor cell i in row-major order.
	spans [][4]int
}

const separatorCoverage = 0.6

// buildSkeleton derives row and column boundaries from the candidate's lines
// and merges neighbouring cells whose shared separator is missing.
func buildSkeleton(c candidate, tol int) (skeleton, bool) {
	ys := clusterPositions(c.hs, tol)
	xs := clusterPositions(c.vs, tol)
	rows, cols := len(ys)-1, len(xs)-1
	if rows < 2 || cols < 2 {
		return skeleton{}, false
	}

	idx := func(r, col int) int { return r*cols + col }
	u := newUnionFind(rows * cols)
	for r := 0; r < rows; r++ {
		for col := 0; col < cols; col++ {
			if col+1 < cols && coverage(c.vs, xs[col+1], ys[r], ys[r+1], tol) < separatorCoverage {
				u.union(idx(r, col), idx(r, col+1))
			}
			if r+1 < rows && coverage(c.hs, ys[r+1], xs[col], xs[col+1], tol) < separatorCoverage {
				u.union(idx(r, col), idx(r+1, col))
			}
		}
	}

	type box struct{ r0, c0, r1, c1, n int }
	groups := map[int]*box{}
	for r := 0; r < rows; r++ {
		for col := 0; col < cols; col++ {
			root := u.find(idx(r, col))
			b, ok := groups[root]
			if !ok {
				groups[root] = &box{r0: r, c0: col, r1: r, c1: col, n: 1}
				continue
			}
			b.r0, b.c0 = min(b.r0, r), min(b.c0, col)
			b.r1, b.c1 = max(b.r1, r), max(b.c1, col)
			b.n++
		}
	}

	sk := skeleton{xs: xs, ys: ys}
	for r := 0; r < rows; r++ {
		for col := 0; col < cols; col++ {
			root := u.find(idx(r, col))
			b := groups[root]
			rect := (b.r1-b.r0+1)*(b.c1-b.c0+1) == b.n
			switch {
			case rect && b.r0 == r && b.c0 == col:
				sk.spans = append(sk.spans, [4]int{r, col, b.r1 - b.r0 + 1, b.c1 - b.c0 + 1})
			case !rect:
				// An L-shaped merge cannot be one cell; keep its parts apart.
				sk.spans = append(sk.spans, [4]int{r, col, 1, 1})
			}
		}
	}
	return sk, true
}

func (s skeleton) cellRect(sp [4]int) image.Rectangle {
	return image.Rect(s.xs[sp[1]], s.ys[sp[0]], s.xs[sp[1]+sp[3]], s.ys[sp[0]+sp[2]])
}

func (s skeleton) bounds() image.Rectangle {
	return image.Rect(s.xs[0], s.ys[0], s.xs[len(s.xs)-1], s.ys[len(s.ys)-1])
}
