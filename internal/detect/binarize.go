package detect

import "image"

// bitmap is a binarized page: dark[y*w+x] is true for ink.
type bitmap struct {
	w, h int
	dark []bool
}

func (b *bitmap) at(x, y int) bool { return b.dark[y*b.w+x] }

// binarize converts img to luminance composited over white and thresholds it
// with Otsu's method.
func binarize(img *image.NRGBA) *bitmap {
	w, h := img.Rect.Dx(), img.Rect.Dy()
	gray := make([]uint8, w*h)
	var hist [256]int
	for y := 0; y < h; y++ {
		row := img.Pix[(y)*img.Stride:]
		for x := 0; x < w; x++ {
			p := row[x*4 : x*4+4]
			lum := (299*int(p[0]) + 587*int(p[1]) + 114*int(p[2])) / 1000
			a := int(p[3])
			v := uint8((lum*a + 255*(255-a)) / 255)
			gray[y*w+x] = v
			hist[v]++
		}
	}
	t := otsu(hist, w*h)
	dark := make([]bool, w*h)
	for i, v := range gray {
		dark[i] = v < t
	}
	return &bitmap{w: w, h: h, dark: dark}
}

// otsu returns the threshold maximizing between-class variance. Values below
// the threshold are ink.
func otsu(hist [256]int, total int) uint8 {
	if total == 0 {
		return 0
	}
	var sum float64
	for i, c := range hist {
		sum += float64(i * c)
	}
	var sumB float64
	var wB int
	var best float64
	var threshold int
	for i := 0; i < 256; i++ {
		wB += hist[i]
		if wB == 0 {
			continue
		}
		wF := total - wB
		if wF == 0 {
			break
		}
		sumB += float64(i * hist[i])
		mB := sumB / float64(wB)
		mF := (sum - sumB) / float64(wF)
		between := float64(wB) * float64(wF) * (mB - mF) * (mB - mF)
		if between > best {
			best = between
			threshold = i
		}
	}
	return uint8(threshold + 1)
}
