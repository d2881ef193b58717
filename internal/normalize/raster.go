package normalize

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"image"
	"image/color"
	"image/draw"
	_ "image/gif"
	_ "image/jpeg"
	_ "image/png"

	xdraw "golang.org/x/image/draw"
	_ "golang.org/x/image/bmp"
	_ "golang.org/x/image/tiff"
	_ "golang.org/x/image/webp"

	"timetable/internal/ocr"
)

func (n *Normalizer) openRaster(data []byte, mt string) (*Document, error) {
	if _, _, err := image.DecodeConfig(bytes.NewReader(data)); err != nil {
		return nil, corrupt(mt, "decode header", err)
	}
	return &Document{MIME: mt, count: 1, load: func(num int) (Page, error) {
		img, _, err := image.Decode(bytes.NewReader(data))
		if err != nil {
			return Page{}, corrupt(mt, "decode image", err)
		}
		canon := toNRGBA(img)
		if mt == MIMEJPEG {
			canon = orient(canon, exifOrientation(data))
		}
		canon, _ = n.fit(canon, nil)
		return Page{Number: num, Image: canon}, nil
	}}, nil
}

func toNRGBA(img image.Image) *image.NRGBA {
	if n, ok := img.(*image.NRGBA); ok && n.Rect.Min == (image.Point{}) {
		return n
	}
	b := img.Bounds()
	out := image.NewNRGBA(image.Rect(0, 0, b.Dx(), b.Dy()))
	draw.Draw(out, out.Bounds(), img, b.Min, draw.Src)
	return out
}

func blankPage(w, h int) *image.NRGBA {
	img := image.NewNRGBA(image.Rect(0, 0, max(w, 1), max(h, 1)))
	draw.Draw(img, img.Bounds(), image.NewUniform(color.White), image.Point{}, draw.Src)
	return img
}

// fit downscales img so its longest side is at most MaxDimension and scales
// words by the same factor.
func (n *Normalizer) fit(img *image.NRGBA, words []ocr.Word) (*image.NRGBA, []ocr.Word) {
	w, h := img.Rect.Dx(), img.Rect.Dy()
	longest := max(w, h)
	if longest <= n.opts.MaxDimension {
		return img, words
	}
	s := float64(n.opts.MaxDimension) / float64(longest)
	dst := image.NewNRGBA(image.Rect(0, 0, max(1, int(float64(w)*s)), max(1, int(float64(h)*s))))
	xdraw.CatmullRom.Scale(dst, dst.Bounds(), img, img.Bounds(), xdraw.Src, nil)
	for i := range words {
		words[i].Box = scaleRect(words[i].Box, s)
	}
	return dst, words
}

func scaleRect(r image.Rectangle, s float64) image.Rectangle {
	return image.Rect(int(float64(r.Min.X)*s), int(float64(r.Min.Y)*s), int(float64(r.Max.X)*s+0.5), int(float64(r.Max.Y)*s+0.5))
}

// rotate turns img clockwise by deg (a multiple of 90).
func rotate(img *image.NRGBA, deg int) *image.NRGBA {
	switch ((deg % 360) + 360) % 360 {
	case 90:
		return transform(img, true, func(x, y, w, h int) (int, int) { return h - 1 - y, x })
	case 180:
		return transform(img, false, func(x, y, w, h int) (int, int) { return w - 1 - x, h - 1 - y })
	case 270:
		return transform(img, true, func(x, y, w, h int) (int, int) { return y, w - 1 - x })
	default:
		return img
	}
}

func flipH(img *image.NRGBA) *image.NRGBA {
	return transform(img, false, func(x, y, w, h int) (int, int) { return w - 1 - x, y })
}

// transform maps every source pixel (x, y) to the returned destination point.
func transform(img *image.NRGBA, swap bool, to func(x, y, w, h int) (int, int)) *image.NRGBA {
	w, h := img.Rect.Dx(), img.Rect.Dy()
	dw, dh := w, h
	if swap {
		dw, dh = h, w
	}
	out := image.NewNRGBA(image.Rect(0, 0, dw, dh))
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			si := img.PixOffset(x+img.Rect.Min.X, y+img.Rect.Min.Y)
			dx, dy := to(x, y, w, h)
			di := out.PixOffset(dx, dy)
			copy(out.Pix[di:di+4], img.Pix[si:si+4])
		}
	}
	return out
}

// rotateRect maps a rectangle on a w x h page through a clockwise rotation.
func rotateRect(r image.Rectangle, w, h, deg int) image.Rectangle {
	switch ((deg % 360) + 360) % 360 {
	case 90:
		return image.Rect(h-r.Max.Y, r.Min.X, h-r.Min.Y, r.Max.X)
	case 180:
		return image.Rect(w-r.Max.X, h-r.Max.Y, w-r.Min.X, h-r.Min.Y)
	case 270:
		return image.Rect(r.Min.Y, w-r.Max.X, r.Max.Y, w-r.Min.X)
	default:
		return r
	}
}

// orient applies an EXIF orientation tag (1..8).
func orient(img *image.NRGBA, o int) *image.NRGBA {
	switch o {
	case 2:
		return flipH(img)
	case 3:
		return rotate(img, 180)
	case 4:
		return rotate(flipH(img), 180)
	case 5:
		return rotate(flipH(img), 270)
	case 6:
		return rotate(img, 90)
	case 7:
		return rotate(flipH(img), 90)
	case 8:
		return rotate(img, 270)
	default:
		return img
	}
}

// exifOrientation reads tag 0x0112 from the first APP1 Exif segment of a
// JPEG stream. It returns 1 when the tag is absent or unreadable.
func exifOrientation(data []byte) int {
	if len(data) < 4 || data[0] != 0xFF || data[1] != 0xD8 {
		return 1
	}
	i := 2
	for i+4 <= len(data) {
		if data[i] != 0xFF {
			return 1
		}
		marker := data[i+1]
		if marker == 0xDA || marker == 0xD9 {
			return 1
		}
		size := int(binary.BigEndian.Uint16(data[i+2:]))
		if size < 2 || i+2+size > len(data) {
			return 1
		}
		seg := data[i+4 : i+2+size]
		if marker == 0xE1 && len(seg) > 14 && string(seg[:6]) == "Exif\x00\x00" {
			o, err := tiffOrientation(seg[6:])
			if err != nil {
				return 1
			}
			return o
		}
		i += 2 + size
	}
	return 1
}

func tiffOrientation(t []byte) (int, error) {
	var order binary.ByteOrder
	switch string(t[:2]) {
	case "II":
		order = binary.LittleEndian
	case "MM":
		order = binary.BigEndian
	default:
		return 0, fmt.Errorf("bad tiff byte order")
	}
	off := int(order.Uint32(t[4:]))
	if off+2 > len(t) {
		return 0, fmt.Errorf("ifd offset out of range")
	}
	entries := int(order.Uint16(t[off:]))
	for e := 0; e < entries; e++ {
		p := off + 2 + e*12
		if p+12 > len(t) {
			break
		}
		if order.Uint16(t[p:]) == 0x0112 {
			v := int(order.Uint16(t[p+8:]))
			if v < 1 || v > 8 {
				return 0, fmt.Errorf("orientation %d out of range", v)
			}
			return v, nil
		}
	}
	return 1, nil
}
