package normalize

import (
	"bytes"
	"fmt"
	"image"
	"image/color"
	"image/draw"
	"math"
	"sort"
	"strings"
	"unicode"

	"github.com/ledongthuc/pdf"
	"github.com/pdfcpu/pdfcpu/pkg/api"
	"github.com/pdfcpu/pdfcpu/pkg/pdfcpu"
	"github.com/pdfcpu/pdfcpu/pkg/pdfcpu/model"

	"timetable/internal/ocr"
)

// Letter size in points, used when a page carries no readable media box.
const (
	defaultPageWidth  = 612.0
	defaultPageHeight = 792.0
)

func readPDF(data []byte) (ctx *model.Context, err error) {
	defer func() {
		if r := recover(); r != nil {
			ctx, err = nil, fmt.Errorf("pdf reader panic: %v", r)
		}
	}()
	conf := model.NewDefaultConfiguration()
	conf.ValidationMode = model.ValidationRelaxed
	return api.ReadValidateAndOptimize(bytes.NewReader(data), conf)
}

func (n *Normalizer) openPDF(data []byte, mt string) (*Document, error) {
	ctx, err := readPDF(data)
	if err != nil {
		return nil, corrupt(mt, "read pdf", err)
	}
	if ctx.PageCount == 0 {
		return nil, corrupt(mt, "read pdf", fmt.Errorf("document has no pages"))
	}

	// The text layer is best effort: scanned PDFs have none, and some
	// producers write content streams the reader rejects.
	text, _ := pdf.NewReader(bytes.NewReader(data), int64(len(data)))

	return &Document{MIME: mt, count: ctx.PageCount, load: func(num int) (Page, error) {
		return n.pdfPage(ctx, text, mt, num)
	}}, nil
}

type pageGeometry struct {
	llx, lly float64
	width    float64
	height   float64
	rotate   int
}

func geometry(ctx *model.Context, num int) pageGeometry {
	g := pageGeometry{width: defaultPageWidth, height: defaultPageHeight}
	_, _, inh, err := ctx.PageDict(num, false)
	if err != nil || inh == nil {
		return g
	}
	if mb := inh.MediaBox; mb != nil && mb.Width() > 0 && mb.Height() > 0 {
		g.llx, g.lly = mb.LL.X, mb.LL.Y
		g.width, g.height = mb.Width(), mb.Height()
	}
	g.rotate = inh.Rotate
	return g
}

func (n *Normalizer) pdfPage(ctx *model.Context, text *pdf.Reader, mt string, num int) (Page, error) {
	geo := geometry(ctx, num)

	raster, err := largestImage(ctx, num)
	if err != nil {
		return Page{}, corrupt(mt, fmt.Sprintf("extract images page %d", num), err)
	}

	content := pageContent(text, num)
	var img *image.NRGBA
	if raster != nil {
		img = raster
	} else {
		s := n.opts.DPI / 72
		img = blankPage(int(math.Ceil(geo.width*s)), int(math.Ceil(geo.height*s)))
		drawRules(img, content.Rect, geo, s)
	}
	scale := float64(img.Rect.Dx()) / geo.width
	words := textWords(content.Text, geo, scale)

	if geo.rotate%360 != 0 {
		w, h := img.Rect.Dx(), img.Rect.Dy()
		img = rotate(img, geo.rotate)
		for i := range words {
			words[i].Box = rotateRect(words[i].Box, w, h, geo.rotate)
		}
	}
	img, words = n.fit(img, words)
	return Page{Number: num, Image: img, Words: words}, nil
}

// largestImage decodes the biggest embedded raster of the page. Images in
// encodings the standard decoders cannot read are skipped.
func largestImage(ctx *model.Context, num int) (out *image.NRGBA, err error) {
	defer func() {
		if r := recover(); r != nil {
			out, err = nil, fmt.Errorf("image extraction panic: %v", r)
		}
	}()
	imgs, err := pdfcpu.ExtractPageImages(ctx, num, false)
	if err != nil {
		return nil, err
	}
	keys := make([]int, 0, len(imgs))
	for k := range imgs {
		keys = append(keys, k)
	}
	sort.Ints(keys)

	var best image.Image
	bestArea := 0
	for _, k := range keys {
		m := imgs[k]
		if m.Reader == nil {
			continue
		}
		decoded, _, err := image.Decode(m.Reader)
		if err != nil {
			continue
		}
		if a := decoded.Bounds().Dx() * decoded.Bounds().Dy(); a > bestArea {
			best, bestArea = decoded, a
		}
	}
	if best == nil {
		return nil, nil
	}
	return toNRGBA(best), nil
}

func pageContent(r *pdf.Reader, num int) (c pdf.Content) {
	if r == nil || num > r.NumPage() {
		return pdf.Content{}
	}
	defer func() {
		if recover() != nil {
			c = pdf.Content{}
		}
	}()
	p := r.Page(num)
	if p.V.IsNull() {
		return pdf.Content{}
	}
	return p.Content()
}

// drawRules paints the page's vector rectangles as ruling lines so that
// born-digital tables reach the detector the same way scanned ones do.
func drawRules(img *image.NRGBA, rects []pdf.Rect, geo pageGeometry, s float64) {
	black := image.NewUniform(color.Black)
	for _, r := range rects {
		x0 := int((r.Min.X - geo.llx) * s)
		x1 := int((r.Max.X - geo.llx) * s)
		y0 := int((geo.height - (r.Max.Y - geo.lly)) * s)
		y1 := int((geo.height - (r.Min.Y - geo.lly)) * s)
		box := image.Rect(x0, y0, x1, y1).Canon()
		const t = 2
		edges := []image.Rectangle{
			image.Rect(box.Min.X, box.Min.Y, box.Max.X+t, box.Min.Y+t),
			image.Rect(box.Min.X, box.Max.Y, box.Max.X+t, box.Max.Y+t),
			image.Rect(box.Min.X, box.Min.Y, box.Min.X+t, box.Max.Y+t),
			image.Rect(box.Max.X, box.Min.Y, box.Max.X+t, box.Max.Y+t),
		}
		for _, e := range edges {
			draw.Draw(img, e.Intersect(img.Rect), black, image.Point{}, draw.Src)
		}
	}
}

// textWords joins positioned glyphs into words and maps them into the page
// raster, whose origin is top-left.
func textWords(glyphs []pdf.Text, geo pageGeometry, scale float64) []ocr.Word {
	sorted := make([]pdf.Text, 0, len(glyphs))
	for _, g := range glyphs {
		if g.S != "" {
			sorted = append(sorted, g)
		}
	}
	sort.SliceStable(sorted, func(i, j int) bool {
		a, b := sorted[i], sorted[j]
		if math.Abs(a.Y-b.Y) > math.Max(a.FontSize, 1)*0.3 {
			return a.Y > b.Y
		}
		return a.X < b.X
	})

	var words []ocr.Word
	var cur strings.Builder
	var x0, x1, y, size float64
	flush := func() {
		s := strings.TrimSpace(cur.String())
		cur.Reset()
		if s == "" {
			return
		}
		top := geo.height - (y - geo.lly) - size*0.8
		bottom := geo.height - (y - geo.lly) + size*0.2
		words = append(words, ocr.Word{
			Text:       s,
			Box:        image.Rect(int((x0-geo.llx)*scale), int(top*scale), int((x1-geo.llx)*scale+0.5), int(bottom*scale+0.5)),
			Confidence: 1,
		})
	}
	for _, g := range sorted {
		blank := strings.TrimFunc(g.S, unicode.IsSpace) == ""
		fs := math.Max(g.FontSize, 1)
		sameRun := cur.Len() > 0 && math.Abs(g.Y-y) <= fs*0.3 && g.X-x1 <= fs*0.25
		if blank || !sameRun {
			flush()
		}
		if blank {
			continue
		}
		if cur.Len() == 0 {
			x0, y, size = g.X, g.Y, fs
		}
		cur.WriteString(g.S)
		x1 = g.X + g.W
	}
	flush()
	return words
}
