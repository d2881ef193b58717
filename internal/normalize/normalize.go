// Package normalize turns raster images, PDFs and DOCX files into page images
// in one canonical pixel format and orientation.
package normalize

import (
	"errors"
	"fmt"
	"image"
	"iter"
	"mime"
	"path/filepath"
	"strings"

	"timetable/internal/ocr"
	"timetable/internal/table"
)

var (
	ErrUnsupportedFormat = errors.New("unsupported format")
	ErrCorruptInput      = errors.New("corrupt input")
)

// FormatError carries the decoding step that failed. It matches both its kind
// (ErrUnsupportedFormat or ErrCorruptInput) and the underlying cause.
type FormatError struct {
	Kind error
	MIME string
	Op   string
	Err  error
}

func (e *FormatError) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("normalize %s: %s: %v", e.MIME, e.Op, e.Kind)
	}
	return fmt.Sprintf("normalize %s: %s: %v: %v", e.MIME, e.Op, e.Kind, e.Err)
}

func (e *FormatError) Unwrap() []error {
	if e.Err == nil {
		return []error{e.Kind}
	}
	return []error{e.Kind, e.Err}
}

func corrupt(mimeType, op string, err error) error {
	return &FormatError{Kind: ErrCorruptInput, MIME: mimeType, Op: op, Err: err}
}

const (
	MIMEPNG  = "image/png"
	MIMEJPEG = "image/jpeg"
	MIMEBMP  = "image/bmp"
	MIMETIFF = "image/tiff"
	MIMEWEBP = "image/webp"
	MIMEGIF  = "image/gif"
	MIMEPDF  = "application/pdf"
	MIMEDOCX = "application/vnd.openxmlformats-officedocument.wordprocessingml.document"
)

type kind int

const (
	kindRaster kind = iota + 1
	kindPDF
	kindDOCX
)

var supported = map[string]kind{
	MIMEPNG:          kindRaster,
	MIMEJPEG:         kindRaster,
	"image/jpg":      kindRaster,
	"image/pjpeg":    kindRaster,
	MIMEBMP:          kindRaster,
	"image/x-ms-bmp": kindRaster,
	MIMETIFF:         kindRaster,
	MIMEWEBP:         kindRaster,
	MIMEGIF:          kindRaster,
	MIMEPDF:          kindPDF,
	MIMEDOCX:         kindDOCX,
}

var aliases = map[string]string{
	"image/jpg":      MIMEJPEG,
	"image/pjpeg":    MIMEJPEG,
	"image/x-ms-bmp": MIMEBMP,
}

var extensions = map[string]string{
	".png":  MIMEPNG,
	".jpg":  MIMEJPEG,
	".jpeg": MIMEJPEG,
	".bmp":  MIMEBMP,
	".tif":  MIMETIFF,
	".tiff": MIMETIFF,
	".webp": MIMEWEBP,
	".gif":  MIMEGIF,
	".pdf":  MIMEPDF,
	".docx": MIMEDOCX,
}

// CanonicalMIME lower-cases a declared type and strips its parameters.
func CanonicalMIME(declared string) string {
	mt, _, err := mime.ParseMediaType(declared)
	if err != nil {
		return strings.ToLower(strings.TrimSpace(declared))
	}
	return mt
}

// Supported reports whether the declared type can be normalized.
func Supported(declared string) bool {
	_, ok := supported[CanonicalMIME(declared)]
	return ok
}

// DetectMIME maps a file name to its declared type, or "" when the
// extension is unknown.
func DetectMIME(path string) string {
	return extensions[strings.ToLower(filepath.Ext(path))]
}

// ExtensionFor is the inverse of DetectMIME for stored uploads.
func ExtensionFor(declared string) string {
	mt := CanonicalMIME(declared)
	if a, ok := aliases[mt]; ok {
		mt = a
	}
	best := ""
	for ext, m := range extensions {
		if m == mt && (best == "" || len(ext) < len(best) || (len(ext) == len(best) && ext < best)) {
			best = ext
		}
	}
	return best
}

// Page is one normalized page. Image is never nil. Words holds text the
// document itself carries (a PDF text layer) in page pixel space, and Tables
// holds grids the document declares natively (DOCX tables).
type Page struct {
	Number int
	Image  *image.NRGBA
	Words  []ocr.Word
	Tables []table.Grid
	// Text is running text found outside tables, one entry per line.
	Text   []string
}

// Document is a decoded input whose pages are produced on demand.
type Document struct {
	MIME  string
	count int
	load  func(n int) (Page, error)
}

func (d *Document) PageCount() int { return d.count }

// Pages yields each page in document order. The sequence can be ranged over
// again from the start; stopping early leaves later pages undecoded.
func (d *Document) Pages() iter.Seq2[Page, error] {
	return func(yield func(Page, error) bool) {
		for n := 1; n <= d.count; n++ {
			p, err := d.load(n)
			if !yield(p, err) || err != nil {
				return
			}
		}
	}
}

type Options struct {
	// MaxDimension caps the longest side of a page image in pixels.
	MaxDimension int
	// DPI is the pixel density used for PDF pages without an embedded raster.
	DPI float64
}

type Normalizer struct {
	opts Options
}

func New(opts Options) *Normalizer {
	if opts.MaxDimension <= 0 {
		opts.MaxDimension = 3000
	}
	if opts.DPI <= 0 {
		opts.DPI = 300
	}
	return &Normalizer{opts: opts}
}

// Normalize validates the declared type and opens the document. Structural
// damage found while opening is reported here; damage inside a single page is
// reported when that page is produced.
func (n *Normalizer) Normalize(data []byte, declared string) (*Document, error) {
	mt := CanonicalMIME(declared)
	k, ok := supported[mt]
	if !ok {
		return nil, &FormatError{Kind: ErrUnsupportedFormat, MIME: mt, Op: "check type"}
	}
	if len(data) == 0 {
		return nil, corrupt(mt, "read", errors.New("empty input"))
	}
	switch k {
	case kindRaster:
		return n.openRaster(data, mt)
	case kindPDF:
		return n.openPDF(data, mt)
	default:
		return n.openDOCX(data, mt)
	}
}
