package ocr

import (
	"context"
	"image"
)

// StaticLocator returns a fixed word list regardless of the image. Pages that
// carry their own text layer use it, and so do tests.
type StaticLocator struct {
	Words []Word
}

func (s StaticLocator) Locate(ctx context.Context, _ image.Image) ([]Word, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	out := make([]Word, len(s.Words))
	copy(out, s.Words)
	return out, nil
}

// NopLocator finds nothing. Native DOCX tables and text-layer PDFs do not
// need a recognizer at all.
type NopLocator struct{}

func (NopLocator) Locate(context.Context, image.Image) ([]Word, error) { return nil, nil }
