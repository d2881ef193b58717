// Package ocr is the consumed text-recognition capability: given an image,
// return located text with bounding geometry.
package ocr

import (
	"context"
	"image"
)

type Word struct {
	Text       string          `json:"text"`
	Box        image.Rectangle `json:"box"`
	Confidence float64         `json:"confidence"`
}

func (w Word) Center() image.Point {
	return image.Pt((w.Box.Min.X+w.Box.Max.X)/2, (w.Box.Min.Y+w.Box.Max.Y)/2)
}

// Locator finds text on a whole page image.
type Locator interface {
	Locate(ctx context.Context, img image.Image) ([]Word, error)
}

type Recognition struct {
	Text       string
	Confidence float64
	Found      bool
}

// Recognizer reads the text inside one cell of a page image.
type Recognizer interface {
	Recognize(ctx context.Context, img image.Image, cell image.Rectangle) (Recognition, error)
}

type ProviderInfo struct {
	Name string `json:"name"`
	URL  string `json:"url,omitempty"`
}
