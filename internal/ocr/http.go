package ocr

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"image"
	"image/png"
	"io"
	"net/http"
	"strings"
	"time"
)

// HTTPLocator talks to a PaddleOCR-style serving endpoint. The page is posted
// as a base64 PNG and the reply carries parallel rec_texts/rec_scores arrays
// plus either rec_polys (4-point polygons) or rec_boxes (x0,y0,x1,y1).
type HTTPLocator struct {
	baseURL string
	client  *http.Client
}

func NewHTTPLocator(baseURL string, timeout time.Duration) *HTTPLocator {
	if timeout <= 0 {
		timeout = 60 * time.Second
	}
	return &HTTPLocator{
		baseURL: strings.TrimRight(baseURL, "/"),
		client:  &http.Client{Timeout: timeout},
	}
}

func (h *HTTPLocator) Info() ProviderInfo {
	return ProviderInfo{Name: "http", URL: h.baseURL}
}

type ocrRequest struct {
	Image string `json:"image"`
}

type ocrResponse struct {
	Texts  []string       `json:"rec_texts"`
	Scores []float64      `json:"rec_scores"`
	Polys  [][][2]float64 `json:"rec_polys"`
	Boxes  [][4]float64   `json:"rec_boxes"`
}

func (h *HTTPLocator) Locate(ctx context.Context, img image.Image) ([]Word, error) {
	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		return nil, fmt.Errorf("encode page for ocr: %w", err)
	}
	payload, _ := json.Marshal(ocrRequest{Image: base64.StdEncoding.EncodeToString(buf.Bytes())})
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, h.baseURL+"/ocr", bytes.NewReader(payload))
	if err != nil {
		return nil, fmt.Errorf("build ocr request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := h.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("ocr request failed: %w", err)
	}
	body, _ := io.ReadAll(resp.Body)
	_ = resp.Body.Close()
	if resp.StatusCode >= 400 {
		return nil, fmt.Errorf("ocr error %d: %s", resp.StatusCode, strings.TrimSpace(string(body)))
	}
	var parsed ocrResponse
	if err := json.Unmarshal(body, &parsed); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrBadResponse, err)
	}
	return parsed.words()
}

func (r ocrResponse) words() ([]Word, error) {
	if len(r.Scores) != len(r.Texts) {
		return nil, fmt.Errorf("%w: %d texts but %d scores", ErrBadResponse, len(r.Texts), len(r.Scores))
	}
	out := make([]Word, 0, len(r.Texts))
	for i, text := range r.Texts {
		text = strings.TrimSpace(text)
		if text == "" {
			continue
		}
		var box image.Rectangle
		switch {
		case i < len(r.Polys) && len(r.Polys[i]) > 0:
			box = polyBounds(r.Polys[i])
		case i < len(r.Boxes):
			b := r.Boxes[i]
			box = image.Rect(int(b[0]), int(b[1]), int(b[2]), int(b[3]))
		default:
			return nil, fmt.Errorf("%w: text %d has no geometry", ErrBadResponse, i)
		}
		out = append(out, Word{Text: text, Box: box, Confidence: r.Scores[i]})
	}
	return out, nil
}

func polyBounds(poly [][2]float64) image.Rectangle {
	minX, minY := poly[0][0], poly[0][1]
	maxX, maxY := minX, minY
	for _, p := range poly[1:] {
		minX, maxX = min(minX, p[0]), max(maxX, p[0])
		minY, maxY = min(minY, p[1]), max(maxY, p[1])
	}
	return image.Rect(int(minX), int(minY), int(maxX+0.5), int(maxY+0.5))
}
