package pipeline

import (
	"archive/zip"
	"bytes"
	"context"
	"fmt"
	"image"
	"image/color"
	"image/draw"
	"image/png"
	"math/rand/v2"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"timetable/internal/blob"
	"timetable/internal/calendar"
	"timetable/internal/detect"
	"timetable/internal/events"
	"timetable/internal/logging"
	"timetable/internal/models"
	"timetable/internal/normalize"
	"timetable/internal/ocr"
	"timetable/internal/storage"
	"timetable/internal/table"
)

func newStore(t *testing.T) *storage.SQLiteStore {
	t.Helper()
	s, err := storage.OpenMemory(context.Background())
	require.NoError(t, err)
	t.Cleanup(s.Close)
	return s
}

func writeFile(t *testing.T, name string, data []byte) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(path, data, 0o644))
	return path
}

// timetablePNG draws the ruled 3x3 grid of the Physics scenario.
func timetablePNG(t *testing.T) []byte {
	t.Helper()
	img := image.NewNRGBA(image.Rect(0, 0, 600, 400))
	draw.Draw(img, img.Bounds(), image.NewUniform(color.White), image.Point{}, draw.Src)
	black := image.NewUniform(color.Black)
	xs, ys := []int{50, 200, 350, 500}, []int{50, 100, 150, 200}
	for _, y := range ys {
		draw.Draw(img, image.Rect(50, y, 502, y+2), black, image.Point{}, draw.Src)
	}
	for _, x := range xs {
		draw.Draw(img, image.Rect(x, 50, x+2, 202), black, image.Point{}, draw.Src)
	}
	var buf bytes.Buffer
	require.NoError(t, png.Encode(&buf, img))
	return buf.Bytes()
}

func physicsWords() []ocr.Word {
	w := func(text string, x, y int) ocr.Word {
		return ocr.Word{Text: text, Box: image.Rect(x, y, x+80, y+14), Confidence: 0.95}
	}
	return []ocr.Word{
		w("Monday", 220, 65), w("Tuesday", 370, 65),
		w("9:00-9:30", 60, 115), w("Physics", 220, 115),
		w("9:30-10:00", 60, 165),
	}
}

type capturePublisher struct {
	mu  sync.Mutex
	got []events.SourceCompleted
}

func (c *capturePublisher) Publish(_ context.Context, ev events.SourceCompleted) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.got = append(c.got, ev)
	return nil
}

func (c *capturePublisher) Close() error { return nil }

func TestProcessPhysicsEndToEnd(t *testing.T) {
	ctx := context.Background()
	store := newStore(t)
	pub := &capturePublisher{}
	artifacts := t.TempDir()
	words := append(physicsWords(),
		ocr.Word{Text: "Class: 2EJ", Box: image.Rect(50, 10, 130, 24), Confidence: 0.9},
		ocr.Word{Text: "Teacher: Miss Joynes", Box: image.Rect(200, 10, 360, 24), Confidence: 0.9},
	)
	p := New(Options{
		Detector:      detect.New(detect.Options{Locator: ocr.StaticLocator{Words: words}, Logger: logging.Discard()}),
		Store:         store,
		Files:         blob.Opener{},
		Events:        pub,
		ArtifactsRoot: artifacts,
		Logger:        logging.Discard(),
	})

	path := writeFile(t, "week.png", timetablePNG(t))
	res, err := p.Process(ctx, path)
	require.NoError(t, err)
	require.Equal(t, models.SourceSucceeded, res.Status)
	require.Len(t, res.Records, 1)
	require.Equal(t, &models.DocumentMetadata{ClassName: "2EJ", Teacher: "Miss Joynes"}, res.Metadata)
	require.Equal(t, []float64{0.95}, res.Confidence)

	got, err := store.ListActivities(ctx, res.SourceID)
	require.NoError(t, err)
	require.Len(t, got, 1)
	r := got[0]
	require.Equal(t, models.Monday, r.Day)
	require.Equal(t, "09:00", r.Start.String())
	require.Equal(t, "09:30", r.End.String())
	require.Equal(t, "Physics", r.Label)

	cal := calendar.Project(got, models.SchoolWeek, calendar.DefaultGrid())
	for _, day := range models.SchoolWeek {
		for i := range cal.Slots {
			if day == models.Monday && i == 2 {
				require.Len(t, cal.At(day, i), 1)
				continue
			}
			require.Empty(t, cal.At(day, i), "%s slot %d", day, i)
		}
	}

	artifact, err := os.ReadFile(filepath.Join(artifacts, fmt.Sprint(res.SourceID), "extraction.json"))
	require.NoError(t, err)
	require.Contains(t, string(artifact), `"class_name": "2EJ"`)
	require.Len(t, pub.got, 1)
	require.Equal(t, 1, pub.got[0].Records)
}

func TestProcessRejectsUnsupportedTypeBeforeSource(t *testing.T) {
	ctx := context.Background()
	store := newStore(t)
	det := &fakeDetector{}
	p := New(Options{Detector: det, Store: store, Files: blob.Opener{}, Logger: logging.Discard()})

	_, err := p.Process(ctx, writeFile(t, "notes.txt", []byte("Monday 9:00 Physics")))
	require.ErrorIs(t, err, normalize.ErrUnsupportedFormat)
	require.Zero(t, det.calls())

	_, err = store.GetSource(ctx, 1)
	require.ErrorIs(t, err, storage.ErrNotFound)
}

func TestProcessCorruptInputFailsSource(t *testing.T) {
	ctx := context.Background()
	store := newStore(t)
	p := New(Options{Detector: &fakeDetector{}, Store: store, Files: blob.Opener{}, Logger: logging.Discard()})

	res, err := p.Process(ctx, writeFile(t, "scan.png", []byte("not a png")))
	require.ErrorIs(t, err, normalize.ErrCorruptInput)
	require.Equal(t, models.SourceFailed, res.Status)

	src, err := store.GetSource(ctx, res.SourceID)
	require.NoError(t, err)
	require.Equal(t, models.SourceFailed, src.Status)
	require.Nil(t, src.ProcessedAt)
	require.NotEmpty(t, src.FailReason)
}

func TestProcessZeroRecordsIsSuccess(t *testing.T) {
	ctx := context.Background()
	store := newStore(t)
	p := New(Options{Detector: &fakeDetector{}, Store: store, Files: blob.Opener{}, Logger: logging.Discard()})

	res, err := p.Process(ctx, writeFile(t, "photo.png", timetablePNG(t)))
	require.NoError(t, err)
	require.Equal(t, models.SourceSucceeded, res.Status)
	require.Empty(t, res.Records)
}

func TestProcessCancelledRunLeavesSourceFailed(t *testing.T) {
	store := newStore(t)
	ctx, cancel := context.WithCancel(context.Background())
	det := &fakeDetector{block: true, started: make(chan struct{})}
	p := New(Options{Detector: det, Store: store, Files: blob.Opener{}, Logger: logging.Discard()})

	done := make(chan struct{})
	var (
		res models.SourceStatus
		id  int64
		err error
	)
	go func() {
		defer close(done)
		r, e := p.Process(ctx, writeFile(t, "slow.png", timetablePNG(t)))
		res, id, err = r.Status, r.SourceID, e
	}()
	<-det.started
	cancel()
	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("run did not stop after cancel")
	}

	require.ErrorIs(t, err, context.Canceled)
	require.Equal(t, models.SourceFailed, res)
	src, gerr := store.GetSource(context.Background(), id)
	require.NoError(t, gerr)
	require.Equal(t, models.SourceFailed, src.Status)
	acts, gerr := store.ListActivities(context.Background(), id)
	require.NoError(t, gerr)
	require.Empty(t, acts)
}

func TestExtractSkipsUnresolvedRegion(t *testing.T) {
	det := &fakeDetector{grids: func(page int) []table.Grid {
		return []table.Grid{
			gridOf(page, []string{"Name", "Score"}, []string{"Ann", "90"}),
			gridOf(page, []string{"", "Mon"}, []string{"9:00-10:00", "Maths"}),
		}
	}}
	p := New(Options{Detector: det, Logger: logging.Discard()})
	ext, err := p.Extract(context.Background(), pngOf(t, 10, 10), normalize.MIMEPNG)
	require.NoError(t, err)
	require.Len(t, ext.Regions, 2)
	require.NotEmpty(t, ext.Regions[0].Rejected)
	require.Len(t, ext.Records, 1)
	require.Equal(t, "Maths", ext.Records[0].Label)
}

func TestExtractParallelMatchesSequential(t *testing.T) {
	data := docxWithImages(t, 6)
	det := &fakeDetector{jitter: true, grids: func(page int) []table.Grid {
		return []table.Grid{gridOf(page,
			[]string{"", "Mon", "Tue"},
			[]string{"9:00-10:00", fmt.Sprintf("P%d-A", page), fmt.Sprintf("P%d-B", page)},
		)}
	}}

	seq, err := New(Options{Detector: det, Workers: 1, Logger: logging.Discard()}).Extract(context.Background(), data, normalize.MIMEDOCX)
	require.NoError(t, err)
	par, err := New(Options{Detector: det, Workers: 4, Logger: logging.Discard()}).Extract(context.Background(), data, normalize.MIMEDOCX)
	require.NoError(t, err)

	require.Len(t, seq.Records, 12)
	require.Equal(t, seq.Records, par.Records)
	require.Equal(t, "P1-A", par.Records[0].Label)
	require.Equal(t, "P6-B", par.Records[11].Label)
}

func TestInspect(t *testing.T) {
	mt, err := Inspect("uploads/ab/abcd.pdf")
	require.NoError(t, err)
	require.Equal(t, normalize.MIMEPDF, mt)
	_, err = Inspect("sheet.xlsx")
	require.ErrorIs(t, err, normalize.ErrUnsupportedFormat)
}

func TestLoadEnforcesLimit(t *testing.T) {
	p := New(Options{Files: blob.Opener{}, MaxInputBytes: 4, Logger: logging.Discard()})
	_, err := p.Load(context.Background(), writeFile(t, "big.png", []byte("123456")), normalize.MIMEPNG)
	require.ErrorIs(t, err, normalize.ErrCorruptInput)
}

// fakeDetector returns canned grids per page number.
type fakeDetector struct {
	mu      sync.Mutex
	n       int
	grids   func(page int) []table.Grid
	block   bool
	jitter  bool
	started chan struct{}
	once    sync.Once
}

func (f *fakeDetector) Detect(ctx context.Context, page normalize.Page) ([]table.Grid, error) {
	f.mu.Lock()
	f.n++
	f.mu.Unlock()
	if f.block {
		f.once.Do(func() { close(f.started) })
		<-ctx.Done()
		return nil, ctx.Err()
	}
	if f.jitter {
		time.Sleep(time.Duration(rand.IntN(20)) * time.Millisecond)
	}
	if f.grids == nil {
		return nil, nil
	}
	return f.grids(page.Number), nil
}

func (f *fakeDetector) calls() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.n
}

func gridOf(page int, rows ...[]string) table.Grid {
	g := table.Grid{Page: page, Rows: len(rows), Cols: len(rows[0])}
	for r, row := range rows {
		for c, text := range row {
			state := table.CellText
			if text == "" {
				state = table.CellEmpty
			}
			g.Cells = append(g.Cells, table.Cell{Row: r, Col: c, RowSpan: 1, ColSpan: 1, Text: text, State: state, Confidence: 1})
		}
	}
	return g
}

func pngOf(t *testing.T, w, h int) []byte {
	t.Helper()
	var buf bytes.Buffer
	require.NoError(t, png.Encode(&buf, image.NewGray(image.Rect(0, 0, w, h))))
	return buf.Bytes()
}

func docxWithImages(t *testing.T, n int) []byte {
	t.Helper()
	var body, rels bytes.Buffer
	for i := 1; i <= n; i++ {
		fmt.Fprintf(&body, `<w:p><w:r><w:drawing><a:blip r:embed="rId%d"/></w:drawing></w:r></w:p>`, i)
		fmt.Fprintf(&rels, `<Relationship Id="rId%d" Type="http://schemas.openxmlformats.org/officeDocument/2006/relationships/image" Target="media/image%d.png"/>`, i, i)
	}
	files := map[string]string{
		"word/document.xml": `<?xml version="1.0" encoding="UTF-8"?>
<w:document xmlns:w="http://schemas.openxmlformats.org/wordprocessingml/2006/main"
  xmlns:a="http://schemas.openxmlformats.org/drawingml/2006/main"
  xmlns:r="http://schemas.openxmlformats.org/officeDocument/2006/relationships"><w:body>` + body.String() + `</w:body></w:document>`,
		"word/_rels/document.xml.rels": `<?xml version="1.0" encoding="UTF-8"?>
<Relationships xmlns="http://schemas.openxmlformats.org/package/2006/relationships">` + rels.String() + `</Relationships>`,
	}
	var buf bytes.Buffer
	zw := zip.NewWriter(&buf)
	for name, text := range files {
		w, err := zw.Create(name)
		require.NoError(t, err)
		_, err = w.Write([]byte(text))
		require.NoError(t, err)
	}
	for i := 1; i <= n; i++ {
		w, err := zw.Create(fmt.Sprintf("word/media/image%d.png", i))
		require.NoError(t, err)
		_, err = w.Write(pngOf(t, 8+i, 8))
		require.NoError(t, err)
	}
	require.NoError(t, zw.Close())
	return buf.Bytes()
}
