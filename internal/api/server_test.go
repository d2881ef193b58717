package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"net/textproto"
	"os"
	"strconv"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"timetable/internal/blob"
	"timetable/internal/config"
	"timetable/internal/logging"
	"timetable/internal/models"
	"timetable/internal/normalize"
	"timetable/internal/orchestrate"
	"timetable/internal/storage"
	"timetable/internal/util"
)

type runnerFunc func(ctx context.Context, ref string) (orchestrate.Result, error)

func (f runnerFunc) Run(ctx context.Context, ref string) (orchestrate.Result, error) { return f(ctx, ref) }

type fixture struct {
	srv    *httptest.Server
	store  *storage.SQLiteStore
	calls  int
	runner runnerFunc
}

func newFixture(t *testing.T, cfg config.Config, run runnerFunc) *fixture {
	t.Helper()
	store, err := storage.OpenMemory(context.Background())
	require.NoError(t, err)
	t.Cleanup(store.Close)
	blobs, err := blob.NewFSStore(t.TempDir())
	require.NoError(t, err)

	f := &fixture{store: store}
	f.runner = func(ctx context.Context, ref string) (orchestrate.Result, error) {
		f.calls++
		return run(ctx, ref)
	}
	s, err := NewServer(cfg, Deps{Store: store, Blobs: blobs, Runner: f.runner, Logger: logging.Discard()})
	require.NoError(t, err)
	f.srv = httptest.NewServer(s.Routes())
	t.Cleanup(f.srv.Close)
	return f
}

func upload(t *testing.T, url, filename, contentType string, body []byte) *http.Response {
	t.Helper()
	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	h := textproto.MIMEHeader{}
	h.Set("Content-Disposition", `form-data; name="file"; filename="`+filename+`"`)
	if contentType != "" {
		h.Set("Content-Type", contentType)
	}
	part, err := mw.CreatePart(h)
	require.NoError(t, err)
	_, err = part.Write(body)
	require.NoError(t, err)
	require.NoError(t, mw.Close())

	resp, err := http.Post(url+"/api/timetables", mw.FormDataContentType(), &buf)
	require.NoError(t, err)
	t.Cleanup(func() { resp.Body.Close() })
	return resp
}

func decode(t *testing.T, resp *http.Response) map[string]any {
	t.Helper()
	var out map[string]any
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&out))
	return out
}

func errorCode(t *testing.T, resp *http.Response) (string, map[string]any) {
	t.Helper()
	body := decode(t, resp)
	e, ok := body["error"].(map[string]any)
	require.True(t, ok, "error envelope: %v", body)
	return e["code"].(string), e
}

// commitRunner behaves like a successful processor: it creates and commits
// a source holding the Physics record.
func commitRunner(store storage.Gateway) runnerFunc {
	return func(ctx context.Context, ref string) (orchestrate.Result, error) {
		if _, err := os.Stat(ref); err != nil {
			return orchestrate.Result{}, err
		}
		id, err := store.CreateSource(ctx, ref)
		if err != nil {
			return orchestrate.Result{}, err
		}
		stored, err := store.Commit(ctx, id, []models.ActivityRecord{{
			Day: models.Monday, Start: models.NewClock(9, 0), End: models.NewClock(9, 30), Label: "Physics",
		}})
		if err != nil {
			return orchestrate.Result{}, err
		}
		return orchestrate.Result{SourceID: id, Status: models.SourceSucceeded, Records: stored}, nil
	}
}

func TestUploadThenQuery(t *testing.T) {
	var f *fixture
	var store storage.Gateway
	f = newFixture(t, config.Config{}, func(ctx context.Context, ref string) (orchestrate.Result, error) {
		require.True(t, strings.HasSuffix(ref, ".png"))
		return commitRunner(store)(ctx, ref)
	})
	store = f.store

	resp := upload(t, f.srv.URL, "week.png", "image/png", []byte("png bytes"))
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	require.NotEmpty(t, resp.Header.Get("X-Request-ID"))
	body := decode(t, resp)
	require.Equal(t, "succeeded", body["status"])
	id := int64(body["source_id"].(float64))
	acts := body["activities"].([]any)
	require.Len(t, acts, 1)
	require.Equal(t, "09:00", acts[0].(map[string]any)["start_time"])

	get, err := http.Get(f.srv.URL + "/api/sources/" + itoa(id))
	require.NoError(t, err)
	defer get.Body.Close()
	require.Equal(t, http.StatusOK, get.StatusCode)
	src := decode(t, get)
	require.Equal(t, "succeeded", src["source"].(map[string]any)["status"])
	require.Len(t, src["activities"], 1)

	cal, err := http.Get(f.srv.URL + "/api/sources/" + itoa(id) + "/calendar")
	require.NoError(t, err)
	defer cal.Body.Close()
	require.Equal(t, http.StatusOK, cal.StatusCode)
	var view struct {
		Calendar struct {
			Slots []map[string]string                       `json:"slots"`
			Cells map[string][][]map[string]json.RawMessage `json:"cells"`
		} `json:"calendar"`
	}
	require.NoError(t, json.NewDecoder(cal.Body).Decode(&view))
	require.Len(t, view.Calendar.Slots, 16)
	require.Len(t, view.Calendar.Cells["Monday"][2], 1)
	require.Empty(t, view.Calendar.Cells["Monday"][3])
	require.Empty(t, view.Calendar.Cells["Tuesday"][2])
}

func TestNewServerFillsLoadDefaults(t *testing.T) {
	s, err := NewServer(config.Config{}, Deps{Logger: logging.Discard()})
	require.NoError(t, err)
	t.Setenv("TIMETABLE_CONFIG_FILE", "")
	loaded, err := config.Load()
	require.NoError(t, err)
	require.Equal(t, loaded.ProcessTimeout(), s.cfg.ProcessTimeout())
	require.Equal(t, loaded.MaxUploadBytes, s.cfg.MaxUploadBytes)
}

func TestUploadStoresContentAddressedCopy(t *testing.T) {
	body := bytes.Repeat([]byte("timetable page "), 512)
	want, _, err := util.ContentName(bytes.NewReader(body), ".png")
	require.NoError(t, err)

	var store storage.Gateway
	f := newFixture(t, config.Config{}, func(ctx context.Context, ref string) (orchestrate.Result, error) {
		require.True(t, strings.HasSuffix(ref, want), ref)
		got, err := os.ReadFile(ref)
		require.NoError(t, err)
		require.Equal(t, body, got)
		return commitRunner(store)(ctx, ref)
	})
	store = f.store
	resp := upload(t, f.srv.URL, "week.png", "image/png", body)
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	require.Equal(t, 1, f.calls)
}

func TestUploadDetectsTypeFromExtension(t *testing.T) {
	var store storage.Gateway
	f := newFixture(t, config.Config{}, func(ctx context.Context, ref string) (orchestrate.Result, error) {
		require.True(t, strings.HasSuffix(ref, ".docx"))
		return commitRunner(store)(ctx, ref)
	})
	store = f.store
	resp := upload(t, f.srv.URL, "Week.DOCX", "application/octet-stream", []byte("zip"))
	require.Equal(t, http.StatusCreated, resp.StatusCode)
}

func TestUploadRejectsUnsupportedTypeBeforeRunning(t *testing.T) {
	f := newFixture(t, config.Config{}, func(context.Context, string) (orchestrate.Result, error) {
		return orchestrate.Result{}, errors.New("must not run")
	})
	resp := upload(t, f.srv.URL, "notes.txt", "text/plain", []byte("hello"))
	require.Equal(t, http.StatusUnsupportedMediaType, resp.StatusCode)
	code, _ := errorCode(t, resp)
	require.Equal(t, "TT-API-4015", code)
	require.Zero(t, f.calls)
}

func TestUploadRejectsOversizedFile(t *testing.T) {
	f := newFixture(t, config.Config{MaxUploadBytes: 1024}, func(context.Context, string) (orchestrate.Result, error) {
		return orchestrate.Result{}, errors.New("must not run")
	})
	resp := upload(t, f.srv.URL, "big.png", "image/png", bytes.Repeat([]byte{1}, 4096))
	require.Equal(t, http.StatusRequestEntityTooLarge, resp.StatusCode)
	code, _ := errorCode(t, resp)
	require.Equal(t, "TT-API-4013", code)
	require.Zero(t, f.calls)
}

func TestUploadRequiresFileField(t *testing.T) {
	f := newFixture(t, config.Config{}, nil)
	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	require.NoError(t, mw.WriteField("note", "x"))
	require.NoError(t, mw.Close())
	resp, err := http.Post(f.srv.URL+"/api/timetables", mw.FormDataContentType(), &buf)
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestUploadOrchestrationFailure(t *testing.T) {
	f := newFixture(t, config.Config{}, func(context.Context, string) (orchestrate.Result, error) {
		return orchestrate.Result{}, &orchestrate.Error{Reason: "unparseable result", Diagnostics: "panic: boom", ExitCode: 2, SourceID: 7}
	})
	resp := upload(t, f.srv.URL, "a.png", "image/png", []byte("x"))
	require.Equal(t, http.StatusUnprocessableEntity, resp.StatusCode)
	code, e := errorCode(t, resp)
	require.Equal(t, "TT-RUN-4022", code)
	require.Equal(t, "panic: boom", e["diagnostics"])
	require.EqualValues(t, 7, e["source_id"])
}

func TestUploadFailedResultWithoutError(t *testing.T) {
	f := newFixture(t, config.Config{}, func(context.Context, string) (orchestrate.Result, error) {
		return orchestrate.Result{SourceID: 3, Status: models.SourceFailed, Error: "normalize: corrupt input"}, nil
	})
	resp := upload(t, f.srv.URL, "a.pdf", "application/pdf", []byte("%PDF"))
	require.Equal(t, http.StatusUnprocessableEntity, resp.StatusCode)
	_, e := errorCode(t, resp)
	require.EqualValues(t, 3, e["source_id"])
}

func TestUploadCorruptInputFromInProcessRunner(t *testing.T) {
	f := newFixture(t, config.Config{}, func(context.Context, string) (orchestrate.Result, error) {
		err := &normalize.FormatError{Kind: normalize.ErrCorruptInput, MIME: normalize.MIMEPNG, Op: "decode"}
		return orchestrate.Result{SourceID: 9, Status: models.SourceFailed}, err
	})
	resp := upload(t, f.srv.URL, "a.png", "image/png", []byte("x"))
	require.Equal(t, http.StatusUnprocessableEntity, resp.StatusCode)
	_, e := errorCode(t, resp)
	require.EqualValues(t, 9, e["source_id"])
	require.Contains(t, e["message"], "damaged")
}

func TestUploadTimeout(t *testing.T) {
	f := newFixture(t, config.Config{ProcessTimeoutSecs: 1}, func(ctx context.Context, _ string) (orchestrate.Result, error) {
		<-ctx.Done()
		return orchestrate.Result{}, ctx.Err()
	})
	start := time.Now()
	resp := upload(t, f.srv.URL, "a.png", "image/png", []byte("x"))
	require.Equal(t, http.StatusGatewayTimeout, resp.StatusCode)
	require.Less(t, time.Since(start), 5*time.Second)
	code, _ := errorCode(t, resp)
	require.Equal(t, "TT-RUN-5040", code)
}

func TestGetSourceErrors(t *testing.T) {
	f := newFixture(t, config.Config{}, nil)
	for path, want := range map[string]int{
		"/api/sources/abc":         http.StatusBadRequest,
		"/api/sources/0":           http.StatusBadRequest,
		"/api/sources/99":          http.StatusNotFound,
		"/api/sources/99/calendar": http.StatusNotFound,
		"/api/nothing":             http.StatusNotFound,
	} {
		resp, err := http.Get(f.srv.URL + path)
		require.NoError(t, err)
		resp.Body.Close()
		require.Equal(t, want, resp.StatusCode, path)
	}
}

func TestCalendarQueryParameters(t *testing.T) {
	f := newFixture(t, config.Config{}, nil)
	ctx := context.Background()
	id, err := f.store.CreateSource(ctx, "x.png")
	require.NoError(t, err)
	_, err = f.store.Commit(ctx, id, []models.ActivityRecord{{
		Day: models.Saturday, Start: models.NewClock(10, 0), End: models.NewClock(11, 0), Label: "Swim",
	}})
	require.NoError(t, err)

	resp, err := http.Get(f.srv.URL + "/api/sources/" + itoa(id) + "/calendar?slot=60&start=09:00&end=12:00&days=sat,sun")
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var view struct {
		Grid     map[string]any `json:"grid"`
		Calendar struct {
			Days  []string                      `json:"days"`
			Slots []map[string]string           `json:"slots"`
			Cells map[string][][]map[string]any `json:"cells"`
		} `json:"calendar"`
	}
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&view))
	require.Equal(t, []string{"Saturday", "Sunday"}, view.Calendar.Days)
	require.Len(t, view.Calendar.Slots, 3)
	require.Equal(t, "Swim", view.Calendar.Cells["Saturday"][1][0]["label"])

	for _, q := range []string{"slot=0", "slot=x", "start=25:00", "start=12:00&end=09:00", "days=mon,funday"} {
		bad, err := http.Get(f.srv.URL + "/api/sources/" + itoa(id) + "/calendar?" + q)
		require.NoError(t, err)
		bad.Body.Close()
		require.Equal(t, http.StatusBadRequest, bad.StatusCode, q)
	}
}

func TestDeleteSource(t *testing.T) {
	f := newFixture(t, config.Config{}, nil)
	id, err := f.store.CreateSource(context.Background(), "x.png")
	require.NoError(t, err)

	req, _ := http.NewRequest(http.MethodDelete, f.srv.URL+"/api/sources/"+itoa(id), nil)
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	resp.Body.Close()
	require.Equal(t, http.StatusNoContent, resp.StatusCode)

	resp, err = http.DefaultClient.Do(req)
	require.NoError(t, err)
	resp.Body.Close()
	require.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestCORSAllowList(t *testing.T) {
	f := newFixture(t, config.Config{CORSAllowedOrigins: "http://app.local"}, nil)

	preflight := func(origin string) *http.Response {
		req, _ := http.NewRequest(http.MethodOptions, f.srv.URL+"/api/timetables", nil)
		req.Header.Set("Origin", origin)
		req.Header.Set("Access-Control-Request-Method", "POST")
		resp, err := http.DefaultClient.Do(req)
		require.NoError(t, err)
		resp.Body.Close()
		return resp
	}

	ok := preflight("http://app.local")
	require.Equal(t, http.StatusNoContent, ok.StatusCode)
	require.Equal(t, "http://app.local", ok.Header.Get("Access-Control-Allow-Origin"))

	denied := preflight("http://evil.example")
	require.Equal(t, http.StatusForbidden, denied.StatusCode)
	require.Empty(t, denied.Header.Get("Access-Control-Allow-Origin"))
}

func TestRequestIDIsEchoed(t *testing.T) {
	f := newFixture(t, config.Config{}, nil)
	req, _ := http.NewRequest(http.MethodGet, f.srv.URL+"/healthz", nil)
	req.Header.Set("X-Request-ID", "req-42")
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)
	require.Equal(t, "req-42", resp.Header.Get("X-Request-ID"))
}

func TestMetricsEndpoint(t *testing.T) {
	f := newFixture(t, config.Config{}, nil)
	_, _ = http.Get(f.srv.URL + "/healthz")
	resp, err := http.Get(f.srv.URL + "/metrics")
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var buf bytes.Buffer
	_, _ = buf.ReadFrom(resp.Body)
	require.Contains(t, buf.String(), "timetable_http_requests_total")
}

func TestNewServerRejectsBadGrid(t *testing.T) {
	_, err := NewServer(config.Config{CalendarDayStart: "17:00", CalendarDayEnd: "08:00"}, Deps{})
	require.Error(t, err)
}

func TestJanitorSweepsAbandonedSources(t *testing.T) {
	store, err := storage.OpenMemory(context.Background())
	require.NoError(t, err)
	defer store.Close()
	ctx := context.Background()
	id, err := store.CreateSource(ctx, "x.png")
	require.NoError(t, err)

	j := Janitor{Store: store, MaxAge: -time.Minute, Logger: logging.Discard()}
	require.EqualValues(t, 1, j.Sweep(ctx))
	src, err := store.GetSource(ctx, id)
	require.NoError(t, err)
	require.Equal(t, models.SourceFailed, src.Status)
	require.Contains(t, src.FailReason, "abandoned")
	require.Zero(t, j.Sweep(ctx))
}

func itoa(id int64) string { return strconv.FormatInt(id, 10) }
