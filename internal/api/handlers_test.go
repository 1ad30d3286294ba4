package api

import (
	"net/http"
	"net/http/httptest"
	"os"
	"strings"
	"testing"
	"time"

	"github.com/magnopus-opensource/blackhole/internal/catalog"
	"github.com/magnopus-opensource/blackhole/internal/export"
	"github.com/magnopus-opensource/blackhole/internal/monitoring"
	"github.com/magnopus-opensource/blackhole/internal/recording"
	"github.com/magnopus-opensource/blackhole/internal/testutil"
	"github.com/magnopus-opensource/blackhole/internal/timeutil"
)

func TestMain(m *testing.M) {
	monitoring.SetLogger(nil)
	os.Exit(m.Run())
}

type mockTakes struct {
	takes     map[catalog.TakeID]catalog.Take
	upserted  *catalog.TakeUpdate
	updated   *catalog.TakeUpdate
	manyCalls []string
}

func newMockTakes(takes ...catalog.Take) *mockTakes {
	m := &mockTakes{takes: make(map[catalog.TakeID]catalog.Take)}
	for _, t := range takes {
		m.takes[t.ID()] = t
	}
	return m
}

func (m *mockTakes) Get(slate string, takeNumber int) (catalog.Take, error) {
	t, ok := m.takes[catalog.TakeID{Slate: slate, TakeNumber: takeNumber}]
	if !ok {
		return catalog.Take{}, catalog.ErrNotFound
	}
	return t, nil
}

func (m *mockTakes) GetMany(startDate, endDate, slateHint string) ([]catalog.Take, error) {
	m.manyCalls = append(m.manyCalls, startDate+"|"+endDate+"|"+slateHint)
	var out []catalog.Take
	for _, t := range m.takes {
		out = append(out, t)
	}
	return out, nil
}

func (m *mockTakes) GetByIDs(ids []catalog.TakeID, includeCorrections bool) ([]catalog.Take, error) {
	var out []catalog.Take
	for _, id := range ids {
		if t, ok := m.takes[id]; ok {
			out = append(out, t)
		}
	}
	return out, nil
}

func (m *mockTakes) Upsert(u catalog.TakeUpdate, today string) (catalog.Take, error) {
	m.upserted = &u
	return catalog.Take{Slate: u.Slate, TakeNumber: u.TakeNumber, DateCreated: today}, nil
}

func (m *mockTakes) Update(u catalog.TakeUpdate) (catalog.Take, error) {
	id := catalog.TakeID{Slate: u.Slate, TakeNumber: u.TakeNumber}
	t, ok := m.takes[id]
	if !ok {
		return catalog.Take{}, catalog.ErrNotFound
	}
	m.updated = &u
	return t, nil
}

type mockRecorder struct {
	active     bool
	slate      string
	takeNumber int
	frameRate  int
	startErr   error
	started    *catalog.Take
	calls      []string
}

func (m *mockRecorder) Status() (bool, string, int, int) {
	return m.active, m.slate, m.takeNumber, m.frameRate
}

func (m *mockRecorder) Start(take catalog.Take) (*recording.Session, error) {
	if m.startErr != nil {
		return nil, m.startErr
	}
	m.started = &take
	m.calls = append(m.calls, "start")
	return nil, nil
}

func (m *mockRecorder) Stop() { m.calls = append(m.calls, "stop") }

type mockExporter struct {
	got    []catalog.Take
	result export.Result
}

func (m *mockExporter) Export(takes []catalog.Take) (export.Result, error) {
	m.got = takes
	return m.result, nil
}

func newTestServer(takes Takes, rec Recorder, exp Exporter) http.Handler {
	clock := timeutil.NewMockClock(time.Date(2026, 3, 14, 12, 0, 0, 0, time.UTC))
	return NewServer(takes, rec, exp, clock).ServeMux()
}

func doRequest(t *testing.T, h http.Handler, method, target, body string) *httptest.ResponseRecorder {
	t.Helper()
	var reader *strings.Reader
	if body == "" {
		reader = strings.NewReader("")
	} else {
		reader = strings.NewReader(body)
	}
	req := httptest.NewRequest(method, target, reader)
	w := httptest.NewRecorder()
	h.ServeHTTP(w, req)
	return w
}

func TestShowTake(t *testing.T) {
	takes := newMockTakes(catalog.Take{Slate: "SlateA", TakeNumber: 1, DateCreated: "2026-03-14"})
	h := newTestServer(takes, &mockRecorder{}, &mockExporter{})

	w := doRequest(t, h, http.MethodGet, "/take/SlateA/1", "")
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, body %s", w.Code, w.Body)
	}
	var got catalog.Take
	testutil.DecodeBody(t, w, &got)
	if got.Slate != "SlateA" || got.TakeNumber != 1 {
		t.Errorf("take = %+v", got)
	}

	if w := doRequest(t, h, http.MethodGet, "/take/SlateA/2", ""); w.Code != http.StatusNotFound {
		t.Errorf("missing take status = %d", w.Code)
	}
	if w := doRequest(t, h, http.MethodGet, "/take/SlateA/one", ""); w.Code != http.StatusBadRequest {
		t.Errorf("bad take number status = %d", w.Code)
	}
}

func TestListTakes(t *testing.T) {
	takes := newMockTakes()
	h := newTestServer(takes, &mockRecorder{}, &mockExporter{})

	w := doRequest(t, h, http.MethodGet, "/take/?start_date=2026-03-01&end_date=2026-03-31&slate_hint=Slate", "")
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, body %s", w.Code, w.Body)
	}
	if strings.TrimSpace(w.Body.String()) != "[]" {
		t.Errorf("empty list body = %q", w.Body.String())
	}
	if len(takes.manyCalls) != 1 || takes.manyCalls[0] != "2026-03-01|2026-03-31|Slate" {
		t.Errorf("GetMany calls = %v", takes.manyCalls)
	}

	if w := doRequest(t, h, http.MethodGet, "/take/?start_date=yesterday", ""); w.Code != http.StatusBadRequest {
		t.Errorf("bad date status = %d", w.Code)
	}
}

func TestUpdateTakeUpserts(t *testing.T) {
	takes := newMockTakes()
	h := newTestServer(takes, &mockRecorder{}, &mockExporter{})

	w := doRequest(t, h, http.MethodPut, "/take/update",
		`{"slate":"SlateA","take_number":2,"description":"pickup"}`)
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, body %s", w.Code, w.Body)
	}
	if takes.upserted == nil || takes.upserted.Description == nil || *takes.upserted.Description != "pickup" {
		t.Errorf("upserted = %+v", takes.upserted)
	}
	var got catalog.Take
	testutil.DecodeBody(t, w, &got)
	if got.DateCreated != "2026-03-14" {
		t.Errorf("date_created = %q, want today", got.DateCreated)
	}

	if w := doRequest(t, h, http.MethodPut, "/take/update", `{"take_number":2}`); w.Code != http.StatusBadRequest {
		t.Errorf("missing slate status = %d", w.Code)
	}
}

func TestShowRecording(t *testing.T) {
	rec := &mockRecorder{}
	h := newTestServer(newMockTakes(), rec, &mockExporter{})

	var body map[string]interface{}
	w := doRequest(t, h, http.MethodGet, "/recording", "")
	testutil.DecodeBody(t, w, &body)
	if body["status"] != "stopped" {
		t.Errorf("idle body = %v", body)
	}

	rec.active, rec.slate, rec.takeNumber, rec.frameRate = true, "SlateA", 3, 24
	w = doRequest(t, h, http.MethodGet, "/recording", "")
	body = nil
	testutil.DecodeBody(t, w, &body)
	if body["status"] != "started" || body["slate"] != "SlateA" || body["take_number"] != float64(3) {
		t.Errorf("active body = %v", body)
	}
}

func TestStartRecording(t *testing.T) {
	rec := &mockRecorder{}
	h := newTestServer(newMockTakes(), rec, &mockExporter{})

	w := doRequest(t, h, http.MethodPost,
		"/recording/SlateA/1/start?frame_rate=24&timecode_in=1000&description=opening&map=StageB", "")
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, body %s", w.Code, w.Body)
	}

	if rec.started == nil {
		t.Fatal("recorder never started")
	}
	got := *rec.started
	if got.Slate != "SlateA" || got.TakeNumber != 1 || got.FrameRate != 24 {
		t.Errorf("started take = %+v", got)
	}
	if got.TimecodeInSMPTE != "00:00:41:16" {
		t.Errorf("timecode_in_smpte = %q", got.TimecodeInSMPTE)
	}
	if got.Valid {
		t.Error("new take marked valid")
	}
	if got.DateCreated != "2026-03-14" {
		t.Errorf("date_created = %q", got.DateCreated)
	}
	if got.Description == nil || *got.Description != "opening" || got.Map == nil || *got.Map != "StageB" {
		t.Errorf("optionals = %v %v", got.Description, got.Map)
	}
}

func TestStartRecordingRejections(t *testing.T) {
	tests := []struct {
		name     string
		target   string
		startErr error
	}{
		{"missing frame rate", "/recording/SlateA/1/start?timecode_in=0", nil},
		{"bad timecode", "/recording/SlateA/1/start?frame_rate=24&timecode_in=-5", nil},
		{"unsupported frame rate", "/recording/SlateA/1/start?frame_rate=17&timecode_in=0", nil},
		{"conflict", "/recording/SlateA/1/start?frame_rate=24&timecode_in=0", recording.ErrConflict},
		{"duplicate take", "/recording/SlateA/1/start?frame_rate=24&timecode_in=0", catalog.ErrDuplicate},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := &mockRecorder{startErr: tt.startErr}
			h := newTestServer(newMockTakes(), rec, &mockExporter{})
			w := doRequest(t, h, http.MethodPost, tt.target, "")
			if w.Code != http.StatusBadRequest {
				t.Errorf("status = %d, body %s", w.Code, w.Body)
			}
		})
	}
}

func TestStopRecording(t *testing.T) {
	takes := newMockTakes(catalog.Take{Slate: "SlateA", TakeNumber: 1, DateCreated: "2026-03-14", FrameRate: 24})
	rec := &mockRecorder{active: true, slate: "SlateA", takeNumber: 1, frameRate: 24}
	h := newTestServer(takes, rec, &mockExporter{})

	w := doRequest(t, h, http.MethodPost,
		"/recording/SlateA/1/stop?timecode_out=1048&sequence_path=/seq&snapshot_path=/snap", "")
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, body %s", w.Code, w.Body)
	}

	u := takes.updated
	if u == nil {
		t.Fatal("take never updated")
	}
	if u.Valid == nil || !*u.Valid {
		t.Error("take not marked valid")
	}
	if u.TimecodeOutFrames == nil || *u.TimecodeOutFrames != 1048 {
		t.Errorf("timecode_out_frames = %v", u.TimecodeOutFrames)
	}
	if u.TimecodeOutSMPTE == nil || *u.TimecodeOutSMPTE != "00:00:43:16" {
		t.Errorf("timecode_out_smpte = %v", u.TimecodeOutSMPTE)
	}
	if u.LevelSequenceLocation == nil || *u.LevelSequenceLocation != "/seq" {
		t.Errorf("sequence location = %v", u.LevelSequenceLocation)
	}

	if len(rec.calls) != 1 || rec.calls[0] != "stop" {
		t.Errorf("recorder calls = %v", rec.calls)
	}
}

func TestStopRecordingRejections(t *testing.T) {
	takes := newMockTakes(catalog.Take{Slate: "SlateA", TakeNumber: 1})

	t.Run("idle", func(t *testing.T) {
		h := newTestServer(takes, &mockRecorder{}, &mockExporter{})
		if w := doRequest(t, h, http.MethodPost, "/recording/SlateA/1/stop?timecode_out=10", ""); w.Code != http.StatusBadRequest {
			t.Errorf("status = %d", w.Code)
		}
	})
	t.Run("mismatched take", func(t *testing.T) {
		rec := &mockRecorder{active: true, slate: "SlateA", takeNumber: 1, frameRate: 24}
		h := newTestServer(takes, rec, &mockExporter{})
		if w := doRequest(t, h, http.MethodPost, "/recording/SlateB/9/stop?timecode_out=10", ""); w.Code != http.StatusBadRequest {
			t.Errorf("status = %d", w.Code)
		}
		if len(rec.calls) != 0 {
			t.Errorf("recorder calls = %v", rec.calls)
		}
	})
	t.Run("timecode_out before timecode_in", func(t *testing.T) {
		early := newMockTakes(catalog.Take{Slate: "SlateA", TakeNumber: 1, FrameRate: 24, TimecodeInFrames: 1000})
		rec := &mockRecorder{active: true, slate: "SlateA", takeNumber: 1, frameRate: 24}
		h := newTestServer(early, rec, &mockExporter{})
		if w := doRequest(t, h, http.MethodPost, "/recording/SlateA/1/stop?timecode_out=900", ""); w.Code != http.StatusBadRequest {
			t.Errorf("status = %d, body %s", w.Code, w.Body)
		}
		if early.updated != nil || len(rec.calls) != 0 {
			t.Errorf("rejected stop mutated state: %+v %v", early.updated, rec.calls)
		}
	})
	t.Run("missing timecode_out", func(t *testing.T) {
		rec := &mockRecorder{active: true, slate: "SlateA", takeNumber: 1, frameRate: 24}
		h := newTestServer(takes, rec, &mockExporter{})
		if w := doRequest(t, h, http.MethodPost, "/recording/SlateA/1/stop", ""); w.Code != http.StatusBadRequest {
			t.Errorf("status = %d", w.Code)
		}
	})
}

func TestExportSelection(t *testing.T) {
	takes := newMockTakes(catalog.Take{Slate: "SlateA", TakeNumber: 1, DateCreated: "2026-03-14"})
	exp := &mockExporter{result: export.Result{
		Location:  "/exports/x.zip",
		Succeeded: []catalog.TakeID{{Slate: "SlateA", TakeNumber: 1}},
		Failed:    []catalog.TakeID{},
	}}
	h := newTestServer(takes, &mockRecorder{}, exp)

	w := doRequest(t, h, http.MethodPost, "/export_selection",
		`{"id_list":[["SlateA",1],["Ghost",9]]}`)
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, body %s", w.Code, w.Body)
	}
	if len(exp.got) != 1 || exp.got[0].Slate != "SlateA" {
		t.Errorf("exported takes = %+v", exp.got)
	}

	var result export.Result
	testutil.DecodeBody(t, w, &result)
	if len(result.Failed) != 1 || result.Failed[0] != (catalog.TakeID{Slate: "Ghost", TakeNumber: 9}) {
		t.Errorf("failed exports = %v", result.Failed)
	}

	if w := doRequest(t, h, http.MethodPost, "/export_selection", `{"id_list":[]}`); w.Code != http.StatusBadRequest {
		t.Errorf("empty id_list status = %d", w.Code)
	}
}

func TestExportByDate(t *testing.T) {
	takes := newMockTakes(catalog.Take{Slate: "SlateA", TakeNumber: 1, DateCreated: "2026-03-14"})
	exp := &mockExporter{result: export.Result{Location: "/exports/x.zip"}}
	h := newTestServer(takes, &mockRecorder{}, exp)

	w := doRequest(t, h, http.MethodPost, "/export_by_date",
		`{"start_date":"2026-03-01","end_date":"2026-03-31"}`)
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, body %s", w.Code, w.Body)
	}
	if len(exp.got) != 1 {
		t.Errorf("exported takes = %+v", exp.got)
	}

	if w := doRequest(t, h, http.MethodPost, "/export_by_date", `{"start_date":"March"}`); w.Code != http.StatusBadRequest {
		t.Errorf("bad date status = %d", w.Code)
	}
}
