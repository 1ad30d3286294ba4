package api

import (
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/magnopus-opensource/blackhole/internal/catalog"
	"github.com/magnopus-opensource/blackhole/internal/httputil"
	"github.com/magnopus-opensource/blackhole/internal/recording"
	"github.com/magnopus-opensource/blackhole/internal/timecode"
)

const dateLayout = "2006-01-02"

// takeKey extracts the slate and take number path segments.
func takeKey(r *http.Request) (string, int, error) {
	slate := r.PathValue("slate")
	number, err := strconv.Atoi(r.PathValue("take_number"))
	if err != nil {
		return "", 0, fmt.Errorf("take number %q is not an integer", r.PathValue("take_number"))
	}
	if slate == "" || number < 1 {
		return "", 0, fmt.Errorf("slate and a positive take number are required")
	}
	return slate, number, nil
}

func (s *Server) today() string {
	return s.clock.Now().Format(dateLayout)
}

func (s *Server) showTake(w http.ResponseWriter, r *http.Request) {
	slate, number, err := takeKey(r)
	if err != nil {
		httputil.BadRequest(w, err.Error())
		return
	}

	take, err := s.takes.Get(slate, number)
	if errors.Is(err, catalog.ErrNotFound) {
		httputil.NotFound(w, fmt.Sprintf("take %s/%d not found", slate, number))
		return
	}
	if err != nil {
		httputil.InternalServerError(w, err.Error())
		return
	}
	httputil.WriteJSONOK(w, take)
}

func (s *Server) listTakes(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	for _, key := range []string{"start_date", "end_date"} {
		if v := q.Get(key); v != "" {
			if _, err := time.Parse(dateLayout, v); err != nil {
				httputil.BadRequest(w, fmt.Sprintf("%s must be YYYY-MM-DD", key))
				return
			}
		}
	}

	takes, err := s.takes.GetMany(q.Get("start_date"), q.Get("end_date"), q.Get("slate_hint"))
	if err != nil {
		httputil.InternalServerError(w, err.Error())
		return
	}
	if takes == nil {
		takes = []catalog.Take{}
	}
	httputil.WriteJSONOK(w, takes)
}

func (s *Server) updateTake(w http.ResponseWriter, r *http.Request) {
	var update catalog.TakeUpdate
	if err := httputil.DecodeJSON(r, &update); err != nil {
		httputil.BadRequest(w, err.Error())
		return
	}
	if update.Slate == "" || update.TakeNumber < 1 {
		httputil.BadRequest(w, "slate and a positive take_number are required")
		return
	}

	take, err := s.takes.Upsert(update, s.today())
	if err != nil {
		httputil.InternalServerError(w, err.Error())
		return
	}
	httputil.WriteJSONOK(w, take)
}

func (s *Server) showRecording(w http.ResponseWriter, r *http.Request) {
	active, slate, number, _ := s.recorder.Status()
	if !active {
		httputil.WriteJSONOK(w, map[string]interface{}{"status": "stopped"})
		return
	}
	httputil.WriteJSONOK(w, map[string]interface{}{
		"status":      "started",
		"slate":       slate,
		"take_number": number,
	})
}

func (s *Server) startRecording(w http.ResponseWriter, r *http.Request) {
	slate, number, err := takeKey(r)
	if err != nil {
		httputil.BadRequest(w, err.Error())
		return
	}

	q := r.URL.Query()
	frameRate, err := strconv.Atoi(q.Get("frame_rate"))
	if err != nil || frameRate < 1 {
		httputil.BadRequest(w, "frame_rate must be a positive integer")
		return
	}
	timecodeIn, err := strconv.Atoi(q.Get("timecode_in"))
	if err != nil || timecodeIn < 0 {
		httputil.BadRequest(w, "timecode_in must be a non-negative frame count")
		return
	}
	smpte, err := timecode.ToSMPTE(float64(frameRate), timecodeIn)
	if err != nil {
		httputil.BadRequest(w, err.Error())
		return
	}

	take := catalog.Take{
		Slate:            slate,
		TakeNumber:       number,
		DateCreated:      s.today(),
		Valid:            false,
		FrameRate:        frameRate,
		TimecodeInFrames: timecodeIn,
		TimecodeInSMPTE:  smpte,
	}
	if v := q.Get("description"); v != "" {
		take.Description = &v
	}
	if v := q.Get("map"); v != "" {
		take.Map = &v
	}

	if _, err := s.recorder.Start(take); err != nil {
		switch {
		case errors.Is(err, recording.ErrConflict):
			httputil.BadRequest(w, err.Error())
		case errors.Is(err, catalog.ErrDuplicate):
			httputil.BadRequest(w, fmt.Sprintf("take %s/%d already exists", slate, number))
		default:
			httputil.InternalServerError(w, err.Error())
		}
		return
	}

	httputil.WriteJSONOK(w, map[string]interface{}{"status": "started", "result": take})
}

func (s *Server) stopRecording(w http.ResponseWriter, r *http.Request) {
	slate, number, err := takeKey(r)
	if err != nil {
		httputil.BadRequest(w, err.Error())
		return
	}

	active, activeSlate, activeNumber, frameRate := s.recorder.Status()
	if !active {
		httputil.BadRequest(w, "no recording in progress")
		return
	}
	if activeSlate != slate || activeNumber != number {
		httputil.BadRequest(w, fmt.Sprintf("recording %s/%d is active, not %s/%d",
			activeSlate, activeNumber, slate, number))
		return
	}

	q := r.URL.Query()
	timecodeOut, err := strconv.Atoi(q.Get("timecode_out"))
	if err != nil || timecodeOut < 0 {
		httputil.BadRequest(w, "timecode_out must be a non-negative frame count")
		return
	}
	current, err := s.takes.Get(slate, number)
	if err != nil {
		httputil.InternalServerError(w, err.Error())
		return
	}
	if timecodeOut < current.TimecodeInFrames {
		httputil.BadRequest(w, fmt.Sprintf("timecode_out %d is before timecode_in %d",
			timecodeOut, current.TimecodeInFrames))
		return
	}
	smpte, err := timecode.ToSMPTE(float64(frameRate), timecodeOut)
	if err != nil {
		httputil.BadRequest(w, err.Error())
		return
	}

	valid := true
	update := catalog.TakeUpdate{
		Slate:             slate,
		TakeNumber:        number,
		Valid:             &valid,
		TimecodeOutFrames: &timecodeOut,
		TimecodeOutSMPTE:  &smpte,
	}
	if v := q.Get("sequence_path"); v != "" {
		update.LevelSequenceLocation = &v
	}
	if v := q.Get("snapshot_path"); v != "" {
		update.LevelSnapshotLocation = &v
	}
	if v := q.Get("description"); v != "" {
		update.Description = &v
	}

	// The row updates before the stop signal so the archiver reads the
	// final timecodes.
	take, err := s.takes.Update(update)
	if err != nil {
		httputil.InternalServerError(w, err.Error())
		return
	}
	s.recorder.Stop()

	httputil.WriteJSONOK(w, map[string]interface{}{"status": "stopped", "result": take})
}

func (s *Server) exportSelection(w http.ResponseWriter, r *http.Request) {
	var body struct {
		IDList []catalog.TakeID `json:"id_list"`
	}
	if err := httputil.DecodeJSON(r, &body); err != nil {
		httputil.BadRequest(w, err.Error())
		return
	}
	if len(body.IDList) == 0 {
		httputil.BadRequest(w, "id_list must not be empty")
		return
	}

	takes, err := s.takes.GetByIDs(body.IDList, true)
	if err != nil {
		httputil.InternalServerError(w, err.Error())
		return
	}

	result, err := s.exporter.Export(takes)
	if err != nil {
		httputil.InternalServerError(w, err.Error())
		return
	}

	// Requested pairs that matched no row, directly or via correction,
	// count as failed exports.
	covered := make(map[catalog.TakeID]bool, len(takes))
	for _, t := range takes {
		covered[t.ID()] = true
		if t.CorrectedSlate != nil && t.CorrectedTakeNumber != nil {
			covered[catalog.TakeID{Slate: *t.CorrectedSlate, TakeNumber: *t.CorrectedTakeNumber}] = true
		}
	}
	for _, id := range body.IDList {
		if !covered[id] {
			result.Failed = append(result.Failed, id)
		}
	}

	httputil.WriteJSONOK(w, result)
}

func (s *Server) exportByDate(w http.ResponseWriter, r *http.Request) {
	var body struct {
		StartDate string `json:"start_date"`
		EndDate   string `json:"end_date"`
	}
	if err := httputil.DecodeJSON(r, &body); err != nil {
		httputil.BadRequest(w, err.Error())
		return
	}
	for key, v := range map[string]string{"start_date": body.StartDate, "end_date": body.EndDate} {
		if _, err := time.Parse(dateLayout, v); err != nil {
			httputil.BadRequest(w, fmt.Sprintf("%s must be YYYY-MM-DD", key))
			return
		}
	}

	takes, err := s.takes.GetMany(body.StartDate, body.EndDate, "")
	if err != nil {
		httputil.InternalServerError(w, err.Error())
		return
	}

	result, err := s.exporter.Export(takes)
	if err != nil {
		httputil.InternalServerError(w, err.Error())
		return
	}
	httputil.WriteJSONOK(w, result)
}
