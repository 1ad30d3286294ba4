package catalog

import (
	"encoding/json"
	"fmt"
)

// Take is one catalog row. The composite key is (Slate, TakeNumber);
// DateCreated is immutable after insert. Optional columns are pointers and
// omitted from JSON when unset.
type Take struct {
	Slate                 string  `json:"slate"`
	TakeNumber            int     `json:"take_number"`
	DateCreated           string  `json:"date_created"`
	CorrectedSlate        *string `json:"corrected_slate,omitempty"`
	CorrectedTakeNumber   *int    `json:"corrected_take_number,omitempty"`
	Valid                 bool    `json:"valid"`
	FrameRate             int     `json:"frame_rate"`
	TimecodeInFrames      int     `json:"timecode_in_frames"`
	TimecodeOutFrames     *int    `json:"timecode_out_frames,omitempty"`
	TimecodeInSMPTE       string  `json:"timecode_in_smpte"`
	TimecodeOutSMPTE      *string `json:"timecode_out_smpte,omitempty"`
	LevelSequenceLocation *string `json:"level_sequence_location,omitempty"`
	LevelSnapshotLocation *string `json:"level_snapshot_location,omitempty"`
	Map                   *string `json:"map,omitempty"`
	Description           *string `json:"description,omitempty"`
	UsdExportLocation     *string `json:"usd_export_location,omitempty"`
}

// ID returns the take's catalog key.
func (t Take) ID() TakeID {
	return TakeID{Slate: t.Slate, TakeNumber: t.TakeNumber}
}

// TakeUpdate carries a partial mutation of a take. Only non-nil fields are
// applied; Slate and TakeNumber select the row.
type TakeUpdate struct {
	Slate                 string  `json:"slate"`
	TakeNumber            int     `json:"take_number"`
	CorrectedSlate        *string `json:"corrected_slate,omitempty"`
	CorrectedTakeNumber   *int    `json:"corrected_take_number,omitempty"`
	Valid                 *bool   `json:"valid,omitempty"`
	FrameRate             *int    `json:"frame_rate,omitempty"`
	TimecodeInFrames      *int    `json:"timecode_in_frames,omitempty"`
	TimecodeOutFrames     *int    `json:"timecode_out_frames,omitempty"`
	TimecodeInSMPTE       *string `json:"timecode_in_smpte,omitempty"`
	TimecodeOutSMPTE      *string `json:"timecode_out_smpte,omitempty"`
	LevelSequenceLocation *string `json:"level_sequence_location,omitempty"`
	LevelSnapshotLocation *string `json:"level_snapshot_location,omitempty"`
	Map                   *string `json:"map,omitempty"`
	Description           *string `json:"description,omitempty"`
	UsdExportLocation     *string `json:"usd_export_location,omitempty"`
}

// TakeID identifies a take. On the wire it is the two-element array
// ["slate", take_number] used by the export selection endpoint.
type TakeID struct {
	Slate      string
	TakeNumber int
}

func (id TakeID) String() string {
	return fmt.Sprintf("%s/%d", id.Slate, id.TakeNumber)
}

// MarshalJSON renders the id as ["slate", take_number].
func (id TakeID) MarshalJSON() ([]byte, error) {
	return json.Marshal([]interface{}{id.Slate, id.TakeNumber})
}

// UnmarshalJSON accepts the ["slate", take_number] pair shape.
func (id *TakeID) UnmarshalJSON(data []byte) error {
	var pair []json.RawMessage
	if err := json.Unmarshal(data, &pair); err != nil {
		return err
	}
	if len(pair) != 2 {
		return fmt.Errorf("take id must be a [slate, take_number] pair, got %d elements", len(pair))
	}
	if err := json.Unmarshal(pair[0], &id.Slate); err != nil {
		return fmt.Errorf("take id slate: %w", err)
	}
	if err := json.Unmarshal(pair[1], &id.TakeNumber); err != nil {
		return fmt.Errorf("take id number: %w", err)
	}
	return nil
}

// Columns lists the takes table columns in schema order. The workbook mirror
// derives its header row from this.
var Columns = []string{
	"slate",
	"take_number",
	"date_created",
	"corrected_slate",
	"corrected_take_number",
	"valid",
	"frame_rate",
	"timecode_in_frames",
	"timecode_out_frames",
	"timecode_in_smpte",
	"timecode_out_smpte",
	"level_sequence_location",
	"level_snapshot_location",
	"map",
	"description",
	"usd_export_location",
}

// ColumnValues returns the take's fields in Columns order, with unset
// optionals as empty strings. Used by the workbook mirror when writing rows.
func (t Take) ColumnValues() []interface{} {
	return []interface{}{
		t.Slate,
		t.TakeNumber,
		t.DateCreated,
		strOrEmpty(t.CorrectedSlate),
		intOrEmpty(t.CorrectedTakeNumber),
		t.Valid,
		t.FrameRate,
		t.TimecodeInFrames,
		intOrEmpty(t.TimecodeOutFrames),
		t.TimecodeInSMPTE,
		strOrEmpty(t.TimecodeOutSMPTE),
		strOrEmpty(t.LevelSequenceLocation),
		strOrEmpty(t.LevelSnapshotLocation),
		strOrEmpty(t.Map),
		strOrEmpty(t.Description),
		strOrEmpty(t.UsdExportLocation),
	}
}

func strOrEmpty(s *string) interface{} {
	if s == nil {
		return ""
	}
	return *s
}

func intOrEmpty(n *int) interface{} {
	if n == nil {
		return ""
	}
	return *n
}
