// Package usd writes animated camera stages as USDA 1.0 text files. There is
// no Go binding for the USD runtime, so the stages are generated directly:
// one time-sampled camera stage per captured device, plus a master stage
// composing them through relative sub-layer paths.
package usd

import (
	"bufio"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"

	"github.com/magnopus-opensource/blackhole/internal/fsutil"
	"github.com/magnopus-opensource/blackhole/internal/tracking"
)

// WriteError reports a stage that could not be created or saved.
type WriteError struct {
	Path string
	Err  error
}

func (e *WriteError) Error() string {
	return fmt.Sprintf("failed to write usd stage %s: %v", e.Path, e.Err)
}

func (e *WriteError) Unwrap() error { return e.Err }

// StageMeta carries the take metadata stamped onto a camera stage.
type StageMeta struct {
	Slate         string
	TakeNumber    int
	Map           string // empty means no Map attribute
	FrameRate     int
	StartTimeCode int
	EndTimeCode   int
}

// WriteCameraStage writes an animated camera stage at path. The camera prim
// is named after the file stem and carries one translate and one rotateXYZ
// time sample per captured pose, keyed by the sample's timecode frame. Later
// samples at the same frame overwrite earlier ones. Zero samples still yield
// a valid stage.
func WriteCameraStage(path string, meta StageMeta, samples []tracking.Sample) error {
	name := strings.TrimSuffix(filepath.Base(path), filepath.Ext(path))

	keys, byFrame := collate(samples)

	var b strings.Builder
	b.WriteString("#usda 1.0\n(\n")
	b.WriteString("    defaultPrim = \"World\"\n")
	fmt.Fprintf(&b, "    endTimeCode = %d\n", meta.EndTimeCode)
	fmt.Fprintf(&b, "    framesPerSecond = %d\n", meta.FrameRate)
	b.WriteString("    metersPerUnit = 0.01\n")
	fmt.Fprintf(&b, "    startTimeCode = %d\n", meta.StartTimeCode)
	fmt.Fprintf(&b, "    timeCodesPerSecond = %d\n", meta.FrameRate)
	b.WriteString("    upAxis = \"Y\"\n")
	b.WriteString(")\n\n")

	b.WriteString("def Xform \"World\" (\n    kind = \"group\"\n)\n{\n")
	if meta.Map != "" {
		fmt.Fprintf(&b, "    custom string Map = %s\n\n", strconv.Quote(meta.Map))
	}
	b.WriteString("    def Xform \"anim\" (\n        kind = \"group\"\n    )\n    {\n")
	fmt.Fprintf(&b, "        custom string Slate = %s\n", strconv.Quote(meta.Slate))
	fmt.Fprintf(&b, "        custom int TakeNumber = %d\n\n", meta.TakeNumber)

	fmt.Fprintf(&b, "        def Camera %s (\n            kind = \"group\"\n        )\n        {\n", strconv.Quote(name))

	b.WriteString("            double3 xformOp:translate.timeSamples = {\n")
	for _, frame := range keys {
		s := byFrame[frame]
		fmt.Fprintf(&b, "                %d: (%s, %s, %s),\n", frame, f(s.X), f(s.Y), f(s.Z))
	}
	b.WriteString("            }\n")

	b.WriteString("            float3 xformOp:rotateXYZ.timeSamples = {\n")
	for _, frame := range keys {
		s := byFrame[frame]
		fmt.Fprintf(&b, "                %d: (%s, %s, %s),\n", frame, f(s.Pitch), f(s.Yaw), f(s.Roll))
	}
	b.WriteString("            }\n")

	b.WriteString("            uniform token[] xformOpOrder = [\"xformOp:translate\", \"xformOp:rotateXYZ\"]\n")
	b.WriteString("        }\n    }\n}\n")

	return save(path, b.String())
}

// WriteMasterStage writes a stage whose root layer sub-layers each of the
// given stage paths. Paths must already be relative with forward slashes;
// composition is entirely delegated to the sub-layers.
func WriteMasterStage(path string, subLayers []string) error {
	var b strings.Builder
	b.WriteString("#usda 1.0\n(\n")
	b.WriteString("    subLayers = [\n")
	for _, layer := range subLayers {
		fmt.Fprintf(&b, "        @%s@,\n", layer)
	}
	b.WriteString("    ]\n)\n")

	return save(path, b.String())
}

// collate applies same-frame overwrite in arrival order and returns the
// frame keys sorted ascending.
func collate(samples []tracking.Sample) ([]int, map[int]tracking.Sample) {
	byFrame := make(map[int]tracking.Sample, len(samples))
	for _, s := range samples {
		byFrame[s.TimecodeKey] = s
	}
	keys := make([]int, 0, len(byFrame))
	for frame := range byFrame {
		keys = append(keys, frame)
	}
	sort.Ints(keys)
	return keys, byFrame
}

func save(path, content string) error {
	if err := fsutil.EnsureDir(filepath.Dir(path)); err != nil {
		return &WriteError{Path: path, Err: err}
	}

	file, err := os.Create(path)
	if err != nil {
		return &WriteError{Path: path, Err: err}
	}

	w := bufio.NewWriter(file)
	if _, err := w.WriteString(content); err != nil {
		file.Close()
		return &WriteError{Path: path, Err: err}
	}
	if err := w.Flush(); err != nil {
		file.Close()
		return &WriteError{Path: path, Err: err}
	}
	if err := file.Close(); err != nil {
		return &WriteError{Path: path, Err: err}
	}
	return nil
}

// f renders a float in USDA-parseable form.
func f(v float64) string {
	return strconv.FormatFloat(v, 'g', -1, 64)
}
