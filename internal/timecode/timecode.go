// Package timecode converts between frame counts and SMPTE timecode at a
// given frame rate. Frame counts are zero-based from midnight; drop-frame
// accounting applies to the NTSC rates 29.97 and 59.94.
package timecode

import (
	"errors"
	"fmt"
	"math"
	"time"
)

// ErrInvalidFrameRate is returned for non-positive or non-finite frame rates.
var ErrInvalidFrameRate = errors.New("invalid frame rate")

// rateTolerance absorbs float representations of the NTSC rates
// (29.97 vs 30000/1001).
const rateTolerance = 0.01

// IsDropFrame reports whether rate uses drop-frame numbering.
// Only 29.97 and 59.94 drop; 23.976 does not.
func IsDropFrame(rate float64) bool {
	return math.Abs(rate-29.97) < rateTolerance || math.Abs(rate-59.94) < rateTolerance
}

func validateRate(rate float64) error {
	if math.IsNaN(rate) || math.IsInf(rate, 0) || rate <= 0 {
		return fmt.Errorf("%w: %v", ErrInvalidFrameRate, rate)
	}
	return nil
}

// timeBase is the integer frame base used for SMPTE field arithmetic
// (30 for 29.97, 60 for 59.94, the rate itself for integer rates).
func timeBase(rate float64) int {
	return int(math.Round(rate))
}

// dropPerMinute is the number of frame labels skipped at each minute
// boundary not divisible by ten (2 at 29.97, 4 at 59.94).
func dropPerMinute(base int) int {
	return base / 15
}

// SystemFrames converts a wall-clock instant into the frame count since
// midnight at rate. The frame within the current second comes from the
// sub-second fraction; drop-frame rates subtract the labels dropped at
// minute boundaries so counts line up with SMPTE numbering.
func SystemFrames(rate float64, now time.Time) (int, error) {
	if err := validateRate(rate); err != nil {
		return 0, err
	}

	h, m, s := now.Clock()
	base := timeBase(rate)

	frame := int(float64(now.Nanosecond()) / float64(time.Second) * rate)
	if frame >= base {
		frame = base - 1
	}

	total := (h*3600+m*60+s)*base + frame
	if IsDropFrame(rate) {
		minutes := h*60 + m
		total -= dropPerMinute(base) * (minutes - minutes/10)
	}
	return total, nil
}

// ToSMPTE renders a frame count as HH:MM:SS:FF. Drop-frame rates use a
// semicolon before the frame field and skip the dropped labels. Hours wrap
// at 24.
func ToSMPTE(rate float64, frames int) (string, error) {
	if err := validateRate(rate); err != nil {
		return "", err
	}
	if frames < 0 {
		return "", fmt.Errorf("negative frame count: %d", frames)
	}

	base := timeBase(rate)
	sep := ":"

	if IsDropFrame(rate) {
		sep = ";"
		drop := dropPerMinute(base)
		framesPerMin := base*60 - drop
		framesPer10Min := base*600 - drop*9

		d := frames / framesPer10Min
		m := frames % framesPer10Min
		frames += drop * 9 * d
		if m > drop {
			frames += drop * ((m - drop) / framesPerMin)
		}
	}

	ff := frames % base
	seconds := frames / base
	ss := seconds % 60
	mm := (seconds / 60) % 60
	hh := (seconds / 3600) % 24
	return fmt.Sprintf("%02d:%02d:%02d%s%02d", hh, mm, ss, sep, ff), nil
}
