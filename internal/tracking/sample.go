// Package tracking defines the in-memory pose sample handed from capture
// threads to the archive writers.
package tracking

// Sample is one device pose converted to the USD target frame: right-handed
// Y-up, centimetres, rotations in degrees. TimecodeKey is the SMPTE frame
// count the sample was stamped with on arrival.
type Sample struct {
	X     float64
	Y     float64
	Z     float64
	Pitch float64
	Yaw   float64
	Roll  float64

	TimecodeKey int
}
