// Package freed implements the FreeD camera tracking protocol: a fixed-size
// UDP broadcast format used by tracking heads to stream real-time pan/tilt
// pose. Only the type D1 position/orientation message is handled.
package freed

import (
	"math"
	"strconv"

	"github.com/magnopus-opensource/blackhole/internal/tracking"
)

// FreeD D1 transform message layout. All multi-byte fields are big-endian.
const (
	PacketSize  = 29   // fixed D1 message size in bytes
	MessageType = 0xD1 // position/orientation message identifier

	rotationFractionBits = 15 // pan/tilt/roll: signed 24-bit, degrees, 1/32768 per LSB
	positionFractionBits = 6  // x/y/z: signed 24-bit, millimetres, 1/64 per LSB

	checksumSeed = 0x40 // checksum accumulator start value
)

// Byte offsets of each field within the D1 message.
const (
	offMessageType = 0
	offCameraID    = 1
	offPan         = 2
	offTilt        = 5
	offRoll        = 8
	offPosX        = 11
	offPosY        = 14
	offPosZ        = 17
	offZoom        = 20
	offFocus       = 23
	offSpare       = 26
	offChecksum    = 28
)

// Packet is a decoded D1 message. Rotations are degrees and positions
// millimetres, both in FreeD's right-handed Z-up frame. Valid is false when
// the frame length or checksum was wrong.
type Packet struct {
	CameraID int
	Pan      float64
	Tilt     float64
	Roll     float64
	PosX     float64
	PosY     float64
	PosZ     float64
	Zoom     int
	Focus    int
	Valid    bool
}

// Decode parses a FreeD datagram. It returns nil when the leading byte is
// not the D1 message type. A wrong-length frame yields a packet marked
// invalid with no field data; a full 29-byte frame is parsed and validated
// against its checksum.
func Decode(data []byte) *Packet {
	if len(data) == 0 || data[offMessageType] != MessageType {
		return nil
	}
	if len(data) != PacketSize {
		return &Packet{Valid: false}
	}
	return &Packet{
		CameraID: int(data[offCameraID]),
		Pan:      fixed24(data[offPan:], rotationFractionBits),
		Tilt:     fixed24(data[offTilt:], rotationFractionBits),
		Roll:     fixed24(data[offRoll:], rotationFractionBits),
		PosX:     fixed24(data[offPosX:], positionFractionBits),
		PosY:     fixed24(data[offPosY:], positionFractionBits),
		PosZ:     fixed24(data[offPosZ:], positionFractionBits),
		Zoom:     int(uint24(data[offZoom:])),
		Focus:    int(uint24(data[offFocus:])),
		Valid:    ChecksumValid(data),
	}
}

// Encode serialises p into a checksummed 29-byte D1 message. The two spare
// bytes are always zero.
func Encode(p *Packet) []byte {
	buf := make([]byte, PacketSize)
	buf[offMessageType] = MessageType
	buf[offCameraID] = byte(p.CameraID)
	putFixed24(buf[offPan:], p.Pan, rotationFractionBits)
	putFixed24(buf[offTilt:], p.Tilt, rotationFractionBits)
	putFixed24(buf[offRoll:], p.Roll, rotationFractionBits)
	putFixed24(buf[offPosX:], p.PosX, positionFractionBits)
	putFixed24(buf[offPosY:], p.PosY, positionFractionBits)
	putFixed24(buf[offPosZ:], p.PosZ, positionFractionBits)
	putUint24(buf[offZoom:], uint32(p.Zoom))
	putUint24(buf[offFocus:], uint32(p.Focus))
	buf[offChecksum] = Checksum(buf)
	return buf
}

// ChecksumValid subtracts every byte of the frame from the seed; a valid
// frame leaves the 8-bit accumulator at exactly zero.
func ChecksumValid(data []byte) bool {
	acc := byte(checksumSeed)
	for _, b := range data {
		acc -= b
	}
	return acc == 0
}

// Checksum returns the trailing byte that makes a D1 frame checksum-valid:
// the seed minus the first 28 payload bytes, modulo 256.
func Checksum(data []byte) byte {
	acc := byte(checksumSeed)
	for _, b := range data[:offChecksum] {
		acc -= b
	}
	return acc
}

// Sample converts the packet's pose into the USD target frame: right-handed
// Y-up in centimetres, with yaw rotated 90 degrees to match the USD camera
// forward convention. The caller stamps TimecodeKey on arrival.
func (p *Packet) Sample() tracking.Sample {
	return tracking.Sample{
		X:     p.PosY / 10,
		Y:     p.PosZ / 10,
		Z:     p.PosX / 10,
		Pitch: p.Tilt,
		Yaw:   -(p.Pan + 90),
		Roll:  p.Roll,
	}
}

// fixed24 decodes a big-endian 24-bit signed fixed-point field, sign
// extending bit 23 before scaling down by 2^fracBits.
func fixed24(b []byte, fracBits uint) float64 {
	v := int32(b[0])<<16 | int32(b[1])<<8 | int32(b[2])
	if v&0x800000 != 0 {
		v -= 0x1000000
	}
	return float64(v) / float64(int32(1)<<fracBits)
}

func putFixed24(b []byte, v float64, fracBits uint) {
	raw := int32(math.Round(v * float64(int32(1)<<fracBits)))
	b[0] = byte(raw >> 16)
	b[1] = byte(raw >> 8)
	b[2] = byte(raw)
}

func uint24(b []byte) uint32 {
	return uint32(b[0])<<16 | uint32(b[1])<<8 | uint32(b[2])
}

func putUint24(b []byte, v uint32) {
	b[0] = byte(v >> 16)
	b[1] = byte(v >> 8)
	b[2] = byte(v)
}

// ProtocolName is the identifier used for FreeD devices in configuration
// files.
const ProtocolName = "FreeD"

// Decoder adapts the FreeD codec to the capture pipeline. Tracking heads on
// set are configured one per port, so the decoder does not multiplex device
// streams.
type Decoder struct{}

// NewDecoder returns a FreeD stream decoder.
func NewDecoder() *Decoder { return &Decoder{} }

// Protocol returns the configuration identifier for FreeD.
func (*Decoder) Protocol() string { return ProtocolName }

// PacketSize returns the fixed D1 datagram size.
func (*Decoder) PacketSize() int { return PacketSize }

// MultiDevice reports whether one port may carry several device streams.
func (*Decoder) MultiDevice() bool { return false }

// DecodeSample decodes one datagram into a pose sample and its stream key
// (the FreeD camera id). ok is false for non-D1, wrong-length, or
// checksum-invalid frames.
func (*Decoder) DecodeSample(data []byte) (tracking.Sample, string, bool) {
	p := Decode(data)
	if p == nil || !p.Valid {
		return tracking.Sample{}, "", false
	}
	return p.Sample(), strconv.Itoa(p.CameraID), true
}
