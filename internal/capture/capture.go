// Package capture receives tracking telemetry over UDP during a recording.
// One PortCapture owns one bound socket; the supervisor in Build groups
// configured devices onto captures and the recording session runs them.
package capture

import (
	"context"
	"errors"
	"fmt"
	"net"
	"sync"
	"time"

	"github.com/magnopus-opensource/blackhole/internal/config"
	"github.com/magnopus-opensource/blackhole/internal/monitoring"
	"github.com/magnopus-opensource/blackhole/internal/timecode"
	"github.com/magnopus-opensource/blackhole/internal/timeutil"
	"github.com/magnopus-opensource/blackhole/internal/tracking"
)

// pollInterval bounds how long a capture blocks on its socket before
// re-checking the stop signal. Shutdown latency is at most this.
const pollInterval = time.Second

// Decoder turns protocol datagrams into pose samples. Implementations are
// registered by protocol name; see RegisterProtocol.
type Decoder interface {
	// Protocol returns the identifier used in device configuration files.
	Protocol() string
	// PacketSize returns the fixed datagram size of the protocol.
	PacketSize() int
	// MultiDevice reports whether one port may carry several device streams.
	MultiDevice() bool
	// DecodeSample decodes one datagram into a sample plus the stream key
	// identifying the device within the port. ok is false for frames that
	// should be dropped (wrong type, wrong length, bad checksum).
	DecodeSample(data []byte) (sample tracking.Sample, streamKey string, ok bool)
}

// ErrIllegalState is returned when a capture is mutated after it started.
var ErrIllegalState = errors.New("capture already started")

// BindError reports a UDP port that could not be bound.
type BindError struct {
	Port int
	Err  error
}

func (e *BindError) Error() string {
	return fmt.Sprintf("failed to bind udp port %d: %v", e.Port, e.Err)
}

func (e *BindError) Unwrap() error { return e.Err }

// State is the capture lifecycle position.
type State int32

const (
	StateCreated State = iota
	StateRunning
	StateDraining
	StateTerminated
)

func (s State) String() string {
	switch s {
	case StateCreated:
		return "created"
	case StateRunning:
		return "running"
	case StateDraining:
		return "draining"
	case StateTerminated:
		return "terminated"
	}
	return fmt.Sprintf("state(%d)", int32(s))
}

// Stats counts datagram outcomes for a capture.
type Stats struct {
	Received int64
	Dropped  int64
}

// PortCapture ingests one UDP port for the duration of a recording. Samples
// are buffered per device and published as an immutable snapshot when the
// capture terminates.
type PortCapture struct {
	port      int
	frameRate float64
	decoder   Decoder
	clock     timeutil.Clock

	conn *net.UDPConn

	mu        sync.Mutex
	state     State
	devices   []config.Device
	buffers   map[string][]tracking.Sample
	published map[string][]tracking.Sample
	stats     Stats
}

// New creates a capture for the device's port with the device attached.
// Additional devices may be attached before Start when the decoder
// multiplexes streams.
func New(dev config.Device, dec Decoder, frameRate float64, clock timeutil.Clock) *PortCapture {
	if clock == nil {
		clock = timeutil.RealClock{}
	}
	return &PortCapture{
		port:      dev.Port,
		frameRate: frameRate,
		decoder:   dec,
		clock:     clock,
		devices:   []config.Device{dev},
		buffers:   make(map[string][]tracking.Sample),
	}
}

// Port returns the UDP port this capture ingests.
func (c *PortCapture) Port() int { return c.port }

// Protocol returns the decoder's protocol identifier.
func (c *PortCapture) Protocol() string { return c.decoder.Protocol() }

// MultiDevice reports whether more devices may share this capture's port.
func (c *PortCapture) MultiDevice() bool { return c.decoder.MultiDevice() }

// Devices returns the configured device names in attach order.
func (c *PortCapture) Devices() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	names := make([]string, len(c.devices))
	for i, d := range c.devices {
		names[i] = d.Name
	}
	return names
}

// State returns the capture's lifecycle position.
func (c *PortCapture) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// Stats returns the datagram counters.
func (c *PortCapture) Stats() Stats {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.stats
}

// AttachDevice adds a device to a multi-device capture. It fails with
// ErrIllegalState once the capture has started.
func (c *PortCapture) AttachDevice(dev config.Device) error {
	if !c.decoder.MultiDevice() {
		return fmt.Errorf("protocol %s does not multiplex devices on one port", c.decoder.Protocol())
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.state != StateCreated {
		return fmt.Errorf("%w: cannot attach %s", ErrIllegalState, dev.Name)
	}
	c.devices = append(c.devices, dev)
	return nil
}

// Start binds the capture's UDP socket on all interfaces. A port that is
// busy or unresolvable yields a BindError.
func (c *PortCapture) Start() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.state != StateCreated {
		return ErrIllegalState
	}

	conn, err := net.ListenUDP("udp", &net.UDPAddr{IP: net.IPv4zero, Port: c.port})
	if err != nil {
		return &BindError{Port: c.port, Err: err}
	}
	c.conn = conn
	if c.port == 0 {
		// Ephemeral bind, used by tests: record the assigned port.
		c.port = conn.LocalAddr().(*net.UDPAddr).Port
	}
	return nil
}

// Close releases the bound socket of a capture that never ran. It is a
// no-op once Run has taken over the socket's lifecycle.
func (c *PortCapture) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.state != StateCreated || c.conn == nil {
		return nil
	}
	c.state = StateTerminated
	return c.conn.Close()
}

// Run receives datagrams until ctx is cancelled. The stop signal is observed
// within one poll interval even when no traffic arrives. Whatever was
// buffered is always published on exit, traffic or not.
func (c *PortCapture) Run(ctx context.Context) {
	defer c.finish()

	c.setState(StateRunning)
	buf := make([]byte, c.decoder.PacketSize())

	for {
		select {
		case <-ctx.Done():
			c.setState(StateDraining)
			return
		default:
		}

		c.conn.SetReadDeadline(time.Now().Add(pollInterval))
		n, _, err := c.conn.ReadFromUDP(buf)
		if err != nil {
			if netErr, ok := err.(net.Error); ok && netErr.Timeout() {
				continue
			}
			if ctx.Err() != nil {
				c.setState(StateDraining)
				return
			}
			// Transient socket faults must not end the take.
			monitoring.Logf("Capture on port %d: read error: %v", c.port, err)
			continue
		}

		c.ingest(buf[:n])
	}
}

// ingest decodes one datagram and appends the stamped sample to its device
// buffer. Undecodable frames are dropped and counted.
func (c *PortCapture) ingest(data []byte) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.stats.Received++

	sample, streamKey, ok := c.decoder.DecodeSample(data)
	if !ok {
		c.stats.Dropped++
		monitoring.Debugf("Capture on port %d: dropped undecodable %d-byte datagram", c.port, len(data))
		return
	}

	frames, err := timecode.SystemFrames(c.frameRate, c.clock.Now())
	if err != nil {
		c.stats.Dropped++
		monitoring.Logf("Capture on port %d: timecode stamp failed: %v", c.port, err)
		return
	}
	sample.TimecodeKey = frames

	key := c.devices[0].Name
	if c.decoder.MultiDevice() {
		key = streamKey
	}
	c.buffers[key] = append(c.buffers[key], sample)
}

// finish closes the socket and publishes the buffered samples. It runs on
// every Run exit path.
func (c *PortCapture) finish() {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.conn != nil {
		if err := c.conn.Close(); err != nil {
			monitoring.Logf("Capture on port %d: socket close error: %v", c.port, err)
		}
	}

	published := make(map[string][]tracking.Sample, len(c.buffers))
	for device, samples := range c.buffers {
		published[device] = append([]tracking.Sample(nil), samples...)
	}
	c.published = published
	c.state = StateTerminated

	monitoring.Logf("Capture on port %d terminated: %d received, %d dropped, %d device buffer(s)",
		c.port, c.stats.Received, c.stats.Dropped, len(published))
}

// Samples returns the published per-device buffers. It is empty until the
// capture terminates; the returned map is the caller's to keep.
func (c *PortCapture) Samples() map[string][]tracking.Sample {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.published == nil {
		return map[string][]tracking.Sample{}
	}
	return c.published
}

func (c *PortCapture) setState(s State) {
	c.mu.Lock()
	c.state = s
	c.mu.Unlock()
}
