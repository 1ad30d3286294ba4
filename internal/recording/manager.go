// Package recording runs the take lifecycle: one active session at a time
// captures telemetry for a slate/take pair, then archives it to USD while
// the manager slot is already free for the next take.
package recording

import (
	"context"
	"errors"
	"path/filepath"
	"strconv"
	"sync"

	"github.com/google/uuid"

	"github.com/magnopus-opensource/blackhole/internal/capture"
	"github.com/magnopus-opensource/blackhole/internal/catalog"
	"github.com/magnopus-opensource/blackhole/internal/monitoring"
	"github.com/magnopus-opensource/blackhole/internal/config"
	"github.com/magnopus-opensource/blackhole/internal/timeutil"
	"github.com/magnopus-opensource/blackhole/internal/tracking"
)

// ErrConflict is returned by Start while another recording is active.
var ErrConflict = errors.New("a recording is already in progress")

// Store is the slice of the catalog the recording lifecycle touches.
type Store interface {
	Insert(t catalog.Take) error
	Get(slate string, takeNumber int) (catalog.Take, error)
	Update(u catalog.TakeUpdate) (catalog.Take, error)
}

// Capture is the part of a port capture a session drives. Close releases a
// capture that was built but never run.
type Capture interface {
	Run(ctx context.Context)
	Samples() map[string][]tracking.Sample
	Devices() []string
	Close() error
}

// DeviceLoader supplies the device configuration. It is called at every
// Start so edits to the config file apply to the next recording.
type DeviceLoader func() ([]config.Device, error)

// BuildFunc assembles captures for the configured devices.
type BuildFunc func(devices []config.Device, frameRate float64, clock timeutil.Clock) ([]Capture, error)

// buildCaptures adapts the capture supervisor to the session's interface.
func buildCaptures(devices []config.Device, frameRate float64, clock timeutil.Clock) ([]Capture, error) {
	ports, err := capture.Build(devices, frameRate, clock)
	if err != nil {
		return nil, err
	}
	captures := make([]Capture, len(ports))
	for i, p := range ports {
		captures[i] = p
	}
	return captures, nil
}

// Config wires a Manager. Build defaults to the capture supervisor and
// Clock to the wall clock.
type Config struct {
	Store       Store
	Devices     DeviceLoader
	ArchiveRoot string
	Clock       timeutil.Clock
	Build       BuildFunc
}

// Manager serializes recordings: at most one session captures at a time.
// The slot frees as soon as capture drains, so archiving a finished take
// overlaps the next one.
type Manager struct {
	store       Store
	devices     DeviceLoader
	archiveRoot string
	clock       timeutil.Clock
	build       BuildFunc

	mu      sync.Mutex
	current *Session
	cancel  context.CancelFunc
}

// NewManager returns an idle manager.
func NewManager(cfg Config) *Manager {
	if cfg.Clock == nil {
		cfg.Clock = timeutil.RealClock{}
	}
	if cfg.Build == nil {
		cfg.Build = buildCaptures
	}
	return &Manager{
		store:       cfg.Store,
		devices:     cfg.Devices,
		archiveRoot: cfg.ArchiveRoot,
		clock:       cfg.Clock,
		build:       cfg.Build,
	}
}

// Status reports whether a recording is capturing and, if so, which take.
func (m *Manager) Status() (recording bool, slate string, takeNumber int, frameRate int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.current == nil {
		return false, "", 0, 0
	}
	return true, m.current.slate, m.current.takeNumber, m.current.frameRate
}

// Start inserts the take row and launches a capture session for it. It
// fails with ErrConflict while another session holds the slot and with the
// catalog's duplicate error when the take already exists.
func (m *Manager) Start(take catalog.Take) (*Session, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.current != nil {
		return nil, ErrConflict
	}

	// The row is inserted only once the captures exist, so a failed start
	// never leaves an orphan take behind.
	devices, err := m.devices()
	if err != nil {
		return nil, err
	}
	captures, err := m.build(devices, float64(take.FrameRate), m.clock)
	if err != nil {
		return nil, err
	}

	if err := m.store.Insert(take); err != nil {
		for _, c := range captures {
			if cerr := c.Close(); cerr != nil {
				monitoring.Logf("Manager: failed to close capture for %v: %v", c.Devices(), cerr)
			}
		}
		return nil, err
	}

	s := &Session{
		id:          uuid.NewString(),
		slate:       take.Slate,
		takeNumber:  take.TakeNumber,
		frameRate:   take.FrameRate,
		archivePath: filepath.Join(m.archiveRoot, take.Slate, strconv.Itoa(take.TakeNumber)),
		captures:    captures,
		store:       m.store,
		release:     m.release,
	}

	ctx, cancel := context.WithCancel(context.Background())
	m.current = s
	m.cancel = cancel
	go s.Run(ctx)

	return s, nil
}

// Stop signals the active session to stop capturing. It is idempotent and a
// no-op when idle; archiving continues in the background.
func (m *Manager) Stop() {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.cancel != nil {
		m.cancel()
	}
}

// release frees the slot for the next recording. The session calls this
// once its captures have drained.
func (m *Manager) release(s *Session) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.current == s {
		m.current = nil
		m.cancel = nil
	}
}
