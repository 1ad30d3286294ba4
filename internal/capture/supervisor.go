package capture

import (
	"errors"
	"fmt"

	"github.com/magnopus-opensource/blackhole/internal/config"
	"github.com/magnopus-opensource/blackhole/internal/monitoring"
	"github.com/magnopus-opensource/blackhole/internal/timeutil"
)

// ErrDuplicateDevice is returned when two device config entries share a name.
// Buffers are keyed by device name, so this is a hard configuration fault.
var ErrDuplicateDevice = errors.New("duplicate device name")

// Build groups the configured devices onto port captures and binds their
// sockets. Devices are handled in configuration order: the first device on a
// port owns it; later devices on the same port attach only when the
// incumbent capture multiplexes streams of the same protocol, otherwise the
// conflict is logged and the device skipped. Unknown protocols and bind
// failures likewise skip the affected devices rather than aborting the
// session. The returned captures have pairwise-distinct ports.
func Build(devices []config.Device, frameRate float64, clock timeutil.Clock) ([]*PortCapture, error) {
	seen := make(map[string]bool, len(devices))
	for _, dev := range devices {
		if seen[dev.Name] {
			return nil, fmt.Errorf("%w: %s", ErrDuplicateDevice, dev.Name)
		}
		seen[dev.Name] = true
	}

	byPort := make(map[int]*PortCapture)
	var captures []*PortCapture

	for _, dev := range devices {
		if incumbent, ok := byPort[dev.Port]; ok {
			// The conflict check interrogates the incumbent instance, not
			// the decoder type the new device would have used.
			if !incumbent.MultiDevice() || incumbent.Protocol() != dev.Protocol {
				monitoring.Logf("Supervisor: port %d already assigned to %s capture; skipping device %s (%s)",
					dev.Port, incumbent.Protocol(), dev.Name, dev.Protocol)
				continue
			}
			if err := incumbent.AttachDevice(dev); err != nil {
				monitoring.Logf("Supervisor: failed to attach device %s to port %d: %v", dev.Name, dev.Port, err)
				continue
			}
			continue
		}

		dec, err := ResolveProtocol(dev.Protocol)
		if err != nil {
			monitoring.Logf("Supervisor: skipping device %s: %v", dev.Name, err)
			continue
		}
		byPort[dev.Port] = New(dev, dec, frameRate, clock)
	}

	// Bind after grouping so multi-device attachment always happens on
	// not-yet-started captures. Iterating devices keeps configuration order.
	started := make(map[int]bool, len(byPort))
	for _, dev := range devices {
		c, ok := byPort[dev.Port]
		if !ok || started[dev.Port] {
			continue
		}
		started[dev.Port] = true
		if err := c.Start(); err != nil {
			monitoring.Logf("Supervisor: %v; skipping device(s) %v", err, c.Devices())
			delete(byPort, dev.Port)
			continue
		}
		captures = append(captures, c)
	}

	return captures, nil
}
