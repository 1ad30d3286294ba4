package capture

import (
	"errors"
	"fmt"
	"sync"

	"github.com/magnopus-opensource/blackhole/internal/freed"
)

// ErrUnknownProtocol is returned when a device names a tracking protocol no
// decoder is registered for.
var ErrUnknownProtocol = errors.New("unknown tracking protocol")

var (
	registryMu sync.RWMutex
	registry   = map[string]func() Decoder{}
)

func init() {
	RegisterProtocol(freed.ProtocolName, func() Decoder { return freed.NewDecoder() })
}

// RegisterProtocol maps a protocol identifier from device configuration to a
// decoder factory. Built-in protocols register at init; tests add synthetic
// ones.
func RegisterProtocol(name string, factory func() Decoder) {
	registryMu.Lock()
	defer registryMu.Unlock()
	registry[name] = factory
}

// ResolveProtocol returns a fresh decoder for the named protocol.
func ResolveProtocol(name string) (Decoder, error) {
	registryMu.RLock()
	factory, ok := registry[name]
	registryMu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownProtocol, name)
	}
	return factory(), nil
}
