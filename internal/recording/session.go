package recording

import (
	"context"
	"fmt"
	"path"
	"path/filepath"
	"sort"
	"sync"

	"github.com/magnopus-opensource/blackhole/internal/catalog"
	"github.com/magnopus-opensource/blackhole/internal/monitoring"
	"github.com/magnopus-opensource/blackhole/internal/tracking"
	"github.com/magnopus-opensource/blackhole/internal/usd"
)

// Session records one take: it drives the port captures until stopped, then
// archives the captured pose buffers as USD stages under the take's archive
// directory.
type Session struct {
	id          string
	slate       string
	takeNumber  int
	frameRate   int
	archivePath string
	captures    []Capture
	store       Store
	release     func(*Session)
}

// ArchivePath returns the take's archive directory.
func (s *Session) ArchivePath() string { return s.archivePath }

// Run captures until ctx is cancelled, releases the manager slot, then
// archives. Archiving failures are logged, never surfaced: the stop caller
// has already been answered by then.
func (s *Session) Run(ctx context.Context) {
	monitoring.Logf("Session %s: recording %s/%d with %d capture(s)",
		s.id, s.slate, s.takeNumber, len(s.captures))

	var wg sync.WaitGroup
	for _, c := range s.captures {
		wg.Add(1)
		go func(c Capture) {
			defer wg.Done()
			c.Run(ctx)
		}(c)
	}
	wg.Wait()

	// Captures on distinct ports may report the same stream key; keep both
	// buffers rather than letting one overwrite the other.
	buffers := make(map[string][]tracking.Sample)
	for i, c := range s.captures {
		for device, samples := range c.Samples() {
			key := device
			if _, ok := buffers[key]; ok {
				key = fmt.Sprintf("%s-%d", device, i)
				monitoring.Logf("Session %s: stream key %q reported by more than one capture, keeping both as %q",
					s.id, device, key)
			}
			buffers[key] = samples
		}
	}

	// The slot frees before archiving so the next take can start while this
	// one writes its stages.
	s.release(s)

	s.archive(buffers)
}

// archive writes one camera stage per device buffer plus the master stage,
// then records the archive location on the take.
func (s *Session) archive(buffers map[string][]tracking.Sample) {
	take, err := s.store.Get(s.slate, s.takeNumber)
	if err != nil {
		monitoring.Logf("Session %s: cannot archive, take %s/%d not found: %v",
			s.id, s.slate, s.takeNumber, err)
		return
	}

	meta := usd.StageMeta{
		Slate:         take.Slate,
		TakeNumber:    take.TakeNumber,
		FrameRate:     take.FrameRate,
		StartTimeCode: take.TimecodeInFrames,
		EndTimeCode:   take.TimecodeInFrames,
	}
	if take.Map != nil {
		meta.Map = *take.Map
	}
	if take.TimecodeOutFrames != nil {
		meta.EndTimeCode = *take.TimecodeOutFrames
	}

	var (
		wg     sync.WaitGroup
		mu     sync.Mutex
		layers []string
	)
	for device, samples := range buffers {
		wg.Add(1)
		go func(device string, samples []tracking.Sample) {
			defer wg.Done()
			stage := filepath.Join(s.archivePath, "cameras", device, device+".usda")
			if err := usd.WriteCameraStage(stage, meta, samples); err != nil {
				monitoring.Logf("Session %s: camera stage for %s failed: %v", s.id, device, err)
				return
			}
			monitoring.Logf("Session %s: wrote %d sample(s) for %s to %s",
				s.id, len(samples), device, stage)
			mu.Lock()
			layers = append(layers, path.Join("..", "cameras", device, device+".usda"))
			mu.Unlock()
		}(device, samples)
	}
	wg.Wait()
	sort.Strings(layers)

	master := filepath.Join(s.archivePath, "master", "MasterSequence.usda")
	if err := usd.WriteMasterStage(master, layers); err != nil {
		monitoring.Logf("Session %s: master stage failed: %v", s.id, err)
		return
	}

	location := s.archivePath
	if _, err := s.store.Update(catalog.TakeUpdate{
		Slate:             s.slate,
		TakeNumber:        s.takeNumber,
		UsdExportLocation: &location,
	}); err != nil {
		monitoring.Logf("Session %s: failed to record archive location: %v", s.id, err)
		return
	}

	monitoring.Logf("Session %s: archived %s/%d to %s (%d camera stage(s))",
		s.id, s.slate, s.takeNumber, s.archivePath, len(layers))
}
