// Package export packages selected takes into a dated zip: each take's
// archived USD subtree plus a workbook listing the contents with relative
// paths, so the zip stands alone off the archive volume.
package export

import (
	"archive/zip"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path"
	"path/filepath"
	"strconv"

	"github.com/magnopus-opensource/blackhole/internal/catalog"
	"github.com/magnopus-opensource/blackhole/internal/fsutil"
	"github.com/magnopus-opensource/blackhole/internal/monitoring"
	"github.com/magnopus-opensource/blackhole/internal/security"
	"github.com/magnopus-opensource/blackhole/internal/timeutil"
	"github.com/magnopus-opensource/blackhole/internal/workbook"
)

const exportStamp = "2006-01-02_15-04-05"

// Result reports an export run. Succeeded and Failed list the requested
// takes by id; Location is the finished zip.
type Result struct {
	Location  string           `json:"export_location"`
	Succeeded []catalog.TakeID `json:"successful_exports"`
	Failed    []catalog.TakeID `json:"failed_exports"`
}

// Exporter packages takes out of the archive into the export directory.
type Exporter struct {
	exportRoot  string
	archiveRoot string
	clock       timeutil.Clock
}

// New returns an exporter writing zips under exportRoot. Take archive
// locations must resolve inside archiveRoot to be exported.
func New(exportRoot, archiveRoot string, clock timeutil.Clock) *Exporter {
	if clock == nil {
		clock = timeutil.RealClock{}
	}
	return &Exporter{exportRoot: exportRoot, archiveRoot: archiveRoot, clock: clock}
}

// Export copies each take's archived subtree into a staging directory, adds
// a workbook of the exported takes, zips the staging contents, and removes
// the staging directory. Takes without a usable archive location land in
// Failed; one bad take never aborts the rest.
func (e *Exporter) Export(takes []catalog.Take) (Result, error) {
	stamp := e.clock.Now().Format(exportStamp)
	staging := filepath.Join(e.exportRoot, stamp)
	if err := fsutil.EnsureDir(staging); err != nil {
		return Result{}, err
	}
	defer func() {
		if err := os.RemoveAll(staging); err != nil {
			monitoring.Logf("Export: failed to remove staging directory %s: %v", staging, err)
		}
	}()

	result := Result{Succeeded: []catalog.TakeID{}, Failed: []catalog.TakeID{}}
	var exported []catalog.Take

	for _, t := range takes {
		if err := e.stageTake(staging, t); err != nil {
			monitoring.Logf("Export: skipping take %s: %v", t.ID(), err)
			result.Failed = append(result.Failed, t.ID())
			continue
		}

		// The workbook inside the zip points at the copied subtree.
		rel := path.Join(t.Slate, strconv.Itoa(t.TakeNumber))
		t.UsdExportLocation = &rel
		exported = append(exported, t)
		result.Succeeded = append(result.Succeeded, t.ID())
	}

	if err := workbook.Write(filepath.Join(staging, stamp+".xlsx"), exported); err != nil {
		return Result{}, fmt.Errorf("failed to write export workbook: %w", err)
	}

	zipPath := filepath.Join(e.exportRoot, stamp+".zip")
	if err := zipTree(zipPath, staging); err != nil {
		return Result{}, err
	}

	result.Location = zipPath
	return result, nil
}

// stageTake copies one take's archive subtree into the staging directory.
func (e *Exporter) stageTake(staging string, t catalog.Take) error {
	if t.UsdExportLocation == nil || *t.UsdExportLocation == "" {
		return fmt.Errorf("take has no archive location")
	}
	loc := *t.UsdExportLocation
	if err := security.ValidatePathWithinDirectory(loc, e.archiveRoot); err != nil {
		return err
	}
	if !fsutil.IsDir(loc) {
		return fmt.Errorf("archive location %s is not a directory", loc)
	}

	dst := filepath.Join(staging, t.Slate, strconv.Itoa(t.TakeNumber))
	return fsutil.CopyTree(dst, loc)
}

// zipTree writes the contents of root (not root itself) into a zip at
// zipPath, with forward-slash entry names.
func zipTree(zipPath, root string) error {
	file, err := os.Create(zipPath)
	if err != nil {
		return fmt.Errorf("failed to create zip %s: %w", zipPath, err)
	}

	w := zip.NewWriter(file)
	err = filepath.WalkDir(root, func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() || !d.Type().IsRegular() {
			return nil
		}

		rel, err := filepath.Rel(root, p)
		if err != nil {
			return err
		}

		entry, err := w.Create(filepath.ToSlash(rel))
		if err != nil {
			return err
		}
		src, err := os.Open(p)
		if err != nil {
			return err
		}
		defer src.Close()
		_, err = io.Copy(entry, src)
		return err
	})
	if err != nil {
		w.Close()
		file.Close()
		os.Remove(zipPath)
		return fmt.Errorf("failed to populate zip %s: %w", zipPath, err)
	}

	if err := w.Close(); err != nil {
		file.Close()
		return fmt.Errorf("failed to finalise zip %s: %w", zipPath, err)
	}
	if err := file.Close(); err != nil {
		return fmt.Errorf("failed to close zip %s: %w", zipPath, err)
	}
	return nil
}
