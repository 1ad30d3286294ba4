// Package workbook mirrors the takes catalog into an xlsx spreadsheet for
// production crews who review takes outside the API. One sheet per shoot
// date; rows are upserted by slate and take number. The mirror is a side
// effect of catalog mutations and must never fail them.
package workbook

import (
	"fmt"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/xuri/excelize/v2"

	"github.com/magnopus-opensource/blackhole/internal/catalog"
	"github.com/magnopus-opensource/blackhole/internal/fsutil"
	"github.com/magnopus-opensource/blackhole/internal/timeutil"
)

// backupDirName is created next to the master spreadsheet; a copy of the
// file is kept there before every mutation.
const backupDirName = "Spreadsheet_Backups"

const backupStamp = "2006-01-02_15-04-05"

// Workbook maintains the master spreadsheet at a fixed path.
type Workbook struct {
	path  string
	clock timeutil.Clock
}

// New returns a mirror writing to the spreadsheet at path.
func New(path string, clock timeutil.Clock) *Workbook {
	if clock == nil {
		clock = timeutil.RealClock{}
	}
	return &Workbook{path: path, clock: clock}
}

// Path returns the spreadsheet location.
func (w *Workbook) Path() string { return w.path }

// UpsertTake writes the take's row on its date sheet, replacing an existing
// row with the same slate and take number. The previous file version is
// copied into the backups directory first.
func (w *Workbook) UpsertTake(t catalog.Take) error {
	if err := w.backup(); err != nil {
		return err
	}

	f, err := openOrCreate(w.path)
	if err != nil {
		return err
	}
	defer f.Close()

	sheet := t.DateCreated
	if err := ensureSheet(f, sheet); err != nil {
		return err
	}

	row, err := findTakeRow(f, sheet, t.Slate, t.TakeNumber)
	if err != nil {
		return err
	}

	values := t.ColumnValues()
	cell, err := excelize.CoordinatesToCellName(1, row)
	if err != nil {
		return err
	}
	if err := f.SetSheetRow(sheet, cell, &values); err != nil {
		return fmt.Errorf("failed to write take row: %w", err)
	}

	if err := f.SaveAs(w.path); err != nil {
		return fmt.Errorf("failed to save workbook %s: %w", w.path, err)
	}
	return nil
}

// Write creates a fresh workbook at path listing the given takes, one sheet
// per creation date. Used by the export packager.
func Write(path string, takes []catalog.Take) error {
	f := excelize.NewFile()
	defer f.Close()

	for _, t := range takes {
		sheet := t.DateCreated
		if err := ensureSheet(f, sheet); err != nil {
			return err
		}
		rows, err := f.GetRows(sheet)
		if err != nil {
			return fmt.Errorf("failed to read sheet %s: %w", sheet, err)
		}
		values := t.ColumnValues()
		cell, err := excelize.CoordinatesToCellName(1, len(rows)+1)
		if err != nil {
			return err
		}
		if err := f.SetSheetRow(sheet, cell, &values); err != nil {
			return fmt.Errorf("failed to write take row: %w", err)
		}
	}

	if err := f.SaveAs(path); err != nil {
		return fmt.Errorf("failed to save workbook %s: %w", path, err)
	}
	return nil
}

// backup copies the current spreadsheet into the backups directory.
func (w *Workbook) backup() error {
	if !fsutil.Exists(w.path) {
		return nil
	}

	stem := strings.TrimSuffix(filepath.Base(w.path), filepath.Ext(w.path))
	name := fmt.Sprintf("%s_%s%s", stem, w.clock.Now().Format(backupStamp), filepath.Ext(w.path))
	dst := filepath.Join(filepath.Dir(w.path), backupDirName, name)
	if err := fsutil.CopyFile(dst, w.path); err != nil {
		return fmt.Errorf("failed to back up workbook: %w", err)
	}
	return nil
}

func openOrCreate(path string) (*excelize.File, error) {
	if fsutil.Exists(path) {
		f, err := excelize.OpenFile(path)
		if err != nil {
			return nil, fmt.Errorf("failed to open workbook %s: %w", path, err)
		}
		return f, nil
	}
	return excelize.NewFile(), nil
}

// ensureSheet creates the named date sheet with a styled, frozen header row
// if it does not exist, and drops the default sheet excelize seeds new files
// with.
func ensureSheet(f *excelize.File, name string) error {
	if idx, err := f.GetSheetIndex(name); err == nil && idx >= 0 {
		return nil
	}

	if _, err := f.NewSheet(name); err != nil {
		return fmt.Errorf("failed to create sheet %s: %w", name, err)
	}

	headers := make([]interface{}, len(catalog.Columns))
	for i, col := range catalog.Columns {
		headers[i] = columnTitle(col)
	}
	if err := f.SetSheetRow(name, "A1", &headers); err != nil {
		return fmt.Errorf("failed to write header row: %w", err)
	}

	style, err := f.NewStyle(&excelize.Style{
		Font: &excelize.Font{Bold: true},
		Fill: excelize.Fill{Type: "pattern", Color: []string{"D9D9D9"}, Pattern: 1},
	})
	if err == nil {
		last, _ := excelize.CoordinatesToCellName(len(catalog.Columns), 1)
		f.SetCellStyle(name, "A1", last, style)
	}

	if err := f.SetPanes(name, &excelize.Panes{
		Freeze:      true,
		YSplit:      1,
		TopLeftCell: "A2",
		ActivePane:  "bottomLeft",
	}); err != nil {
		return fmt.Errorf("failed to freeze header row: %w", err)
	}

	// A freshly created workbook carries a default sheet we never use.
	if name != "Sheet1" {
		if idx, err := f.GetSheetIndex("Sheet1"); err == nil && idx >= 0 {
			f.DeleteSheet("Sheet1")
		}
	}
	return nil
}

// findTakeRow returns the 1-based row for the slate/take pair, or the first
// free row when absent.
func findTakeRow(f *excelize.File, sheet, slate string, takeNumber int) (int, error) {
	rows, err := f.GetRows(sheet)
	if err != nil {
		return 0, fmt.Errorf("failed to read sheet %s: %w", sheet, err)
	}

	want := strconv.Itoa(takeNumber)
	for i, row := range rows {
		if i == 0 {
			continue // header
		}
		if len(row) >= 2 && row[0] == slate && row[1] == want {
			return i + 1, nil
		}
	}
	return len(rows) + 1, nil
}

// columnTitle renders a column name as a human header: underscores to
// spaces, Title Case, with the SMPTE initialism restored.
func columnTitle(col string) string {
	words := strings.Split(col, "_")
	for i, word := range words {
		if word == "" {
			continue
		}
		words[i] = strings.ToUpper(word[:1]) + word[1:]
	}
	title := strings.Join(words, " ")
	return strings.ReplaceAll(title, "Smpte", "SMPTE")
}
