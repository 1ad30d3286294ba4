// Package catalog persists take metadata in a sqlite database. One table,
// composite primary key (slate, take_number); schema is managed by embedded
// golang-migrate migrations. Mutations are mirrored to an optional workbook
// sink; mirror failures are logged, never propagated.
package catalog

import (
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	_ "modernc.org/sqlite"

	"github.com/magnopus-opensource/blackhole/internal/monitoring"
)

// ErrDuplicate indicates an insert for an existing (slate, take_number) key.
var ErrDuplicate = errors.New("take already exists")

// ErrNotFound indicates a catalog miss.
var ErrNotFound = errors.New("take not found")

// Mirror receives every catalog mutation. The workbook package implements it.
type Mirror interface {
	UpsertTake(Take) error
}

// Catalog wraps the takes database.
type Catalog struct {
	*sql.DB
	path   string
	mirror Mirror
}

// Open opens (creating if needed) the takes database at path and applies any
// pending schema migrations.
func Open(path string) (*Catalog, error) {
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("failed to create database directory: %w", err)
		}
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open takes database %s: %w", path, err)
	}

	c := &Catalog{DB: db, path: path}
	if err := c.migrateUp(); err != nil {
		db.Close()
		return nil, err
	}
	return c, nil
}

// SetMirror attaches the workbook mirror invoked after each mutation.
func (c *Catalog) SetMirror(m Mirror) { c.mirror = m }

// Exists reports whether the (slate, takeNumber) row is present.
func (c *Catalog) Exists(slate string, takeNumber int) (bool, error) {
	var n int
	err := retryOnBusy(func() error {
		return c.QueryRow(
			`SELECT COUNT(*) FROM takes WHERE slate = ? AND take_number = ?`,
			slate, takeNumber,
		).Scan(&n)
	})
	if err != nil {
		return false, fmt.Errorf("checking take %s/%d: %w", slate, takeNumber, err)
	}
	return n > 0, nil
}

// Insert adds a new take row. A duplicate key yields ErrDuplicate.
func (c *Catalog) Insert(t Take) error {
	err := retryOnBusy(func() error {
		_, err := c.Exec(`
			INSERT INTO takes (
				slate, take_number, date_created, corrected_slate,
				corrected_take_number, valid, frame_rate, timecode_in_frames,
				timecode_out_frames, timecode_in_smpte, timecode_out_smpte,
				level_sequence_location, level_snapshot_location, map,
				description, usd_export_location
			) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
			t.Slate, t.TakeNumber, t.DateCreated, t.CorrectedSlate,
			t.CorrectedTakeNumber, t.Valid, t.FrameRate, t.TimecodeInFrames,
			t.TimecodeOutFrames, t.TimecodeInSMPTE, t.TimecodeOutSMPTE,
			t.LevelSequenceLocation, t.LevelSnapshotLocation, t.Map,
			t.Description, t.UsdExportLocation,
		)
		return err
	})
	if err != nil {
		if isUniqueViolation(err) {
			return fmt.Errorf("take %s/%d: %w", t.Slate, t.TakeNumber, ErrDuplicate)
		}
		return fmt.Errorf("inserting take %s/%d: %w", t.Slate, t.TakeNumber, err)
	}

	c.mirrorTake(t.Slate, t.TakeNumber)
	return nil
}

// Update applies the non-nil fields of u to an existing row and returns the
// result. A missing row yields ErrNotFound.
func (c *Catalog) Update(u TakeUpdate) (Take, error) {
	var sets []string
	var args []interface{}
	add := func(col string, v interface{}) {
		sets = append(sets, col+" = ?")
		args = append(args, v)
	}

	if u.CorrectedSlate != nil {
		add("corrected_slate", *u.CorrectedSlate)
	}
	if u.CorrectedTakeNumber != nil {
		add("corrected_take_number", *u.CorrectedTakeNumber)
	}
	if u.Valid != nil {
		add("valid", *u.Valid)
	}
	if u.FrameRate != nil {
		add("frame_rate", *u.FrameRate)
	}
	if u.TimecodeInFrames != nil {
		add("timecode_in_frames", *u.TimecodeInFrames)
	}
	if u.TimecodeOutFrames != nil {
		add("timecode_out_frames", *u.TimecodeOutFrames)
	}
	if u.TimecodeInSMPTE != nil {
		add("timecode_in_smpte", *u.TimecodeInSMPTE)
	}
	if u.TimecodeOutSMPTE != nil {
		add("timecode_out_smpte", *u.TimecodeOutSMPTE)
	}
	if u.LevelSequenceLocation != nil {
		add("level_sequence_location", *u.LevelSequenceLocation)
	}
	if u.LevelSnapshotLocation != nil {
		add("level_snapshot_location", *u.LevelSnapshotLocation)
	}
	if u.Map != nil {
		add("map", *u.Map)
	}
	if u.Description != nil {
		add("description", *u.Description)
	}
	if u.UsdExportLocation != nil {
		add("usd_export_location", *u.UsdExportLocation)
	}

	if len(sets) == 0 {
		return c.Get(u.Slate, u.TakeNumber)
	}

	query := "UPDATE takes SET " + strings.Join(sets, ", ") + " WHERE slate = ? AND take_number = ?"
	args = append(args, u.Slate, u.TakeNumber)

	var affected int64
	err := retryOnBusy(func() error {
		res, err := c.Exec(query, args...)
		if err != nil {
			return err
		}
		affected, err = res.RowsAffected()
		return err
	})
	if err != nil {
		return Take{}, fmt.Errorf("updating take %s/%d: %w", u.Slate, u.TakeNumber, err)
	}
	if affected == 0 {
		return Take{}, fmt.Errorf("take %s/%d: %w", u.Slate, u.TakeNumber, ErrNotFound)
	}

	t, err := c.Get(u.Slate, u.TakeNumber)
	if err != nil {
		return Take{}, err
	}
	c.mirrorTake(t.Slate, t.TakeNumber)
	return t, nil
}

// Upsert applies u to an existing row or creates the row when absent. A
// created row gets date_created = today and keeps valid=false unless the
// update says otherwise.
func (c *Catalog) Upsert(u TakeUpdate, today string) (Take, error) {
	exists, err := c.Exists(u.Slate, u.TakeNumber)
	if err != nil {
		return Take{}, err
	}
	if exists {
		return c.Update(u)
	}

	t := Take{
		Slate:                 u.Slate,
		TakeNumber:            u.TakeNumber,
		DateCreated:           today,
		CorrectedSlate:        u.CorrectedSlate,
		CorrectedTakeNumber:   u.CorrectedTakeNumber,
		TimecodeOutFrames:     u.TimecodeOutFrames,
		TimecodeOutSMPTE:      u.TimecodeOutSMPTE,
		LevelSequenceLocation: u.LevelSequenceLocation,
		LevelSnapshotLocation: u.LevelSnapshotLocation,
		Map:                   u.Map,
		Description:           u.Description,
		UsdExportLocation:     u.UsdExportLocation,
	}
	if u.Valid != nil {
		t.Valid = *u.Valid
	}
	if u.FrameRate != nil {
		t.FrameRate = *u.FrameRate
	}
	if u.TimecodeInFrames != nil {
		t.TimecodeInFrames = *u.TimecodeInFrames
	}
	if u.TimecodeInSMPTE != nil {
		t.TimecodeInSMPTE = *u.TimecodeInSMPTE
	}

	if err := c.Insert(t); err != nil {
		return Take{}, err
	}
	return c.Get(u.Slate, u.TakeNumber)
}

const takeColumns = `
	slate, take_number, date_created, corrected_slate, corrected_take_number,
	valid, frame_rate, timecode_in_frames, timecode_out_frames,
	timecode_in_smpte, timecode_out_smpte, level_sequence_location,
	level_snapshot_location, map, description, usd_export_location`

// Get returns one take, or ErrNotFound.
func (c *Catalog) Get(slate string, takeNumber int) (Take, error) {
	var t Take
	err := retryOnBusy(func() error {
		row := c.QueryRow(
			`SELECT `+takeColumns+` FROM takes WHERE slate = ? AND take_number = ?`,
			slate, takeNumber,
		)
		return scanTake(row, &t)
	})
	if errors.Is(err, sql.ErrNoRows) {
		return Take{}, fmt.Errorf("take %s/%d: %w", slate, takeNumber, ErrNotFound)
	}
	if err != nil {
		return Take{}, fmt.Errorf("fetching take %s/%d: %w", slate, takeNumber, err)
	}
	return t, nil
}

// GetMany returns takes filtered by inclusive date_created range and slate
// prefix. Empty parameters are unconstrained.
func (c *Catalog) GetMany(startDate, endDate, slateHint string) ([]Take, error) {
	query := `SELECT ` + takeColumns + ` FROM takes`
	var conds []string
	var args []interface{}
	if startDate != "" {
		conds = append(conds, "date_created >= ?")
		args = append(args, startDate)
	}
	if endDate != "" {
		conds = append(conds, "date_created <= ?")
		args = append(args, endDate)
	}
	if slateHint != "" {
		conds = append(conds, "slate LIKE ?")
		args = append(args, slateHint+"%")
	}
	if len(conds) > 0 {
		query += " WHERE " + strings.Join(conds, " AND ")
	}
	query += " ORDER BY date_created, slate, take_number"

	var takes []Take
	err := retryOnBusy(func() error {
		rows, err := c.Query(query, args...)
		if err != nil {
			return err
		}
		defer rows.Close()

		takes = takes[:0]
		for rows.Next() {
			var t Take
			if err := scanTake(rows, &t); err != nil {
				return err
			}
			takes = append(takes, t)
		}
		return rows.Err()
	})
	if err != nil {
		return nil, fmt.Errorf("listing takes: %w", err)
	}
	return takes, nil
}

// GetByIDs returns the takes matching the requested keys. When
// includeCorrections is true a row also matches through its corrected
// slate/number pair. Missing keys are simply absent from the result.
func (c *Catalog) GetByIDs(ids []TakeID, includeCorrections bool) ([]Take, error) {
	var takes []Take
	seen := make(map[TakeID]bool)

	for _, id := range ids {
		query := `SELECT ` + takeColumns + ` FROM takes WHERE (slate = ? AND take_number = ?)`
		args := []interface{}{id.Slate, id.TakeNumber}
		if includeCorrections {
			query += ` OR (corrected_slate = ? AND corrected_take_number = ?)`
			args = append(args, id.Slate, id.TakeNumber)
		}

		var t Take
		err := retryOnBusy(func() error {
			return scanTake(c.QueryRow(query, args...), &t)
		})
		if errors.Is(err, sql.ErrNoRows) {
			continue
		}
		if err != nil {
			return nil, fmt.Errorf("fetching take %s: %w", id, err)
		}
		if !seen[t.ID()] {
			seen[t.ID()] = true
			takes = append(takes, t)
		}
	}
	return takes, nil
}

// scanner covers *sql.Row and *sql.Rows.
type scanner interface {
	Scan(dest ...interface{}) error
}

func scanTake(s scanner, t *Take) error {
	var (
		correctedSlate, timecodeOutSMPTE       sql.NullString
		sequenceLoc, snapshotLoc               sql.NullString
		mapName, description, exportLoc        sql.NullString
		correctedTakeNumber, timecodeOutFrames sql.NullInt64
	)

	err := s.Scan(
		&t.Slate, &t.TakeNumber, &t.DateCreated, &correctedSlate,
		&correctedTakeNumber, &t.Valid, &t.FrameRate, &t.TimecodeInFrames,
		&timecodeOutFrames, &t.TimecodeInSMPTE, &timecodeOutSMPTE,
		&sequenceLoc, &snapshotLoc, &mapName, &description, &exportLoc,
	)
	if err != nil {
		return err
	}

	t.CorrectedSlate = nullStr(correctedSlate)
	t.CorrectedTakeNumber = nullInt(correctedTakeNumber)
	t.TimecodeOutFrames = nullInt(timecodeOutFrames)
	t.TimecodeOutSMPTE = nullStr(timecodeOutSMPTE)
	t.LevelSequenceLocation = nullStr(sequenceLoc)
	t.LevelSnapshotLocation = nullStr(snapshotLoc)
	t.Map = nullStr(mapName)
	t.Description = nullStr(description)
	t.UsdExportLocation = nullStr(exportLoc)
	return nil
}

func nullStr(v sql.NullString) *string {
	if !v.Valid {
		return nil
	}
	s := v.String
	return &s
}

func nullInt(v sql.NullInt64) *int {
	if !v.Valid {
		return nil
	}
	n := int(v.Int64)
	return &n
}

// mirrorTake pushes the row's current state to the workbook mirror. The
// mirror must never block or fail a catalog mutation.
func (c *Catalog) mirrorTake(slate string, takeNumber int) {
	if c.mirror == nil {
		return
	}
	t, err := c.Get(slate, takeNumber)
	if err != nil {
		monitoring.Logf("Workbook mirror skipped, take %s/%d unreadable: %v", slate, takeNumber, err)
		return
	}
	if err := c.mirror.UpsertTake(t); err != nil {
		monitoring.Logf("Workbook mirror failed for take %s/%d: %v", slate, takeNumber, err)
	}
}

func isUniqueViolation(err error) bool {
	return err != nil && strings.Contains(err.Error(), "UNIQUE constraint failed")
}

const busyRetries = 5

func isSQLiteBusy(err error) bool {
	if err == nil {
		return false
	}
	msg := err.Error()
	return strings.Contains(msg, "SQLITE_BUSY") || strings.Contains(msg, "database is locked")
}

// retryOnBusy retries fn with linear backoff while sqlite reports the
// database busy. Other errors return immediately.
func retryOnBusy(fn func() error) error {
	var err error
	for attempt := 0; attempt < busyRetries; attempt++ {
		if err = fn(); !isSQLiteBusy(err) {
			return err
		}
		time.Sleep(time.Duration(attempt+1) * 10 * time.Millisecond)
	}
	return err
}
