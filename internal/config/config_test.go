package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/magnopus-opensource/blackhole/internal/monitoring"
)

func TestMain(m *testing.M) {
	monitoring.SetLogger(nil)
	os.Exit(m.Run())
}

func writeConfig(t *testing.T, dir, name, content string) {
	t.Helper()
	if err := os.WriteFile(filepath.Join(dir, name), []byte(content), 0o644); err != nil {
		t.Fatalf("failed to write %s: %v", name, err)
	}
}

func TestLoadAppParsesAllKeys(t *testing.T) {
	dir := t.TempDir()
	writeConfig(t, dir, AppConfigFile, `
[ArchiveSettings]
ARCHIVE_DIRECTORY = /mnt/archive
DATABASE_PATH = /mnt/archive/takes.db
MASTER_SPREADSHEET_PATH = /mnt/archive/takes.xlsx

[ExportSettings]
EXPORT_DIRECTORY = /mnt/export
`)

	app, err := LoadApp(dir)
	if err != nil {
		t.Fatalf("LoadApp: %v", err)
	}
	if app.ArchiveDirectory != "/mnt/archive" {
		t.Errorf("ArchiveDirectory = %q", app.ArchiveDirectory)
	}
	if app.DatabasePath != "/mnt/archive/takes.db" {
		t.Errorf("DatabasePath = %q", app.DatabasePath)
	}
	if app.MasterSpreadsheetPath != "/mnt/archive/takes.xlsx" {
		t.Errorf("MasterSpreadsheetPath = %q", app.MasterSpreadsheetPath)
	}
	if app.ExportDirectory != "/mnt/export" {
		t.Errorf("ExportDirectory = %q", app.ExportDirectory)
	}
}

func TestLoadAppSeedsDefaultWhenMissing(t *testing.T) {
	dir := t.TempDir()

	app, err := LoadApp(dir)
	if err != nil {
		t.Fatalf("LoadApp with no file: %v", err)
	}
	if app.ArchiveDirectory == "" || app.DatabasePath == "" {
		t.Errorf("seeded default incomplete: %+v", app)
	}

	// The bundled default must now exist on disk.
	if _, err := os.Stat(filepath.Join(dir, AppConfigFile)); err != nil {
		t.Errorf("default config not written: %v", err)
	}
}

func TestLoadAppSeedsDefaultWhenKeyMissing(t *testing.T) {
	dir := t.TempDir()
	writeConfig(t, dir, AppConfigFile, `
[ArchiveSettings]
ARCHIVE_DIRECTORY = /mnt/archive
`)

	app, err := LoadApp(dir)
	if err != nil {
		t.Fatalf("LoadApp with partial file: %v", err)
	}
	// The invalid file is replaced, so every key is populated again.
	if app.ExportDirectory == "" {
		t.Errorf("expected seeded export directory, got %+v", app)
	}
}

func TestLoadDevicesKeepsSectionOrder(t *testing.T) {
	dir := t.TempDir()
	writeConfig(t, dir, DeviceConfigFile, `
[CamB]
IP_ADDRESS = 10.0.0.2
PORT = 40001
TRACKING_PROTOCOL = FreeD

[CamA]
IP_ADDRESS = 10.0.0.1
PORT = 40000
TRACKING_PROTOCOL = FreeD
`)

	devices, err := LoadDevices(dir)
	if err != nil {
		t.Fatalf("LoadDevices: %v", err)
	}
	if len(devices) != 2 {
		t.Fatalf("got %d devices, want 2", len(devices))
	}
	if devices[0].Name != "CamB" || devices[1].Name != "CamA" {
		t.Errorf("device order = %s, %s; want CamB, CamA", devices[0].Name, devices[1].Name)
	}
	if devices[0].Port != 40001 || devices[0].Protocol != "FreeD" {
		t.Errorf("CamB parsed as %+v", devices[0])
	}
}

func TestLoadDevicesSeedsDefaultOnBadPort(t *testing.T) {
	dir := t.TempDir()
	writeConfig(t, dir, DeviceConfigFile, `
[CamA]
IP_ADDRESS = 10.0.0.1
PORT = notaport
TRACKING_PROTOCOL = FreeD
`)

	devices, err := LoadDevices(dir)
	if err != nil {
		t.Fatalf("LoadDevices with bad port: %v", err)
	}
	if len(devices) == 0 {
		t.Fatal("expected seeded default devices")
	}
}
