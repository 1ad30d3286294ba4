// Package config loads Blackhole's INI configuration. Missing or invalid
// files are replaced with the bundled defaults so the service always starts
// with a usable configuration.
package config

import (
	"embed"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"gopkg.in/ini.v1"

	"github.com/magnopus-opensource/blackhole/internal/monitoring"
)

//go:embed defaults/app_config.ini defaults/device_config.ini
var defaultsFS embed.FS

const (
	// AppConfigFile is the service settings file name inside the config directory.
	AppConfigFile = "app_config.ini"
	// DeviceConfigFile is the tracked-device table file name.
	DeviceConfigFile = "device_config.ini"

	archiveSection = "ArchiveSettings"
	exportSection  = "ExportSettings"
)

// ErrMissingKey indicates a required configuration key is absent or empty.
var ErrMissingKey = errors.New("missing configuration key")

// App holds the service-level settings from app_config.ini.
type App struct {
	ArchiveDirectory      string
	DatabasePath          string
	MasterSpreadsheetPath string
	ExportDirectory       string
}

// Device is one tracked-device entry from device_config.ini. Entries keep
// file order; names are the INI section names and must be unique.
type Device struct {
	Name      string
	IPAddress string
	Port      int
	Protocol  string
}

// LoadApp reads app_config.ini from dir. A missing or invalid file is
// replaced with the bundled default before parsing.
func LoadApp(dir string) (*App, error) {
	path := filepath.Join(dir, AppConfigFile)
	app, err := parseApp(path)
	if err == nil {
		return app, nil
	}

	monitoring.Logf("Replacing app config with bundled default: %v", err)
	if err := seedDefault(path); err != nil {
		return nil, err
	}
	app, err = parseApp(path)
	if err != nil {
		return nil, fmt.Errorf("bundled default app config is invalid: %w", err)
	}
	return app, nil
}

// LoadDevices reads device_config.ini from dir, one section per device in
// file order. A missing or invalid file is replaced with the bundled default
// before parsing.
func LoadDevices(dir string) ([]Device, error) {
	path := filepath.Join(dir, DeviceConfigFile)
	devices, err := parseDevices(path)
	if err == nil {
		return devices, nil
	}

	monitoring.Logf("Replacing device config with bundled default: %v", err)
	if err := seedDefault(path); err != nil {
		return nil, err
	}
	devices, err = parseDevices(path)
	if err != nil {
		return nil, fmt.Errorf("bundled default device config is invalid: %w", err)
	}
	return devices, nil
}

func parseApp(path string) (*App, error) {
	file, err := ini.Load(path)
	if err != nil {
		return nil, fmt.Errorf("failed to load %s: %w", path, err)
	}

	archive := file.Section(archiveSection)
	export := file.Section(exportSection)

	app := &App{
		ArchiveDirectory:      archive.Key("ARCHIVE_DIRECTORY").String(),
		DatabasePath:          archive.Key("DATABASE_PATH").String(),
		MasterSpreadsheetPath: archive.Key("MASTER_SPREADSHEET_PATH").String(),
		ExportDirectory:       export.Key("EXPORT_DIRECTORY").String(),
	}

	for key, value := range map[string]string{
		"ARCHIVE_DIRECTORY":       app.ArchiveDirectory,
		"DATABASE_PATH":           app.DatabasePath,
		"MASTER_SPREADSHEET_PATH": app.MasterSpreadsheetPath,
		"EXPORT_DIRECTORY":        app.ExportDirectory,
	} {
		if value == "" {
			return nil, fmt.Errorf("%w: %s in %s", ErrMissingKey, key, path)
		}
	}
	return app, nil
}

func parseDevices(path string) ([]Device, error) {
	file, err := ini.Load(path)
	if err != nil {
		return nil, fmt.Errorf("failed to load %s: %w", path, err)
	}

	var devices []Device
	for _, section := range file.Sections() {
		if section.Name() == ini.DefaultSection {
			continue
		}

		ip := section.Key("IP_ADDRESS").String()
		if ip == "" {
			return nil, fmt.Errorf("%w: IP_ADDRESS for device %s", ErrMissingKey, section.Name())
		}
		protocol := section.Key("TRACKING_PROTOCOL").String()
		if protocol == "" {
			return nil, fmt.Errorf("%w: TRACKING_PROTOCOL for device %s", ErrMissingKey, section.Name())
		}
		port, err := section.Key("PORT").Int()
		if err != nil {
			return nil, fmt.Errorf("invalid PORT for device %s: %w", section.Name(), err)
		}
		if port < 1 || port > 65535 {
			return nil, fmt.Errorf("invalid PORT for device %s: %d out of range", section.Name(), port)
		}

		devices = append(devices, Device{
			Name:      section.Name(),
			IPAddress: ip,
			Port:      port,
			Protocol:  protocol,
		})
	}

	if len(devices) == 0 {
		return nil, fmt.Errorf("%w: no device sections in %s", ErrMissingKey, path)
	}
	return devices, nil
}

// seedDefault writes the bundled default for the named config file.
func seedDefault(path string) error {
	data, err := defaultsFS.ReadFile("defaults/" + filepath.Base(path))
	if err != nil {
		return fmt.Errorf("no bundled default for %s: %w", filepath.Base(path), err)
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("failed to write default config %s: %w", path, err)
	}
	return nil
}
