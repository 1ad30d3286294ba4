package security

import (
	"os"
	"path/filepath"
	"testing"
)

func TestValidatePathWithinDirectory(t *testing.T) {
	root := t.TempDir()
	inside := filepath.Join(root, "SlateA", "1")
	if err := os.MkdirAll(inside, 0o755); err != nil {
		t.Fatal(err)
	}

	tests := []struct {
		name    string
		path    string
		wantErr bool
	}{
		{"existing subdirectory", inside, false},
		{"non-existent subdirectory", filepath.Join(root, "SlateB", "2"), false},
		{"root itself", root, false},
		{"dot-dot escape", filepath.Join(root, "..", "elsewhere"), true},
		{"unrelated absolute path", filepath.Join(t.TempDir(), "other"), true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := ValidatePathWithinDirectory(tt.path, root)
			if (err != nil) != tt.wantErr {
				t.Errorf("ValidatePathWithinDirectory(%q) = %v, wantErr %v", tt.path, err, tt.wantErr)
			}
		})
	}
}

func TestValidatePathResolvesSymlinkedRoot(t *testing.T) {
	real := t.TempDir()
	link := filepath.Join(t.TempDir(), "archive-link")
	if err := os.Symlink(real, link); err != nil {
		t.Skipf("symlinks unavailable: %v", err)
	}

	if err := ValidatePathWithinDirectory(filepath.Join(link, "SlateA", "1"), real); err != nil {
		t.Errorf("symlinked path rejected: %v", err)
	}
}
