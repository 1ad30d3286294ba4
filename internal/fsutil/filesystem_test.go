package fsutil

import (
	"os"
	"path/filepath"
	"testing"
)

func TestExists(t *testing.T) {
	if !Exists("filesystem.go") {
		t.Error("expected filesystem.go to exist")
	}

	if Exists("nonexistent_file_xyz.go") {
		t.Error("expected nonexistent file to not exist")
	}
}

func TestIsDir(t *testing.T) {
	dir := t.TempDir()

	if !IsDir(dir) {
		t.Error("expected temp dir to be a directory")
	}
	if IsDir("filesystem.go") {
		t.Error("expected filesystem.go to not be a directory")
	}
}

func TestEnsureDir(t *testing.T) {
	dir := t.TempDir()
	nested := filepath.Join(dir, "a", "b", "c")

	if err := EnsureDir(nested); err != nil {
		t.Fatalf("EnsureDir failed: %v", err)
	}
	if !IsDir(nested) {
		t.Error("expected nested directory to exist")
	}

	// idempotent
	if err := EnsureDir(nested); err != nil {
		t.Fatalf("EnsureDir on existing dir failed: %v", err)
	}
}

func TestCopyFile(t *testing.T) {
	dir := t.TempDir()
	src := filepath.Join(dir, "src.usda")
	dst := filepath.Join(dir, "out", "dst.usda")

	if err := os.WriteFile(src, []byte("#usda 1.0\n"), 0o644); err != nil {
		t.Fatal(err)
	}

	if err := CopyFile(dst, src); err != nil {
		t.Fatalf("CopyFile failed: %v", err)
	}

	data, err := os.ReadFile(dst)
	if err != nil {
		t.Fatalf("reading copy: %v", err)
	}
	if string(data) != "#usda 1.0\n" {
		t.Errorf("copied content = %q, want %q", data, "#usda 1.0\n")
	}
}

func TestCopyTree(t *testing.T) {
	src := t.TempDir()
	dst := filepath.Join(t.TempDir(), "take")

	files := []string{
		filepath.Join("cameras", "CamA", "CamA.usda"),
		filepath.Join("master", "MasterSequence.usda"),
	}
	for _, rel := range files {
		path := filepath.Join(src, rel)
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			t.Fatal(err)
		}
		if err := os.WriteFile(path, []byte(rel), 0o644); err != nil {
			t.Fatal(err)
		}
	}

	if err := CopyTree(dst, src); err != nil {
		t.Fatalf("CopyTree failed: %v", err)
	}

	for _, rel := range files {
		data, err := os.ReadFile(filepath.Join(dst, rel))
		if err != nil {
			t.Fatalf("expected %s in copy: %v", rel, err)
		}
		if string(data) != rel {
			t.Errorf("content of %s = %q, want %q", rel, data, rel)
		}
	}
}

func TestCopyTreeRejectsFile(t *testing.T) {
	dir := t.TempDir()
	src := filepath.Join(dir, "plain.txt")
	if err := os.WriteFile(src, []byte("x"), 0o644); err != nil {
		t.Fatal(err)
	}

	if err := CopyTree(filepath.Join(dir, "out"), src); err == nil {
		t.Error("expected error when source is not a directory")
	}
}
