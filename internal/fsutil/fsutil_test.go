package fsutil

import (
	"os"
	"path/filepath"
	"testing"
)

func TestReadFileScoped_ReadsFile(t *testing.T) {
	dir := t.TempDir()
	p := filepath.Join(dir, "a.txt")
	if err := os.WriteFile(p, []byte("hello"), 0o600); err != nil {
		t.Fatalf("write file: %v", err)
	}

	b, err := ReadFileScoped(p)
	if err != nil {
		t.Fatalf("ReadFileScoped error: %v", err)
	}
	if string(b) != "hello" {
		t.Fatalf("unexpected content: %q", string(b))
	}
}

func TestReadFileScoped_RejectsInvalidPath(t *testing.T) {
	for _, p := range []string{"", ".", string(filepath.Separator)} {
		if _, err := ReadFileScoped(p); err == nil {
			t.Fatalf("expected error for %q", p)
		}
	}
}

func TestReadFileScoped_Missing(t *testing.T) {
	if _, err := ReadFileScoped(filepath.Join(t.TempDir(), "nodir", "file.txt")); err == nil {
		t.Error("expected error for nonexistent directory")
	}
	if _, err := ReadFileScoped(filepath.Join(t.TempDir(), "missing.txt")); err == nil {
		t.Error("expected error for nonexistent file")
	}
}

func TestWriteFileAtomic_CreatesAndReplaces(t *testing.T) {
	p := filepath.Join(t.TempDir(), "reports", "wf-1", "report.md")

	if err := WriteFileAtomic(p, []byte("first"), 0o640); err != nil {
		t.Fatalf("WriteFileAtomic() error = %v", err)
	}
	if err := WriteFileAtomic(p, []byte("second"), 0o640); err != nil {
		t.Fatalf("WriteFileAtomic() error = %v", err)
	}

	got, err := ReadFileScoped(p)
	if err != nil {
		t.Fatalf("ReadFileScoped() error = %v", err)
	}
	if string(got) != "second" {
		t.Errorf("content = %q, want second", got)
	}

	entries, err := os.ReadDir(filepath.Dir(p))
	if err != nil {
		t.Fatal(err)
	}
	if len(entries) != 1 {
		t.Errorf("directory has %d entries, want only the target file", len(entries))
	}
}
