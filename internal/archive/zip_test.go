package archive

import (
	"archive/zip"
	"os"
	"path/filepath"
	"testing"
)

func writeFile(t *testing.T, dir, name, body string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	if err := os.WriteFile(path, []byte(body), 0o644); err != nil {
		t.Fatalf("write %s: %v", name, err)
	}
	return path
}

func TestWriteZip(t *testing.T) {
	t.Parallel()
	dir := t.TempDir()
	a := writeFile(t, dir, "a.webp", "aaa")
	b := writeFile(t, dir, "b.gif", "bbbb")
	dst := filepath.Join(dir, "out.zip")

	if err := WriteZip(dst, []string{a, b}, "made with stickerpress"); err != nil {
		t.Fatalf("write zip: %v", err)
	}

	zr, err := zip.OpenReader(dst)
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	defer zr.Close()
	if zr.Comment != "made with stickerpress" {
		t.Fatalf("comment not set: %q", zr.Comment)
	}
	names := map[string]bool{}
	for _, f := range zr.File {
		names[f.Name] = true
	}
	if !names["a.webp"] || !names["b.gif"] {
		t.Fatalf("unexpected members: %v", names)
	}

	count, err := CountEntries(dst)
	if err != nil || count != 2 {
		t.Fatalf("count=%d err=%v", count, err)
	}
}

func TestWriteZipNoFiles(t *testing.T) {
	t.Parallel()
	dst := filepath.Join(t.TempDir(), "empty.zip")
	if err := WriteZip(dst, nil, ""); err != nil {
		t.Fatalf("write: %v", err)
	}
	count, err := CountEntries(dst)
	if err != nil || count != 0 {
		t.Fatalf("count=%d err=%v", count, err)
	}
}

func TestWriteZipMissingMember(t *testing.T) {
	t.Parallel()
	dir := t.TempDir()
	dst := filepath.Join(dir, "out.zip")
	err := WriteZip(dst, []string{filepath.Join(dir, "missing.webp")}, "")
	if err == nil {
		t.Fatalf("expected error for missing member")
	}
}
