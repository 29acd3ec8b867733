// Package archive packs converted files into the zip delivered back to the
// user.
package archive

import (
	"archive/zip"
	"fmt"
	"io"
	"os"
	"path/filepath"
)

// WriteZip packs the given files into a new zip at dst, storing each under
// its basename. Member order is not significant. The comment is embedded in
// the archive's end-of-central-directory record.
func WriteZip(dst string, files []string, comment string) error {
	out, err := os.Create(dst)
	if err != nil {
		return fmt.Errorf("create %s: %w", dst, err)
	}
	defer out.Close()

	zw := zip.NewWriter(out)
	if comment != "" {
		if err := zw.SetComment(comment); err != nil {
			return fmt.Errorf("set comment: %w", err)
		}
	}
	for _, file := range files {
		if err := addEntry(zw, file); err != nil {
			zw.Close()
			return fmt.Errorf("add %s: %w", file, err)
		}
	}
	if err := zw.Close(); err != nil {
		return fmt.Errorf("finalize %s: %w", dst, err)
	}
	return nil
}

func addEntry(zw *zip.Writer, path string) error {
	in, err := os.Open(path)
	if err != nil {
		return err
	}
	defer in.Close()
	entry, err := zw.Create(filepath.Base(path))
	if err != nil {
		return err
	}
	_, err = io.Copy(entry, in)
	return err
}

// CountEntries opens the archive and returns its member count. Used to tell
// a broken (empty) archive apart from "nothing produced" before delivery.
func CountEntries(path string) (int, error) {
	zr, err := zip.OpenReader(path)
	if err != nil {
		return 0, fmt.Errorf("open %s: %w", path, err)
	}
	defer zr.Close()
	return len(zr.File), nil
}
