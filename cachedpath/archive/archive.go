// Package archive implements the archive extractor (spec.md §4.5, C5):
// atomic materialisation of an extracted directory from a .tar.gz,
// .tar.xz, or .zip file. The atomic-publish discipline (stage to a temp
// directory, then rename into place) is adapted from mirror.DirSync and
// mirror.Mirror.replaceLink in cybozu-go/aptutil, which use the same
// same-filesystem temp-then-rename technique for their own artifacts.
package archive

import (
	"archive/tar"
	"archive/zip"
	"compress/gzip"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/krajole/cachedpath/cachedpath/cperrors"
	"github.com/ulikunitz/xz"
)

// format is the archive format dispatched by case-insensitive suffix
// match on the original resource string.
type format int

const (
	formatTarGz format = iota
	formatTarXz
	formatZip
)

// parseFormat determines the archive format from resource's suffix.
// Per spec.md §4.5, .tar.gz and .zip are required; .tar.xz is an
// extension grounded on the teacher's own treatment of .xz as just
// another Release-file transport (apt.ReleaseFiles enumerates
// Release.xz alongside Release.gz/.bz2).
func parseFormat(resource string) (format, error) {
	lower := strings.ToLower(resource)
	switch {
	case strings.HasSuffix(lower, ".tar.gz"):
		return formatTarGz, nil
	case strings.HasSuffix(lower, ".tar.xz"):
		return formatTarXz, nil
	case strings.HasSuffix(lower, ".zip"):
		return formatZip, nil
	default:
		return 0, &cperrors.ExtractionError{Reason: "unsupported archive format"}
	}
}

// Extract materialises the archive at source (whose name is resource)
// into target, atomically. A failure while extracting leaves target
// untouched, and the temp directory is removed on every failure path.
//
//  1. Create a temp directory inside parent(target) (same filesystem).
//  2. Extract into it, preserving archive-relative paths.
//  3. Remove target if it already exists.
//  4. Rename the temp directory to target.
func Extract(resource, source, target string) error {
	f, err := parseFormat(resource)
	if err != nil {
		return err
	}

	parent := filepath.Dir(target)
	tmpDir, err := os.MkdirTemp(parent, ".extract-*")
	if err != nil {
		return &cperrors.ExtractionError{Reason: "create temp dir: " + err.Error()}
	}
	succeeded := false
	defer func() {
		if !succeeded {
			os.RemoveAll(tmpDir)
		}
	}()

	srcFile, err := os.Open(source)
	if err != nil {
		return &cperrors.ExtractionError{Reason: "open source: " + err.Error()}
	}
	defer srcFile.Close()

	switch f {
	case formatTarGz:
		gz, err := gzip.NewReader(srcFile)
		if err != nil {
			return &cperrors.ExtractionError{Reason: "gzip: " + err.Error()}
		}
		defer gz.Close()
		if err := extractTar(gz, tmpDir); err != nil {
			return err
		}
	case formatTarXz:
		xzr, err := xz.NewReader(srcFile)
		if err != nil {
			return &cperrors.ExtractionError{Reason: "xz: " + err.Error()}
		}
		if err := extractTar(xzr, tmpDir); err != nil {
			return err
		}
	case formatZip:
		if err := extractZip(source, tmpDir); err != nil {
			return err
		}
	}

	if _, err := os.Stat(target); err == nil {
		if err := os.RemoveAll(target); err != nil {
			return &cperrors.ExtractionError{Reason: "remove existing target: " + err.Error()}
		}
	}
	if err := os.Rename(tmpDir, target); err != nil {
		return &cperrors.ExtractionError{Reason: "rename into place: " + err.Error()}
	}
	succeeded = true

	if err := dirSync(parent); err != nil {
		// Not fatal: the rename already happened, we just couldn't
		// force it to survive an immediate crash.
		return nil
	}
	return nil
}

func extractTar(r io.Reader, dir string) error {
	tr := tar.NewReader(r)
	for {
		hdr, err := tr.Next()
		if err == io.EOF {
			return nil
		}
		if err != nil {
			return &cperrors.ExtractionError{Reason: "tar: " + err.Error()}
		}

		target := filepath.Join(dir, filepath.Clean(hdr.Name))
		if !strings.HasPrefix(target, filepath.Clean(dir)+string(os.PathSeparator)) && target != dir {
			return &cperrors.ExtractionError{Reason: "tar entry escapes target directory: " + hdr.Name}
		}

		switch hdr.Typeflag {
		case tar.TypeDir:
			if err := os.MkdirAll(target, 0o755); err != nil {
				return &cperrors.ExtractionError{Reason: "mkdir: " + err.Error()}
			}
		case tar.TypeReg:
			if err := os.MkdirAll(filepath.Dir(target), 0o755); err != nil {
				return &cperrors.ExtractionError{Reason: "mkdir: " + err.Error()}
			}
			out, err := os.OpenFile(target, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, os.FileMode(hdr.Mode))
			if err != nil {
				return &cperrors.ExtractionError{Reason: "create: " + err.Error()}
			}
			if _, err := io.Copy(out, tr); err != nil {
				out.Close()
				return &cperrors.ExtractionError{Reason: "write: " + err.Error()}
			}
			if err := out.Close(); err != nil {
				return &cperrors.ExtractionError{Reason: "close: " + err.Error()}
			}
		default:
			// symlinks and other special entries are skipped.
		}
	}
}

func extractZip(source, dir string) error {
	zr, err := zip.OpenReader(source)
	if err != nil {
		return &cperrors.ExtractionError{Reason: "zip: " + err.Error()}
	}
	defer zr.Close()

	for _, zf := range zr.File {
		target := filepath.Join(dir, filepath.Clean(zf.Name))
		if !strings.HasPrefix(target, filepath.Clean(dir)+string(os.PathSeparator)) && target != dir {
			return &cperrors.ExtractionError{Reason: "zip entry escapes target directory: " + zf.Name}
		}

		if zf.FileInfo().IsDir() {
			if err := os.MkdirAll(target, 0o755); err != nil {
				return &cperrors.ExtractionError{Reason: "mkdir: " + err.Error()}
			}
			continue
		}

		if err := os.MkdirAll(filepath.Dir(target), 0o755); err != nil {
			return &cperrors.ExtractionError{Reason: "mkdir: " + err.Error()}
		}
		rc, err := zf.Open()
		if err != nil {
			return &cperrors.ExtractionError{Reason: "open entry: " + err.Error()}
		}
		out, err := os.OpenFile(target, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, zf.Mode())
		if err != nil {
			rc.Close()
			return &cperrors.ExtractionError{Reason: "create: " + err.Error()}
		}
		_, copyErr := io.Copy(out, rc)
		rc.Close()
		closeErr := out.Close()
		if copyErr != nil {
			return &cperrors.ExtractionError{Reason: "write: " + copyErr.Error()}
		}
		if closeErr != nil {
			return &cperrors.ExtractionError{Reason: "close: " + closeErr.Error()}
		}
	}
	return nil
}

// dirSync calls fsync(2) on a directory, adapted from mirror.DirSync.
func dirSync(d string) error {
	f, err := os.OpenFile(d, os.O_RDONLY, 0o755)
	if err != nil {
		return err
	}
	if err := f.Sync(); err != nil {
		f.Close()
		return err
	}
	return f.Close()
}
