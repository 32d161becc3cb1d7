// Package files holds the local filesystem stages of an import run: archiving the
// downloaded report and deciding from its size whether there is anything to import.
package files

import (
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"

	"cdw-asset-import/internal/apperr"
)

// Gate is the decision of the size check.
type Gate int

const (
	// GateProceed means the report carries data and should be transformed.
	GateProceed Gate = iota
	// GateNoData means the vendor had no transactions; the run ends successfully.
	GateNoData
)

func (g Gate) String() string {
	switch g {
	case GateProceed:
		return "proceed"
	case GateNoData:
		return "no_data"
	default:
		return fmt.Sprintf("gate(%d)", int(g))
	}
}

// Archive copies src to dst byte for byte, creating dst's directory if needed.
// An existing dst is overwritten.
func Archive(src, dst string) (int64, error) {
	in, err := os.Open(src)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return 0, apperr.New(apperr.KindLocalFileMissing, "archive "+src, err)
		}
		return 0, apperr.New(apperr.KindIO, "archive "+src, err)
	}
	defer in.Close()

	if err := os.MkdirAll(filepath.Dir(dst), 0o755); err != nil {
		return 0, apperr.New(apperr.KindIO, "create archive directory", err)
	}

	out, err := os.Create(dst)
	if err != nil {
		return 0, apperr.New(apperr.KindIO, "create archive "+dst, err)
	}

	n, err := io.Copy(out, in)
	if err != nil {
		out.Close()
		return n, apperr.New(apperr.KindIO, "copy to archive "+dst, err)
	}
	if err := out.Close(); err != nil {
		return n, apperr.New(apperr.KindIO, "close archive "+dst, err)
	}
	return n, nil
}

// CheckSize reports GateNoData and removes path when the file holds minSize bytes
// or fewer. A missing file is a LOCAL_FILE_MISSING error.
func CheckSize(path string, minSize int64) (Gate, int64, error) {
	info, err := os.Stat(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return GateProceed, 0, apperr.New(apperr.KindLocalFileMissing, "stat "+path, err)
		}
		return GateProceed, 0, apperr.New(apperr.KindIO, "stat "+path, err)
	}
	if !info.Mode().IsRegular() {
		return GateProceed, 0, apperr.Errorf(apperr.KindLocalFileMissing, "stat "+path, "not a regular file")
	}

	size := info.Size()
	if size > minSize {
		return GateProceed, size, nil
	}

	if err := os.Remove(path); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return GateNoData, size, apperr.New(apperr.KindIO, "remove "+path, err)
	}
	return GateNoData, size, nil
}
