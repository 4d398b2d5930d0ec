package hal

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/renameio"

	"github.com/autopeer-io/bankupdate/internal/bankd/core"
)

const (
	// VersionFile holds the image build stamp at the root of every image.
	VersionFile = "image_built_at.txt"

	// ExtractedAtFile is written into a bank once its image is fully extracted.
	ExtractedAtFile = "extracted_at.txt"

	// ExtractTimeLayout is the on-disk and on-wire format of extract times.
	ExtractTimeLayout = time.RFC3339
)

// ReadBankInfo reads the version and extraction markers under root. Missing markers
// are not an error; they leave the corresponding field empty.
func ReadBankInfo(root string) (core.BankInfo, error) {
	var info core.BankInfo

	version, err := readMarker(filepath.Join(root, VersionFile))
	if err != nil {
		return info, err
	}
	info.Version = version

	stamp, err := readMarker(filepath.Join(root, ExtractedAtFile))
	if err != nil {
		return info, err
	}
	if stamp != "" {
		t, err := time.Parse(ExtractTimeLayout, stamp)
		if err != nil {
			return info, fmt.Errorf("malformed %s: %w", ExtractedAtFile, err)
		}
		info.ExtractTime = &t
	}

	return info, nil
}

// WriteExtractedAt marks the image under root as completely extracted at t.
func WriteExtractedAt(root string, t time.Time) error {
	stamp := t.UTC().Truncate(time.Second).Format(ExtractTimeLayout)
	return renameio.WriteFile(filepath.Join(root, ExtractedAtFile), []byte(stamp+"\n"), 0o644)
}

func readMarker(path string) (string, error) {
	data, err := os.ReadFile(path)
	if errors.Is(err, fs.ErrNotExist) {
		return "", nil
	}
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(string(data)), nil
}
