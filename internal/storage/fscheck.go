package storage

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

var networkFilesystems = map[string]struct{}{
	"afpfs":  {},
	"cifs":   {},
	"nfs":    {},
	"smbfs":  {},
	"smb2":   {},
	"webdav": {},
}

// CheckLocalFilesystem fails when path would live on a network filesystem,
// where SQLite locking is unreliable. Platforms without detection pass.
func CheckLocalFilesystem(path string) error {
	return checkLocalFilesystemWithDetector(path, detectFilesystemType)
}

func checkLocalFilesystemWithDetector(path string, detector func(string) (string, error)) error {
	if path == "" {
		return fmt.Errorf("sqlite path is empty")
	}

	inspectPath, err := nearestExistingPath(path)
	if err != nil {
		return fmt.Errorf("resolve database path %q: %w", path, err)
	}

	fsType, err := detector(inspectPath)
	if errors.Is(err, errUnsupported) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("detect filesystem for %q: %w", inspectPath, err)
	}

	if isNetworkFilesystem(fsType) {
		return fmt.Errorf(
			"database path %q is on network filesystem %q; SQLite requires a local filesystem for reliable locking. Point journal.path at local disk",
			path,
			fsType,
		)
	}
	return nil
}

var errUnsupported = errors.New("filesystem detection unsupported on this platform")

func nearestExistingPath(path string) (string, error) {
	absPath, err := filepath.Abs(path)
	if err != nil {
		return "", fmt.Errorf("absolute path: %w", err)
	}

	candidate := absPath
	for {
		_, err := os.Stat(candidate)
		if err == nil {
			return candidate, nil
		}
		if !errors.Is(err, os.ErrNotExist) {
			return "", fmt.Errorf("stat %q: %w", candidate, err)
		}

		parent := filepath.Dir(candidate)
		if parent == candidate {
			return "", fmt.Errorf("no existing parent for %q", absPath)
		}
		candidate = parent
	}
}

func isNetworkFilesystem(fsType string) bool {
	normalized := strings.TrimSpace(strings.ToLower(fsType))
	_, found := networkFilesystems[normalized]
	return found
}
