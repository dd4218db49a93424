package config

import (
	"encoding/hex"
	"fmt"
	"os"

	"github.com/zeebo/blake3"
)

// ComputeBlake3Hash computes the BLAKE3 hash of a file.
func ComputeBlake3Hash(filePath string) (string, error) {
	data, err := os.ReadFile(filePath)
	if err != nil {
		return "", fmt.Errorf("failed to read file: %w", err)
	}

	hash := blake3.Sum256(data)
	return hex.EncodeToString(hash[:]), nil
}

// Fingerprint hashes the contents of paths, in order, into one digest.
// Two hosts started with the same files report the same fingerprint.
func Fingerprint(paths []string) (string, error) {
	h := blake3.New()
	for _, p := range paths {
		data, err := os.ReadFile(p)
		if err != nil {
			return "", fmt.Errorf("failed to read %s: %w", p, err)
		}
		// Length prefix keeps file boundaries unambiguous.
		fmt.Fprintf(h, "%d\n", len(data))
		_, _ = h.Write(data)
	}
	return hex.EncodeToString(h.Sum(nil)), nil
}
