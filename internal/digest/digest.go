// Package digest computes the content hashes that identify artifacts across
// the registry, the object store and the declarative config repository.
package digest

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"
	"os"
	"strings"
)

// chunkSize bounds the read buffer so arbitrarily large installers hash in
// constant memory.
const chunkSize = 64 * 1024

// Size is the length of a hex-encoded SHA-256 digest.
const Size = sha256.Size * 2

// File streams the file at path through SHA-256 and returns the lowercase
// hex digest.
func File(path string) (string, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", fmt.Errorf("opening %s for hashing: %w", path, err)
	}
	defer f.Close()

	sum, err := Reader(f)
	if err != nil {
		return "", fmt.Errorf("hashing %s: %w", path, err)
	}
	return sum, nil
}

// Reader hashes everything read from r.
func Reader(r io.Reader) (string, error) {
	h := sha256.New()
	buf := make([]byte, chunkSize)
	if _, err := io.CopyBuffer(h, r, buf); err != nil {
		return "", err
	}
	return hex.EncodeToString(h.Sum(nil)), nil
}

// Bytes returns the hex SHA-256 digest of content.
func Bytes(content []byte) string {
	h := sha256.Sum256(content)
	return hex.EncodeToString(h[:])
}

// Valid reports whether s is a 64-character lowercase hex digest.
func Valid(s string) bool {
	if len(s) != Size {
		return false
	}
	if strings.ToLower(s) != s {
		return false
	}
	_, err := hex.DecodeString(s)
	return err == nil
}

// Short returns the first 16 characters of a digest for log output.
func Short(s string) string {
	if len(s) <= 16 {
		return s
	}
	return s[:16] + "..."
}
