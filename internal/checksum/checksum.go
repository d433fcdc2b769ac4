package checksum

import (
	"crypto/sha256"
	"encoding/base64"
	"fmt"
	"io"
	"os"
)

const bufferSize = 64 * 1024 // 64KB buffer

// File calculates the SHA-256 checksum of a file and returns it base64
// encoded, the same format S3 reports for ChecksumSHA256.
func File(path string) (string, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", fmt.Errorf("open file: %w", err)
	}
	defer f.Close()

	return Reader(f)
}

// Reader calculates the SHA-256 checksum of everything read from r and
// returns it base64 encoded.
func Reader(r io.Reader) (string, error) {
	hash := sha256.New()
	buffer := make([]byte, bufferSize)

	for {
		n, err := r.Read(buffer)
		if n > 0 {
			if _, werr := hash.Write(buffer[:n]); werr != nil {
				return "", fmt.Errorf("write to hash: %w", werr)
			}
		}
		if err == io.EOF {
			break
		}
		if err != nil {
			return "", fmt.Errorf("read: %w", err)
		}
	}

	return base64.StdEncoding.EncodeToString(hash.Sum(nil)), nil
}
