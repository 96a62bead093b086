package helpers

import (
	"crypto/rand"
	"math/big"
	"os"
	"path/filepath"
)

const nonceSpace = 65536

func CheckFileExists(filePath string) bool {
	if _, fileFound := os.Stat(filePath); fileFound == nil {
		return true
	}
	return false
}

// GenerateNonce returns a random integer in [0, 65536).
func GenerateNonce() (int64, error) {
	n, err := rand.Int(rand.Reader, big.NewInt(nonceSpace))
	if err != nil {
		return 0, err
	}
	return n.Int64(), nil
}

// WriteFileAtomic writes data to a temp file next to filePath and renames it
// into place, so readers see either the old content or the new one.
func WriteFileAtomic(filePath string, data []byte, perm os.FileMode) error {
	dir := filepath.Dir(filePath)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return err
	}
	tmp, err := os.CreateTemp(dir, filepath.Base(filePath)+".tmp-*")
	if err != nil {
		return err
	}
	tmpName := tmp.Name()
	defer func() {
		if tmpName != "" {
			os.Remove(tmpName)
		}
	}()

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Close(); err != nil {
		return err
	}
	if err := os.Chmod(tmpName, perm); err != nil {
		return err
	}
	if err := os.Rename(tmpName, filePath); err != nil {
		return err
	}
	tmpName = ""
	return nil
}
