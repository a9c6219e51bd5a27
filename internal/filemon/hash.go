package filemon

import (
	"crypto/sha256"
	"encoding/hex"
	"io"
	"os"
)

// maxHashSize caps streaming hash work at 100 MiB. Larger files are left
// unhashed rather than stalling the notification path.
const maxHashSize = 100 * 1024 * 1024

// hashFile streams a SHA-256 over the file. Returns "" on any read error
// or when the file exceeds maxHashSize; hashing is advisory metadata and
// must never fail an event.
func hashFile(path string) string {
	info, err := os.Stat(path)
	if err != nil || info.Size() > maxHashSize {
		return ""
	}

	f, err := os.Open(path)
	if err != nil {
		return ""
	}
	defer f.Close()

	h := sha256.New()
	if _, err := io.Copy(h, io.LimitReader(f, maxHashSize)); err != nil {
		return ""
	}

	return hex.EncodeToString(h.Sum(nil))
}
