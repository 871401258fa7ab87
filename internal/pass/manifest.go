package pass

import (
	"crypto/sha1" //nolint:gosec // the bundle manifest format mandates SHA-1 digests
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
)

// BuildManifest produces the manifest.json mapping each bundle file to its
// SHA-1 digest, plus the strong ETag for conditional fetches. The ETag is
// the SHA-256 of the manifest bytes: identical content always hashes to the
// same tag, so a rebuild with unchanged inputs stays cacheable.
func BuildManifest(files map[string][]byte) (manifest []byte, etag string, err error) {
	digests := make(map[string]string, len(files))
	for name, data := range files {
		sum := sha1.Sum(data) //nolint:gosec // manifest format, not security
		digests[name] = hex.EncodeToString(sum[:])
	}

	// json.Marshal sorts map keys, keeping the manifest deterministic.
	manifest, err = json.Marshal(digests)
	if err != nil {
		return nil, "", fmt.Errorf("encode manifest: %w", err)
	}

	etagSum := sha256.Sum256(manifest)
	return manifest, hex.EncodeToString(etagSum[:]), nil
}
