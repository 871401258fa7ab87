package pass

import (
	"archive/zip"
	"bytes"
	"fmt"
	"sort"
)

// BuildBundle assembles the .pkpass archive from the content files, their
// manifest, and the detached signature. Entries are written in sorted order
// with zero timestamps so equal inputs produce byte-equal archives.
func BuildBundle(files map[string][]byte, manifest, signature []byte) ([]byte, error) {
	all := make(map[string][]byte, len(files)+2)
	for name, data := range files {
		all[name] = data
	}
	all["manifest.json"] = manifest
	all["signature"] = signature

	names := make([]string, 0, len(all))
	for name := range all {
		names = append(names, name)
	}
	sort.Strings(names)

	var buf bytes.Buffer
	w := zip.NewWriter(&buf)
	for _, name := range names {
		f, err := w.CreateHeader(&zip.FileHeader{Name: name, Method: zip.Deflate})
		if err != nil {
			return nil, fmt.Errorf("create bundle entry %s: %w", name, err)
		}
		if _, err := f.Write(all[name]); err != nil {
			return nil, fmt.Errorf("write bundle entry %s: %w", name, err)
		}
	}
	if err := w.Close(); err != nil {
		return nil, fmt.Errorf("finalize bundle: %w", err)
	}
	return buf.Bytes(), nil
}
