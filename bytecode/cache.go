package bytecode

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"os"
	"path/filepath"
)

// cacheDirName is the bytecode cache directory created next to a loaded
// artifact, mirroring spec.md §6's "__etch__/*.etcx" cache layout.
const cacheDirName = "__etch__"

// CachePath returns the cache artifact path for the ".etcx" file at path,
// keyed by a content hash of its bytes so a changed input never hits a
// stale cache entry.
func CachePath(path string) (string, error) {
	data, err := os.ReadFile(path) // #nosec G304 -- caller-specified bytecode artifact path
	if err != nil {
		return "", fmt.Errorf("read bytecode file: %w", err)
	}
	sum := sha256.Sum256(data)
	key := hex.EncodeToString(sum[:])
	return filepath.Join(filepath.Dir(path), cacheDirName, key+".etcx"), nil
}

// LoadCached loads path via its cache entry when one exists and force is
// false, otherwise loads and decodes path directly and writes a fresh
// cache entry for next time. This is Etch's stand-in for "compile if
// needed" now that there is no source-level compiler in this repo's
// scope (see DESIGN.md): every CLI file argument is already a ".etcx"
// artifact, so "caching" means skipping the decode/validate/re-encode
// round trip, not skipping an actual compilation step.
func LoadCached(path string, force bool) (*Program, error) {
	cachePath, err := CachePath(path)
	if err != nil {
		return nil, err
	}

	if !force {
		if prog, err := Load(cachePath); err == nil {
			return prog, nil
		}
	}

	prog, err := Load(path)
	if err != nil {
		return nil, err
	}

	if err := os.MkdirAll(filepath.Dir(cachePath), 0o755); err != nil {
		return prog, nil // cache write failures never fail the load
	}
	_ = Save(cachePath, prog)
	return prog, nil
}
