package cachedpath

import (
	"encoding/json"
	"os"
	"path/filepath"
	"sort"
	"time"

	"github.com/cybozu-go/log"
	"github.com/pkg/errors"
)

// meta is the sidecar record persisted alongside every versioned cache
// file (spec.md §3, C2 Meta Store). It is never mutated after it is
// first written: a new ETag always produces a new (file, meta) pair.
type meta struct {
	Resource     string   `json:"resource"`
	ResourcePath string   `json:"resource_path"`
	MetaPath     string   `json:"meta_path"`
	ETag         *string  `json:"etag,omitempty"`
	Expires      *float64 `json:"expires,omitempty"`
	CreationTime float64  `json:"creation_time"`
}

// metaPath derives the sidecar path for a versioned cache file.
func metaPath(resourcePath string) string {
	return resourcePath + ".meta"
}

// newMeta builds an in-memory meta for a freshly staged version. now is
// injected so tests can control creation_time deterministically.
func newMeta(resource, resourcePath string, etag *string, freshnessLifetime *uint64, now time.Time) *meta {
	creation := float64(now.UnixNano()) / 1e9
	m := &meta{
		Resource:     resource,
		ResourcePath: resourcePath,
		MetaPath:     metaPath(resourcePath),
		ETag:         etag,
		CreationTime: creation,
	}
	if freshnessLifetime != nil {
		expires := creation + float64(*freshnessLifetime)
		m.Expires = &expires
	}
	return m
}

// writeMeta serialises m to m.MetaPath using a self-describing JSON
// record, published atomically by staging to a temp file in the same
// directory and renaming it into place (mirror.Storage.Save's
// write-then-DirSync discipline, adapted to a single-file sidecar).
func writeMeta(m *meta) error {
	dir := filepath.Dir(m.MetaPath)
	tmp, err := os.CreateTemp(dir, ".meta-*")
	if err != nil {
		return errors.Wrap(err, "writeMeta")
	}
	tmpName := tmp.Name()
	// On any early return, remove the orphaned temp file.
	succeeded := false
	defer func() {
		if !succeeded {
			os.Remove(tmpName)
		}
	}()

	enc := json.NewEncoder(tmp)
	if err := enc.Encode(m); err != nil {
		tmp.Close()
		return errors.Wrap(err, "writeMeta: encode")
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return errors.Wrap(err, "writeMeta: sync")
	}
	if err := tmp.Close(); err != nil {
		return errors.Wrap(err, "writeMeta: close")
	}
	if err := os.Rename(tmpName, m.MetaPath); err != nil {
		return errors.Wrap(err, "writeMeta: rename")
	}
	succeeded = true
	if err := dirSync(dir); err != nil {
		log.Warn("failed to fsync cache directory after meta write", map[string]interface{}{
			"dir":   dir,
			"error": err.Error(),
		})
	}
	return nil
}

// readMeta deserialises the sidecar for resourcePath, enforcing
// invariant I1: a readable meta whose resource_path equals
// resourcePath.
func readMeta(resourcePath string) (*meta, error) {
	mp := metaPath(resourcePath)
	f, err := os.Open(mp)
	if err != nil {
		return nil, &CacheCorrupted{Reason: "missing meta file: " + mp}
	}
	defer f.Close()

	var m meta
	if err := json.NewDecoder(f).Decode(&m); err != nil {
		return nil, &CacheCorrupted{Reason: "unparseable meta file: " + mp}
	}
	if m.ResourcePath != resourcePath {
		return nil, &CacheCorrupted{Reason: "meta resource_path mismatch for " + mp}
	}
	return &m, nil
}

// isFresh reports whether m is still within its freshness window.
// overrideLifetime, when non-nil, takes precedence over m.Expires and is
// applied as creation_time + overrideLifetime (spec.md §4.2).
func isFresh(m *meta, overrideLifetime *uint64, now time.Time) bool {
	nowSecs := float64(now.UnixNano()) / 1e9
	if overrideLifetime != nil {
		return nowSecs < m.CreationTime+float64(*overrideLifetime)
	}
	if m.Expires == nil {
		return false
	}
	return nowSecs < *m.Expires
}

// findVersions enumerates every meta matching H(resource)* within dir
// and returns them sorted by creation_time descending (most recent
// first). Unreadable sidecars are skipped with a warning, never fatal,
// matching the teacher's tolerant Storage.Load behavior.
func findVersions(dir, resource string) ([]*meta, error) {
	pattern := filepath.Join(dir, hashStr(resource)+"*.meta")
	matches, err := filepath.Glob(pattern)
	if err != nil {
		return nil, errors.Wrap(err, "findVersions: glob")
	}

	var metas []*meta
	for _, mp := range matches {
		resourcePath := mp[:len(mp)-len(".meta")]
		m, err := readMeta(resourcePath)
		if err != nil {
			log.Warn("skipping unreadable cache meta", map[string]interface{}{
				"path":  mp,
				"error": err.Error(),
			})
			continue
		}
		metas = append(metas, m)
	}

	sort.SliceStable(metas, func(i, j int) bool {
		return metas[i].CreationTime > metas[j].CreationTime
	})
	return metas, nil
}
