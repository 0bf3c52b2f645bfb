package cachedpath

import (
	"path/filepath"
	"testing"
	"time"
)

func TestMetaRoundTrip(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	resourcePath := filepath.Join(dir, "somefile")
	etag := "fake-etag"
	lifetime := uint64(300)
	now := time.Unix(1_700_000_000, 0)

	m := newMeta("https://example.com/x", resourcePath, &etag, &lifetime, now)
	if err := writeMeta(m); err != nil {
		t.Fatal(err)
	}

	got, err := readMeta(resourcePath)
	if err != nil {
		t.Fatal(err)
	}

	if got.Resource != m.Resource || got.ResourcePath != m.ResourcePath || got.MetaPath != m.MetaPath {
		t.Errorf("round trip mismatch: %+v vs %+v", got, m)
	}
	if got.ETag == nil || *got.ETag != etag {
		t.Errorf("etag mismatch: %+v", got.ETag)
	}
	if got.Expires == nil || *got.Expires != *m.Expires {
		t.Errorf("expires mismatch: %+v vs %+v", got.Expires, m.Expires)
	}
	if got.CreationTime != m.CreationTime {
		t.Errorf("creation_time mismatch: %v vs %v", got.CreationTime, m.CreationTime)
	}
}

func TestMetaWithoutETagOmitsField(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	resourcePath := filepath.Join(dir, "somefile")
	m := newMeta("https://example.com/x", resourcePath, nil, nil, time.Now())
	if err := writeMeta(m); err != nil {
		t.Fatal(err)
	}
	got, err := readMeta(resourcePath)
	if err != nil {
		t.Fatal(err)
	}
	if got.ETag != nil {
		t.Errorf("expected nil etag, got %v", *got.ETag)
	}
	if got.Expires != nil {
		t.Errorf("expected nil expires (no freshness lifetime), got %v", *got.Expires)
	}
}

func TestReadMetaMissingIsCacheCorrupted(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	_, err := readMeta(filepath.Join(dir, "nope"))
	if _, ok := err.(*CacheCorrupted); !ok {
		t.Fatalf("expected CacheCorrupted, got %v", err)
	}
}

func TestIsFreshWithinLifetime(t *testing.T) {
	t.Parallel()

	now := time.Unix(1_700_000_000, 0)
	lifetime := uint64(300)
	m := newMeta("r", "/tmp/x", nil, &lifetime, now)

	if !isFresh(m, nil, now.Add(100*time.Second)) {
		t.Error("expected fresh within lifetime window")
	}
	if isFresh(m, nil, now.Add(400*time.Second)) {
		t.Error("expected stale past lifetime window")
	}
}

func TestIsFreshOverrideTakesPrecedence(t *testing.T) {
	t.Parallel()

	now := time.Unix(1_700_000_000, 0)
	lifetime := uint64(300)
	m := newMeta("r", "/tmp/x", nil, &lifetime, now)

	override := uint64(10)
	if isFresh(m, &override, now.Add(20*time.Second)) {
		t.Error("override lifetime should make this stale at +20s")
	}
}

func TestFindVersionsOrdersByCreationTimeDescending(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	resource := "https://example.com/x"
	e1, e2 := "one", "two"

	m1 := newMeta(resource, filepath.Join(dir, versionedName(resource, &e1)), &e1, nil, time.Unix(100, 0))
	m2 := newMeta(resource, filepath.Join(dir, versionedName(resource, &e2)), &e2, nil, time.Unix(200, 0))
	if err := writeMeta(m1); err != nil {
		t.Fatal(err)
	}
	if err := writeMeta(m2); err != nil {
		t.Fatal(err)
	}

	versions, err := findVersions(dir, resource)
	if err != nil {
		t.Fatal(err)
	}
	if len(versions) != 2 {
		t.Fatalf("expected 2 versions, got %d", len(versions))
	}
	if versions[0].CreationTime != m2.CreationTime {
		t.Errorf("expected most recent version first, got %+v", versions[0])
	}
}
