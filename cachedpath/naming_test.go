package cachedpath

import "testing"

func TestVersionedNameStable(t *testing.T) {
	t.Parallel()

	etag := "abc"
	a := versionedName("https://example.com/x", &etag)
	b := versionedName("https://example.com/x", &etag)
	if a != b {
		t.Errorf("name(r, e) must be stable: %q != %q", a, b)
	}
}

func TestVersionedNameDiffersByResource(t *testing.T) {
	t.Parallel()

	etag := "abc"
	a := versionedName("https://example.com/x", &etag)
	b := versionedName("https://example.com/y", &etag)
	if a == b {
		t.Error("distinct resources must produce distinct names")
	}
}

func TestVersionedNameDiffersByETag(t *testing.T) {
	t.Parallel()

	e1, e2 := "abc", "def"
	a := versionedName("https://example.com/x", &e1)
	b := versionedName("https://example.com/x", &e2)
	if a == b {
		t.Error("distinct etags must produce distinct names")
	}
}

func TestVersionedNameOmitsSuffixWithoutETag(t *testing.T) {
	t.Parallel()

	withETag := "abc"
	withoutETag := versionedName("https://example.com/x", nil)
	withETagName := versionedName("https://example.com/x", &withETag)
	if withoutETag == withETagName {
		t.Error("absent etag must produce a different (shorter) name")
	}
	if withoutETag != hashStr("https://example.com/x") {
		t.Errorf("name without etag must equal H(resource), got %q", withoutETag)
	}
}
