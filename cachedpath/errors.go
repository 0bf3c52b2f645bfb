package cachedpath

import "github.com/krajole/cachedpath/cachedpath/cperrors"

// The public error taxonomy (spec.md §7) lives in cperrors so that the
// fetch, archive, and lockfile packages can produce and recognize it
// without importing this package. These aliases are the surface
// callers of cachedpath actually use.
type (
	ResourceNotFound    = cperrors.ResourceNotFound
	InvalidURL          = cperrors.InvalidURL
	NoCachedVersions    = cperrors.NoCachedVersions
	CacheCorrupted      = cperrors.CacheCorrupted
	HTTPError           = cperrors.HTTPError
	HTTPTimeout         = cperrors.HTTPTimeout
	HTTPMaxRetriesError = cperrors.HTTPMaxRetriesError
	IOError             = cperrors.IOError
	ExtractionError     = cperrors.ExtractionError
)
