// Package cachedpath implements a content-addressed local cache for
// arbitrary resources (local files or HTTP(S) URLs), their ETag-based
// freshness protocol, retry/backoff policy, process-safe concurrency
// discipline, and optional archive extraction. See spec.md for the
// full design; this file is the Cache Orchestrator (C6), grounded on
// mirror.Mirror's Update/NewMirror orchestration shape and
// mirror.control.Run's top-level flow in cybozu-go/aptutil.
package cachedpath

import (
	"context"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/cybozu-go/log"
	"github.com/krajole/cachedpath/cachedpath/archive"
	"github.com/krajole/cachedpath/cachedpath/cperrors"
	"github.com/krajole/cachedpath/cachedpath/fetch"
	"github.com/krajole/cachedpath/cachedpath/lockfile"
	"github.com/krajole/cachedpath/cachedpath/progress"
	"github.com/pkg/errors"
)

// Options controls a single CachedPath call (spec.md §4.6).
type Options struct {
	// Subdir, when set, is joined onto the cache root for this call.
	Subdir string
	// Extract requests that the resolved file be extracted as an
	// archive; the returned path then names a directory.
	Extract bool
}

// Cache resolves resource identifiers to local filesystem paths,
// coordinating naming, the meta store, the lock manager, the HTTP
// fetcher, and the archive extractor (C1-C5).
type Cache struct {
	cfg     Config
	fetcher *fetch.Fetcher
}

// New constructs a Cache from cfg.
func New(cfg *Config) *Cache {
	return &Cache{
		cfg: *cfg,
		fetcher: fetch.New(fetch.Config{
			MaxRetries:     cfg.MaxRetries,
			MaxBackoff:     cfg.MaxBackoff,
			Timeout:        cfg.Timeout,
			ConnectTimeout: cfg.ConnectTimeout,
		}),
	}
}

// isURL reports whether resource is classified as a URL per spec.md §3:
// it begins with "http://" or "https://".
func isURL(resource string) bool {
	return strings.HasPrefix(resource, "http://") || strings.HasPrefix(resource, "https://")
}

// CachedPath resolves resource to a local path per spec.md §4.6.
func (c *Cache) CachedPath(ctx context.Context, resource string, opts Options) (string, error) {
	if !isURL(resource) {
		if _, err := os.Stat(resource); err != nil {
			return "", &cperrors.ResourceNotFound{Path: resource}
		}
		// The original string is returned verbatim, never canonicalised
		// (spec.md §9 Open Question, preserved to match observable
		// behavior of existing callers).
		return resource, nil
	}

	if _, err := url.Parse(resource); err != nil {
		return "", &cperrors.InvalidURL{URL: resource}
	}

	dir := c.cfg.Dir
	if opts.Subdir != "" {
		dir = filepath.Join(dir, opts.Subdir)
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", errors.Wrap(err, "cachedpath: create subdir")
	}

	resolvedPath, err := c.resolveURL(ctx, dir, resource)
	if err != nil {
		return "", err
	}

	if !opts.Extract {
		return resolvedPath, nil
	}
	return c.extract(resource, resolvedPath)
}

// resolveURL implements the URL branch freshness decision of spec.md
// §4.6.
func (c *Cache) resolveURL(ctx context.Context, dir, resource string) (string, error) {
	versions, err := findVersions(dir, resource)
	if err != nil {
		return "", err
	}

	if c.cfg.Offline {
		if len(versions) > 0 {
			return versions[0].ResourcePath, nil
		}
		return "", &cperrors.NoCachedVersions{Resource: resource}
	}

	if len(versions) > 0 && isFresh(versions[0], c.cfg.FreshnessLifetime, time.Now()) {
		return versions[0].ResourcePath, nil
	}

	etag, err := c.fetcher.GetETag(ctx, resource)
	if err != nil {
		if isRetriableNetworkFailure(err) && len(versions) > 0 {
			log.Warn("HEAD probe failed, reusing prior cached version", map[string]interface{}{
				"resource": resource,
				"error":    err.Error(),
			})
			return versions[0].ResourcePath, nil
		}
		return "", err
	}

	targetName := versionedName(resource, etag)
	targetPath := filepath.Join(dir, targetName)
	if fileExists(targetPath) && fileExists(metaPath(targetPath)) {
		return targetPath, nil
	}

	return c.fetchToCache(ctx, dir, resource, targetPath, etag)
}

// isRetriableNetworkFailure reports whether err represents a
// transport/retriable condition that persisted past retry exhaustion
// (spec.md §4.6's "failure handling on network error" rule), as opposed
// to a non-retriable HTTP error such as 404 which must always surface.
func isRetriableNetworkFailure(err error) bool {
	switch err.(type) {
	case *cperrors.HTTPMaxRetriesError, *cperrors.HTTPTimeout:
		return true
	default:
		return false
	}
}

func fileExists(path string) bool {
	_, err := os.Stat(path)
	return err == nil
}

// fetchToCache implements the fetch path of spec.md §4.6: acquire the
// per-target lock, re-check for a concurrent winner, then stream the
// download to a temp file and publish it atomically.
func (c *Cache) fetchToCache(ctx context.Context, dir, resource, targetPath string, etag *string) (string, error) {
	var result string
	var resultErr error

	lockErr := lockfile.WithFileLock(targetPath+".lock", func() error {
		if fileExists(targetPath) && fileExists(metaPath(targetPath)) {
			result = targetPath
			return nil
		}

		tmp, err := os.CreateTemp(dir, ".download-*")
		if err != nil {
			resultErr = errors.Wrap(err, "cachedpath: create temp file")
			return nil
		}
		tmpName := tmp.Name()
		succeeded := false
		defer func() {
			if !succeeded {
				os.Remove(tmpName)
			}
		}()

		hookFactory := func(contentLength *int64) progress.Hook {
			return progress.New(c.cfg.ProgressBar, resource, contentLength)
		}
		if err := c.fetcher.Download(ctx, resource, tmp, hookFactory); err != nil {
			tmp.Close()
			resultErr = err
			return nil
		}
		if err := tmp.Sync(); err != nil {
			tmp.Close()
			resultErr = errors.Wrap(err, "cachedpath: sync temp file")
			return nil
		}
		if err := tmp.Close(); err != nil {
			resultErr = errors.Wrap(err, "cachedpath: close temp file")
			return nil
		}

		if err := os.Rename(tmpName, targetPath); err != nil {
			resultErr = errors.Wrap(err, "cachedpath: publish downloaded file")
			return nil
		}
		succeeded = true
		dirSync(dir)

		m := newMeta(resource, targetPath, etag, c.cfg.FreshnessLifetime, time.Now())
		if err := writeMeta(m); err != nil {
			resultErr = err
			return nil
		}

		result = targetPath
		return nil
	})
	if lockErr != nil {
		return "", lockErr
	}
	if resultErr != nil {
		return "", resultErr
	}
	return result, nil
}

// extract implements the extraction branch of spec.md §4.6.
func (c *Cache) extract(resource, resolvedPath string) (string, error) {
	extractedDir := resolvedPath + "-extracted"

	if st, err := os.Stat(extractedDir); err == nil && st.IsDir() {
		return extractedDir, nil
	}

	var result string
	var resultErr error
	lockErr := lockfile.WithFileLock(extractedDir+".lock", func() error {
		if st, err := os.Stat(extractedDir); err == nil && st.IsDir() {
			result = extractedDir
			return nil
		}
		if err := archive.Extract(resource, resolvedPath, extractedDir); err != nil {
			resultErr = err
			return nil
		}
		result = extractedDir
		return nil
	})
	if lockErr != nil {
		return "", lockErr
	}
	if resultErr != nil {
		return "", resultErr
	}
	return result, nil
}
