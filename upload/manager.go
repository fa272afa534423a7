// Package upload implements the HTTP Upload Manager (C6): the
// reconcile loop that makes an S3-compatible object store converge to a
// folder's Folder Tree Index snapshot, using checksum sidecars instead
// of object metadata to detect staleness.
package upload

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/opd-ai/shinkai-node/errs"
	"github.com/opd-ai/shinkai-node/objectstore"
	"github.com/opd-ai/shinkai-node/tree"
)

// FileStatus tags the reconcile state of a single local file against
// the object store.
type FileStatus int

const (
	// StatusUnknown is the zero value: never reconciled.
	StatusUnknown FileStatus = iota
	// StatusSync means the remote payload+sidecar match the local hash.
	StatusSync
	// StatusNeedsUpdate means the remote state disagrees with local.
	StatusNeedsUpdate
	// StatusUploading means an upload for this file is in flight.
	StatusUploading
	// StatusFailed means the most recent upload attempt errored.
	StatusFailed
)

func (s FileStatus) String() string {
	switch s {
	case StatusSync:
		return "Sync"
	case StatusNeedsUpdate:
		return "NeedsUpdate"
	case StatusUploading:
		return "Uploading"
	case StatusFailed:
		return "Failed"
	default:
		return "Unknown"
	}
}

// FileReader supplies the bytes backing a folder's tree entries, since
// the Folder Tree Index tracks only metadata (hash/size/mtime).
type FileReader interface {
	ReadFile(relPath string) ([]byte, error)
}

// Manager reconciles object-store state against Folder Tree Index
// snapshots, one folder at a time. The file-status cache
// (subscription_file_map) is the authoritative in-memory view of
// what is currently published.
type Manager struct {
	driver      objectstore.Driver
	parallelism int

	cacheMu sync.RWMutex
	cache   map[string]map[string]FileStatus // folderKey -> path -> status
}

// NewManager returns a Manager uploading through driver, running up to
// parallelism concurrent per-file operations within one reconcile tick.
func NewManager(driver objectstore.Driver, parallelism int) *Manager {
	if parallelism <= 0 {
		parallelism = 4
	}
	return &Manager{
		driver:      driver,
		parallelism: parallelism,
		cache:       make(map[string]map[string]FileStatus),
	}
}

// Status returns the cached status of path within folderKey, if any
// reconcile has touched it.
func (m *Manager) Status(folderKey, path string) (FileStatus, bool) {
	m.cacheMu.RLock()
	defer m.cacheMu.RUnlock()
	byPath, ok := m.cache[folderKey]
	if !ok {
		return StatusUnknown, false
	}
	s, ok := byPath[path]
	return s, ok
}

func (m *Manager) setStatus(folderKey, path string, status FileStatus) {
	m.cacheMu.Lock()
	defer m.cacheMu.Unlock()
	byPath, ok := m.cache[folderKey]
	if !ok {
		byPath = make(map[string]FileStatus)
		m.cache[folderKey] = byPath
	}
	byPath[path] = status
}

// remoteEntry is the parsed remote listing state for one basename:
// whether its payload key exists, and the shorthashes advertised by its
// sidecar(s).
type remoteEntry struct {
	payloadPresent bool
	shortHashes    map[string]bool
}

// parseRemoteListing partitions a folder's object listing into payload
// and sidecar keys, keyed by basename.
func parseRemoteListing(prefix string, objects []objectstore.ObjectInfo) map[string]*remoteEntry {
	remote := make(map[string]*remoteEntry)
	get := func(basename string) *remoteEntry {
		e, ok := remote[basename]
		if !ok {
			e = &remoteEntry{shortHashes: make(map[string]bool)}
			remote[basename] = e
		}
		return e
	}

	for _, obj := range objects {
		rel := strings.TrimPrefix(strings.TrimPrefix(obj.Key, prefix), "/")
		if basename, shorthash, ok := parseSidecarKey(rel); ok {
			get(basename).shortHashes[shorthash] = true
			continue
		}
		get(rel).payloadPresent = true
	}
	return remote
}

// parseSidecarKey splits "<basename>.<shorthash>.checksum" into its
// parts. shorthash is always the last 8 hex chars of a SHA-256 digest
// (crypto.FileHash), so it never itself contains a '.'.
func parseSidecarKey(rel string) (basename, shorthash string, ok bool) {
	const suffix = ".checksum"
	if !strings.HasSuffix(rel, suffix) {
		return "", "", false
	}
	trimmed := strings.TrimSuffix(rel, suffix)
	dot := strings.LastIndex(trimmed, ".")
	if dot < 0 {
		return "", "", false
	}
	return trimmed[:dot], trimmed[dot+1:], true
}

func sidecarKey(prefix, basename, shorthash string) string {
	return joinKey(prefix, basename) + "." + shorthash + ".checksum"
}

func payloadKey(prefix, basename string) string {
	return joinKey(prefix, basename)
}

func joinKey(prefix, basename string) string {
	if prefix == "" {
		return basename
	}
	return strings.TrimSuffix(prefix, "/") + "/" + basename
}

// Plan is the set of actions one reconcile tick will take (or, for
// DryRunReconcile, would take without executing them).
type Plan struct {
	Upload        []tree.FileEntry
	DeleteStale   []string // sidecar keys with a stale shorthash
	GCPayloads    []string
	GCSidecars    []string
	AlreadyInSync []string
}

// buildPlan classifies every local file
// as Sync or NeedsUpdate against remote, and collect GC candidates for
// remote basenames absent locally.
func buildPlan(prefix string, local []tree.FileEntry, objects []objectstore.ObjectInfo) Plan {
	remote := parseRemoteListing(prefix, objects)
	localBasenames := make(map[string]bool, len(local))

	var plan Plan
	for _, f := range local {
		basename := basenameOf(f.Path)
		localBasenames[basename] = true

		entry, known := remote[basename]
		outdated := !known || !entry.payloadPresent || !entry.shortHashes[f.Short]
		if !outdated {
			plan.AlreadyInSync = append(plan.AlreadyInSync, f.Path)
			continue
		}
		plan.Upload = append(plan.Upload, f)
	}

	for basename, entry := range remote {
		if localBasenames[basename] {
			continue
		}
		if entry.payloadPresent {
			plan.GCPayloads = append(plan.GCPayloads, payloadKey(prefix, basename))
		}
		for shorthash := range entry.shortHashes {
			plan.GCSidecars = append(plan.GCSidecars, sidecarKey(prefix, basename, shorthash))
		}
	}
	return plan
}

func basenameOf(p string) string {
	if i := strings.LastIndex(p, "/"); i >= 0 {
		return p[i+1:]
	}
	return p
}

// Reconcile runs one tick of the reconciliation algorithm for a single folder:
// list, plan, upload NeedsUpdate files (payload, then sidecar, then
// stale-sidecar deletion, strictly in that order per file), then GC
// remote entries absent locally.
func (m *Manager) Reconcile(ctx context.Context, folderKey, prefix string, snap tree.SnapshotHandle, reader FileReader) (Plan, error) {
	logger := logrus.WithFields(logrus.Fields{
		"function": "Reconcile",
		"package":  "upload",
		"folder":   folderKey,
	})

	objects, err := m.driver.List(ctx, prefix)
	if err != nil {
		return Plan{}, err
	}

	local := snap.List()
	plan := buildPlan(prefix, local, objects)

	for _, path := range plan.AlreadyInSync {
		m.setStatus(folderKey, path, StatusSync)
	}

	if err := m.uploadAll(ctx, folderKey, prefix, plan.Upload, objects, reader, logger); err != nil {
		return plan, err
	}

	for _, key := range plan.GCPayloads {
		if err := m.driver.Delete(ctx, key); err != nil && !errs.Is(err, errs.NotFound) {
			logger.WithFields(logrus.Fields{"key": key, "error": err.Error()}).Warn("failed to GC stray payload")
		}
	}
	for _, key := range plan.GCSidecars {
		if err := m.driver.Delete(ctx, key); err != nil && !errs.Is(err, errs.NotFound) {
			logger.WithFields(logrus.Fields{"key": key, "error": err.Error()}).Warn("failed to GC stray sidecar")
		}
	}

	return plan, nil
}

// uploadAll runs plan.Upload with up to m.parallelism concurrent workers.
// Each file's own payload-sidecar-delete sequence is strictly ordered;
// across files, order is unspecified.
func (m *Manager) uploadAll(ctx context.Context, folderKey, prefix string, files []tree.FileEntry, objects []objectstore.ObjectInfo, reader FileReader, logger *logrus.Entry) error {
	remote := parseRemoteListing(prefix, objects)

	sem := make(chan struct{}, m.parallelism)
	var wg sync.WaitGroup
	errCh := make(chan error, len(files))

	for _, f := range files {
		f := f
		wg.Add(1)
		sem <- struct{}{}
		go func() {
			defer wg.Done()
			defer func() { <-sem }()

			m.setStatus(folderKey, f.Path, StatusUploading)
			if err := m.uploadOne(ctx, prefix, f, remote[basenameOf(f.Path)], reader); err != nil {
				m.setStatus(folderKey, f.Path, StatusFailed)
				logger.WithFields(logrus.Fields{
					"path":  f.Path,
					"error": err.Error(),
				}).Warn("file upload failed")
				errCh <- err
				return
			}
			m.setStatus(folderKey, f.Path, StatusSync)
		}()
	}
	wg.Wait()
	close(errCh)

	for err := range errCh {
		return err // surface the first failure; the next tick retries the rest
	}
	return nil
}

// uploadOne performs one file's payload write, sidecar write, and
// stale-sidecar cleanup, strictly in that order so a crash mid-sequence
// always leaves a state the next tick detects as outdated.
func (m *Manager) uploadOne(ctx context.Context, prefix string, f tree.FileEntry, existing *remoteEntry, reader FileReader) error {
	basename := basenameOf(f.Path)

	data, err := reader.ReadFile(f.Path)
	if err != nil {
		return fmt.Errorf("upload: read %s: %w", f.Path, err)
	}

	if err := m.driver.Put(ctx, payloadKey(prefix, basename), data); err != nil {
		return err
	}
	if err := m.driver.Put(ctx, sidecarKey(prefix, basename, f.Short), nil); err != nil {
		return err
	}

	if existing != nil {
		for shorthash := range existing.shortHashes {
			if shorthash == f.Short {
				continue
			}
			if err := m.driver.Delete(ctx, sidecarKey(prefix, basename, shorthash)); err != nil && !errs.Is(err, errs.NotFound) {
				return err
			}
		}
	}
	return nil
}

// DryRunReconcile computes the same Plan as Reconcile would, without
// performing any object-store write, a check-loop primitive supplemented
// from the original implementation's diagnostics tooling (see SPEC_FULL.md).
func (m *Manager) DryRunReconcile(ctx context.Context, prefix string, snap tree.SnapshotHandle) (Plan, error) {
	objects, err := m.driver.List(ctx, prefix)
	if err != nil {
		return Plan{}, err
	}
	return buildPlan(prefix, snap.List(), objects), nil
}

// TickLoop runs Reconcile for folders every interval until ctx is
// cancelled, the periodic driver behind SUBSCRIPTION_HTTP_UPLOAD_INTERVAL_MINUTES.
func (m *Manager) TickLoop(ctx context.Context, interval time.Duration, folders func() map[string]FolderSource) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			for key, src := range folders() {
				if _, err := m.Reconcile(ctx, key, src.Prefix, src.Snapshot, src.Reader); err != nil {
					logrus.WithFields(logrus.Fields{
						"function": "TickLoop",
						"package":  "upload",
						"folder":   key,
						"error":    err.Error(),
					}).Warn("reconcile tick failed")
				}
			}
		}
	}
}

// FolderSource bundles what TickLoop needs to reconcile one folder.
type FolderSource struct {
	Prefix   string
	Snapshot tree.SnapshotHandle
	Reader   FileReader
}
