package subscription

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/opd-ai/shinkai-node/errs"
	"github.com/opd-ai/shinkai-node/limits"
	"github.com/opd-ai/shinkai-node/store"
	"github.com/opd-ai/shinkai-node/tree"
)

// SchemaFolderDelta tags a message body as a FolderDelta.
const SchemaFolderDelta = "FolderDelta"

// FolderDelta is the diff emitted each tick for a Confirmed subscription:
// the entries added, modified, or removed since the last synced
// snapshot.
type FolderDelta struct {
	Added    []tree.FileEntry `json:"added"`
	Modified []tree.FileEntry `json:"modified"`
	Removed  []string         `json:"removed"`
}

func (d FolderDelta) empty() bool {
	return len(d.Added) == 0 && len(d.Modified) == 0 && len(d.Removed) == 0
}

// TreeFetcher obtains a streamer's current Folder Tree Index snapshot
// for a shared folder. Subscriptions whose streamer and subscriber are
// hosted in one process can implement this directly over a local
// *tree.Tree; remote
// subscriptions implement it over the relay or upload-manager transport.
type TreeFetcher interface {
	Snapshot(originNode, sharedFolder string) ([]tree.FileEntry, error)
}

const retryBackoffBase = 2 * time.Second

// syncInboxName is the inbox used to carry FolderDelta messages for one
// subscription's sync traffic.
func syncInboxName(row Row) string {
	return fmt.Sprintf("%s/%s/sync", row.SubscriberNode, row.SharedFolder)
}

// SetSyncDependencies wires the tree fetcher and message store the
// background sync loop needs. It must be called before Start.
func (c *Controller) SetSyncDependencies(fetcher TreeFetcher, msgStore *store.Store) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.fetcher = fetcher
	c.msgStore = msgStore
}

// Start begins the periodic tree-sync loop: every interval, it diffs
// each Confirmed subscription's remote snapshot against its last-synced
// view and publishes a FolderDelta message for any change. Transient
// fetch errors are retried with exponential backoff up to a bound;
// persistent failures are logged as Failed and leave the subscription's
// state untouched.
func (c *Controller) Start(interval time.Duration) {
	c.mu.Lock()
	if c.running {
		c.mu.Unlock()
		return
	}
	c.running = true
	c.stop = make(chan struct{})
	c.done = make(chan struct{})
	c.mu.Unlock()

	go c.syncLoop(interval)
}

// Stop halts the sync loop, blocking until its current tick finishes.
func (c *Controller) Stop() {
	c.mu.Lock()
	if !c.running {
		c.mu.Unlock()
		return
	}
	c.running = false
	stop, done := c.stop, c.done
	c.mu.Unlock()

	close(stop)
	<-done
}

func (c *Controller) syncLoop(interval time.Duration) {
	defer close(c.done)

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-c.stop:
			return
		case <-ticker.C:
			c.tick()
		}
	}
}

func (c *Controller) tick() {
	logger := logrus.WithFields(logrus.Fields{
		"function": "tick",
		"package":  "subscription",
	})

	rows, err := c.ListByCreatedAt()
	if err != nil {
		logger.WithFields(logrus.Fields{"error": err.Error()}).Error("failed to list subscriptions for sync tick")
		return
	}

	for _, row := range rows {
		if row.State != StateConfirmed {
			continue
		}
		if err := c.syncOneWithRetry(row); err != nil {
			logger.WithFields(logrus.Fields{
				"folder": row.SharedFolder,
				"error":  err.Error(),
			}).Warn("subscription sync failed, subscription remains Confirmed for retry")
		}
	}
}

// syncOneWithRetry retries transient errors with exponential backoff up
// to maxRetries, matching the "retried with exponential backoff up to a
// bound" rule.
func (c *Controller) syncOneWithRetry(row Row) error {
	const maxRetries = 3
	var lastErr error
	for attempt := 0; attempt <= maxRetries; attempt++ {
		if attempt > 0 {
			time.Sleep(retryBackoffBase * time.Duration(1<<(attempt-1)))
		}
		err := c.syncOne(row)
		if err == nil {
			return nil
		}
		lastErr = err
		if !errs.Retryable(err) {
			return err
		}
	}
	return lastErr
}

func (c *Controller) syncOne(row Row) error {
	c.mu.Lock()
	fetcher, msgStore := c.fetcher, c.msgStore
	c.mu.Unlock()
	if fetcher == nil || msgStore == nil {
		return errs.New("subscription.syncOne", errs.InvalidState, fmt.Errorf("sync dependencies not configured"))
	}

	entries, err := fetcher.Snapshot(row.OriginNode, row.SharedFolder)
	if err != nil {
		return err
	}

	id, err := row.Canonical()
	if err != nil {
		return errs.New("subscription.syncOne", errs.InvalidArgument, err)
	}

	delta := c.diff(id.Canonical, entries)
	if delta.empty() {
		return nil
	}

	body, err := json.Marshal(delta)
	if err != nil {
		return errs.New("subscription.syncOne", errs.Serialization, err)
	}
	if err := limits.ValidateFolderDeltaBody(body); err != nil {
		return errs.New("subscription.syncOne", errs.InvalidArgument, fmt.Errorf("folder delta body: %w", err))
	}

	msg := &store.Message{
		SchemaTag: SchemaFolderDelta,
		Body:      body,
		Internal: store.InternalMetadata{
			InboxName: syncInboxName(row),
		},
		External: store.ExternalMetadata{
			SenderNode:    row.OriginNode,
			RecipientNode: row.SubscriberNode,
			ScheduledTime: c.clock.Now(),
		},
	}
	if _, err := msgStore.Insert(msg, syncInboxName(row), ""); err != nil && !errs.Is(err, errs.Duplicate) {
		return err
	}
	return nil
}

// diff compares entries against the last-synced view for canonical,
// returning the FolderDelta and updating the stored view to entries.
func (c *Controller) diff(canonical string, entries []tree.FileEntry) FolderDelta {
	c.syncMu.Lock()
	defer c.syncMu.Unlock()
	if c.lastSynced == nil {
		c.lastSynced = make(map[string]map[string]string)
	}

	prev := c.lastSynced[canonical]
	next := make(map[string]string, len(entries))
	var delta FolderDelta

	for _, e := range entries {
		next[e.Path] = e.Hash
		oldHash, existed := prev[e.Path]
		switch {
		case !existed:
			delta.Added = append(delta.Added, e)
		case oldHash != e.Hash:
			delta.Modified = append(delta.Modified, e)
		}
	}
	for path := range prev {
		if _, stillPresent := next[path]; !stillPresent {
			delta.Removed = append(delta.Removed, path)
		}
	}

	c.lastSynced[canonical] = next
	return delta
}
