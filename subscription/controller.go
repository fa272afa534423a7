package subscription

import (
	"encoding/json"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
	bolt "go.etcd.io/bbolt"

	"github.com/opd-ai/shinkai-node/crypto"
	"github.com/opd-ai/shinkai-node/errs"
	"github.com/opd-ai/shinkai-node/store"
)

var subscriptionsBucket = []byte("subscriptions")

// defaultGracePeriod is how long a row stays in StateUnsubConfirmed
// before GC will remove it, giving any in-flight reads of the row a
// window to observe the confirmed unsubscribe before it disappears.
const defaultGracePeriod = 24 * time.Hour

// Row is one persisted subscription: its identity components, current
// lifecycle state, and timestamps.
type Row struct {
	OriginNode        string    `json:"origin_node"`
	SharedFolder      string    `json:"shared_folder"`
	SubscriberNode    string    `json:"subscriber_node"`
	OriginProfile     string    `json:"origin_profile"`
	SubscriberProfile string    `json:"subscriber_profile"`
	State             State     `json:"state"`
	CreatedAt         time.Time `json:"created_at"`
	LastModified      time.Time `json:"last_modified"`
}

// Canonical returns the row's subscription ID string.
func (r Row) Canonical() (crypto.SubscriptionIdentifier, error) {
	return crypto.SubscriptionID(r.OriginNode, r.SharedFolder, r.SubscriberNode, r.OriginProfile, r.SubscriberProfile)
}

// Controller persists subscription rows and drives their lifecycle
// transitions. A background loop periodically diffs each Confirmed
// subscription's folder against its last-synced snapshot (see Start).
type Controller struct {
	db          *bolt.DB
	clock       crypto.TimeProvider
	gracePeriod time.Duration

	mu      sync.Mutex
	running bool
	stop    chan struct{}
	done    chan struct{}

	fetcher  TreeFetcher
	msgStore *store.Store

	syncMu     sync.Mutex
	lastSynced map[string]map[string]string
}

// Open opens (creating if necessary) a bbolt-backed Controller at path.
func Open(path string) (*Controller, error) {
	db, err := bolt.Open(path, 0o600, nil)
	if err != nil {
		return nil, errs.New("subscription.Open", errs.StoreIO, err)
	}
	err = db.Update(func(tx *bolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists(subscriptionsBucket)
		return err
	})
	if err != nil {
		db.Close()
		return nil, errs.New("subscription.Open", errs.StoreIO, err)
	}
	return &Controller{db: db, clock: crypto.DefaultTimeProvider{}, gracePeriod: defaultGracePeriod}, nil
}

// SetTimeProvider overrides the clock used to stamp CreatedAt/LastModified,
// for deterministic tests.
func (c *Controller) SetTimeProvider(tp crypto.TimeProvider) { c.clock = tp }

// SetGracePeriod overrides how long a row may sit in StateUnsubConfirmed
// before GC will remove it. A zero or negative duration makes every
// confirmed-unsubscribe row immediately eligible.
func (c *Controller) SetGracePeriod(d time.Duration) { c.gracePeriod = d }

// Close releases the underlying database handle, stopping the
// background sync loop first if it is running.
func (c *Controller) Close() error {
	c.Stop()
	return c.db.Close()
}

func rowKey(id crypto.SubscriptionIdentifier) []byte { return []byte(id.Canonical) }

// Apply advances the subscription identified by the 5-tuple with event,
// creating the row on EventRequest from StateNone if it does not yet
// exist, and persisting the resulting state with an updated
// LastModified. It rejects any transition absent from the lifecycle
// graph, including every state regression.
func (c *Controller) Apply(originNode, sharedFolder, subscriberNode, originProfile, subscriberProfile string, event Event) (Row, error) {
	logger := logrus.WithFields(logrus.Fields{
		"function": "Apply",
		"package":  "subscription",
		"folder":   sharedFolder,
	})

	id, err := crypto.SubscriptionID(originNode, sharedFolder, subscriberNode, originProfile, subscriberProfile)
	if err != nil {
		return Row{}, errs.New("subscription.Apply", errs.InvalidArgument, err)
	}

	var result Row
	err = c.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(subscriptionsBucket)
		key := rowKey(id)

		row, exists, err := loadRow(b, key)
		if err != nil {
			return err
		}
		if !exists {
			row = Row{
				OriginNode:        originNode,
				SharedFolder:      sharedFolder,
				SubscriberNode:    subscriberNode,
				OriginProfile:     originProfile,
				SubscriberProfile: subscriberProfile,
				State:             StateNone,
			}
		}

		next, err := Next(row.State, event)
		if err != nil {
			return err
		}

		now := c.clock.Now()
		if !exists {
			row.CreatedAt = now
		}
		row.State = next
		row.LastModified = now

		encoded, err := json.Marshal(row)
		if err != nil {
			return errs.New("subscription.Apply", errs.Serialization, err)
		}
		if err := b.Put(key, encoded); err != nil {
			return err
		}
		result = row
		return nil
	})
	if err != nil {
		if errs.Is(err, errs.InvalidState) || errs.Is(err, errs.Serialization) {
			return Row{}, err
		}
		logger.WithFields(logrus.Fields{"error": err.Error()}).Error("failed to persist subscription transition")
		return Row{}, errs.New("subscription.Apply", errs.StoreIO, err)
	}

	logger.WithFields(logrus.Fields{"state": result.State.String()}).Debug("subscription transition applied")
	return result, nil
}

func loadRow(b *bolt.Bucket, key []byte) (Row, bool, error) {
	raw := b.Get(key)
	if raw == nil {
		return Row{}, false, nil
	}
	var row Row
	if err := json.Unmarshal(raw, &row); err != nil {
		return Row{}, false, errs.New("subscription.loadRow", errs.Serialization, err)
	}
	return row, true, nil
}

// Get returns the persisted row for the given 5-tuple.
func (c *Controller) Get(originNode, sharedFolder, subscriberNode, originProfile, subscriberProfile string) (Row, error) {
	id, err := crypto.SubscriptionID(originNode, sharedFolder, subscriberNode, originProfile, subscriberProfile)
	if err != nil {
		return Row{}, errs.New("subscription.Get", errs.InvalidArgument, err)
	}

	var row Row
	var exists bool
	err = c.db.View(func(tx *bolt.Tx) error {
		var err error
		row, exists, err = loadRow(tx.Bucket(subscriptionsBucket), rowKey(id))
		return err
	})
	if err != nil {
		return Row{}, err
	}
	if !exists {
		return Row{}, errs.New("subscription.Get", errs.NotFound, fmt.Errorf("no subscription %s", id.Canonical))
	}
	return row, nil
}

// ListByCreatedAt returns every persisted row ordered by creation time,
// the ordering supplemented from the original implementation's listing
// behavior (see SPEC_FULL.md).
func (c *Controller) ListByCreatedAt() ([]Row, error) {
	var rows []Row
	err := c.db.View(func(tx *bolt.Tx) error {
		return tx.Bucket(subscriptionsBucket).ForEach(func(_, v []byte) error {
			var row Row
			if err := json.Unmarshal(v, &row); err != nil {
				return err
			}
			rows = append(rows, row)
			return nil
		})
	})
	if err != nil {
		return nil, errs.New("subscription.ListByCreatedAt", errs.StoreIO, err)
	}
	sort.Slice(rows, func(i, j int) bool { return rows[i].CreatedAt.Before(rows[j].CreatedAt) })
	return rows, nil
}

// GC deletes every row in StateUnsubConfirmed whose LastModified is
// older than the controller's grace period, the final step of the
// unsubscribe lifecycle's terminal "(deleted)" transition. Rows still
// inside the grace period are left in place so a concurrent reader
// has a window to observe the confirmed unsubscribe before it vanishes.
func (c *Controller) GC() (int, error) {
	var removed int
	cutoff := c.clock.Now().Add(-c.gracePeriod)
	err := c.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(subscriptionsBucket)
		var stale [][]byte
		err := b.ForEach(func(k, v []byte) error {
			var row Row
			if err := json.Unmarshal(v, &row); err != nil {
				return err
			}
			if row.State == StateUnsubConfirmed && row.LastModified.Before(cutoff) {
				stale = append(stale, append([]byte(nil), k...))
			}
			return nil
		})
		if err != nil {
			return err
		}
		for _, k := range stale {
			if err := b.Delete(k); err != nil {
				return err
			}
			removed++
		}
		return nil
	})
	if err != nil {
		return 0, errs.New("subscription.GC", errs.StoreIO, err)
	}
	return removed, nil
}
