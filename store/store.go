// Package store implements the append-only message log and per-inbox DAG
// (C2): atomic insertion and the backward-pagination contract for paging
// through an inbox's history.
package store

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/sirupsen/logrus"
	bolt "go.etcd.io/bbolt"

	"github.com/opd-ai/shinkai-node/crypto"
	"github.com/opd-ai/shinkai-node/errs"
	"github.com/opd-ai/shinkai-node/limits"
)

var (
	allMessagesBucket = []byte("all_messages")
	inboxBucket       = []byte("inbox")
)

// Store is the persistent, append-only message log backing every inbox.
type Store struct {
	db *bolt.DB
}

// Open opens (creating if necessary) a bbolt-backed Store at path.
func Open(path string) (*Store, error) {
	logger := logrus.WithFields(logrus.Fields{
		"function": "Open",
		"package":  "store",
		"path":     path,
	})

	db, err := bolt.Open(path, 0o600, nil)
	if err != nil {
		logger.WithFields(logrus.Fields{
			"error":      err.Error(),
			"error_type": "open_failed",
		}).Error("failed to open message store")
		return nil, errs.New("store.Open", errs.StoreIO, err)
	}

	err = db.Update(func(tx *bolt.Tx) error {
		if _, err := tx.CreateBucketIfNotExists(allMessagesBucket); err != nil {
			return err
		}
		_, err := tx.CreateBucketIfNotExists(inboxBucket)
		return err
	})
	if err != nil {
		db.Close()
		return nil, errs.New("store.Open", errs.StoreIO, err)
	}

	logger.Info("message store opened")
	return &Store{db: db}, nil
}

// Close releases the underlying database handle.
func (s *Store) Close() error {
	return s.db.Close()
}

// messageIndexKey formats the time-ordered inbox index key. atNanos is
// zero-padded to a fixed width so lexicographic byte order matches
// chronological order.
func messageIndexKey(inboxHash string, atNanos int64, hash string) []byte {
	return []byte(fmt.Sprintf("inbox_%s_message_%020d:::%s", inboxHash, atNanos, hash))
}

// messageIndexPrefix is the prefix shared by every message-index key of an
// inbox, used to scope the pagination cursor scan.
func messageIndexPrefix(inboxHash string) []byte {
	return []byte(fmt.Sprintf("inbox_%s_message_", inboxHash))
}

func parentKey(inboxHash, childHash string) []byte {
	return []byte(fmt.Sprintf("inbox_%s_parent_%s", inboxHash, childHash))
}

func childrenKey(inboxHash, parentHash string) []byte {
	return []byte(fmt.Sprintf("inbox_%s_children_%s", inboxHash, parentHash))
}

func seenKey(inboxHash, hash string) []byte {
	return []byte(fmt.Sprintf("inbox_%s_seen_%s", inboxHash, hash))
}

// parentRef is the value stored under a parent pointer key: the parent's
// full time:::hash identity. Only the hash portion is consulted by
// GetLastMessages, but the time is kept to preserve the option named in
// the design's open questions.
type parentRef struct {
	atNanos int64
	hash    string
}

func (p parentRef) encode() []byte {
	return []byte(fmt.Sprintf("%020d:::%s", p.atNanos, p.hash))
}

func decodeParentRef(raw []byte) (parentRef, error) {
	parts := strings.SplitN(string(raw), ":::", 2)
	if len(parts) != 2 {
		return parentRef{}, fmt.Errorf("malformed parent ref %q", raw)
	}
	at, err := strconv.ParseInt(parts[0], 10, 64)
	if err != nil {
		return parentRef{}, err
	}
	return parentRef{atNanos: at, hash: parts[1]}, nil
}

// Insert writes a message into inboxName, linking it to parentHash if
// given. All index writes happen inside a single bbolt write transaction,
// giving the atomicity an append requires without a manual batch
// fallback. Insert fails with errs.Duplicate if the message's content hash
// already exists in this inbox.
func (s *Store) Insert(msg *Message, inboxName string, parentHash string) (string, error) {
	logger := logrus.WithFields(logrus.Fields{
		"function": "Insert",
		"package":  "store",
		"inbox":    inboxName,
	})

	if err := limits.ValidateMessageBody(msg.Body); err != nil {
		return "", errs.New("store.Insert", errs.InvalidArgument, fmt.Errorf("message body: %w", err))
	}

	contentHash := msg.ContentHash()
	inboxHash := crypto.InboxHash(inboxName)
	atNanos := msg.External.ScheduledTime.UnixNano()

	err := s.db.Update(func(tx *bolt.Tx) error {
		ib := tx.Bucket(inboxBucket)
		ab := tx.Bucket(allMessagesBucket)

		sk := seenKey(inboxHash, contentHash)
		if ib.Get(sk) != nil {
			return errs.New("store.Insert", errs.Duplicate, fmt.Errorf("message %s already in inbox %s", contentHash, inboxName))
		}

		encoded := msg.encode(false)
		if err := ab.Put([]byte(contentHash), encoded); err != nil {
			return err
		}

		idxKey := messageIndexKey(inboxHash, atNanos, contentHash)
		if err := ib.Put(idxKey, nil); err != nil {
			return err
		}
		if err := ib.Put(sk, []byte(strconv.FormatInt(atNanos, 10))); err != nil {
			return err
		}

		if parentHash != "" {
			parentAt, err := s.lookupTimeLocked(ib, inboxHash, parentHash)
			if err != nil {
				return errs.New("store.Insert", errs.NotFound, fmt.Errorf("parent %s not found in inbox %s", parentHash, inboxName))
			}
			ref := parentRef{atNanos: parentAt, hash: parentHash}
			if err := ib.Put(parentKey(inboxHash, contentHash), ref.encode()); err != nil {
				return err
			}

			ck := childrenKey(inboxHash, parentHash)
			existing := ib.Get(ck)
			var children []string
			if len(existing) > 0 {
				children = strings.Split(string(existing), ",")
			}
			children = append(children, contentHash)
			if err := ib.Put(ck, []byte(strings.Join(children, ","))); err != nil {
				return err
			}
		}

		return nil
	})
	if err != nil {
		if errs.Is(err, errs.Duplicate) || errs.Is(err, errs.NotFound) {
			return "", err
		}
		logger.WithFields(logrus.Fields{
			"error":      err.Error(),
			"error_type": "write_failed",
		}).Error("failed to insert message")
		return "", errs.New("store.Insert", errs.StoreIO, err)
	}

	logger.WithFields(logrus.Fields{
		"content_hash": contentHash,
	}).Debug("message inserted")
	return contentHash, nil
}

// lookupTimeLocked finds the insertion nanosecond timestamp for hash within
// inboxHash by consulting its seen-key entry. Must be called within an
// open transaction.
func (s *Store) lookupTimeLocked(ib *bolt.Bucket, inboxHash, hash string) (int64, error) {
	raw := ib.Get(seenKey(inboxHash, hash))
	if raw == nil {
		return 0, fmt.Errorf("hash %s not present in inbox", hash)
	}
	return strconv.ParseInt(string(raw), 10, 64)
}

// GetMessage fetches a message by its content hash from AllMessages.
func (s *Store) GetMessage(contentHash string) (*Message, error) {
	var encoded []byte
	err := s.db.View(func(tx *bolt.Tx) error {
		v := tx.Bucket(allMessagesBucket).Get([]byte(contentHash))
		if v == nil {
			return errs.New("store.GetMessage", errs.NotFound, fmt.Errorf("message %s not found", contentHash))
		}
		encoded = append([]byte(nil), v...)
		return nil
	})
	if err != nil {
		return nil, err
	}
	return decodeMessage(encoded)
}
