package store

import (
	"fmt"
	"strconv"
	"strings"

	bolt "go.etcd.io/bbolt"

	"github.com/opd-ai/shinkai-node/crypto"
	"github.com/opd-ai/shinkai-node/errs"
)

// indexEntry is one (time, hash) pair read from an inbox's time-ordered
// index, in ascending insertion order.
type indexEntry struct {
	atNanos int64
	hash    string
}

// extractHashFromIndexKey pulls the hash component out of a message-index
// key, whose fixed-length prefix is "inbox_<32 hex>_message_<20 digits>:::".
func extractHashFromIndexKey(key []byte) (string, error) {
	s := string(key)
	sep := strings.LastIndex(s, ":::")
	if sep < 0 {
		return "", fmt.Errorf("malformed index key %q", s)
	}
	return s[sep+3:], nil
}

// loadIndex reads every message-index entry for inboxName, in ascending
// insertion order, along with a hash->position lookup.
func (s *Store) loadIndex(tx *bolt.Tx, inboxHash string) ([]indexEntry, map[string]int, error) {
	ib := tx.Bucket(inboxBucket)
	c := ib.Cursor()
	prefix := messageIndexPrefix(inboxHash)

	var entries []indexEntry
	for k, _ := c.Seek(prefix); k != nil && strings.HasPrefix(string(k), string(prefix)); k, _ = c.Next() {
		hash, err := extractHashFromIndexKey(k)
		if err != nil {
			return nil, nil, err
		}
		at, err := timeFromIndexKey(k, prefix)
		if err != nil {
			return nil, nil, err
		}
		entries = append(entries, indexEntry{atNanos: at, hash: hash})
	}

	positions := make(map[string]int, len(entries))
	for i, e := range entries {
		positions[e.hash] = i
	}
	return entries, positions, nil
}

func timeFromIndexKey(key []byte, prefix []byte) (int64, error) {
	rest := string(key[len(prefix):])
	sep := strings.Index(rest, ":::")
	if sep < 0 {
		return 0, fmt.Errorf("malformed index key %q", key)
	}
	return strconv.ParseInt(rest[:sep], 10, 64)
}

// parentHashOf returns the parent hash recorded for hash within inboxHash,
// and whether a parent exists at all (false for a root message).
func parentHashOf(tx *bolt.Tx, inboxHash, hash string) (string, bool, error) {
	ib := tx.Bucket(inboxBucket)
	raw := ib.Get(parentKey(inboxHash, hash))
	if raw == nil {
		return "", false, nil
	}
	ref, err := decodeParentRef(raw)
	if err != nil {
		return "", false, err
	}
	return ref.hash, true, nil
}

// GetLastMessages walks backward through inboxName producing at most n
// paths, where a path is an anchor message followed by its later-inserted
// same-parent siblings (those inserted between it and the next, more
// recent, anchor in the walk). It is a direct port of the backward-walk
// pagination algorithm used by the reference inbox implementation.
//
// When untilHash is empty the walk starts from the most recently inserted
// message. When untilHash is given, the walk starts at that message but its
// own path is excluded from the result, which is exclusive of the anchor.
func (s *Store) GetLastMessages(inboxName string, n int, untilHash string) ([][]*Message, error) {
	inboxHash := crypto.InboxHash(inboxName)

	var result [][]*Message
	err := s.db.View(func(tx *bolt.Tx) error {
		entries, positions, err := s.loadIndex(tx, inboxHash)
		if err != nil {
			return err
		}
		if len(entries) == 0 {
			return nil
		}

		startIndex := len(entries) - 1
		limit := n
		if untilHash != "" {
			pos, ok := positions[untilHash]
			if !ok {
				return errs.New("store.GetLastMessages", errs.NotFound, fmt.Errorf("until hash %s not found in inbox %s", untilHash, inboxName))
			}
			startIndex = pos
			limit = n + 1
		}

		var paths [][]*Message
		prevBoundary := len(entries)
		currentIndex := startIndex

		for len(paths) < limit && currentIndex >= 0 {
			anchor := entries[currentIndex]
			anchorParentHash, anchorHasParent, err := parentHashOf(tx, inboxHash, anchor.hash)
			if err != nil {
				return err
			}

			anchorMsg, err := s.getMessageTx(tx, anchor.hash)
			if err != nil {
				return err
			}
			path := []*Message{anchorMsg}

			for idx := currentIndex + 1; idx < prevBoundary; idx++ {
				cand := entries[idx]
				candParentHash, candHasParent, err := parentHashOf(tx, inboxHash, cand.hash)
				if err != nil {
					return err
				}
				sameParent := candHasParent == anchorHasParent && (!anchorHasParent || candParentHash == anchorParentHash)
				if !sameParent {
					continue
				}
				candMsg, err := s.getMessageTx(tx, cand.hash)
				if err != nil {
					return err
				}
				path = append(path, candMsg)
			}

			paths = append(paths, path)
			prevBoundary = currentIndex

			if anchorHasParent {
				parentIdx, ok := positions[anchorParentHash]
				if !ok {
					return errs.New("store.GetLastMessages", errs.NotFound, fmt.Errorf("parent %s referenced but not indexed", anchorParentHash))
				}
				currentIndex = parentIdx
			} else {
				currentIndex = currentIndex - 1
			}
		}

		// Reverse so the starting anchor's path, produced first and the
		// most recent one, is last.
		for i, j := 0, len(paths)-1; i < j; i, j = i+1, j-1 {
			paths[i], paths[j] = paths[j], paths[i]
		}

		if untilHash != "" && len(paths) > 0 {
			paths = paths[:len(paths)-1]
		}

		result = paths
		return nil
	})
	if err != nil {
		return nil, err
	}
	return result, nil
}

func (s *Store) getMessageTx(tx *bolt.Tx, contentHash string) (*Message, error) {
	v := tx.Bucket(allMessagesBucket).Get([]byte(contentHash))
	if v == nil {
		return nil, errs.New("store.GetLastMessages", errs.NotFound, fmt.Errorf("message %s missing from AllMessages", contentHash))
	}
	return decodeMessage(v)
}
