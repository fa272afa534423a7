package store

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testInbox = "alice.shinkai/main"

// insertChain inserts a message with body name at time t seconds after the
// epoch, with parent hash parentHash (empty for a root), and returns its
// content hash.
func insertChain(t *testing.T, s *Store, name string, atSeconds int64, parentHash string) string {
	t.Helper()
	msg := newMessage(name, time.Unix(atSeconds, 0))
	hash, err := s.Insert(msg, testInbox, parentHash)
	require.NoError(t, err)
	return hash
}

func bodies(t *testing.T, paths [][]*Message) [][]string {
	t.Helper()
	out := make([][]string, len(paths))
	for i, p := range paths {
		row := make([]string, len(p))
		for j, m := range p {
			row[j] = string(m.Body)
		}
		out[i] = row
	}
	return out
}

// TestPaginationLinearInbox verifies a linear
// inbox A-B-C-D-E, each message's parent the previous one.
func TestPaginationLinearInbox(t *testing.T) {
	s := openTestStore(t)

	a := insertChain(t, s, "A", 1, "")
	b := insertChain(t, s, "B", 2, a)
	c := insertChain(t, s, "C", 3, b)
	d := insertChain(t, s, "D", 4, c)
	e := insertChain(t, s, "E", 5, d)

	paths, err := s.GetLastMessages(testInbox, 3, "")
	require.NoError(t, err)
	assert.Equal(t, [][]string{{"C"}, {"D"}, {"E"}}, bodies(t, paths))

	paths, err = s.GetLastMessages(testInbox, 3, e)
	require.NoError(t, err)
	assert.Equal(t, [][]string{{"B"}, {"C"}, {"D"}}, bodies(t, paths))
}

// TestPaginationBranchingInbox verifies A; then
// B (parent=A) and C (parent=A); then D (parent=B).
func TestPaginationBranchingInbox(t *testing.T) {
	s := openTestStore(t)

	a := insertChain(t, s, "A", 1, "")
	b := insertChain(t, s, "B", 2, a)
	insertChain(t, s, "C", 3, a)
	_ = insertChain(t, s, "D", 4, b)

	paths, err := s.GetLastMessages(testInbox, 2, "")
	require.NoError(t, err)
	assert.Equal(t, [][]string{{"B", "C"}, {"D"}}, bodies(t, paths))
}

// TestPaginationIdempotent ensures repeated calls with the same until hash
// produce the same result.
func TestPaginationIdempotent(t *testing.T) {
	s := openTestStore(t)
	a := insertChain(t, s, "A", 1, "")
	b := insertChain(t, s, "B", 2, a)
	insertChain(t, s, "C", 3, b)

	first, err := s.GetLastMessages(testInbox, 5, b)
	require.NoError(t, err)
	second, err := s.GetLastMessages(testInbox, 5, b)
	require.NoError(t, err)
	assert.Equal(t, bodies(t, first), bodies(t, second))
}

// TestPaginationEventuallyListsEveryMessage checks that GetLastMessages
// with an effectively unbounded n lists every inserted message exactly
// once.
func TestPaginationEventuallyListsEveryMessage(t *testing.T) {
	s := openTestStore(t)
	a := insertChain(t, s, "A", 1, "")
	b := insertChain(t, s, "B", 2, a)
	insertChain(t, s, "C", 3, a)
	insertChain(t, s, "D", 4, b)

	paths, err := s.GetLastMessages(testInbox, 1<<20, "")
	require.NoError(t, err)

	seen := map[string]int{}
	for _, p := range paths {
		for _, m := range p {
			seen[string(m.Body)]++
		}
	}
	assert.Equal(t, map[string]int{"A": 1, "B": 1, "C": 1, "D": 1}, seen)
}

func TestPaginationUntilHashNotFound(t *testing.T) {
	s := openTestStore(t)
	insertChain(t, s, "A", 1, "")

	_, err := s.GetLastMessages(testInbox, 3, "does-not-exist")
	assert.Error(t, err)
}

func TestPaginationEmptyInbox(t *testing.T) {
	s := openTestStore(t)
	paths, err := s.GetLastMessages(testInbox, 3, "")
	require.NoError(t, err)
	assert.Empty(t, paths)
}
