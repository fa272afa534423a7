package upload

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/opd-ai/shinkai-node/objectstore"
	"github.com/opd-ai/shinkai-node/tree"
)

// memFileReader serves file bytes from an in-memory map, keyed by the
// same relative path used in the Folder Tree Index.
type memFileReader map[string][]byte

func (r memFileReader) ReadFile(relPath string) ([]byte, error) {
	data, ok := r[relPath]
	if !ok {
		return nil, fmt.Errorf("no such file %s", relPath)
	}
	return data, nil
}

func buildSnapshot(t *testing.T, files map[string][]byte) (tree.SnapshotHandle, memFileReader) {
	t.Helper()
	tr := tree.New()
	reader := memFileReader{}
	for path, data := range files {
		entry := tree.NewFileEntry(path, data, time.Unix(0, 0))
		require.NoError(t, tr.Put(path, entry))
		reader[path] = data
	}
	return tr.Snapshot(""), reader
}

// TestUploadConvergence drives two local
// files, two stray remote files, and a wrong-hash sidecar. After one
// tick, remote state equals exactly {x, x.<hash>.checksum, y, y.<hash>.checksum}.
func TestUploadConvergence(t *testing.T) {
	ctx := context.Background()
	files := map[string][]byte{
		"x": []byte("hello-x"),
		"y": []byte("hello-y-data"),
	}
	snap, reader := buildSnapshot(t, files)

	driver := objectstore.NewMemoryDriver()
	require.NoError(t, driver.Put(ctx, "stray1", []byte("junk")))
	require.NoError(t, driver.Put(ctx, "stray2", []byte("junk2")))
	require.NoError(t, driver.Put(ctx, "x.deadbeef.checksum", nil))

	mgr := NewManager(driver, 2)
	plan, err := mgr.Reconcile(ctx, "folder1", "", snap, reader)
	require.NoError(t, err)
	assert.Len(t, plan.Upload, 2)

	remaining, err := driver.List(ctx, "")
	require.NoError(t, err)

	var keys []string
	for _, o := range remaining {
		keys = append(keys, o.Key)
	}

	_, xShort := shortHashOf(t, snap, "x")
	_, yShort := shortHashOf(t, snap, "y")
	assert.ElementsMatch(t, []string{
		"x", "x." + xShort + ".checksum",
		"y", "y." + yShort + ".checksum",
	}, keys)
}

func shortHashOf(t *testing.T, snap tree.SnapshotHandle, path string) (string, string) {
	t.Helper()
	full, ok := snap.HashOf(path)
	require.True(t, ok)
	return full, full[len(full)-8:]
}

// TestTornUploadRecovery verifies a payload
// written without its sidecar is detected as NeedsUpdate on the next
// tick and re-uploaded, ending with exactly one payload and one
// matching sidecar.
func TestTornUploadRecovery(t *testing.T) {
	ctx := context.Background()
	files := map[string][]byte{"z": []byte("torn-upload-data")}
	snap, reader := buildSnapshot(t, files)

	driver := objectstore.NewMemoryDriver()
	require.NoError(t, driver.Put(ctx, "z", []byte("torn-upload-data"))) // payload only, no sidecar

	mgr := NewManager(driver, 1)
	plan, err := mgr.Reconcile(ctx, "folder1", "", snap, reader)
	require.NoError(t, err)
	require.Len(t, plan.Upload, 1)
	assert.Equal(t, "z", plan.Upload[0].Path)

	remaining, err := driver.List(ctx, "")
	require.NoError(t, err)
	assert.Len(t, remaining, 2)

	status, ok := mgr.Status("folder1", "z")
	require.True(t, ok)
	assert.Equal(t, StatusSync, status)
}

func TestDryRunReconcileDoesNotWrite(t *testing.T) {
	ctx := context.Background()
	files := map[string][]byte{"a": []byte("data")}
	snap, _ := buildSnapshot(t, files)

	driver := objectstore.NewMemoryDriver()
	mgr := NewManager(driver, 1)

	plan, err := mgr.DryRunReconcile(ctx, "", snap)
	require.NoError(t, err)
	assert.Len(t, plan.Upload, 1)

	remaining, err := driver.List(ctx, "")
	require.NoError(t, err)
	assert.Empty(t, remaining)
}

func TestSecondTickIsNoOp(t *testing.T) {
	ctx := context.Background()
	files := map[string][]byte{"a": []byte("data")}
	snap, reader := buildSnapshot(t, files)

	driver := objectstore.NewMemoryDriver()
	mgr := NewManager(driver, 1)

	_, err := mgr.Reconcile(ctx, "folder1", "", snap, reader)
	require.NoError(t, err)

	plan, err := mgr.Reconcile(ctx, "folder1", "", snap, reader)
	require.NoError(t, err)
	assert.Empty(t, plan.Upload)
	assert.Len(t, plan.AlreadyInSync, 1)
}
