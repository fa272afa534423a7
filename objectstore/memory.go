package objectstore

import (
	"context"
	"sort"
	"strings"
	"sync"

	"github.com/opd-ai/shinkai-node/errs"
)

// MemoryDriver is an in-memory Driver, used by the upload manager's
// tests in place of a live S3-compatible endpoint.
type MemoryDriver struct {
	mu      sync.RWMutex
	objects map[string][]byte
}

// NewMemoryDriver returns an empty MemoryDriver.
func NewMemoryDriver() *MemoryDriver {
	return &MemoryDriver{objects: make(map[string][]byte)}
}

func (d *MemoryDriver) Put(_ context.Context, key string, data []byte) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.objects[key] = append([]byte(nil), data...)
	return nil
}

func (d *MemoryDriver) Delete(_ context.Context, key string) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if _, ok := d.objects[key]; !ok {
		return errs.New("objectstore.MemoryDriver.Delete", errs.NotFound, errNotFound(key))
	}
	delete(d.objects, key)
	return nil
}

func (d *MemoryDriver) List(_ context.Context, prefix string) ([]ObjectInfo, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()

	var out []ObjectInfo
	for key, data := range d.objects {
		if strings.HasPrefix(key, prefix) {
			out = append(out, ObjectInfo{Key: key, Size: int64(len(data))})
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Key < out[j].Key })
	return out, nil
}

type notFoundError string

func (e notFoundError) Error() string { return "objectstore: key not found: " + string(e) }

func errNotFound(key string) error { return notFoundError(key) }
