package objectstore

import (
	"context"
	"net/http"
	"testing"

	"github.com/minio/minio-go/v7"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/opd-ai/shinkai-node/errs"
)

func TestMemoryDriverPutListDelete(t *testing.T) {
	ctx := context.Background()
	d := NewMemoryDriver()

	require.NoError(t, d.Put(ctx, "folder/a.txt", []byte("hello")))
	require.NoError(t, d.Put(ctx, "folder/b.txt", []byte("world!")))
	require.NoError(t, d.Put(ctx, "other/c.txt", []byte("x")))

	entries, err := d.List(ctx, "folder/")
	require.NoError(t, err)
	require.Len(t, entries, 2)
	assert.Equal(t, "folder/a.txt", entries[0].Key)
	assert.Equal(t, int64(5), entries[0].Size)

	require.NoError(t, d.Delete(ctx, "folder/a.txt"))
	entries, err = d.List(ctx, "folder/")
	require.NoError(t, err)
	assert.Len(t, entries, 1)
}

func TestMemoryDriverDeleteMissingIsNotFound(t *testing.T) {
	d := NewMemoryDriver()
	err := d.Delete(context.Background(), "missing")
	require.Error(t, err)
	assert.True(t, errs.Is(err, errs.NotFound))
}

func TestClassifyError(t *testing.T) {
	cases := []struct {
		name       string
		statusCode int
		wantKind   errs.Kind
	}{
		{"server error retryable", http.StatusInternalServerError, errs.RemoteStoreIO},
		{"connection error retryable", 0, errs.RemoteStoreIO},
		{"not found", http.StatusNotFound, errs.NotFound},
		{"bad request permanent", http.StatusBadRequest, errs.InvalidArgument},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			resp := minio.ErrorResponse{StatusCode: tc.statusCode, Code: "TestError"}
			err := classifyError("test.op", resp)
			require.Error(t, err)
			assert.True(t, errs.Is(err, tc.wantKind))
		})
	}
}
