// Package objectstore implements the Object Store Driver (C7): a thin,
// S3-compatible wrapper used by the HTTP Upload Manager to reconcile a
// folder tree against remote object storage.
package objectstore

import (
	"bytes"
	"context"
	"fmt"
	"net/http"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
	"github.com/sirupsen/logrus"

	"github.com/opd-ai/shinkai-node/errs"
)

// SourceType identifies which S3-compatible provider a set of
// credentials targets. All three speak the same S3 API; the distinction
// only selects TLS (S3, R2) or plain HTTP (Local) at construction.
type SourceType int

const (
	// SourceS3 is AWS S3 or a drop-in equivalent.
	SourceS3 SourceType = iota
	// SourceR2 is Cloudflare R2.
	SourceR2
	// SourceLocal is a local S3-compatible endpoint (e.g. minio running
	// in a test container), connected over plain HTTP.
	SourceLocal
)

// Credentials resolves a subscription's folder to a concrete object
// store destination.
type Credentials struct {
	Source          SourceType
	AccessKeyID     string
	SecretAccessKey string
	EndpointURI     string
	Bucket          string
	Region          string
}

// ObjectInfo is one entry returned by List: a key and its size in bytes.
type ObjectInfo struct {
	Key  string
	Size int64
}

// Driver is the interface the Upload Manager depends on, letting tests
// substitute an in-memory fake for the real S3-backed implementation.
type Driver interface {
	Put(ctx context.Context, key string, data []byte) error
	Delete(ctx context.Context, key string) error
	List(ctx context.Context, prefix string) ([]ObjectInfo, error)
}

// MinioDriver implements Driver against any S3-compatible endpoint via
// github.com/minio/minio-go/v7.
type MinioDriver struct {
	client *minio.Client
	bucket string
}

// NewMinioDriver constructs a MinioDriver from creds. SourceLocal
// connects over plain HTTP; S3 and R2 always use TLS.
func NewMinioDriver(creds Credentials) (*MinioDriver, error) {
	client, err := minio.New(creds.EndpointURI, &minio.Options{
		Creds:  credentials.NewStaticV4(creds.AccessKeyID, creds.SecretAccessKey, ""),
		Secure: creds.Source != SourceLocal,
		Region: creds.Region,
	})
	if err != nil {
		return nil, errs.New("objectstore.NewMinioDriver", errs.RemoteStoreIO, err)
	}
	return &MinioDriver{client: client, bucket: creds.Bucket}, nil
}

// Put uploads data under key, overwriting any existing object.
func (d *MinioDriver) Put(ctx context.Context, key string, data []byte) error {
	logger := logrus.WithFields(logrus.Fields{
		"function": "Put",
		"package":  "objectstore",
		"key":      key,
	})

	_, err := d.client.PutObject(ctx, d.bucket, key, bytes.NewReader(data), int64(len(data)), minio.PutObjectOptions{})
	if err != nil {
		logger.WithFields(logrus.Fields{"error": err.Error()}).Warn("object upload failed")
		return classifyError("objectstore.Put", err)
	}
	return nil
}

// Delete removes the object at key. Deleting an already-absent key is
// not an error, matching S3 semantics.
func (d *MinioDriver) Delete(ctx context.Context, key string) error {
	if err := d.client.RemoveObject(ctx, d.bucket, key, minio.RemoveObjectOptions{}); err != nil {
		return classifyError("objectstore.Delete", err)
	}
	return nil
}

// List returns every object under prefix, buffered in full (no
// streaming reads in-core; large-bucket handling is out of scope).
func (d *MinioDriver) List(ctx context.Context, prefix string) ([]ObjectInfo, error) {
	var out []ObjectInfo
	for obj := range d.client.ListObjects(ctx, d.bucket, minio.ListObjectsOptions{Prefix: prefix, Recursive: true}) {
		if obj.Err != nil {
			return nil, classifyError("objectstore.List", obj.Err)
		}
		out = append(out, ObjectInfo{Key: obj.Key, Size: obj.Size})
	}
	return out, nil
}

// classifyError maps an S3 API error to the store's retryable/permanent
// taxonomy: 5xx and connection failures are RemoteStoreIO (retryable);
// 404 is NotFound; every other 4xx is InvalidArgument (permanent).
func classifyError(op string, err error) error {
	if err == nil {
		return nil
	}
	resp := minio.ToErrorResponse(err)
	switch {
	case resp.StatusCode == 0, resp.StatusCode >= http.StatusInternalServerError:
		return errs.New(op, errs.RemoteStoreIO, err)
	case resp.StatusCode == http.StatusNotFound:
		return errs.New(op, errs.NotFound, err)
	default:
		return errs.New(op, errs.InvalidArgument, fmt.Errorf("object store rejected request: %w", err))
	}
}
