// Package archive writes resolved-conflict snapshots to object storage so
// the full dispute trail outlives any log retention window.
package archive

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"

	"mapvet/api/internal/engine"
)

// Store archives conflicts as JSON objects in a MinIO (or S3-compatible) bucket.
type Store struct {
	client *minio.Client
	bucket string
}

// New connects to the object store and ensures the bucket exists.
func New(ctx context.Context, endpoint, accessKey, secretKey, bucket string, useSSL bool) (*Store, error) {
	client, err := minio.New(endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(accessKey, secretKey, ""),
		Secure: useSSL,
	})
	if err != nil {
		return nil, fmt.Errorf("create minio client: %w", err)
	}

	exists, err := client.BucketExists(ctx, bucket)
	if err != nil {
		return nil, fmt.Errorf("check bucket %s: %w", bucket, err)
	}
	if !exists {
		if err := client.MakeBucket(ctx, bucket, minio.MakeBucketOptions{}); err != nil {
			return nil, fmt.Errorf("create bucket %s: %w", bucket, err)
		}
	}

	return &Store{client: client, bucket: bucket}, nil
}

// ArchiveConflict stores the resolved conflict at a stable per-mission path.
// Re-archiving the same conflict overwrites the object, so replays are safe.
func (s *Store) ArchiveConflict(ctx context.Context, conflict engine.Conflict) error {
	payload := struct {
		engine.Conflict
		ArchivedAt time.Time `json:"archivedAt"`
	}{Conflict: conflict, ArchivedAt: time.Now().UTC()}

	jsonData, err := json.MarshalIndent(payload, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal conflict %s: %w", conflict.ID, err)
	}

	objectName := fmt.Sprintf("conflicts/%s/%s.json", conflict.MissionID, conflict.ID)
	_, err = s.client.PutObject(ctx, s.bucket, objectName, bytes.NewReader(jsonData), int64(len(jsonData)), minio.PutObjectOptions{
		ContentType: "application/json",
	})
	if err != nil {
		return fmt.Errorf("put conflict %s: %w", conflict.ID, err)
	}
	return nil
}
