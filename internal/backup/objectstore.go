package backup

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
)

// Uploader pushes archived snapshots to an S3-compatible bucket so board
// history survives the host.
type Uploader struct {
	client *minio.Client
	bucket string
}

func NewUploader(endpoint, accessKey, secretKey, bucket string, useSSL bool) (*Uploader, error) {
	client, err := minio.New(endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(accessKey, secretKey, ""),
		Secure: useSSL,
	})
	if err != nil {
		return nil, fmt.Errorf("create object store client: %w", err)
	}
	return &Uploader{client: client, bucket: bucket}, nil
}

// EnsureBucket creates the snapshot bucket when it does not exist yet.
func (u *Uploader) EnsureBucket(ctx context.Context) error {
	exists, err := u.client.BucketExists(ctx, u.bucket)
	if err != nil {
		return fmt.Errorf("check bucket: %w", err)
	}
	if exists {
		return nil
	}
	if err := u.client.MakeBucket(ctx, u.bucket, minio.MakeBucketOptions{}); err != nil {
		return fmt.Errorf("create bucket: %w", err)
	}
	return nil
}

// Upload stores one snapshot under boards/<boardID>/<RFC3339 timestamp>.json.
func (u *Uploader) Upload(ctx context.Context, boardID string, snap Snapshot) (string, error) {
	payload, err := json.Marshal(snap)
	if err != nil {
		return "", fmt.Errorf("marshal snapshot: %w", err)
	}
	name := fmt.Sprintf("boards/%s/%s.json", boardID, snap.TakenAt.UTC().Format(time.RFC3339))
	_, err = u.client.PutObject(ctx, u.bucket, name, bytes.NewReader(payload), int64(len(payload)), minio.PutObjectOptions{
		ContentType: "application/json",
	})
	if err != nil {
		return "", fmt.Errorf("upload snapshot: %w", err)
	}
	return name, nil
}
