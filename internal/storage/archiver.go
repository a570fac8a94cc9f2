package storage

import (
	"bytes"
	"context"
	"fmt"
	"os"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
)

// MinioEpochArchiver implements EpochArchiver against S3-compatible
// storage, following the teacher's minio-go Service shape
// (internal/storage/storage.go): env-configured endpoint/credentials
// with MinIO-local dev defaults, a bucket ensured to exist at
// construction, direct PutObject rather than presigned URLs since the
// archiver writes server-side on the storage layer's own behalf.
type MinioEpochArchiver struct {
	client     *minio.Client
	bucketName string
}

// NewMinioEpochArchiver connects to S3-compatible storage using the
// same S3_* environment variables the teacher's storage service reads.
func NewMinioEpochArchiver(ctx context.Context) (*MinioEpochArchiver, error) {
	endpoint := getEnv("S3_ENDPOINT", "localhost:9000")
	accessKey := getEnv("S3_ACCESS_KEY", "minioadmin")
	secretKey := getEnv("S3_SECRET_KEY", "minioadmin")
	bucketName := getEnv("S3_BUCKET", "mlsengine-epochs")
	bucketRegion := getEnv("S3_REGION", "us-east-1")
	useSSL := os.Getenv("S3_USE_SSL") == "true"

	client, err := minio.New(endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(accessKey, secretKey, ""),
		Secure: useSSL,
	})
	if err != nil {
		return nil, fmt.Errorf("storage: create S3 client: %w", err)
	}

	archiver := &MinioEpochArchiver{client: client, bucketName: bucketName}
	if err := archiver.ensureBucket(ctx, bucketRegion); err != nil {
		return nil, fmt.Errorf("storage: ensure archive bucket: %w", err)
	}
	return archiver, nil
}

func (a *MinioEpochArchiver) ensureBucket(ctx context.Context, region string) error {
	exists, err := a.client.BucketExists(ctx, a.bucketName)
	if err != nil {
		return err
	}
	if !exists {
		if err := a.client.MakeBucket(ctx, a.bucketName, minio.MakeBucketOptions{Region: region}); err != nil {
			return err
		}
	}
	return nil
}

// Archive uploads one pruned epoch's bytes under
// "<group_id_hex>/<epoch_id>", keeping it retrievable for audit replay
// after PostgresGroupStateStorage.Write has dropped it from the hot
// epoch table.
func (a *MinioEpochArchiver) Archive(ctx context.Context, groupID []byte, epochID uint64, data []byte) error {
	key := objectKey(groupID, epochID)
	_, err := a.client.PutObject(ctx, a.bucketName, key, bytes.NewReader(data), int64(len(data)), minio.PutObjectOptions{
		ContentType: "application/octet-stream",
	})
	if err != nil {
		return fmt.Errorf("storage: archive epoch object %s: %w", key, err)
	}
	return nil
}

func objectKey(groupID []byte, epochID uint64) string {
	return fmt.Sprintf("%x/%d", groupID, epochID)
}

func getEnv(key, fallback string) string {
	if v, ok := os.LookupEnv(key); ok {
		return v
	}
	return fallback
}
