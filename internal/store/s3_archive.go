package store

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"strings"
	"sync"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
)

// S3Config configures the optional report archive bucket.
type S3Config struct {
	Endpoint  string
	Region    string
	AccessKey string
	SecretKey string
	Bucket    string
	UseSSL    bool
}

// ReportArchive mirrors finished reports into S3/MinIO so they survive a
// database reset. Archive failures are advisory; persist never depends on it.
type ReportArchive struct {
	client     *minio.Client
	bucketName string
	region     string
	initOnce   sync.Once
	initErr    error
}

func NewReportArchive(cfg S3Config) (*ReportArchive, error) {
	endpoint := strings.TrimSpace(cfg.Endpoint)
	if endpoint == "" {
		return nil, fmt.Errorf("s3 endpoint is required")
	}
	access := strings.TrimSpace(cfg.AccessKey)
	secret := strings.TrimSpace(cfg.SecretKey)
	if access == "" || secret == "" {
		return nil, fmt.Errorf("s3 access key and secret key are required")
	}
	bucket := strings.TrimSpace(cfg.Bucket)
	if bucket == "" {
		return nil, fmt.Errorf("s3 bucket is required")
	}
	region := strings.TrimSpace(cfg.Region)
	if region == "" {
		region = "us-east-1"
	}

	client, err := minio.New(endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(access, secret, ""),
		Secure: cfg.UseSSL,
		Region: region,
	})
	if err != nil {
		return nil, fmt.Errorf("init s3 client: %w", err)
	}

	return &ReportArchive{
		client:     client,
		bucketName: bucket,
		region:     region,
	}, nil
}

func (a *ReportArchive) ensureBucket(ctx context.Context) error {
	a.initOnce.Do(func() {
		exists, err := a.client.BucketExists(ctx, a.bucketName)
		if err != nil {
			a.initErr = err
			return
		}
		if exists {
			return
		}
		a.initErr = a.client.MakeBucket(ctx, a.bucketName, minio.MakeBucketOptions{Region: a.region})
	})
	return a.initErr
}

// Put stores a finished markdown report under <threadID>/report.md.
func (a *ReportArchive) Put(ctx context.Context, threadID, report string) error {
	if a == nil {
		return nil
	}
	if err := a.ensureBucket(ctx); err != nil {
		return fmt.Errorf("ensure bucket: %w", err)
	}
	key := strings.TrimSpace(threadID) + "/report.md"
	body := []byte(report)
	_, err := a.client.PutObject(ctx, a.bucketName, key, bytes.NewReader(body), int64(len(body)),
		minio.PutObjectOptions{ContentType: "text/markdown"})
	if err != nil {
		return fmt.Errorf("archive report: %w", err)
	}
	return nil
}

// Get fetches an archived report, primarily for operational recovery.
func (a *ReportArchive) Get(ctx context.Context, threadID string) (string, error) {
	if a == nil {
		return "", ErrNotFound
	}
	if err := a.ensureBucket(ctx); err != nil {
		return "", err
	}
	obj, err := a.client.GetObject(ctx, a.bucketName, strings.TrimSpace(threadID)+"/report.md", minio.GetObjectOptions{})
	if err != nil {
		return "", err
	}
	defer obj.Close()
	data, err := io.ReadAll(obj)
	if err != nil {
		return "", err
	}
	return string(data), nil
}
