// Copyright (c) 2025 Nishisan. All rights reserved.
// Use of this source code is governed by the N-Backup License (Non-Commercial Evaluation)
// that can be found in the LICENSE file.

// Package s3store offloads finished local recordings (wavcodec or zcodec
// output files, committed atomically by their encoders) to S3-compatible
// object storage. It is the remote tier of the same commit-then-archive
// pattern the backup agent this module was adapted from uses for its
// tar.gz snapshots: a file only ever gets uploaded once it is complete and
// closed, never while still being written.
package s3store

import (
	"context"
	"fmt"
	"os"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/feature/s3/manager"
	"github.com/aws/aws-sdk-go-v2/service/s3"
)

// Store uploads and downloads whole files against a single S3-compatible
// bucket.
type Store struct {
	bucket     string
	client     *s3.Client
	uploader   *manager.Uploader
	downloader *manager.Downloader
}

// Open loads AWS credentials and region from the standard SDK chain
// (environment, shared config, EC2/ECS role) and returns a Store bound to
// bucket.
func Open(ctx context.Context, bucket string) (*Store, error) {
	cfg, err := config.LoadDefaultConfig(ctx)
	if err != nil {
		return nil, fmt.Errorf("s3store: loading AWS config: %w", err)
	}
	client := s3.NewFromConfig(cfg)
	return &Store{
		bucket:     bucket,
		client:     client,
		uploader:   manager.NewUploader(client),
		downloader: manager.NewDownloader(client),
	}, nil
}

// PutFile uploads localPath to key, using manager's concurrent multipart
// upload for files above its part-size threshold.
func (s *Store) PutFile(ctx context.Context, key, localPath string) error {
	f, err := os.Open(localPath)
	if err != nil {
		return fmt.Errorf("s3store: opening %s: %w", localPath, err)
	}
	defer f.Close()

	_, err = s.uploader.Upload(ctx, &s3.PutObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(key),
		Body:   f,
	})
	if err != nil {
		return fmt.Errorf("s3store: uploading %s to s3://%s/%s: %w", localPath, s.bucket, key, err)
	}
	return nil
}

// GetFile downloads key into localPath, using manager's concurrent ranged
// downloads for large objects.
func (s *Store) GetFile(ctx context.Context, key, localPath string) error {
	f, err := os.Create(localPath)
	if err != nil {
		return fmt.Errorf("s3store: creating %s: %w", localPath, err)
	}
	defer f.Close()

	_, err = s.downloader.Download(ctx, f, &s3.GetObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		return fmt.Errorf("s3store: downloading s3://%s/%s to %s: %w", s.bucket, key, localPath, err)
	}
	return nil
}

// Delete removes key from the bucket, used to clean up a local recording's
// remote copy once its retention window has passed.
func (s *Store) Delete(ctx context.Context, key string) error {
	_, err := s.client.DeleteObject(ctx, &s3.DeleteObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		return fmt.Errorf("s3store: deleting s3://%s/%s: %w", s.bucket, key, err)
	}
	return nil
}
