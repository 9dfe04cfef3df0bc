// Copyright (c) 2023 xCherryIO Organization
// SPDX-License-Identifier: Apache-2.0

package s3objects

import (
	"context"
	"errors"
	"fmt"
	"path"

	"github.com/aws/aws-sdk-go/aws"
	"github.com/aws/aws-sdk-go/aws/awserr"
	"github.com/aws/aws-sdk-go/aws/credentials"
	"github.com/aws/aws-sdk-go/aws/session"
	"github.com/aws/aws-sdk-go/service/s3"
	"github.com/aws/aws-sdk-go/service/s3/s3iface"
	"github.com/aws/aws-sdk-go/service/s3/s3manager"

	"github.com/xcherryio/taskgrid/config"
	"github.com/xcherryio/taskgrid/persistence"
)

// maxDeleteBatch is the max number of keys of a DeleteObjects request
const maxDeleteBatch = 1000

// ObjectStorage keeps every object in a single S3 object.
// Writes are streamed as multipart uploads, reads are split in chunks of chunkSize
type ObjectStorage struct {
	client    s3iface.S3API
	uploader  *s3manager.Uploader
	bucket    string
	keyPrefix string
	chunkSize int
}

var _ persistence.ObjectStorage = (*ObjectStorage)(nil)

func NewObjectStorage(cfg config.S3Config, chunkSize int) (*ObjectStorage, error) {
	awsCfg := aws.NewConfig().
		WithRegion(cfg.Region).
		WithS3ForcePathStyle(cfg.ForcePathStyle)
	if cfg.Endpoint != "" {
		awsCfg = awsCfg.WithEndpoint(cfg.Endpoint)
	}
	if cfg.AccessKeyId != "" {
		awsCfg = awsCfg.WithCredentials(credentials.NewStaticCredentials(cfg.AccessKeyId, cfg.SecretAccessKey, ""))
	}
	sess, err := session.NewSession(awsCfg)
	if err != nil {
		return nil, fmt.Errorf("failed to create the aws session: %w", err)
	}
	return NewObjectStorageWithClient(s3.New(sess), cfg.Bucket, cfg.KeyPrefix, chunkSize), nil
}

func NewObjectStorageWithClient(client s3iface.S3API, bucket, keyPrefix string, chunkSize int) *ObjectStorage {
	return &ObjectStorage{
		client:    client,
		uploader:  s3manager.NewUploaderWithClient(client),
		bucket:    bucket,
		keyPrefix: keyPrefix,
		chunkSize: chunkSize,
	}
}

func (o *ObjectStorage) objectKey(key string) string {
	return path.Join(o.keyPrefix, key)
}

func (o *ObjectStorage) AddOrUpdate(ctx context.Context, key string, chunks persistence.ChunkStream) error {
	defer chunks.Close()
	_, err := o.uploader.UploadWithContext(ctx, &s3manager.UploadInput{
		Bucket: aws.String(o.bucket),
		Key:    aws.String(o.objectKey(key)),
		Body:   persistence.NewChunkStreamReader(ctx, chunks),
	})
	if err != nil {
		return fmt.Errorf("putting S3 object %v: %w", key, err)
	}
	return nil
}

func (o *ObjectStorage) GetValues(ctx context.Context, key string) (persistence.ChunkStream, error) {
	result, err := o.client.GetObjectWithContext(ctx, &s3.GetObjectInput{
		Bucket: aws.String(o.bucket),
		Key:    aws.String(o.objectKey(key)),
	})
	if err != nil {
		if isNotFound(err) {
			return nil, fmt.Errorf("%w: %v", persistence.ErrObjectNotFound, key)
		}
		return nil, fmt.Errorf("fetching S3 object %v: %w", key, err)
	}
	return persistence.NewReaderChunkStream(result.Body, o.chunkSize), nil
}

// Delete ignores the missing keys, like S3 does
func (o *ObjectStorage) Delete(ctx context.Context, keys ...string) error {
	for start := 0; start < len(keys); start += maxDeleteBatch {
		end := start + maxDeleteBatch
		if end > len(keys) {
			end = len(keys)
		}
		objects := make([]*s3.ObjectIdentifier, 0, end-start)
		for _, key := range keys[start:end] {
			objects = append(objects, &s3.ObjectIdentifier{Key: aws.String(o.objectKey(key))})
		}
		output, err := o.client.DeleteObjectsWithContext(ctx, &s3.DeleteObjectsInput{
			Bucket: aws.String(o.bucket),
			Delete: &s3.Delete{Objects: objects, Quiet: aws.Bool(true)},
		})
		if err != nil {
			return fmt.Errorf("deleting S3 objects: %w", err)
		}
		if len(output.Errors) > 0 {
			first := output.Errors[0]
			return fmt.Errorf("deleting S3 object %v: %v", aws.StringValue(first.Key), aws.StringValue(first.Message))
		}
	}
	return nil
}

func (o *ObjectStorage) Close() error {
	return nil
}

func isNotFound(err error) bool {
	var aerr awserr.Error
	if errors.As(err, &aerr) {
		switch aerr.Code() {
		case s3.ErrCodeNoSuchKey, "NotFound":
			return true
		}
	}
	return false
}
