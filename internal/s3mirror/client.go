package s3mirror

import (
	"context"
	"fmt"
	"io"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/feature/s3/manager"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
)

// ObjectMetadata describes one stored object, keyed by its path relative to
// the mirror prefix.
type ObjectMetadata struct {
	Path string
	Size int64
}

// ObjectInfo is the per-object detail returned by HeadObject.
type ObjectInfo struct {
	Size     int64
	Checksum string // base64 SHA-256, empty when the object carries none
}

// PutObjectRequest carries one upload.
type PutObjectRequest struct {
	Bucket      string
	Key         string
	Body        io.Reader
	Size        int64
	Checksum    string // base64 SHA-256 of the body
	ContentType string
}

// Client is the object-storage surface the mirror needs.
type Client interface {
	ListObjects(ctx context.Context, bucket, prefix string) ([]ObjectMetadata, error)
	HeadObject(ctx context.Context, bucket, key string) (*ObjectInfo, error)
	PutObject(ctx context.Context, req *PutObjectRequest) error
	DeleteObject(ctx context.Context, bucket, key string) error
}

// AWSClient implements Client against S3. Uploads go through the transfer
// manager so large snapshots stream in parts.
type AWSClient struct {
	client   *s3.Client
	uploader *manager.Uploader
}

func NewAWSClient(cfg aws.Config) *AWSClient {
	client := s3.NewFromConfig(cfg)
	return &AWSClient{
		client:   client,
		uploader: manager.NewUploader(client),
	}
}

func (c *AWSClient) ListObjects(ctx context.Context, bucket, prefix string) ([]ObjectMetadata, error) {
	var items []ObjectMetadata

	paginator := s3.NewListObjectsV2Paginator(c.client, &s3.ListObjectsV2Input{
		Bucket: aws.String(bucket),
		Prefix: aws.String(listPrefix(prefix)),
	})

	for paginator.HasMorePages() {
		page, err := paginator.NextPage(ctx)
		if err != nil {
			return nil, fmt.Errorf("failed to list objects: %w", err)
		}

		for _, obj := range page.Contents {
			if obj.Key == nil {
				continue
			}

			key := *obj.Key
			if prefix != "" {
				key = strings.TrimPrefix(key, prefix+"/")
			}

			items = append(items, ObjectMetadata{
				Path: key,
				Size: aws.ToInt64(obj.Size),
			})
		}
	}

	return items, nil
}

func (c *AWSClient) HeadObject(ctx context.Context, bucket, key string) (*ObjectInfo, error) {
	resp, err := c.client.HeadObject(ctx, &s3.HeadObjectInput{
		Bucket:       aws.String(bucket),
		Key:          aws.String(key),
		ChecksumMode: types.ChecksumModeEnabled,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to head object: %w", err)
	}

	info := &ObjectInfo{
		Size: aws.ToInt64(resp.ContentLength),
	}
	if resp.ChecksumSHA256 != nil {
		info.Checksum = *resp.ChecksumSHA256
	}

	return info, nil
}

func (c *AWSClient) PutObject(ctx context.Context, req *PutObjectRequest) error {
	input := &s3.PutObjectInput{
		Bucket:            aws.String(req.Bucket),
		Key:               aws.String(req.Key),
		Body:              req.Body,
		ChecksumAlgorithm: types.ChecksumAlgorithmSha256,
	}

	if req.ContentType != "" {
		input.ContentType = aws.String(req.ContentType)
	}

	if _, err := c.uploader.Upload(ctx, input); err != nil {
		return fmt.Errorf("failed to upload object: %w", err)
	}

	return nil
}

func (c *AWSClient) DeleteObject(ctx context.Context, bucket, key string) error {
	_, err := c.client.DeleteObject(ctx, &s3.DeleteObjectInput{
		Bucket: aws.String(bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		return fmt.Errorf("failed to delete object: %w", err)
	}

	return nil
}

// listPrefix appends the trailing slash S3 expects when listing under a key
// prefix, so "ha" does not also match "ha-old".
func listPrefix(prefix string) string {
	if prefix == "" {
		return ""
	}
	return prefix + "/"
}
