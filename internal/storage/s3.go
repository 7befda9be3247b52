// Package storage opens the catalog graph store and reads infrastructure
// manifests from an S3 compatible object store.
package storage

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"path"
	"strings"

	"github.com/asklokesh/next-portal/catalog/internal/config"
	"github.com/asklokesh/next-portal/catalog/pkg/collector"
	"github.com/asklokesh/next-portal/catalog/pkg/logger"
	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
)

var log = logger.With("S3")

// maxManifestSize bounds a single manifest read.
const maxManifestSize = 4 << 20

func NewS3Client(ctx context.Context, cfg config.S3) (*s3.Client, error) {
	opts := []func(*awsconfig.LoadOptions) error{
		awsconfig.WithRegion(cfg.Region),
	}
	if cfg.Endpoint != "" {
		opts = append(opts, awsconfig.WithBaseEndpoint(cfg.Endpoint))
	}
	if cfg.AccessKey != "" {
		opts = append(opts, awsconfig.WithCredentialsProvider(credentials.NewStaticCredentialsProvider(
			cfg.AccessKey,
			cfg.SecretKey,
			"",
		)))
	}
	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to load aws config: %w", err)
	}

	client := s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		o.UsePathStyle = true
	})
	return client, nil
}

// objectAPI is the subset of the S3 client the manifest source uses.
type objectAPI interface {
	ListObjectsV2(ctx context.Context, params *s3.ListObjectsV2Input, optFns ...func(*s3.Options)) (*s3.ListObjectsV2Output, error)
	GetObject(ctx context.Context, params *s3.GetObjectInput, optFns ...func(*s3.Options)) (*s3.GetObjectOutput, error)
}

// ManifestSource serves every YAML object under a bucket prefix as a
// manifest for the infrastructure detector.
type ManifestSource struct {
	client objectAPI
	bucket string
	prefix string
}

var _ collector.ManifestSource = (*ManifestSource)(nil)

func NewManifestSource(client objectAPI, bucket, prefix string) *ManifestSource {
	return &ManifestSource{client: client, bucket: bucket, prefix: prefix}
}

func (m *ManifestSource) Manifests(ctx context.Context) ([]collector.Manifest, error) {
	keys, err := ListFilesWithPrefix(ctx, m.client, m.bucket, m.prefix)
	if err != nil {
		return nil, err
	}

	var out []collector.Manifest
	for _, key := range keys {
		if !isManifest(key) {
			continue
		}
		data, err := GetFile(ctx, m.client, m.bucket, key)
		if err != nil {
			if ctx.Err() != nil {
				return nil, ctx.Err()
			}
			log.Warn("Skipping unreadable manifest", "key", key, "err", err)
			continue
		}
		out = append(out, collector.Manifest{Name: "s3://" + m.bucket + "/" + key, Data: data})
	}
	log.Debug("Loaded manifests", "bucket", m.bucket, "prefix", m.prefix, "count", len(out))
	return out, nil
}

func isManifest(key string) bool {
	switch strings.ToLower(path.Ext(key)) {
	case ".yaml", ".yml":
		return true
	}
	return false
}

func GetFile(ctx context.Context, client objectAPI, bucket, key string) ([]byte, error) {
	result, err := client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to get file from S3: %w", err)
	}
	defer result.Body.Close()

	buf := new(bytes.Buffer)
	if _, err := io.Copy(buf, io.LimitReader(result.Body, maxManifestSize+1)); err != nil {
		return nil, fmt.Errorf("failed to read file contents: %w", err)
	}
	if buf.Len() > maxManifestSize {
		return nil, fmt.Errorf("file %s exceeds %d bytes", key, maxManifestSize)
	}
	return buf.Bytes(), nil
}

func ListFilesWithPrefix(ctx context.Context, client objectAPI, bucket, prefix string) ([]string, error) {
	var keys []string
	listInput := &s3.ListObjectsV2Input{
		Bucket: aws.String(bucket),
		Prefix: aws.String(prefix),
	}

	for {
		listOutput, err := client.ListObjectsV2(ctx, listInput)
		if err != nil {
			return nil, fmt.Errorf("failed to list objects with prefix %s: %w", prefix, err)
		}

		for _, obj := range listOutput.Contents {
			if obj.Key != nil {
				keys = append(keys, *obj.Key)
			}
		}

		if listOutput.IsTruncated != nil && *listOutput.IsTruncated {
			listInput.ContinuationToken = listOutput.NextContinuationToken
		} else {
			break
		}
	}

	return keys, nil
}
