// Package storage keeps consistency reports in an S3 compatible bucket.
package storage

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"path"
	"sort"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"

	"github.com/OFFIS-RIT/kiwi/retrieval/internal/config"
	"github.com/OFFIS-RIT/kiwi/retrieval/pkg/logger"
	"github.com/OFFIS-RIT/kiwi/retrieval/pkg/validate"
)

// reportTimeLayout sorts lexically in time order.
const reportTimeLayout = "20060102T150405.000000000Z"

type objectAPI interface {
	PutObject(ctx context.Context, params *s3.PutObjectInput, optFns ...func(*s3.Options)) (*s3.PutObjectOutput, error)
	GetObject(ctx context.Context, params *s3.GetObjectInput, optFns ...func(*s3.Options)) (*s3.GetObjectOutput, error)
	ListObjectsV2(ctx context.Context, params *s3.ListObjectsV2Input, optFns ...func(*s3.Options)) (*s3.ListObjectsV2Output, error)
	DeleteObjects(ctx context.Context, params *s3.DeleteObjectsInput, optFns ...func(*s3.Options)) (*s3.DeleteObjectsOutput, error)
}

// NewS3Client builds a path-style client for AWS or an S3 compatible
// endpoint such as MinIO.
func NewS3Client(ctx context.Context, cfg config.S3) (*s3.Client, error) {
	opts := []func(*awsconfig.LoadOptions) error{
		awsconfig.WithRegion(cfg.Region),
	}
	if cfg.Endpoint != "" {
		opts = append(opts, awsconfig.WithBaseEndpoint(cfg.Endpoint))
	}
	if cfg.AccessKey != "" {
		opts = append(opts, awsconfig.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(cfg.AccessKey, cfg.SecretKey, ""),
		))
	}
	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to load s3 config: %w", err)
	}
	return s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		o.UsePathStyle = true
	}), nil
}

// ReportStore writes one JSON object per validation run under
// <prefix>/<namespace>/<timestamp>.json and implements validate.Publisher.
type ReportStore struct {
	client objectAPI
	bucket string
	prefix string
	keep   int
}

// NewReportStore keeps at most keep reports per namespace; keep <= 0 keeps
// all of them.
func NewReportStore(client objectAPI, bucket, prefix string, keep int) *ReportStore {
	return &ReportStore{
		client: client,
		bucket: bucket,
		prefix: strings.Trim(prefix, "/"),
		keep:   keep,
	}
}

var _ validate.Publisher = (*ReportStore)(nil)

func (s *ReportStore) namespacePrefix(namespace string) string {
	return path.Join(s.prefix, namespace) + "/"
}

// ReportKey returns the object key of a report.
func (s *ReportStore) ReportKey(r *validate.Report) string {
	return s.namespacePrefix(r.Namespace) + r.CheckedAt.UTC().Format(reportTimeLayout) + ".json"
}

func (s *ReportStore) Publish(ctx context.Context, r *validate.Report) error {
	body, err := json.MarshalIndent(r, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to encode report: %w", err)
	}
	key := s.ReportKey(r)
	_, err = s.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:      aws.String(s.bucket),
		Key:         aws.String(key),
		Body:        bytes.NewReader(body),
		ContentType: aws.String("application/json"),
	})
	if err != nil {
		return fmt.Errorf("failed to upload report to S3: %w", err)
	}
	logger.Debug("[Storage] Report published", "key", key, "consistent", r.Consistent)

	if s.keep > 0 {
		if err := s.Prune(ctx, r.Namespace, s.keep); err != nil {
			logger.Warn("[Storage] Failed to prune reports", "namespace", r.Namespace, "err", err)
		}
	}
	return nil
}

// List returns the report keys of namespace, oldest first.
func (s *ReportStore) List(ctx context.Context, namespace string) ([]string, error) {
	prefix := s.namespacePrefix(namespace)
	input := &s3.ListObjectsV2Input{
		Bucket: aws.String(s.bucket),
		Prefix: aws.String(prefix),
	}

	var keys []string
	for {
		out, err := s.client.ListObjectsV2(ctx, input)
		if err != nil {
			return nil, fmt.Errorf("failed to list reports with prefix %s: %w", prefix, err)
		}
		for _, obj := range out.Contents {
			if obj.Key != nil && strings.HasSuffix(*obj.Key, ".json") {
				keys = append(keys, *obj.Key)
			}
		}
		if out.IsTruncated == nil || !*out.IsTruncated {
			break
		}
		input.ContinuationToken = out.NextContinuationToken
	}
	sort.Strings(keys)
	return keys, nil
}

// Get downloads and decodes one report.
func (s *ReportStore) Get(ctx context.Context, key string) (*validate.Report, error) {
	out, err := s.client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to get report from S3: %w", err)
	}
	defer out.Body.Close()

	data, err := io.ReadAll(out.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read report: %w", err)
	}
	var r validate.Report
	if err := json.Unmarshal(data, &r); err != nil {
		return nil, fmt.Errorf("failed to decode report %s: %w", key, err)
	}
	return &r, nil
}

// Latest returns the newest report of namespace, or nil when none exists.
func (s *ReportStore) Latest(ctx context.Context, namespace string) (*validate.Report, error) {
	keys, err := s.List(ctx, namespace)
	if err != nil {
		return nil, err
	}
	if len(keys) == 0 {
		return nil, nil
	}
	return s.Get(ctx, keys[len(keys)-1])
}

// Prune deletes all but the newest keep reports of namespace.
func (s *ReportStore) Prune(ctx context.Context, namespace string, keep int) error {
	keys, err := s.List(ctx, namespace)
	if err != nil {
		return err
	}
	if len(keys) <= keep {
		return nil
	}
	stale := keys[:len(keys)-keep]

	// DeleteObjects takes at most 1000 keys.
	for start := 0; start < len(stale); start += 1000 {
		end := min(start+1000, len(stale))
		ids := make([]types.ObjectIdentifier, 0, end-start)
		for _, k := range stale[start:end] {
			ids = append(ids, types.ObjectIdentifier{Key: aws.String(k)})
		}
		_, err := s.client.DeleteObjects(ctx, &s3.DeleteObjectsInput{
			Bucket: aws.String(s.bucket),
			Delete: &types.Delete{Objects: ids, Quiet: aws.Bool(true)},
		})
		if err != nil {
			return fmt.Errorf("failed to delete reports of %s: %w", namespace, err)
		}
	}
	logger.Debug("[Storage] Pruned reports", "namespace", namespace, "deleted", len(stale))
	return nil
}
