package storage

import (
	"bytes"
	"context"
	"errors"
	"io"
	"sort"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/OFFIS-RIT/kiwi/retrieval/pkg/validate"
)

// bucket is an in-memory objectAPI that pages listings two keys at a time.
type bucket struct {
	mu      sync.Mutex
	objects map[string][]byte
	putErr  error
}

func newBucket() *bucket {
	return &bucket{objects: make(map[string][]byte)}
}

func (b *bucket) PutObject(ctx context.Context, in *s3.PutObjectInput, _ ...func(*s3.Options)) (*s3.PutObjectOutput, error) {
	if b.putErr != nil {
		return nil, b.putErr
	}
	data, err := io.ReadAll(in.Body)
	if err != nil {
		return nil, err
	}
	b.mu.Lock()
	b.objects[*in.Key] = data
	b.mu.Unlock()
	return &s3.PutObjectOutput{}, nil
}

func (b *bucket) GetObject(ctx context.Context, in *s3.GetObjectInput, _ ...func(*s3.Options)) (*s3.GetObjectOutput, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	data, ok := b.objects[*in.Key]
	if !ok {
		return nil, errors.New("no such key")
	}
	return &s3.GetObjectOutput{Body: io.NopCloser(bytes.NewReader(data))}, nil
}

func (b *bucket) ListObjectsV2(ctx context.Context, in *s3.ListObjectsV2Input, _ ...func(*s3.Options)) (*s3.ListObjectsV2Output, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	keys := make([]string, 0)
	for k := range b.objects {
		if strings.HasPrefix(k, *in.Prefix) {
			keys = append(keys, k)
		}
	}
	sort.Sort(sort.Reverse(sort.StringSlice(keys)))

	start := 0
	if in.ContinuationToken != nil {
		for i, k := range keys {
			if k == *in.ContinuationToken {
				start = i
			}
		}
	}
	end := min(start+2, len(keys))
	out := &s3.ListObjectsV2Output{IsTruncated: aws.Bool(end < len(keys))}
	for _, k := range keys[start:end] {
		out.Contents = append(out.Contents, types.Object{Key: aws.String(k)})
	}
	if end < len(keys) {
		out.NextContinuationToken = aws.String(keys[end])
	}
	return out, nil
}

func (b *bucket) DeleteObjects(ctx context.Context, in *s3.DeleteObjectsInput, _ ...func(*s3.Options)) (*s3.DeleteObjectsOutput, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	for _, id := range in.Delete.Objects {
		delete(b.objects, *id.Key)
	}
	return &s3.DeleteObjectsOutput{}, nil
}

func report(ns string, at time.Time, consistent bool) *validate.Report {
	return &validate.Report{Namespace: ns, CheckedAt: at, VectorChunks: 10, Consistent: consistent}
}

func TestReportStore_PublishAndLatest(t *testing.T) {
	b := newBucket()
	s := NewReportStore(b, "kiwi", "/reports/", 0)
	ctx := context.Background()
	base := time.Date(2026, 10, 16, 9, 0, 0, 0, time.UTC)

	latest, err := s.Latest(ctx, "docs")
	require.NoError(t, err)
	assert.Nil(t, latest)

	for i := range 5 {
		require.NoError(t, s.Publish(ctx, report("docs", base.Add(time.Duration(i)*time.Minute), i%2 == 0)))
	}
	require.NoError(t, s.Publish(ctx, report("other", base.Add(time.Hour), false)))

	keys, err := s.List(ctx, "docs")
	require.NoError(t, err)
	require.Len(t, keys, 5)
	assert.True(t, sort.StringsAreSorted(keys))
	assert.True(t, strings.HasPrefix(keys[0], "reports/docs/"))

	latest, err = s.Latest(ctx, "docs")
	require.NoError(t, err)
	assert.True(t, latest.CheckedAt.Equal(base.Add(4*time.Minute)))
	assert.True(t, latest.Consistent)
	assert.Equal(t, 10, latest.VectorChunks)
}

func TestReportStore_PrunesOnPublish(t *testing.T) {
	b := newBucket()
	s := NewReportStore(b, "kiwi", "reports", 2)
	ctx := context.Background()
	base := time.Date(2026, 10, 16, 9, 0, 0, 0, time.UTC)

	for i := range 4 {
		require.NoError(t, s.Publish(ctx, report("docs", base.Add(time.Duration(i)*time.Second), true)))
	}
	keys, err := s.List(ctx, "docs")
	require.NoError(t, err)
	require.Len(t, keys, 2)
	assert.Equal(t, s.ReportKey(report("docs", base.Add(3*time.Second), true)), keys[1])
}

func TestReportStore_PublishError(t *testing.T) {
	b := newBucket()
	b.putErr = errors.New("denied")
	s := NewReportStore(b, "kiwi", "reports", 0)

	err := s.Publish(context.Background(), report("docs", time.Now(), true))
	assert.ErrorContains(t, err, "denied")
}
