// Copyright 2024 The ikvblob Authors. All rights reserved.
// Use of this source code is governed by the MIT License
// that can be found in the LICENSE file.

package memory

import (
	"context"
	"errors"
	"fmt"
	"io"

	"github.com/aws/aws-sdk-go/aws"
	"github.com/aws/aws-sdk-go/aws/awserr"
	"github.com/aws/aws-sdk-go/service/s3"
	"github.com/aws/aws-sdk-go/service/s3/s3iface"
)

// S3 reads an object from S3 with ranged GETs.
type S3 struct {
	client s3iface.S3API
	bucket string
	key    string
}

func NewS3(client s3iface.S3API, bucket, key string) *S3 {
	return &S3{
		client: client,
		bucket: bucket,
		key:    key,
	}
}

func (m *S3) ReadSlice(ctx context.Context, off, n int64) ([]byte, error) {
	if off < 0 || n < 0 {
		return nil, checkRange(off, n, 0)
	}
	if n == 0 {
		return []byte{}, nil
	}

	out, err := m.client.GetObjectWithContext(ctx, &s3.GetObjectInput{
		Bucket: aws.String(m.bucket),
		Key:    aws.String(m.key),
		Range:  aws.String(fmt.Sprintf("bytes=%d-%d", off, off+n-1)),
	})
	if err != nil {
		var aerr awserr.Error
		if errors.As(err, &aerr) && aerr.Code() == "InvalidRange" {
			return nil, fmt.Errorf("s3://%s/%s: %w: [%d, +%d)", m.bucket, m.key, ErrOutOfRange, off, n)
		}
		return nil, fmt.Errorf("s3 GetObject(s3://%s/%s): %w", m.bucket, m.key, err)
	}
	defer func() { _ = out.Body.Close() }()

	buf := make([]byte, n)
	if _, err := io.ReadFull(out.Body, buf); err != nil {
		return nil, fmt.Errorf("s3://%s/%s: reading [%d, +%d): %w", m.bucket, m.key, off, n, noEOF(err))
	}
	return buf, nil
}

func (m *S3) Len(ctx context.Context) (int64, error) {
	out, err := m.client.HeadObjectWithContext(ctx, &s3.HeadObjectInput{
		Bucket: aws.String(m.bucket),
		Key:    aws.String(m.key),
	})
	if err != nil {
		return 0, fmt.Errorf("s3 HeadObject(s3://%s/%s): %w", m.bucket, m.key, err)
	}
	if out.ContentLength == nil {
		return 0, fmt.Errorf("s3://%s/%s: no content length", m.bucket, m.key)
	}
	return aws.Int64Value(out.ContentLength), nil
}
