package blobstore

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"sort"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
)

type S3Config struct {
	Bucket          string
	Region          string
	Endpoint        string
	AccessKeyID     string
	SecretAccessKey string
	// Prefix is prepended to every object key.
	Prefix string
}

// S3 stores objects under <prefix><tenant>/<id> and keeps Metadata in the
// object's user metadata. An index object per id maps it to its tenant.
type S3 struct {
	client *s3.Client
	bucket string
	prefix string
}

// NewS3 builds a client from the default AWS credential chain, overridden by
// static keys and a custom endpoint when given (MinIO, R2).
func NewS3(ctx context.Context, cfg S3Config) (*S3, error) {
	opts := []func(*awsconfig.LoadOptions) error{awsconfig.WithRegion(cfg.Region)}
	if cfg.AccessKeyID != "" {
		opts = append(opts, awsconfig.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(cfg.AccessKeyID, cfg.SecretAccessKey, "")))
	}
	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("load aws config: %w", err)
	}

	client := s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		if cfg.Endpoint != "" {
			o.BaseEndpoint = aws.String(cfg.Endpoint)
			o.UsePathStyle = true
		}
	})
	return NewS3FromClient(client, cfg.Bucket, cfg.Prefix), nil
}

func NewS3FromClient(client *s3.Client, bucket, prefix string) *S3 {
	if prefix == "" {
		prefix = "rtt-exports/"
	}
	return &S3{client: client, bucket: bucket, prefix: prefix}
}

func (s *S3) objectKey(tenantID, id string) string {
	return s.prefix + tenantID + "/" + id
}

func (s *S3) indexKey(id string) string {
	return s.prefix + "_index/" + id
}

func (s *S3) Put(ctx context.Context, meta Metadata, content io.Reader) (*Metadata, error) {
	meta, data, err := prepare(meta, content)
	if err != nil {
		return nil, err
	}

	_, err = s.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:        aws.String(s.bucket),
		Key:           aws.String(s.objectKey(meta.TenantID, meta.ID)),
		Body:          bytes.NewReader(data),
		ContentLength: aws.Int64(meta.Size),
		ContentType:   aws.String(meta.ContentType),
		Metadata:      encodeMetadata(meta),
	})
	if err != nil {
		return nil, fmt.Errorf("put object: %w", err)
	}
	_, err = s.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(s.indexKey(meta.ID)),
		Body:   strings.NewReader(meta.TenantID),
	})
	if err != nil {
		return nil, fmt.Errorf("put index: %w", err)
	}
	return &meta, nil
}

func (s *S3) tenantOf(ctx context.Context, id string) (string, error) {
	out, err := s.client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(s.indexKey(id)),
	})
	if err != nil {
		return "", mapS3Error(err)
	}
	defer out.Body.Close()
	b, err := io.ReadAll(out.Body)
	if err != nil {
		return "", fmt.Errorf("read index: %w", err)
	}
	return string(b), nil
}

func (s *S3) Get(ctx context.Context, id string) (io.ReadCloser, *Metadata, error) {
	tenant, err := s.tenantOf(ctx, id)
	if err != nil {
		return nil, nil, err
	}
	out, err := s.client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(s.objectKey(tenant, id)),
	})
	if err != nil {
		return nil, nil, mapS3Error(err)
	}
	meta := decodeMetadata(id, tenant, out.Metadata)
	meta.ContentType = aws.ToString(out.ContentType)
	meta.Size = aws.ToInt64(out.ContentLength)
	return out.Body, &meta, nil
}

func (s *S3) Stat(ctx context.Context, id string) (*Metadata, error) {
	tenant, err := s.tenantOf(ctx, id)
	if err != nil {
		return nil, err
	}
	return s.head(ctx, tenant, id)
}

func (s *S3) head(ctx context.Context, tenant, id string) (*Metadata, error) {
	out, err := s.client.HeadObject(ctx, &s3.HeadObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(s.objectKey(tenant, id)),
	})
	if err != nil {
		return nil, mapS3Error(err)
	}
	meta := decodeMetadata(id, tenant, out.Metadata)
	meta.ContentType = aws.ToString(out.ContentType)
	meta.Size = aws.ToInt64(out.ContentLength)
	return &meta, nil
}

func (s *S3) Delete(ctx context.Context, id string) error {
	tenant, err := s.tenantOf(ctx, id)
	if err != nil {
		return err
	}
	for _, key := range []string{s.objectKey(tenant, id), s.indexKey(id)} {
		if _, err := s.client.DeleteObject(ctx, &s3.DeleteObjectInput{
			Bucket: aws.String(s.bucket),
			Key:    aws.String(key),
		}); err != nil {
			return fmt.Errorf("delete object: %w", mapS3Error(err))
		}
	}
	return nil
}

func (s *S3) List(ctx context.Context, tenantID string, limit int) ([]*Metadata, error) {
	prefix := s.objectKey(tenantID, "")
	var out []*Metadata
	p := s3.NewListObjectsV2Paginator(s.client, &s3.ListObjectsV2Input{
		Bucket: aws.String(s.bucket),
		Prefix: aws.String(prefix),
	})
	for p.HasMorePages() {
		page, err := p.NextPage(ctx)
		if err != nil {
			return nil, fmt.Errorf("list objects: %w", err)
		}
		for _, obj := range page.Contents {
			id := strings.TrimPrefix(aws.ToString(obj.Key), prefix)
			meta, err := s.head(ctx, tenantID, id)
			if err != nil {
				return nil, err
			}
			out = append(out, meta)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

const tagPrefix = "tag-"

func encodeMetadata(m Metadata) map[string]string {
	md := map[string]string{
		"file-name":  m.FileName,
		"hash":       m.Hash,
		"created-by": m.CreatedBy,
		"created-at": m.CreatedAt.Format(time.RFC3339Nano),
	}
	for k, v := range m.Tags {
		md[tagPrefix+k] = v
	}
	return md
}

func decodeMetadata(id, tenant string, md map[string]string) Metadata {
	m := Metadata{
		ID:        id,
		TenantID:  tenant,
		FileName:  md["file-name"],
		Hash:      md["hash"],
		CreatedBy: md["created-by"],
	}
	if t, err := time.Parse(time.RFC3339Nano, md["created-at"]); err == nil {
		m.CreatedAt = t
	}
	for k, v := range md {
		if strings.HasPrefix(k, tagPrefix) {
			if m.Tags == nil {
				m.Tags = map[string]string{}
			}
			m.Tags[strings.TrimPrefix(k, tagPrefix)] = v
		}
	}
	return m
}

func mapS3Error(err error) error {
	var nsk *types.NoSuchKey
	var nf *types.NotFound
	if errors.As(err, &nsk) || errors.As(err, &nf) {
		return ErrBlobNotFound
	}
	return err
}
