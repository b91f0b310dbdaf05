package treestore

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"path"
	"sort"
	"strings"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"

	"github.com/dgallion1/pageindex/internal/doctree"
	"github.com/dgallion1/pageindex/internal/errs"
)

// S3Options configures an S3-compatible bucket (MinIO, AWS S3, R2).
type S3Options struct {
	Endpoint        string
	Bucket          string
	Prefix          string
	AccessKeyID     string
	SecretAccessKey string
	UseSSL          bool
}

// S3Store keeps trees as objects under Prefix in a bucket.
type S3Store struct {
	client *minio.Client
	bucket string
	prefix string
}

// NewS3Store connects and creates the bucket when it does not exist.
func NewS3Store(ctx context.Context, opts S3Options) (*S3Store, error) {
	client, err := minio.New(opts.Endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(opts.AccessKeyID, opts.SecretAccessKey, ""),
		Secure: opts.UseSSL,
	})
	if err != nil {
		return nil, fmt.Errorf("create s3 client: %w", err)
	}
	exists, err := client.BucketExists(ctx, opts.Bucket)
	if err != nil {
		return nil, fmt.Errorf("check bucket %s: %w", opts.Bucket, err)
	}
	if !exists {
		if err := client.MakeBucket(ctx, opts.Bucket, minio.MakeBucketOptions{}); err != nil {
			return nil, fmt.Errorf("create bucket %s: %w", opts.Bucket, err)
		}
	}
	return &S3Store{client: client, bucket: opts.Bucket, prefix: strings.Trim(opts.Prefix, "/")}, nil
}

func (s *S3Store) key(docID string) string {
	return objectKey(s.prefix, docID)
}

func objectKey(prefix, docID string) string {
	if prefix == "" {
		return FileName(docID)
	}
	return path.Join(prefix, FileName(docID))
}

// docIDFromKey returns the doc id of a tree object key, or "" for other keys.
func docIDFromKey(prefix, key string) string {
	if prefix != "" {
		if !strings.HasPrefix(key, prefix+"/") {
			return ""
		}
		key = strings.TrimPrefix(key, prefix+"/")
	}
	if strings.Contains(key, "/") || !strings.HasSuffix(key, fileSuffix) {
		return ""
	}
	return strings.TrimSuffix(key, fileSuffix)
}

func (s *S3Store) Save(ctx context.Context, t *doctree.Tree) error {
	if err := checkDocID(t.DocID); err != nil {
		return err
	}
	data, err := doctree.Marshal(t)
	if err != nil {
		return fmt.Errorf("marshal tree %s: %w", t.DocID, err)
	}
	_, err = s.client.PutObject(ctx, s.bucket, s.key(t.DocID), bytes.NewReader(data), int64(len(data)),
		minio.PutObjectOptions{ContentType: "application/json"})
	if err != nil {
		return fmt.Errorf("put %s: %w", s.key(t.DocID), err)
	}
	return nil
}

func (s *S3Store) Load(ctx context.Context, docID string) (*doctree.Tree, error) {
	key := s.key(docID)
	if err := checkDocID(docID); err != nil {
		return nil, &errs.IndexLoadError{Path: key, Err: err}
	}
	obj, err := s.client.GetObject(ctx, s.bucket, key, minio.GetObjectOptions{})
	if err != nil {
		return nil, &errs.IndexLoadError{Path: key, Err: notFound(err)}
	}
	defer obj.Close()

	data, err := io.ReadAll(obj)
	if err != nil {
		return nil, &errs.IndexLoadError{Path: key, Err: notFound(err)}
	}
	t, err := doctree.Unmarshal(data)
	if err != nil {
		return nil, &errs.IndexLoadError{Path: key, Err: err}
	}
	if t.DocID == "" {
		t.DocID = docID
	}
	return t, nil
}

func (s *S3Store) Delete(ctx context.Context, docID string) error {
	if err := checkDocID(docID); err != nil {
		return err
	}
	if _, err := s.client.StatObject(ctx, s.bucket, s.key(docID), minio.StatObjectOptions{}); err != nil {
		return notFound(err)
	}
	return s.client.RemoveObject(ctx, s.bucket, s.key(docID), minio.RemoveObjectOptions{})
}

func (s *S3Store) List(ctx context.Context) ([]string, error) {
	opts := minio.ListObjectsOptions{Recursive: true}
	if s.prefix != "" {
		opts.Prefix = s.prefix + "/"
	}
	var ids []string
	for obj := range s.client.ListObjects(ctx, s.bucket, opts) {
		if obj.Err != nil {
			return nil, fmt.Errorf("list %s: %w", s.bucket, obj.Err)
		}
		if id := docIDFromKey(s.prefix, obj.Key); id != "" {
			ids = append(ids, id)
		}
	}
	sort.Strings(ids)
	return ids, nil
}

func notFound(err error) error {
	if minio.ToErrorResponse(err).Code == "NoSuchKey" {
		return errs.ErrNotFound
	}
	return err
}
