package s3store

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sort"
	"sync"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/feature/s3/manager"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"

	"github.com/singhmantoshkumar22/cjdquick-app-sub005/pkg/mime"
	"github.com/singhmantoshkumar22/cjdquick-app-sub005/pkg/store"
)

const (
	defaultRegion = "ap-south-1"
)

type Options struct {
	Region          string
	Endpoint        string
	AccessKeyID     string
	AccessKeySecret string
}

// Store keeps one object per key in a bucket. TTLs are left to bucket lifecycle rules.
type Store struct {
	bucketName string
	opts       Options

	once   sync.Once
	client *s3.Client
	err    error
}

func New(bucketName string, opts Options) *Store {
	if opts.Region == "" {
		opts.Region = defaultRegion
	}
	return &Store{bucketName: bucketName, opts: opts}
}

func (s *Store) Name() string {
	return "s3"
}

func (s *Store) open() (*s3.Client, error) {
	s.once.Do(func() {
		loadOpts := []func(*config.LoadOptions) error{
			config.WithRegion(s.opts.Region),
		}
		if s.opts.AccessKeyID != "" {
			loadOpts = append(loadOpts, config.WithCredentialsProvider(
				credentials.NewStaticCredentialsProvider(s.opts.AccessKeyID, s.opts.AccessKeySecret, ""),
			))
		}

		cfg, err := config.LoadDefaultConfig(context.Background(), loadOpts...)
		if err != nil {
			s.err = err
			return
		}

		s.client = s3.NewFromConfig(cfg, func(o *s3.Options) {
			if s.opts.Endpoint != "" {
				o.BaseEndpoint = aws.String(s.opts.Endpoint)
				o.UsePathStyle = true
			}
		})
	})
	return s.client, s.err
}

func (s *Store) Get(key string) ([]byte, error) {
	client, err := s.open()
	if err != nil {
		return nil, err
	}

	out, err := client.GetObject(context.Background(), &s3.GetObjectInput{
		Bucket: aws.String(s.bucketName),
		Key:    aws.String(key),
	})
	if err != nil {
		var nsk *types.NoSuchKey
		if errors.As(err, &nsk) {
			return nil, fmt.Errorf("%s: %w", key, store.ErrNotFound)
		}
		return nil, err
	}
	defer out.Body.Close()

	return io.ReadAll(out.Body)
}

func (s *Store) Set(key string, val []byte, options *store.WriteOptions) error {
	client, err := s.open()
	if err != nil {
		return err
	}

	contentType := mime.Detect(val)
	if options != nil && len(options.ContentType) > 0 {
		contentType = options.ContentType
	}

	uploader := manager.NewUploader(client, func(u *manager.Uploader) {
		u.Concurrency = 1
	})

	_, err = uploader.Upload(context.Background(), &s3.PutObjectInput{
		Bucket:      aws.String(s.bucketName),
		Key:         aws.String(key),
		ContentType: aws.String(contentType),
		Body:        bytes.NewReader(val),
	})
	return err
}

func (s *Store) Delete(key string) error {
	client, err := s.open()
	if err != nil {
		return err
	}

	_, err = client.DeleteObject(context.Background(), &s3.DeleteObjectInput{
		Bucket: aws.String(s.bucketName),
		Key:    aws.String(key),
	})
	return err
}

func (s *Store) DeleteAll(prefix string) error {
	client, err := s.open()
	if err != nil {
		return err
	}

	keys, err := s.keys(prefix)
	if err != nil {
		return err
	}

	// DeleteObjects takes at most 1000 keys
	for len(keys) > 0 {
		n := min(len(keys), 1000)
		ids := make([]types.ObjectIdentifier, n)
		for i, k := range keys[:n] {
			ids[i] = types.ObjectIdentifier{Key: aws.String(k)}
		}
		_, err = client.DeleteObjects(context.Background(), &s3.DeleteObjectsInput{
			Bucket: aws.String(s.bucketName),
			Delete: &types.Delete{Objects: ids, Quiet: aws.Bool(true)},
		})
		if err != nil {
			return err
		}
		keys = keys[n:]
	}
	return nil
}

func (s *Store) Exists(key string) (bool, error) {
	client, err := s.open()
	if err != nil {
		return false, err
	}

	_, err = client.HeadObject(context.Background(), &s3.HeadObjectInput{
		Bucket: aws.String(s.bucketName),
		Key:    aws.String(key),
	})
	if err != nil {
		var nf *types.NotFound
		if errors.As(err, &nf) {
			return false, nil
		}
		return false, err
	}
	return true, nil
}

func (s *Store) Scan(prefix string, skip int, limit int, fn func(key string, val []byte)) error {
	keys, err := s.keys(prefix)
	if err != nil {
		return err
	}

	if skip > len(keys) {
		skip = len(keys)
	}
	keys = keys[skip:]
	if limit > 0 && limit < len(keys) {
		keys = keys[:limit]
	}

	for _, key := range keys {
		val, err := s.Get(key)
		if errors.Is(err, store.ErrNotFound) {
			continue
		}
		if err != nil {
			return err
		}
		fn(key, val)
	}
	return nil
}

func (s *Store) Count(prefix string) int {
	keys, err := s.keys(prefix)
	if err != nil {
		slog.Error("s3 count failed", "bucket", s.bucketName, "prefix", prefix, "err", err.Error())
		return 0
	}
	return len(keys)
}

func (s *Store) Close() error {
	return nil
}

func (s *Store) keys(prefix string) ([]string, error) {
	client, err := s.open()
	if err != nil {
		return nil, err
	}

	var keys []string
	p := s3.NewListObjectsV2Paginator(client, &s3.ListObjectsV2Input{
		Bucket: aws.String(s.bucketName),
		Prefix: aws.String(prefix),
	})
	for p.HasMorePages() {
		page, err := p.NextPage(context.Background())
		if err != nil {
			return nil, err
		}
		for _, obj := range page.Contents {
			keys = append(keys, aws.ToString(obj.Key))
		}
	}
	sort.Strings(keys)
	return keys, nil
}
