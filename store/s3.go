package store

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	s3types "github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/aws/smithy-go"
)

const defaultRegion = "us-east-1"

// Credentials is the service-account document named by the credentials
// path setting. Only the access keys are mandatory.
type Credentials struct {
	Type            string `json:"type"`
	AccessKeyID     string `json:"access_key_id"`
	SecretAccessKey string `json:"secret_access_key"`
	SessionToken    string `json:"session_token"`
	Region          string `json:"region"`
	Endpoint        string `json:"endpoint"`
	PathStyle       bool   `json:"path_style"`
}

// LoadCredentials reads and checks a credential document.
func LoadCredentials(path string) (*Credentials, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read credentials file: %w", err)
	}
	var creds Credentials
	if err := json.Unmarshal(data, &creds); err != nil {
		return nil, fmt.Errorf("failed to parse credentials file: %w", err)
	}
	if creds.AccessKeyID == "" || creds.SecretAccessKey == "" {
		return nil, fmt.Errorf("credentials file %s: access_key_id and secret_access_key are required", path)
	}
	if creds.Region == "" {
		creds.Region = defaultRegion
	}
	return &creds, nil
}

// s3API is the subset of *s3.Client the backend uses.
type s3API interface {
	HeadBucket(ctx context.Context, in *s3.HeadBucketInput, optFns ...func(*s3.Options)) (*s3.HeadBucketOutput, error)
	PutObject(ctx context.Context, in *s3.PutObjectInput, optFns ...func(*s3.Options)) (*s3.PutObjectOutput, error)
	GetObject(ctx context.Context, in *s3.GetObjectInput, optFns ...func(*s3.Options)) (*s3.GetObjectOutput, error)
	ListObjectsV2(ctx context.Context, in *s3.ListObjectsV2Input, optFns ...func(*s3.Options)) (*s3.ListObjectsV2Output, error)
}

// S3Backend stores each document as a JSON object at
// <collection>/<id>.json inside the bucket named by the project id.
type S3Backend struct {
	client s3API
	bucket string
}

// NewS3Backend builds an S3 client from creds. SDK-level retries are
// disabled; the Client's RetryPolicy is the only retry layer.
func NewS3Backend(ctx context.Context, bucket string, creds *Credentials) (*S3Backend, error) {
	loadOpts := []func(*awsconfig.LoadOptions) error{
		awsconfig.WithRegion(creds.Region),
		awsconfig.WithCredentialsProvider(credentials.NewStaticCredentialsProvider(
			creds.AccessKeyID,
			creds.SecretAccessKey,
			creds.SessionToken,
		)),
		awsconfig.WithRetryer(func() aws.Retryer { return aws.NopRetryer{} }),
	}

	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, loadOpts...)
	if err != nil {
		return nil, fmt.Errorf("failed to load AWS configuration: %w", err)
	}

	client := s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		if creds.Endpoint != "" {
			o.BaseEndpoint = aws.String(creds.Endpoint)
		}
		o.UsePathStyle = creds.PathStyle
	})
	return &S3Backend{client: client, bucket: bucket}, nil
}

func objectKey(collection, id string) string {
	return collection + "/" + id + ".json"
}

// Ping checks that the project bucket exists and the credentials can see it.
func (b *S3Backend) Ping(ctx context.Context) error {
	if _, err := b.client.HeadBucket(ctx, &s3.HeadBucketInput{Bucket: aws.String(b.bucket)}); err != nil {
		return fmt.Errorf("head bucket %s: %w", b.bucket, err)
	}
	return nil
}

func (b *S3Backend) Put(ctx context.Context, collection, id string, fields Fields) error {
	body, err := encodeFields(fields)
	if err != nil {
		return err
	}
	key := objectKey(collection, id)
	_, err = b.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:      aws.String(b.bucket),
		Key:         aws.String(key),
		Body:        bytes.NewReader(body),
		ContentType: aws.String("application/json"),
	})
	if err != nil {
		return fmt.Errorf("put %s: %w", key, err)
	}
	return nil
}

func (b *S3Backend) Get(ctx context.Context, collection, id string) (Fields, error) {
	key := objectKey(collection, id)
	out, err := b.client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(b.bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		if isMissingObject(err) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("get %s: %w", key, err)
	}
	defer out.Body.Close()

	body, err := io.ReadAll(out.Body)
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", key, errors.Join(ErrTransient, err))
	}
	fields, err := decodeFields(body)
	if err != nil {
		return nil, fmt.Errorf("decode %s: %w", key, err)
	}
	return fields, nil
}

func isMissingObject(err error) bool {
	var nsk *s3types.NoSuchKey
	if errors.As(err, &nsk) {
		return true
	}
	var apiErr smithy.APIError
	if errors.As(err, &apiErr) {
		switch apiErr.ErrorCode() {
		case "NoSuchKey", "NotFound":
			return true
		}
	}
	return false
}

// Scan lists the collection prefix page by page, fetching each document
// as the cursor reaches it. The first page is requested here.
func (b *S3Backend) Scan(ctx context.Context, collection string) (Cursor, error) {
	prefix := collection + "/"
	pages := s3.NewListObjectsV2Paginator(b.client, &s3.ListObjectsV2Input{
		Bucket: aws.String(b.bucket),
		Prefix: aws.String(prefix),
	})
	c := &s3Cursor{backend: b, collection: collection, prefix: prefix, pages: pages}
	if err := c.fetchPage(ctx); err != nil {
		return nil, err
	}
	return c, nil
}

type s3Cursor struct {
	backend    *S3Backend
	collection string
	prefix     string
	pages      *s3.ListObjectsV2Paginator
	ids        []string
}

func (c *s3Cursor) fetchPage(ctx context.Context) error {
	page, err := c.pages.NextPage(ctx)
	if err != nil {
		return fmt.Errorf("list %s: %w", c.prefix, err)
	}
	for _, obj := range page.Contents {
		key := strings.TrimPrefix(aws.ToString(obj.Key), c.prefix)
		if !strings.HasSuffix(key, ".json") || strings.Contains(key, "/") {
			continue
		}
		c.ids = append(c.ids, strings.TrimSuffix(key, ".json"))
	}
	return nil
}

func (c *s3Cursor) Next(ctx context.Context) (Document, error) {
	for {
		for len(c.ids) == 0 {
			if !c.pages.HasMorePages() {
				return Document{}, ErrDone
			}
			if err := c.fetchPage(ctx); err != nil {
				return Document{}, err
			}
		}
		id := c.ids[0]
		c.ids = c.ids[1:]

		fields, err := c.backend.Get(ctx, c.collection, id)
		if errors.Is(err, ErrNotFound) {
			// deleted between list and get
			continue
		}
		if err != nil {
			return Document{}, err
		}
		return Document{ID: id, Fields: fields}, nil
	}
}

func (c *s3Cursor) Close() error {
	c.ids = nil
	return nil
}
