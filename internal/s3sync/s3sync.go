// Package s3sync optionally pushes a finished tile-download task's output to
// an S3-compatible bucket (Cloudflare R2 in the original deployment).
// Grounded on the teacher's s3.go (custom endpoint resolver for R2, a
// manager.Uploader-backed parallel directory walk), narrowed from "upload
// tippecanoe .pbf vector-tile output" to "upload this repo's folder-format
// raster PNG tile output" — the upload mechanics are identical, only the
// tile extension and the caller's retry policy differ.
package s3sync

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/feature/s3/manager"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/aws/smithy-go"
)

// Config names the bucket and credentials a Client talks to.
type Config struct {
	Endpoint        string
	Region          string
	Bucket          string
	BucketPath      string
	AccessKeyID     string
	SecretAccessKey string
	PublicBaseURL   string
}

// Client wraps an S3-compatible uploader, grounded on the teacher's
// S3Client/NewS3Client.
type Client struct {
	client   *s3.Client
	uploader *manager.Uploader
	cfg      Config
}

func New(ctx context.Context, cfg Config) (*Client, error) {
	resolver := aws.EndpointResolverWithOptionsFunc(func(service, region string, options ...interface{}) (aws.Endpoint, error) {
		if service == s3.ServiceID {
			return aws.Endpoint{URL: cfg.Endpoint, SigningRegion: cfg.Region}, nil
		}
		return aws.Endpoint{}, &smithy.GenericAPIError{Code: "UnknownEndpoint"}
	})

	httpClient := &http.Client{
		Transport: &http.Transport{
			MaxIdleConns:        64,
			MaxIdleConnsPerHost: 64,
			IdleConnTimeout:     90 * time.Second,
			DialContext: (&net.Dialer{
				Timeout:   30 * time.Second,
				KeepAlive: 30 * time.Second,
			}).DialContext,
			TLSHandshakeTimeout:   10 * time.Second,
			ExpectContinueTimeout: 1 * time.Second,
		},
		Timeout: 5 * time.Minute,
	}

	awsCfg, err := config.LoadDefaultConfig(ctx,
		config.WithHTTPClient(httpClient),
		config.WithCredentialsProvider(credentials.NewStaticCredentialsProvider(cfg.AccessKeyID, cfg.SecretAccessKey, "")),
		config.WithRegion(cfg.Region),
		config.WithEndpointResolverWithOptions(resolver),
	)
	if err != nil {
		return nil, fmt.Errorf("load aws config: %w", err)
	}

	client := s3.NewFromConfig(awsCfg, func(o *s3.Options) { o.UsePathStyle = true })
	return &Client{client: client, uploader: manager.NewUploader(client), cfg: cfg}, nil
}

type uploadJob struct {
	localPath string
	key       string
	size      int64
}

// PushDirectory walks a finished tile output folder and uploads every file
// under prefix, using a bounded worker pool the way the teacher's
// UploadDirectory does — sized down from 100 to 16 workers since this
// domain's uploads are one task at a time, not a batch tile-build pipeline.
func (c *Client) PushDirectory(ctx context.Context, localDir, prefix string) (files int, bytesSent int64, err error) {
	var jobs []uploadJob
	walkErr := filepath.Walk(localDir, func(path string, info os.FileInfo, walkErr error) error {
		if walkErr != nil {
			return walkErr
		}
		if info.IsDir() {
			return nil
		}
		rel, relErr := filepath.Rel(localDir, path)
		if relErr != nil {
			return relErr
		}
		jobs = append(jobs, uploadJob{
			localPath: path,
			key:       filepath.ToSlash(filepath.Join(prefix, rel)),
			size:      info.Size(),
		})
		return nil
	})
	if walkErr != nil {
		return 0, 0, fmt.Errorf("scan tile directory: %w", walkErr)
	}

	const workerCount = 16
	workCh := make(chan uploadJob, workerCount*2)
	errCh := make(chan error, 1)
	var mu sync.Mutex
	var wg sync.WaitGroup

	for i := 0; i < workerCount; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for job := range workCh {
				if uploadErr := c.uploadOne(ctx, job); uploadErr != nil {
					select {
					case errCh <- uploadErr:
					default:
					}
					continue
				}
				mu.Lock()
				files++
				bytesSent += job.size
				mu.Unlock()
			}
		}()
	}

	go func() {
		defer close(workCh)
		for _, job := range jobs {
			select {
			case <-ctx.Done():
				return
			case workCh <- job:
			}
		}
	}()

	wg.Wait()
	close(errCh)
	if uploadErr, ok := <-errCh; ok {
		return files, bytesSent, uploadErr
	}
	return files, bytesSent, nil
}

func (c *Client) uploadOne(ctx context.Context, job uploadJob) error {
	f, err := os.Open(job.localPath)
	if err != nil {
		return fmt.Errorf("open %s: %w", job.localPath, err)
	}
	defer f.Close()

	_, err = c.uploader.Upload(ctx, &s3.PutObjectInput{
		Bucket: aws.String(c.cfg.Bucket),
		Key:    aws.String(job.key),
		Body:   f,
		ACL:    types.ObjectCannedACLPublicRead,
	})
	if err != nil {
		return fmt.Errorf("upload %s: %w", job.key, err)
	}
	return nil
}

// HeadObject reports whether key already exists in the bucket, letting a
// resumed push skip tiles the previous attempt already delivered.
func (c *Client) HeadObject(ctx context.Context, key string) (size int64, exists bool, err error) {
	result, err := c.client.HeadObject(ctx, &s3.HeadObjectInput{Bucket: aws.String(c.cfg.Bucket), Key: aws.String(key)})
	if err != nil {
		var notFound *types.NotFound
		if errors.As(err, &notFound) {
			return 0, false, nil
		}
		var apiErr smithy.APIError
		if errors.As(err, &apiErr) && apiErr.ErrorCode() == "NotFound" {
			return 0, false, nil
		}
		return 0, false, fmt.Errorf("head object %s: %w", key, err)
	}
	if result.ContentLength != nil {
		size = *result.ContentLength
	}
	return size, true, nil
}

// PublicURL returns the public URL for a pushed key under the configured
// base URL, falling back to the bucket's path-style endpoint when no public
// base URL was configured.
func (c *Client) PublicURL(key string) string {
	if c.cfg.PublicBaseURL != "" {
		return fmt.Sprintf("%s/%s", c.cfg.PublicBaseURL, key)
	}
	return fmt.Sprintf("%s/%s/%s", c.cfg.Endpoint, c.cfg.Bucket, key)
}
