package publish

import (
	"context"
	"errors"
	"fmt"
	"mime"
	"os"
	"path"
	"path/filepath"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	s3types "github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/ethpandaops/reportoor/pkg/config"
	"github.com/sirupsen/logrus"
)

// DefaultPrefix is used when no key prefix is configured.
const DefaultPrefix = "reports"

// defaultBranch names the key segment of the unnamed history branch.
const defaultBranch = "default"

// PutObjectAPI is the subset of the S3 client used for publishing.
type PutObjectAPI interface {
	PutObject(ctx context.Context, in *s3.PutObjectInput, optFns ...func(*s3.Options)) (*s3.PutObjectOutput, error)
}

// s3Publisher implements Publisher for S3-compatible storage.
type s3Publisher struct {
	log    logrus.FieldLogger
	cfg    *config.S3PublishConfig
	client PutObjectAPI
}

// Ensure interface compliance.
var _ Publisher = (*s3Publisher)(nil)

// NewS3Publisher creates a new S3 publisher from the given configuration.
func NewS3Publisher(log logrus.FieldLogger, cfg *config.S3PublishConfig) (Publisher, error) {
	if cfg == nil || cfg.Bucket == "" {
		return nil, errors.New("s3 bucket is required")
	}

	opts := []func(*s3.Options){
		func(o *s3.Options) {
			if cfg.Region != "" {
				o.Region = cfg.Region
			} else {
				o.Region = "us-east-1"
			}

			if cfg.EndpointURL != "" {
				o.BaseEndpoint = aws.String(cfg.EndpointURL)
			}

			if cfg.ForcePathStyle {
				o.UsePathStyle = true
			}

			if cfg.AccessKeyID != "" && cfg.SecretAccessKey != "" {
				o.Credentials = credentials.NewStaticCredentialsProvider(
					cfg.AccessKeyID, cfg.SecretAccessKey, "",
				)
			}
		},
	}

	return NewS3PublisherWithClient(log, cfg, s3.New(s3.Options{}, opts...)), nil
}

// NewS3PublisherWithClient creates a publisher using an existing client.
func NewS3PublisherWithClient(
	log logrus.FieldLogger, cfg *config.S3PublishConfig, client PutObjectAPI,
) Publisher {
	return &s3Publisher{
		log:    log.WithField("component", "s3-publisher"),
		cfg:    cfg,
		client: client,
	}
}

// Preflight verifies S3 connectivity by writing a small test object.
func (p *s3Publisher) Preflight(ctx context.Context) error {
	content := fmt.Sprintf("reportoor write test: %s", time.Now().UTC().Format(time.RFC3339))

	_, err := p.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:      aws.String(p.cfg.Bucket),
		Key:         aws.String(p.prefix() + "/.reportoor-write-test"),
		Body:        strings.NewReader(content),
		ContentType: aws.String("text/plain"),
	})
	if err != nil {
		return fmt.Errorf("writing test object to s3://%s: %w", p.cfg.Bucket, err)
	}

	return nil
}

func (p *s3Publisher) Publish(
	ctx context.Context, branch, run string, artifacts []Artifact,
) ([]string, error) {
	base := p.runPrefix(branch, run)
	keys := make([]string, 0, len(artifacts))

	for _, a := range artifacts {
		if err := ctx.Err(); err != nil {
			return keys, err
		}

		if _, err := os.Stat(a.Path); err != nil {
			if errors.Is(err, os.ErrNotExist) {
				p.log.WithField("path", a.Path).Debug("Skipping missing artifact")

				continue
			}

			return keys, fmt.Errorf("inspecting %s: %w", a.Path, err)
		}

		key := base + "/" + strings.TrimLeft(filepath.ToSlash(a.Key), "/")

		if err := p.uploadFile(ctx, a.Path, key); err != nil {
			return keys, fmt.Errorf("uploading %s: %w", a.Path, err)
		}

		keys = append(keys, key)
	}

	p.log.WithFields(logrus.Fields{
		"files":  len(keys),
		"bucket": p.cfg.Bucket,
		"prefix": base,
	}).Info("Publish completed")

	return keys, nil
}

// uploadFile uploads a single file to S3.
func (p *s3Publisher) uploadFile(ctx context.Context, localPath, key string) error {
	f, err := os.Open(localPath)
	if err != nil {
		return fmt.Errorf("opening file: %w", err)
	}
	defer func() { _ = f.Close() }()

	input := &s3.PutObjectInput{
		Bucket:      aws.String(p.cfg.Bucket),
		Key:         aws.String(key),
		Body:        f,
		ContentType: aws.String(detectContentType(localPath)),
	}

	if p.cfg.StorageClass != "" {
		input.StorageClass = s3types.StorageClass(p.cfg.StorageClass)
	}

	if p.cfg.ACL != "" {
		input.ACL = s3types.ObjectCannedACL(p.cfg.ACL)
	}

	p.log.WithFields(logrus.Fields{
		"key":    key,
		"bucket": p.cfg.Bucket,
	}).Debug("Uploading file")

	if _, err := p.client.PutObject(ctx, input); err != nil {
		return fmt.Errorf("PutObject: %w", err)
	}

	return nil
}

func (p *s3Publisher) prefix() string {
	prefix := strings.Trim(p.cfg.Prefix, "/")
	if prefix == "" {
		prefix = DefaultPrefix
	}

	return prefix
}

// runPrefix builds the key prefix of one run.
func (p *s3Publisher) runPrefix(branch, run string) string {
	branch = strings.Trim(branch, "/")
	if branch == "" {
		branch = defaultBranch
	}

	return path.Join(p.prefix(), branch, run)
}

// detectContentType returns a MIME type based on file extension.
func detectContentType(path string) string {
	switch ext := filepath.Ext(path); ext {
	case "":
		return "application/octet-stream"
	case ".jsonl":
		return "application/x-ndjson"
	default:
		if ct := mime.TypeByExtension(ext); ct != "" {
			return ct
		}

		return "application/octet-stream"
	}
}
