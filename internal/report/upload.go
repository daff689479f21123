package report

import (
	"context"
	"os"
	"path"
	"path/filepath"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"go.uber.org/zap"

	"tsdb-benchmark/internal/config"
	benchErrors "tsdb-benchmark/internal/errors"
	"tsdb-benchmark/internal/logging"
)

type objectPutter interface {
	PutObject(ctx context.Context, params *s3.PutObjectInput, optFns ...func(*s3.Options)) (*s3.PutObjectOutput, error)
}

// Uploader copies stored reports to an S3 bucket under
// <prefix>/<env_name>/<run_id>/<file>.
type Uploader struct {
	client objectPutter
	bucket string
	prefix string
	logger *zap.Logger
}

// NewUploader builds an S3 client from the default credential chain.
// Endpoint, when set, switches to path-style addressing for S3-compatible
// stores.
func NewUploader(ctx context.Context, cfg config.S3Config, logger *zap.Logger) (*Uploader, error) {
	var opts []func(*awsconfig.LoadOptions) error
	if cfg.Region != "" {
		opts = append(opts, awsconfig.WithRegion(cfg.Region))
	}
	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return nil, benchErrors.NewStorageError(benchErrors.CodeWriteReport, "load aws config", err)
	}
	client := s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		if cfg.Endpoint != "" {
			o.BaseEndpoint = aws.String(cfg.Endpoint)
			o.UsePathStyle = true
		}
	})
	return newUploader(client, cfg.Bucket, cfg.Prefix, logger), nil
}

func newUploader(client objectPutter, bucket, prefix string, logger *zap.Logger) *Uploader {
	return &Uploader{client: client, bucket: bucket, prefix: strings.Trim(prefix, "/"), logger: logging.OrNop(logger)}
}

// Key is the object key for a report file.
func (u *Uploader) Key(meta Meta, file string) string {
	env := meta.EnvName
	if env == "" {
		env = "local"
	}
	return path.Join(u.prefix, env, meta.RunID, filepath.Base(file))
}

// Upload puts one stored report file.
func (u *Uploader) Upload(ctx context.Context, meta Meta, file string) (string, error) {
	f, err := os.Open(file)
	if err != nil {
		return "", benchErrors.NewStorageError(benchErrors.CodeReadFailed, "open "+file, err)
	}
	defer f.Close()

	key := u.Key(meta, file)
	contentType := "application/json"
	if strings.HasSuffix(file, ".gz") {
		contentType = "application/gzip"
	}
	_, err = u.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:      aws.String(u.bucket),
		Key:         aws.String(key),
		Body:        f,
		ContentType: aws.String(contentType),
		Metadata: map[string]string{
			"run-id":      meta.RunID,
			"scenario-id": meta.ScenarioID,
			"git-sha":     meta.GitSHA,
		},
	})
	if err != nil {
		return "", benchErrors.NewStorageError(benchErrors.CodeWriteReport, "upload s3://"+u.bucket+"/"+key, err)
	}
	u.logger.Info("report uploaded", zap.String("bucket", u.bucket), zap.String("key", key))
	return key, nil
}
