// Package reliability covers operational safety nets: offsite state backups.
package reliability

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/feature/s3/manager"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/rs/zerolog"
)

// BackupService uploads the state databases and settings to S3. Disabled
// (no-op) when no bucket is configured.
type BackupService struct {
	bucket   string
	region   string
	dataDir  string
	uploader *manager.Uploader
	log      zerolog.Logger
}

// NewBackupService creates a backup service. Returns a disabled service when
// bucket is empty; credential resolution follows the default AWS chain.
func NewBackupService(ctx context.Context, bucket, region, dataDir string, log zerolog.Logger) (*BackupService, error) {
	svc := &BackupService{
		bucket:  bucket,
		region:  region,
		dataDir: dataDir,
		log:     log.With().Str("service", "backup").Logger(),
	}
	if bucket == "" {
		svc.log.Info().Msg("Backups disabled, no bucket configured")
		return svc, nil
	}

	cfg, err := awsconfig.LoadDefaultConfig(ctx, awsconfig.WithRegion(region))
	if err != nil {
		return nil, fmt.Errorf("failed to load AWS config: %w", err)
	}
	svc.uploader = manager.NewUploader(s3.NewFromConfig(cfg))
	return svc, nil
}

// Enabled reports whether backups will actually upload.
func (s *BackupService) Enabled() bool {
	return s.uploader != nil
}

// Run uploads every backup target under a date-stamped prefix. Per-file
// failures are logged and the first one is returned after all targets have
// been attempted.
func (s *BackupService) Run(ctx context.Context) error {
	if !s.Enabled() {
		return nil
	}

	prefix := time.Now().UTC().Format("2006-01-02")
	targets := []string{"ledger.db", "standard.db", "settings.yaml", "thesis.txt", "universe.cache"}

	var firstErr error
	uploaded := 0
	for _, name := range targets {
		path := filepath.Join(s.dataDir, name)
		if _, err := os.Stat(path); err != nil {
			continue
		}

		if err := s.uploadFile(ctx, path, prefix+"/"+name); err != nil {
			s.log.Error().Err(err).Str("file", name).Msg("Backup upload failed")
			if firstErr == nil {
				firstErr = err
			}
			continue
		}
		uploaded++
	}

	s.log.Info().Int("uploaded", uploaded).Str("prefix", prefix).Msg("Backup run complete")
	return firstErr
}

// Name identifies the backup job for the scheduler.
func (s *BackupService) Name() string {
	return "backup"
}

func (s *BackupService) uploadFile(ctx context.Context, path, key string) error {
	f, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("failed to open %s: %w", path, err)
	}
	defer f.Close()

	_, err = s.uploader.Upload(ctx, &s3.PutObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(key),
		Body:   f,
	})
	if err != nil {
		return fmt.Errorf("failed to upload %s: %w", key, err)
	}

	s.log.Debug().Str("key", key).Msg("Backup object uploaded")
	return nil
}
