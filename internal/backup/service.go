// Package backup uploads store snapshots to an S3-compatible bucket on the
// scheduler's weekly cadence.
package backup

import (
	"compress/gzip"
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/feature/s3/manager"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/rs/zerolog"

	"github.com/krxwatch/krxwatch/internal/config"
	"github.com/krxwatch/krxwatch/internal/database"
)

const (
	keyPrefix     = "krxwatch-backup-"
	keepSnapshots = 8
	stampLayout   = "2006-01-02-150405"
)

// Service snapshots the SQLite store and uploads it.
type Service struct {
	client   *s3.Client
	uploader *manager.Uploader
	bucket   string
	db       *database.DB
	log      zerolog.Logger
}

// New creates the backup service from the Backup* configuration. The caller
// should only construct one when cfg.BackupEnabled().
func New(ctx context.Context, cfg *config.Config, db *database.DB, log zerolog.Logger) (*Service, error) {
	awsCfg, err := awsconfig.LoadDefaultConfig(ctx,
		awsconfig.WithRegion(cfg.BackupRegion),
		awsconfig.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(cfg.BackupAccessKey, cfg.BackupSecretKey, "")),
	)
	if err != nil {
		return nil, fmt.Errorf("load aws config: %w", err)
	}

	client := s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		if cfg.BackupEndpoint != "" {
			o.BaseEndpoint = &cfg.BackupEndpoint
		}
		o.UsePathStyle = true
	})

	return &Service{
		client:   client,
		uploader: manager.NewUploader(client),
		bucket:   cfg.BackupBucket,
		db:       db,
		log:      log.With().Str("service", "backup").Logger(),
	}, nil
}

// Backup snapshots the store with VACUUM INTO, gzips it, uploads it, and
// prunes snapshots beyond the retention count.
func (s *Service) Backup(ctx context.Context) error {
	start := time.Now()

	stagingDir, err := os.MkdirTemp("", "krxwatch-backup-*")
	if err != nil {
		return fmt.Errorf("create staging dir: %w", err)
	}
	defer os.RemoveAll(stagingDir)

	snapshotPath := filepath.Join(stagingDir, "snapshot.db")
	if err := s.snapshot(snapshotPath); err != nil {
		return err
	}

	archivePath := snapshotPath + ".gz"
	if err := compress(snapshotPath, archivePath); err != nil {
		return err
	}

	key := keyPrefix + time.Now().UTC().Format(stampLayout) + ".db.gz"
	if err := s.upload(ctx, key, archivePath); err != nil {
		return err
	}

	if err := s.prune(ctx); err != nil {
		s.log.Warn().Err(err).Msg("Backup retention pruning failed")
	}

	s.log.Info().
		Str("key", key).
		Dur("elapsed", time.Since(start)).
		Msg("Store backup uploaded")
	return nil
}

// snapshot writes a consistent copy of the live database. VACUUM INTO takes
// a read transaction, so collection may continue during the backup.
func (s *Service) snapshot(path string) error {
	if err := s.db.WALCheckpoint("FULL"); err != nil {
		return fmt.Errorf("pre-backup checkpoint: %w", err)
	}
	if _, err := s.db.Conn().Exec(`VACUUM INTO ?`, path); err != nil {
		return fmt.Errorf("vacuum into snapshot: %w", err)
	}
	return nil
}

func compress(src, dst string) error {
	in, err := os.Open(src)
	if err != nil {
		return fmt.Errorf("open snapshot: %w", err)
	}
	defer in.Close()

	out, err := os.Create(dst)
	if err != nil {
		return fmt.Errorf("create archive: %w", err)
	}
	defer out.Close()

	gz := gzip.NewWriter(out)
	if _, err := io.Copy(gz, in); err != nil {
		return fmt.Errorf("compress snapshot: %w", err)
	}
	if err := gz.Close(); err != nil {
		return fmt.Errorf("finish archive: %w", err)
	}
	return out.Sync()
}

func (s *Service) upload(ctx context.Context, key, path string) error {
	f, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("open archive: %w", err)
	}
	defer f.Close()

	_, err = s.uploader.Upload(ctx, &s3.PutObjectInput{
		Bucket: &s.bucket,
		Key:    &key,
		Body:   f,
	})
	if err != nil {
		return fmt.Errorf("upload %s: %w", key, err)
	}
	return nil
}

// prune deletes the oldest snapshots beyond the retention count.
func (s *Service) prune(ctx context.Context) error {
	prefix := keyPrefix
	out, err := s.client.ListObjectsV2(ctx, &s3.ListObjectsV2Input{
		Bucket: &s.bucket,
		Prefix: &prefix,
	})
	if err != nil {
		return fmt.Errorf("list backups: %w", err)
	}

	var keys []string
	for _, obj := range out.Contents {
		if obj.Key != nil && strings.HasPrefix(*obj.Key, keyPrefix) {
			keys = append(keys, *obj.Key)
		}
	}
	if len(keys) <= keepSnapshots {
		return nil
	}

	// Keys embed the timestamp, so lexical order is chronological.
	sort.Strings(keys)
	for _, key := range keys[:len(keys)-keepSnapshots] {
		key := key
		if _, err := s.client.DeleteObject(ctx, &s3.DeleteObjectInput{
			Bucket: &s.bucket,
			Key:    &key,
		}); err != nil {
			return fmt.Errorf("delete %s: %w", key, err)
		}
		s.log.Debug().Str("key", key).Msg("Pruned old backup")
	}
	return nil
}
