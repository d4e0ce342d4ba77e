// Package backup periodically offloads the persistence log to
// S3-compatible object storage (Cloudflare R2 in production): stage,
// checksum, archive, upload, then prune archives past the retention
// window.
package backup

import (
	"archive/tar"
	"compress/gzip"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/feature/s3/manager"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/rs/zerolog"
)

// Metadata describes one backup archive.
type Metadata struct {
	Timestamp time.Time `json:"timestamp"`
	Database  string    `json:"database"`
	SizeBytes int64     `json:"size_bytes"`
	Checksum  string    `json:"checksum"`
}

// Config is the S3/R2 wiring backup.New needs, sourced from
// config.Config's BackupXxx fields.
type Config struct {
	Bucket          string
	Endpoint        string
	Region          string
	AccessKeyID     string
	SecretAccessKey string
	RetentionDays   int // archives older than this are pruned after each upload; 0 keeps everything
}

// Service uploads point-in-time archives of the persistence database to
// object storage on a schedule driven by internal/orchestrator's cron jobs.
type Service struct {
	client        *s3.Client
	bucket        string
	dataDir       string
	retentionDays int
	log           zerolog.Logger
}

// New builds an S3-compatible client from cfg and wires it to stage
// backups under dataDir.
func New(ctx context.Context, cfg Config, dataDir string, log zerolog.Logger) (*Service, error) {
	awsCfg, err := awsconfig.LoadDefaultConfig(ctx,
		awsconfig.WithRegion(cfg.Region),
		awsconfig.WithCredentialsProvider(credentials.NewStaticCredentialsProvider(
			cfg.AccessKeyID, cfg.SecretAccessKey, "")),
	)
	if err != nil {
		return nil, fmt.Errorf("backup: load aws config: %w", err)
	}

	client := s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		if cfg.Endpoint != "" {
			o.BaseEndpoint = aws.String(cfg.Endpoint)
		}
		o.UsePathStyle = true
	})

	return &Service{
		client:        client,
		bucket:        cfg.Bucket,
		dataDir:       dataDir,
		retentionDays: cfg.RetentionDays,
		log:           log.With().Str("component", "backup_service").Logger(),
	}, nil
}

// CreateAndUpload snapshots dbPath (the live persistence database file),
// archives it with a metadata sidecar, and uploads the archive. The
// staging directory is cleaned up regardless of outcome.
func (s *Service) CreateAndUpload(ctx context.Context, dbPath string) error {
	start := time.Now()

	stagingDir := filepath.Join(s.dataDir, "backup-staging")
	if err := os.MkdirAll(stagingDir, 0o755); err != nil {
		return fmt.Errorf("backup: create staging dir: %w", err)
	}
	defer os.RemoveAll(stagingDir)

	dbName := filepath.Base(dbPath)
	stagedDB := filepath.Join(stagingDir, dbName)
	if err := copyFile(dbPath, stagedDB); err != nil {
		return fmt.Errorf("backup: stage database: %w", err)
	}

	info, err := os.Stat(stagedDB)
	if err != nil {
		return fmt.Errorf("backup: stat staged database: %w", err)
	}
	checksum, err := checksumFile(stagedDB)
	if err != nil {
		return fmt.Errorf("backup: checksum staged database: %w", err)
	}

	meta := Metadata{
		Timestamp: time.Now().UTC(),
		Database:  dbName,
		SizeBytes: info.Size(),
		Checksum:  checksum,
	}
	metaPath := filepath.Join(stagingDir, "backup-metadata.json")
	if err := writeMetadata(metaPath, meta); err != nil {
		return fmt.Errorf("backup: write metadata: %w", err)
	}

	timestamp := time.Now().Format("2006-01-02-150405")
	archiveName := fmt.Sprintf("dlmm-sentinel-backup-%s.tar.gz", timestamp)
	archivePath := filepath.Join(stagingDir, archiveName)
	if err := createArchive(archivePath, stagedDB, metaPath); err != nil {
		return fmt.Errorf("backup: create archive: %w", err)
	}

	archiveFile, err := os.Open(archivePath)
	if err != nil {
		return fmt.Errorf("backup: open archive: %w", err)
	}
	defer archiveFile.Close()

	uploader := manager.NewUploader(s.client)
	if _, err := uploader.Upload(ctx, &s3.PutObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(archiveName),
		Body:   archiveFile,
	}); err != nil {
		return fmt.Errorf("backup: upload to object storage: %w", err)
	}

	s.log.Info().
		Dur("duration_ms", time.Since(start)).
		Str("archive", archiveName).
		Int64("size_bytes", info.Size()).
		Msg("backup uploaded")

	if s.retentionDays > 0 {
		s.pruneOldBackups(ctx)
	}

	return nil
}

// pruneOldBackups deletes archives older than the retention window.
// Failures are logged and skipped; the next scheduled backup retries.
func (s *Service) pruneOldBackups(ctx context.Context) {
	cutoff := time.Now().AddDate(0, 0, -s.retentionDays)

	var token *string
	for {
		out, err := s.client.ListObjectsV2(ctx, &s3.ListObjectsV2Input{
			Bucket:            aws.String(s.bucket),
			Prefix:            aws.String("dlmm-sentinel-backup-"),
			ContinuationToken: token,
		})
		if err != nil {
			s.log.Warn().Err(err).Msg("failed to list backups for pruning")
			return
		}

		for _, obj := range out.Contents {
			if obj.LastModified == nil || !obj.LastModified.Before(cutoff) {
				continue
			}
			if _, err := s.client.DeleteObject(ctx, &s3.DeleteObjectInput{
				Bucket: aws.String(s.bucket),
				Key:    obj.Key,
			}); err != nil {
				s.log.Warn().Err(err).Str("key", aws.ToString(obj.Key)).Msg("failed to prune backup")
				continue
			}
			s.log.Info().Str("key", aws.ToString(obj.Key)).Msg("pruned expired backup")
		}

		if out.IsTruncated == nil || !*out.IsTruncated {
			return
		}
		token = out.NextContinuationToken
	}
}

func copyFile(src, dst string) error {
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()

	out, err := os.Create(dst)
	if err != nil {
		return err
	}
	defer out.Close()

	_, err = io.Copy(out, in)
	return err
}

func checksumFile(path string) (string, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", err
	}
	defer f.Close()

	h := sha256.New()
	if _, err := io.Copy(h, f); err != nil {
		return "", err
	}
	return hex.EncodeToString(h.Sum(nil)), nil
}

func writeMetadata(path string, meta Metadata) error {
	data, err := json.MarshalIndent(meta, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(path, data, 0o644)
}

func createArchive(archivePath string, files ...string) error {
	out, err := os.Create(archivePath)
	if err != nil {
		return err
	}
	defer out.Close()

	gz := gzip.NewWriter(out)
	defer gz.Close()

	tw := tar.NewWriter(gz)
	defer tw.Close()

	for _, path := range files {
		if err := addFileToTar(tw, path); err != nil {
			return err
		}
	}
	return nil
}

func addFileToTar(tw *tar.Writer, path string) error {
	f, err := os.Open(path)
	if err != nil {
		return err
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil {
		return err
	}

	hdr, err := tar.FileInfoHeader(info, "")
	if err != nil {
		return err
	}
	hdr.Name = filepath.Base(path)

	if err := tw.WriteHeader(hdr); err != nil {
		return err
	}
	_, err = io.Copy(tw, f)
	return err
}
