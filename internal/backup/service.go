package backup

import (
	"archive/tar"
	"compress/gzip"
	"context"
	"crypto/sha256"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/rs/zerolog"
)

// Metadata describes one backup archive's contents.
type Metadata struct {
	Timestamp time.Time `json:"timestamp"`
	Filename  string    `json:"filename"`
	SizeBytes int64     `json:"size_bytes"`
	Checksum  string    `json:"checksum"`
}

// Info describes a backup as listed from remote storage.
type Info struct {
	Filename  string
	Timestamp time.Time
	SizeBytes int64
	AgeHours  int64
}

const archivePrefix = "engine-backup-"
const minBackupsToKeep = 3

// Service snapshots the embedded store file, uploads the archive, and
// rotates old archives past a retention window.
type Service struct {
	s3       *S3Client
	dbPath   string
	stageDir string
	log      zerolog.Logger
}

// NewService constructs a backup Service. dbPath is the embedded store
// file to snapshot; stageDir is scratch space for building the archive.
func NewService(s3 *S3Client, dbPath, stageDir string, log zerolog.Logger) *Service {
	return &Service{s3: s3, dbPath: dbPath, stageDir: stageDir, log: log.With().Str("component", "backup").Logger()}
}

// Run creates an archive of the current database file and uploads it.
func (s *Service) Run(ctx context.Context) error {
	start := time.Now()
	s.log.Info().Msg("starting backup")

	if err := os.MkdirAll(s.stageDir, 0o755); err != nil {
		return fmt.Errorf("create staging dir: %w", err)
	}
	defer os.RemoveAll(s.stageDir)

	timestamp := time.Now().Format("2006-01-02-150405")
	archiveName := fmt.Sprintf("%s%s.tar.gz", archivePrefix, timestamp)
	archivePath := filepath.Join(s.stageDir, archiveName)

	checksum, size, err := s.createArchive(archivePath)
	if err != nil {
		return fmt.Errorf("create archive: %w", err)
	}

	meta := Metadata{Timestamp: time.Now().UTC(), Filename: archiveName, SizeBytes: size, Checksum: checksum}
	metaJSON, _ := json.Marshal(meta)
	s.log.Debug().RawJSON("metadata", metaJSON).Msg("archive built")

	archiveFile, err := os.Open(archivePath)
	if err != nil {
		return fmt.Errorf("open archive: %w", err)
	}
	defer archiveFile.Close()

	if err := s.s3.Upload(ctx, archiveName, archiveFile, size); err != nil {
		return fmt.Errorf("upload archive: %w", err)
	}

	s.log.Info().
		Dur("duration", time.Since(start)).
		Str("archive", archiveName).
		Int64("size_bytes", size).
		Msg("backup completed")

	return nil
}

// ListBackups lists stored archives, newest first.
func (s *Service) ListBackups(ctx context.Context) ([]Info, error) {
	objects, err := s.s3.List(ctx)
	if err != nil {
		return nil, fmt.Errorf("list backups: %w", err)
	}

	now := time.Now()
	backups := make([]Info, 0, len(objects))
	for _, obj := range objects {
		base := filepath.Base(obj.Key)
		if !strings.HasPrefix(base, archivePrefix) || !strings.HasSuffix(base, ".tar.gz") {
			continue
		}
		tsStr := strings.TrimSuffix(strings.TrimPrefix(base, archivePrefix), ".tar.gz")
		ts, err := time.Parse("2006-01-02-150405", tsStr)
		if err != nil {
			s.log.Warn().Str("filename", base).Msg("unparseable backup filename, skipping")
			continue
		}
		backups = append(backups, Info{Filename: base, Timestamp: ts, SizeBytes: obj.Size, AgeHours: int64(now.Sub(ts).Hours())})
	}

	sort.Slice(backups, func(i, j int) bool { return backups[i].Timestamp.After(backups[j].Timestamp) })
	return backups, nil
}

// Rotate deletes archives older than retentionDays, always keeping the
// newest minBackupsToKeep regardless of age.
func (s *Service) Rotate(ctx context.Context, retentionDays int) error {
	backups, err := s.ListBackups(ctx)
	if err != nil {
		return err
	}
	if len(backups) <= minBackupsToKeep {
		return nil
	}

	cutoff := time.Now().AddDate(0, 0, -retentionDays)
	deleted := 0
	for i, b := range backups {
		if i < minBackupsToKeep || retentionDays <= 0 {
			continue
		}
		if b.Timestamp.Before(cutoff) {
			if err := s.s3.Delete(ctx, b.Filename); err != nil {
				s.log.Error().Err(err).Str("filename", b.Filename).Msg("failed to delete old backup")
				continue
			}
			deleted++
		}
	}
	s.log.Info().Int("deleted", deleted).Int("remaining", len(backups)-deleted).Msg("rotation complete")
	return nil
}

func (s *Service) createArchive(archivePath string) (checksum string, size int64, err error) {
	archiveFile, err := os.Create(archivePath)
	if err != nil {
		return "", 0, err
	}
	defer archiveFile.Close()

	gz := gzip.NewWriter(archiveFile)
	tw := tar.NewWriter(gz)

	if err := addFileToArchive(tw, s.dbPath, filepath.Base(s.dbPath)); err != nil {
		tw.Close()
		gz.Close()
		return "", 0, err
	}

	if err := tw.Close(); err != nil {
		gz.Close()
		return "", 0, err
	}
	if err := gz.Close(); err != nil {
		return "", 0, err
	}

	info, err := os.Stat(archivePath)
	if err != nil {
		return "", 0, err
	}

	sum, err := fileChecksum(archivePath)
	if err != nil {
		return "", 0, err
	}

	return sum, info.Size(), nil
}

func addFileToArchive(tw *tar.Writer, filePath, nameInArchive string) error {
	file, err := os.Open(filePath)
	if err != nil {
		return err
	}
	defer file.Close()

	info, err := file.Stat()
	if err != nil {
		return err
	}

	if err := tw.WriteHeader(&tar.Header{Name: nameInArchive, Size: info.Size(), Mode: int64(info.Mode()), ModTime: info.ModTime()}); err != nil {
		return err
	}
	_, err = io.Copy(tw, file)
	return err
}

func fileChecksum(path string) (string, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", err
	}
	defer f.Close()

	h := sha256.New()
	if _, err := io.Copy(h, f); err != nil {
		return "", err
	}
	return fmt.Sprintf("sha256:%x", h.Sum(nil)), nil
}
