package reconcile

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"

	"github.com/luqma-backoffice/backend/pkg/storage"
)

// ObjectUploader is the part of storage.S3 used for archiving.
type ObjectUploader interface {
	Upload(ctx context.Context, bucket, key, contentType string, body io.Reader) (string, error)
}

// S3Archiver writes reports as JSON objects keyed by their start time.
type S3Archiver struct {
	uploader ObjectUploader
	bucket   string
}

// NewS3Archiver creates an archiver writing into bucket.
func NewS3Archiver(uploader ObjectUploader, bucket string) *S3Archiver {
	return &S3Archiver{uploader: uploader, bucket: bucket}
}

// ArchiveReport uploads report and returns its key.
func (a *S3Archiver) ArchiveReport(ctx context.Context, report *Report) (string, error) {
	body, err := json.MarshalIndent(report, "", "  ")
	if err != nil {
		return "", fmt.Errorf("marshal report: %w", err)
	}
	key := storage.ReportKey(report.StartedAt)
	if report.DryRun {
		key = key[:len(key)-len(".json")] + "-dry-run.json"
	}
	return a.uploader.Upload(ctx, a.bucket, key, "application/json", bytes.NewReader(body))
}
