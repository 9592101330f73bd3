package reconcile

import (
	"context"
	"encoding/json"
	"io"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type memUploader struct {
	bucket, key, contentType string
	body                     []byte
}

func (m *memUploader) Upload(_ context.Context, bucket, key, contentType string, body io.Reader) (string, error) {
	raw, err := io.ReadAll(body)
	if err != nil {
		return "", err
	}
	m.bucket, m.key, m.contentType, m.body = bucket, key, contentType, raw
	return key, nil
}

func TestS3Archiver(t *testing.T) {
	up := &memUploader{}
	a := NewS3Archiver(up, "reports")
	started := time.Date(2026, 3, 4, 5, 6, 7, 0, time.UTC)

	key, err := a.ArchiveReport(context.Background(), &Report{StartedAt: started, Scanned: 3, Failed: []Failure{{UID: "u1", Error: "boom"}}})
	require.NoError(t, err)
	assert.Equal(t, "reconcile/2026/03/04/20260304T050607Z.json", key)
	assert.Equal(t, "reports", up.bucket)
	assert.Equal(t, "application/json", up.contentType)

	var got Report
	require.NoError(t, json.Unmarshal(up.body, &got))
	assert.Equal(t, 3, got.Scanned)
	assert.Equal(t, "u1", got.Failed[0].UID)

	key, err = a.ArchiveReport(context.Background(), &Report{StartedAt: started, DryRun: true})
	require.NoError(t, err)
	assert.Equal(t, "reconcile/2026/03/04/20260304T050607Z-dry-run.json", key)
}
