package backup

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeS3Server answers just enough of the S3 v2 API (PutObject,
// ListObjectsV2, DeleteObject) for the aws-sdk-go-v2 S3 client to treat
// it as a path-style-compatible object store.
func fakeS3Server(t *testing.T, objects []string) *httptest.Server {
	t.Helper()
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.Method {
		case http.MethodPut:
			w.WriteHeader(http.StatusOK)
		case http.MethodDelete:
			w.WriteHeader(http.StatusNoContent)
		case http.MethodGet:
			var contents strings.Builder
			for _, key := range objects {
				fmt.Fprintf(&contents, `<Contents><Key>%s</Key><LastModified>2026-01-01T00:00:00.000Z</LastModified><ETag>"e"</ETag><Size>1024</Size><StorageClass>STANDARD</StorageClass></Contents>`, key)
			}
			w.Header().Set("Content-Type", "application/xml")
			fmt.Fprintf(w, `<?xml version="1.0" encoding="UTF-8"?>
<ListBucketResult xmlns="http://s3.amazonaws.com/doc/2006-03-01/">
<Name>engine-backups</Name>
<Prefix></Prefix>
<KeyCount>%d</KeyCount>
<MaxKeys>1000</MaxKeys>
<IsTruncated>false</IsTruncated>
%s
</ListBucketResult>`, len(objects), contents.String())
		default:
			w.WriteHeader(http.StatusMethodNotAllowed)
		}
	}))
}

func newTestS3Client(t *testing.T, server *httptest.Server) *S3Client {
	t.Helper()
	t.Setenv("AWS_ACCESS_KEY_ID", "test")
	t.Setenv("AWS_SECRET_ACCESS_KEY", "test")
	client, err := NewS3Client(context.Background(), server.URL, "us-east-1", "test", "test", "engine-backups", "")
	require.NoError(t, err)
	return client
}

func TestS3Client_UploadSucceedsAgainstCompatibleEndpoint(t *testing.T) {
	server := fakeS3Server(t, nil)
	defer server.Close()

	client := newTestS3Client(t, server)
	err := client.Upload(context.Background(), "engine-backup-2026-01-01-000000.tar.gz", strings.NewReader("archive bytes"), 13)
	require.NoError(t, err)
}

func TestS3Client_ListParsesObjectsFromTheBucket(t *testing.T) {
	server := fakeS3Server(t, []string{"engine-backup-2026-01-01-000000.tar.gz"})
	defer server.Close()

	client := newTestS3Client(t, server)
	objects, err := client.List(context.Background())
	require.NoError(t, err)
	require.Len(t, objects, 1)
	assert.Equal(t, "engine-backup-2026-01-01-000000.tar.gz", objects[0].Key)
	assert.Equal(t, int64(1024), objects[0].Size)
}

func TestS3Client_DeleteSucceedsAgainstCompatibleEndpoint(t *testing.T) {
	server := fakeS3Server(t, nil)
	defer server.Close()

	client := newTestS3Client(t, server)
	require.NoError(t, client.Delete(context.Background(), "engine-backup-2026-01-01-000000.tar.gz"))
}

func TestService_Run_ArchivesAndUploadsTheDatabaseFile(t *testing.T) {
	server := fakeS3Server(t, nil)
	defer server.Close()

	dbDir := t.TempDir()
	dbPath := filepath.Join(dbDir, "engine.db")
	require.NoError(t, os.WriteFile(dbPath, []byte("sqlite contents"), 0o644))

	client := newTestS3Client(t, server)
	svc := NewService(client, dbPath, filepath.Join(t.TempDir(), "stage"), zerolog.Nop())

	require.NoError(t, svc.Run(context.Background()))
}

func TestService_ListBackups_SkipsUnparseableFilenamesAndSortsNewestFirst(t *testing.T) {
	server := fakeS3Server(t, []string{
		"engine-backup-2026-01-01-000000.tar.gz",
		"engine-backup-2026-03-01-000000.tar.gz",
		"not-a-backup.txt",
	})
	defer server.Close()

	client := newTestS3Client(t, server)
	svc := NewService(client, "", t.TempDir(), zerolog.Nop())

	backups, err := svc.ListBackups(context.Background())
	require.NoError(t, err)
	require.Len(t, backups, 2)
	assert.True(t, backups[0].Timestamp.After(backups[1].Timestamp))
}

func TestService_Rotate_KeepsMinimumBackupsRegardlessOfRetention(t *testing.T) {
	server := fakeS3Server(t, []string{
		"engine-backup-2020-01-01-000000.tar.gz",
		"engine-backup-2020-02-01-000000.tar.gz",
		"engine-backup-2020-03-01-000000.tar.gz",
	})
	defer server.Close()

	client := newTestS3Client(t, server)
	svc := NewService(client, "", t.TempDir(), zerolog.Nop())

	// All three archives are far older than a 1-day retention window, but
	// minBackupsToKeep must protect them from deletion regardless.
	require.NoError(t, svc.Rotate(context.Background(), 1))
}

func TestJob_Run_StopsWhenContextIsCancelled(t *testing.T) {
	server := fakeS3Server(t, nil)
	defer server.Close()

	dbDir := t.TempDir()
	dbPath := filepath.Join(dbDir, "engine.db")
	require.NoError(t, os.WriteFile(dbPath, []byte("sqlite contents"), 0o644))

	client := newTestS3Client(t, server)
	svc := NewService(client, dbPath, filepath.Join(t.TempDir(), "stage"), zerolog.Nop())
	job := NewJob(svc, 10*time.Millisecond, 7, zerolog.Nop())

	ctx, cancel := context.WithTimeout(context.Background(), 25*time.Millisecond)
	defer cancel()

	done := make(chan struct{})
	go func() {
		job.Run(ctx)
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("job did not stop after context cancellation")
	}
}
