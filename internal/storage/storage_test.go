package storage

import (
	"context"
	"io"
	"log/slog"
	"testing"

	"github.com/alexjbarnes/cloudsync/internal/config"
	"github.com/alexjbarnes/cloudsync/internal/filesync"
	"github.com/alexjbarnes/cloudsync/internal/storage/folder"
	"github.com/alexjbarnes/cloudsync/internal/storage/httpapi"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var discardLogger = slog.New(slog.NewTextHandler(io.Discard, nil))

func TestOpen_Folder(t *testing.T) {
	root := t.TempDir()

	b, err := Open(context.Background(), &config.Config{Backend: config.BackendFolder, FolderRoot: root}, discardLogger)
	require.NoError(t, err)
	t.Cleanup(func() { _ = b.Close() })

	assert.Equal(t, filesync.ServiceFolder, b.ServiceType())
	assert.True(t, b.IsReadyForSyncing())

	fb, ok := b.StorageBackend.(*folder.Backend)
	require.True(t, ok)
	assert.Equal(t, root, fb.Root())
}

func TestOpen_HTTP(t *testing.T) {
	b, err := Open(context.Background(), &config.Config{Backend: config.BackendHTTP, HTTPToken: "tok"}, discardLogger)
	require.NoError(t, err)

	assert.Equal(t, filesync.ServiceHTTP, b.ServiceType())
	assert.True(t, b.IsAuthenticated())

	_, ok := b.StorageBackend.(*httpapi.Backend)
	assert.True(t, ok)
	assert.NoError(t, b.Close())
}

func TestOpen_Unknown(t *testing.T) {
	_, err := Open(context.Background(), &config.Config{Backend: "ftp"}, discardLogger)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "ftp")
}

func TestOpen_FolderEmptyRoot(t *testing.T) {
	_, err := Open(context.Background(), &config.Config{Backend: config.BackendFolder}, discardLogger)
	require.Error(t, err)
}
