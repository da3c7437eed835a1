package folder_test

import (
	"context"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/alexjbarnes/cloudsync/internal/filesync"
	"github.com/alexjbarnes/cloudsync/internal/localstore"
	"github.com/alexjbarnes/cloudsync/internal/state"
	"github.com/alexjbarnes/cloudsync/internal/storage/folder"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var (
	logger = slog.New(slog.NewTextHandler(io.Discard, nil))

	sameTime  = time.Date(2024, 5, 1, 10, 0, 0, 0, time.UTC)
	olderTime = sameTime.Add(-time.Hour)
	newerTime = sameTime.Add(time.Hour)
)

type fixture struct {
	svc     *filesync.Service
	backend *folder.Backend
	store   *localstore.Store
	st      *state.State
}

func put(t *testing.T, dir, name, content string, mtime time.Time) {
	t.Helper()
	path := filepath.Join(dir, name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	require.NoError(t, os.Chtimes(path, mtime, mtime))
}

// committed writes a local file together with a normal record for it.
func (f *fixture) committed(t *testing.T, name string, mtime time.Time) {
	t.Helper()
	put(t, f.store.Dir(), name, "local:"+name, mtime)
	require.NoError(t, f.st.PutRecords(f.store.ID(), state.Record{
		Filename:  name,
		State:     filesync.StateNormal,
		UpdatedAt: mtime,
		MTime:     mtime.UnixNano(),
	}))
}

func newFixture(t *testing.T) *fixture {
	t.Helper()

	st, err := state.LoadAt(filepath.Join(t.TempDir(), "state.db"))
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() })

	backend, err := folder.New(t.TempDir(), logger)
	require.NoError(t, err)

	store, err := localstore.New(t.TempDir(), st, logger, localstore.WithServiceType(backend.ServiceType()))
	require.NoError(t, err)

	return &fixture{
		svc:     filesync.NewService(backend, store, logger),
		backend: backend,
		store:   store,
		st:      st,
	}
}

// nineFiles lays out every comparison case once on disk.
func nineFiles(t *testing.T) *fixture {
	f := newFixture(t)
	remote := f.backend.Root()

	put(t, remote, "A.txt", "remote:A.txt", sameTime)
	put(t, remote, "C.txt", "remote:C.txt", olderTime)
	put(t, remote, "D.txt", "remote:D.txt", newerTime)
	put(t, remote, "E.txt", "remote:E.txt", olderTime)
	put(t, remote, "G.txt", "remote:G.txt", sameTime)
	put(t, remote, "H.txt", "remote:H.txt", sameTime)
	put(t, remote, "I.txt", "remote:I.txt", newerTime)

	local := f.store.Dir()

	put(t, local, "B.txt", "local:B.txt", sameTime)
	f.committed(t, "C.txt", newerTime)
	f.committed(t, "D.txt", olderTime)
	f.committed(t, "E.txt", newerTime)
	require.NoError(t, os.Remove(filepath.Join(local, "E.txt")))
	f.committed(t, "F.txt", sameTime)
	f.committed(t, "G.txt", sameTime)
	put(t, local, "H.txt", "local:H.txt", sameTime)
	put(t, local, "I.txt", "local:I.txt", olderTime)

	return f
}

func read(t *testing.T, dir, name string) string {
	t.Helper()
	data, err := os.ReadFile(filepath.Join(dir, name))
	require.NoError(t, err)
	return string(data)
}

func names(t *testing.T, dir string) []string {
	t.Helper()
	entries, err := os.ReadDir(dir)
	require.NoError(t, err)

	var out []string
	for _, e := range entries {
		if e.Type().IsRegular() && e.Name()[0] != '.' {
			out = append(out, e.Name())
		}
	}
	return out
}

func TestFullSync_NineFilesOnDisk(t *testing.T) {
	ctx := context.Background()
	f := nineFiles(t)

	plan, err := f.svc.Plan(ctx)
	require.NoError(t, err)
	assert.Equal(t, 8, plan.ActionCount())

	outcome, err := f.svc.FullSync(ctx, nil)
	require.NoError(t, err)
	require.True(t, outcome.OK, "unexpected errors: %v", outcome.Errors)

	want := []string{"A.txt", "B.txt", "C.txt", "D.txt", "G.txt", "H.txt", "I.txt"}
	assert.Equal(t, want, names(t, f.store.Dir()))
	assert.Equal(t, want, names(t, f.backend.Root()))

	assert.Equal(t, "remote:A.txt", read(t, f.store.Dir(), "A.txt"))
	assert.Equal(t, "local:B.txt", read(t, f.backend.Root(), "B.txt"))
	assert.Equal(t, "local:C.txt", read(t, f.backend.Root(), "C.txt"))
	assert.Equal(t, "remote:D.txt", read(t, f.store.Dir(), "D.txt"))
	assert.Equal(t, "local:H.txt", read(t, f.backend.Root(), "H.txt"))
	assert.Equal(t, "remote:I.txt", read(t, f.store.Dir(), "I.txt"))

	ds, err := f.store.Scan(ctx)
	require.NoError(t, err)
	require.Len(t, ds, 7)

	wantDates := map[string]time.Time{
		"A.txt": sameTime,
		"B.txt": sameTime,
		"C.txt": newerTime,
		"D.txt": newerTime,
		"G.txt": sameTime,
		"H.txt": sameTime,
		"I.txt": newerTime,
	}
	for _, d := range ds {
		assert.Equal(t, filesync.StateNormal, d.State, d.Filename)
		assert.True(t, wantDates[d.Filename].Equal(d.UpdatedAt), "%s: got %s", d.Filename, d.UpdatedAt)
	}

	info, err := f.store.LastSync()
	require.NoError(t, err)
	require.NotNil(t, info)
	assert.True(t, info.Full)
	assert.Equal(t, filesync.ServiceFolder, info.Service)
}

func TestFullSync_SecondPassIsQuiet(t *testing.T) {
	ctx := context.Background()
	f := nineFiles(t)

	_, err := f.svc.FullSync(ctx, nil)
	require.NoError(t, err)

	plan, err := f.svc.Plan(ctx)
	require.NoError(t, err)
	assert.True(t, plan.IsEmpty())
	assert.Len(t, plan.Unchanged, 7)
}

func TestPartialSync_LocalEdit(t *testing.T) {
	ctx := context.Background()
	f := nineFiles(t)

	_, err := f.svc.FullSync(ctx, nil)
	require.NoError(t, err)

	later := newerTime.Add(time.Hour)
	put(t, f.store.Dir(), "G.txt", "edited", later)

	ds, err := f.store.Lookup(ctx, []string{"G.txt"})
	require.NoError(t, err)

	outcome, err := f.svc.Sync(ctx, ds)
	require.NoError(t, err)
	require.True(t, outcome.OK, "unexpected errors: %v", outcome.Errors)

	assert.Equal(t, "edited", read(t, f.backend.Root(), "G.txt"))

	plan, err := f.svc.Plan(ctx)
	require.NoError(t, err)
	assert.True(t, plan.IsEmpty())
}

func TestRename_MovesBothSides(t *testing.T) {
	ctx := context.Background()
	f := nineFiles(t)

	_, err := f.svc.FullSync(ctx, nil)
	require.NoError(t, err)

	outcome, err := f.svc.Rename(ctx, []filesync.Rename{{
		Source:      filesync.Descriptor{Filename: "A.txt"},
		Destination: filesync.Descriptor{Filename: "Z.txt"},
	}})
	require.NoError(t, err)
	require.True(t, outcome.OK, "unexpected errors: %v", outcome.Errors)

	assert.Equal(t, "remote:A.txt", read(t, f.store.Dir(), "Z.txt"))
	assert.Equal(t, "remote:A.txt", read(t, f.backend.Root(), "Z.txt"))

	plan, err := f.svc.Plan(ctx)
	require.NoError(t, err)
	assert.True(t, plan.IsEmpty())
}

func TestDelete_RemovesBothSides(t *testing.T) {
	ctx := context.Background()
	f := nineFiles(t)

	_, err := f.svc.FullSync(ctx, nil)
	require.NoError(t, err)

	ds, err := f.store.Lookup(ctx, []string{"B.txt"})
	require.NoError(t, err)

	outcome := f.svc.Delete(ctx, ds)
	require.True(t, outcome.OK, "unexpected errors: %v", outcome.Errors)

	assert.NotContains(t, names(t, f.store.Dir()), "B.txt")
	assert.NotContains(t, names(t, f.backend.Root()), "B.txt")
}
