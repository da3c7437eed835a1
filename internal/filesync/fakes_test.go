package filesync

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"maps"
	"slices"
	"strings"
	"sync"

	syncerr "github.com/alexjbarnes/cloudsync/internal/errors"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

type memObject struct {
	desc Descriptor
	data []byte
}

// memBackend is an in-memory StorageBackend.
type memBackend struct {
	mu      sync.Mutex
	objects map[string]memObject

	// listGate, when set, blocks ListRootFolder until it is closed.
	listGate chan struct{}
}

func newMemBackend(ds ...Descriptor) *memBackend {
	b := &memBackend{objects: make(map[string]memObject)}
	for _, d := range ds {
		b.put(d, []byte("remote:"+d.Filename))
	}

	return b
}

func (b *memBackend) put(d Descriptor, data []byte) {
	b.mu.Lock()
	defer b.mu.Unlock()

	d.LocalLocator = ""
	d.RemoteLocator = "mem://" + d.Filename
	b.objects[d.Filename] = memObject{desc: d, data: data}
}

func (b *memBackend) get(name string) (Descriptor, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()

	o, ok := b.objects[name]

	return o.desc, ok
}

func (b *memBackend) names() []string {
	b.mu.Lock()
	defer b.mu.Unlock()

	return slices.Sorted(maps.Keys(b.objects))
}

func (b *memBackend) IsAuthenticated() bool    { return true }
func (b *memBackend) IsReadyForSyncing() bool  { return true }
func (b *memBackend) ServiceType() ServiceType { return ServiceNone }

func (b *memBackend) ListRootFolder(ctx context.Context) ([]Descriptor, error) {
	if b.listGate != nil {
		<-b.listGate
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	out := make([]Descriptor, 0, len(b.objects))
	for _, name := range slices.Sorted(maps.Keys(b.objects)) {
		out = append(out, b.objects[name].desc)
	}

	return out, nil
}

func (b *memBackend) Upload(ctx context.Context, d Descriptor, overwrite bool) error {
	if d.LocalLocator == "" {
		return syncerr.NoContent(d.Filename)
	}

	if _, exists := b.get(d.Filename); exists && !overwrite {
		return syncerr.FileAlreadyExists(d.Filename)
	}

	b.put(d.WithState(StateNormal), []byte("local:"+d.Filename))

	return nil
}

func (b *memBackend) Download(ctx context.Context, d Descriptor) ([]byte, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	o, ok := b.objects[d.Filename]
	if !ok {
		return nil, syncerr.NoContent(d.Filename)
	}

	return o.data, nil
}

func (b *memBackend) Remove(ctx context.Context, d Descriptor) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	delete(b.objects, d.Filename)

	return nil
}

func (b *memBackend) Rename(ctx context.Context, changes []Rename) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	var errs []error

	for _, c := range changes {
		if _, ok := b.objects[c.Source.Filename]; !ok {
			errs = append(errs, syncerr.NoContent(c.Source.Filename))
		}

		if _, ok := b.objects[c.Destination.Filename]; ok {
			errs = append(errs, syncerr.FileAlreadyExists(c.Destination.Filename))
		}
	}

	if len(errs) > 0 {
		return errors.Join(errs...)
	}

	for _, c := range changes {
		o := b.objects[c.Source.Filename]
		delete(b.objects, c.Source.Filename)
		o.desc.Filename = c.Destination.Filename
		b.objects[c.Destination.Filename] = o
	}

	return nil
}

// memHandler is an in-memory LocalDataHandler. Identifiers are the
// filename up to the first dot and only .txt files are handled.
type memHandler struct {
	mu    sync.Mutex
	files map[string]memObject

	commits []bool
}

func newMemHandler(ds ...Descriptor) *memHandler {
	h := &memHandler{files: make(map[string]memObject)}
	for _, d := range ds {
		d.LocalLocator = "local://" + d.Filename
		h.files[d.Filename] = memObject{desc: d, data: []byte("local:" + d.Filename)}
	}

	return h
}

func (h *memHandler) snapshot() map[string]Descriptor {
	h.mu.Lock()
	defer h.mu.Unlock()

	out := make(map[string]Descriptor, len(h.files))
	for k, v := range h.files {
		out[k] = v.desc
	}

	return out
}

func (h *memHandler) CanHandle(filename string) bool {
	return strings.HasSuffix(filename, ".txt")
}

func (h *memHandler) KnownLocalDescriptors(ctx context.Context) ([]Descriptor, error) {
	h.mu.Lock()
	defer h.mu.Unlock()

	out := make([]Descriptor, 0, len(h.files))
	for _, name := range slices.Sorted(maps.Keys(h.files)) {
		out = append(out, h.files[name].desc)
	}

	return out, nil
}

func (h *memHandler) PrepareLocalData(ctx context.Context, d *Descriptor) error {
	h.mu.Lock()
	defer h.mu.Unlock()

	if _, ok := h.files[d.Filename]; !ok {
		return syncerr.NoContent(d.Filename)
	}

	d.LocalLocator = "local://" + d.Filename

	return nil
}

func (h *memHandler) SaveLocally(ctx context.Context, data []byte, d *Descriptor) error {
	h.mu.Lock()
	defer h.mu.Unlock()

	d.LocalLocator = "local://" + d.Filename
	h.files[d.Filename] = memObject{desc: *d, data: data}

	return nil
}

func (h *memHandler) RemoveLocalData(ctx context.Context, locator string, d Descriptor) error {
	h.mu.Lock()
	defer h.mu.Unlock()

	delete(h.files, d.Filename)

	return nil
}

func (h *memHandler) IdentifierFor(d Descriptor) string {
	id, _, _ := strings.Cut(d.Filename, ".")
	return id
}

func (h *memHandler) GroupByIdentifier(ds []Descriptor) map[string][]Descriptor {
	out := make(map[string][]Descriptor)
	for _, d := range ds {
		id := h.IdentifierFor(d)
		out[id] = append(out[id], d)
	}

	for _, group := range out {
		SortByFilename(group)
	}

	return out
}

func (h *memHandler) Commit(ctx context.Context, synced []Descriptor, fullSync bool) error {
	h.mu.Lock()
	defer h.mu.Unlock()

	h.commits = append(h.commits, fullSync)

	next := make(map[string]memObject, len(synced))
	if !fullSync {
		maps.Copy(next, h.files)
	}

	for _, d := range synced {
		o := h.files[d.Filename]
		o.desc = d
		next[d.Filename] = o
	}

	h.files = next

	return nil
}

func (h *memHandler) ApplyRenames(ctx context.Context, changes []Rename) error {
	h.mu.Lock()
	defer h.mu.Unlock()

	for _, c := range changes {
		o, ok := h.files[c.Source.Filename]
		if !ok {
			continue
		}

		delete(h.files, c.Source.Filename)
		o.desc.Filename = c.Destination.Filename
		h.files[c.Destination.Filename] = o
	}

	return nil
}
