package filesync

import "context"

//go:generate go run go.uber.org/mock/mockgen -source=backend.go -destination=mock_filesync_test.go -package=filesync

// StorageBackend talks to one remote storage provider. Listing is flat
// and non-recursive. Methods that can fail for several files at once
// return the failures joined with errors.Join.
type StorageBackend interface {
	IsAuthenticated() bool
	IsReadyForSyncing() bool
	ServiceType() ServiceType

	// ListRootFolder returns every remote file, including tombstones for
	// deleted entries when the provider reports them.
	ListRootFolder(ctx context.Context) ([]Descriptor, error)

	// Upload sends the bytes at d.LocalLocator. With overwrite false an
	// existing remote file is a file-already-exists error.
	Upload(ctx context.Context, d Descriptor, overwrite bool) error

	Download(ctx context.Context, d Descriptor) ([]byte, error)

	// Remove deletes d remotely. Removing an absent file succeeds.
	Remove(ctx context.Context, d Descriptor) error

	// Rename applies a batch of renames. If any source is missing or any
	// destination already exists the whole batch is rejected before
	// anything changes.
	Rename(ctx context.Context, changes []Rename) error
}

// LocalDataHandler owns the local representation of synced files.
type LocalDataHandler interface {
	// CanHandle reports whether a remote filename is relevant locally.
	CanHandle(filename string) bool

	KnownLocalDescriptors(ctx context.Context) ([]Descriptor, error)

	// PrepareLocalData makes the bytes of d available for upload and
	// sets d.LocalLocator.
	PrepareLocalData(ctx context.Context, d *Descriptor) error

	// SaveLocally persists downloaded bytes. It must set d.LocalLocator.
	SaveLocally(ctx context.Context, data []byte, d *Descriptor) error

	// RemoveLocalData deletes the local bytes of d. locator may be empty
	// when no local copy is known.
	RemoveLocalData(ctx context.Context, locator string, d Descriptor) error

	// IdentifierFor maps a descriptor to its logical owner.
	IdentifierFor(d Descriptor) string

	// GroupByIdentifier groups descriptors by owner, each group sorted
	// by case-folded filename.
	GroupByIdentifier(ds []Descriptor) map[string][]Descriptor

	// Commit records the result of a pass. When fullSync is true synced
	// is the complete file set and anything else can be dropped.
	Commit(ctx context.Context, synced []Descriptor, fullSync bool) error

	ApplyRenames(ctx context.Context, changes []Rename) error
}
