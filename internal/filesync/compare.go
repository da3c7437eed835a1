package filesync

import (
	"slices"
	"strings"

	mapset "github.com/deckarep/golang-set/v2"
	"golang.org/x/text/cases"
)

// ComparisonResult partitions the union of remote and local filenames
// into six disjoint buckets. Every filename appears in exactly one.
type ComparisonResult struct {
	Unchanged        []Descriptor `yaml:"unchanged"`
	ToUpload         []Descriptor `yaml:"to_upload"`
	ToDownload       []Descriptor `yaml:"to_download"`
	ToDeleteLocally  []Descriptor `yaml:"to_delete_locally"`
	ToDeleteOnRemote []Descriptor `yaml:"to_delete_on_remote"`

	// Invalid holds remote entries the local handler cannot process.
	// They are never requeued.
	Invalid []Descriptor `yaml:"invalid"`
}

// ActionCount is the number of operations a sync pass will execute.
func (r ComparisonResult) ActionCount() int {
	return len(r.ToUpload) + len(r.ToDownload) + len(r.ToDeleteLocally) + len(r.ToDeleteOnRemote)
}

// IsEmpty reports whether the result holds no descriptors at all.
func (r ComparisonResult) IsEmpty() bool {
	return r.ActionCount() == 0 && len(r.Unchanged) == 0 && len(r.Invalid) == 0
}

// AllSynced returns the files that exist on both sides once the pass
// completes, sorted by case-folded filename.
func (r ComparisonResult) AllSynced() []Descriptor {
	out := make([]Descriptor, 0, len(r.ToDownload)+len(r.ToUpload)+len(r.Unchanged))
	out = append(out, r.ToDownload...)
	out = append(out, r.ToUpload...)
	out = append(out, r.Unchanged...)

	SortByFilename(out)

	return out
}

// Bucket names returned by BucketOf.
const (
	BucketUnchanged        = "unchanged"
	BucketToUpload         = "to_upload"
	BucketToDownload       = "to_download"
	BucketToDeleteLocally  = "to_delete_locally"
	BucketToDeleteOnRemote = "to_delete_on_remote"
	BucketInvalid          = "invalid"
)

// BucketOf returns the bucket holding filename and the descriptor found
// there, or "" when the filename is not part of the result.
func (r ComparisonResult) BucketOf(filename string) (string, Descriptor) {
	buckets := []struct {
		name string
		ds   []Descriptor
	}{
		{BucketUnchanged, r.Unchanged},
		{BucketToUpload, r.ToUpload},
		{BucketToDownload, r.ToDownload},
		{BucketToDeleteLocally, r.ToDeleteLocally},
		{BucketToDeleteOnRemote, r.ToDeleteOnRemote},
		{BucketInvalid, r.Invalid},
	}
	for _, b := range buckets {
		for _, d := range b.ds {
			if d.Filename == filename {
				return b.name, d
			}
		}
	}

	return "", Descriptor{}
}

// SortByFilename sorts ds in place by case-folded filename, falling back
// to the raw filename so the order is total.
func SortByFilename(ds []Descriptor) {
	folder := cases.Fold()
	slices.SortStableFunc(ds, func(a, b Descriptor) int {
		if c := strings.Compare(folder.String(a.Filename), folder.String(b.Filename)); c != 0 {
			return c
		}

		return strings.Compare(a.Filename, b.Filename)
	})
}

// Compare classifies remote and local descriptors into a
// ComparisonResult. canHandle reports whether the local side can process
// a remote filename; nil accepts everything. Compare performs no I/O and
// never mutates its inputs. When a side lists the same filename twice
// the first occurrence wins.
func Compare(remote, local []Descriptor, canHandle func(string) bool) ComparisonResult {
	var res ComparisonResult

	claimed := mapset.NewThreadUnsafeSet[string]()

	locals := slices.Clone(local)
	localIdx := make(map[string]int, len(locals))

	for i, d := range locals {
		if _, dup := localIdx[d.Filename]; !dup {
			localIdx[d.Filename] = i
		}
	}

	// Step 1: split off remote entries the local side cannot handle.
	// A local file of the same name is accounted for by Invalid.
	candidates := make([]Descriptor, 0, len(remote))

	for _, r := range remote {
		if canHandle != nil && !canHandle(r.Filename) {
			res.Invalid = append(res.Invalid, r)
			claimed.Add(r.Filename)

			continue
		}

		candidates = append(candidates, r)
	}

	// Step 2: remote tombstones delete the local copy.
	remoteToCompare := make([]Descriptor, 0, len(candidates))
	remoteIdx := make(map[string]Descriptor, len(candidates))

	for _, r := range candidates {
		if !r.IsDeleted() {
			remoteToCompare = append(remoteToCompare, r)
			if _, dup := remoteIdx[r.Filename]; !dup {
				remoteIdx[r.Filename] = r
			}

			continue
		}

		if i, ok := localIdx[r.Filename]; ok {
			r = r.WithLocalLocator(locals[i].LocalLocator)
			locals[i] = locals[i].WithState(StateDeleted)
		}

		res.ToDeleteLocally = append(res.ToDeleteLocally, r)
		claimed.Add(r.Filename)
	}

	// Step 3: local tombstones delete the remote copy.
	for _, l := range locals {
		if !l.IsDeleted() || claimed.Contains(l.Filename) {
			continue
		}

		if r, ok := remoteIdx[l.Filename]; ok {
			l = l.WithRemoteLocator(r.RemoteLocator)
		}

		res.ToDeleteOnRemote = append(res.ToDeleteOnRemote, l)
		claimed.Add(l.Filename)
	}

	// Step 4: files present remotely are compared by timestamp.
	for _, r := range remoteToCompare {
		if claimed.Contains(r.Filename) {
			continue
		}

		claimed.Add(r.Filename)

		var lp *Descriptor
		if i, ok := localIdx[r.Filename]; ok {
			l := locals[i]
			lp = &l
		}

		switch StatusComparedToLocal(r, lp) {
		case StatusSynced:
			// A new local file at the same instant still gets uploaded.
			if lp.State == StateNew {
				res.ToUpload = append(res.ToUpload, *lp)
			} else {
				res.Unchanged = append(res.Unchanged, *lp)
			}
		case StatusLocalNewer:
			res.ToUpload = append(res.ToUpload, *lp)
		default:
			res.ToDownload = append(res.ToDownload, r)
		}
	}

	// Step 5: local files the remote does not know about. Known files
	// that vanished remotely are orphans, new ones get uploaded.
	for _, l := range locals {
		if claimed.Contains(l.Filename) {
			continue
		}

		claimed.Add(l.Filename)

		if l.State == StateNew {
			res.ToUpload = append(res.ToUpload, l)
		} else {
			res.ToDeleteLocally = append(res.ToDeleteLocally, l)
		}
	}

	return res
}
