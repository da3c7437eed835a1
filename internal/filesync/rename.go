package filesync

import (
	"errors"
	"fmt"

	syncerr "github.com/alexjbarnes/cloudsync/internal/errors"
	mapset "github.com/deckarep/golang-set/v2"
)

// CheckRenameBatch reports changes that collide with an earlier change
// in the same batch. A repeated destination is FileAlreadyExists and a
// repeated source is Unexpected. key maps a filename to the name the
// backend compares on; nil compares filenames as given.
func CheckRenameBatch(changes []Rename, key func(string) string) error {
	if key == nil {
		key = func(s string) string { return s }
	}

	sources := mapset.NewThreadUnsafeSet[string]()
	destinations := mapset.NewThreadUnsafeSet[string]()

	var errs []error

	for _, c := range changes {
		if !sources.Add(key(c.Source.Filename)) {
			errs = append(errs, syncerr.Unexpected(fmt.Sprintf("%s is renamed more than once in one batch", c.Source.Filename)))
		}

		if !destinations.Add(key(c.Destination.Filename)) {
			errs = append(errs, syncerr.FileAlreadyExists(c.Destination.Filename))
		}
	}

	return errors.Join(errs...)
}
