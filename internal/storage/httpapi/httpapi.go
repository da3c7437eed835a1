// Package httpapi is a StorageBackend for Dropbox-style HTTP file APIs:
// JSON RPC endpoints on one host, file content endpoints on another.
package httpapi

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"strings"
	"time"

	syncerr "github.com/alexjbarnes/cloudsync/internal/errors"
	"github.com/alexjbarnes/cloudsync/internal/filesync"
	"github.com/alexjbarnes/cloudsync/internal/storage/retry"
	"github.com/tidwall/gjson"
	"golang.org/x/sync/errgroup"
)

const (
	DefaultAPIURL     = "https://api.dropboxapi.com"
	DefaultContentURL = "https://content.dropboxapi.com"

	// clientModifiedLayout is the provider's timestamp format; it has
	// second precision.
	clientModifiedLayout = "2006-01-02T15:04:05Z"

	// renameValidationLimit bounds concurrent metadata lookups.
	renameValidationLimit = 8
)

// tombstoneTime makes deleted entries newer than any real file.
var tombstoneTime = time.Date(9999, 12, 31, 0, 0, 0, 0, time.UTC)

// Config holds the connection settings for a Backend.
type Config struct {
	APIURL     string
	ContentURL string
	Token      string

	// MaxUploadRetries bounds rate-limit retries on upload. Zero retries
	// without limit.
	MaxUploadRetries int

	HTTPClient *http.Client
}

// Backend talks to the provider over HTTP with a bearer token.
type Backend struct {
	httpClient *http.Client
	apiURL     string
	contentURL string
	token      string
	logger     *slog.Logger
	retry      retry.Policy
}

var _ filesync.StorageBackend = (*Backend)(nil)

// New creates a Backend. Empty URLs fall back to the Dropbox hosts.
// If cfg.HTTPClient is nil, a client with a timeout and a same-host
// redirect policy is created.
func New(cfg Config, logger *slog.Logger) *Backend {
	httpClient := cfg.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{
			Timeout:       httpClientTimeout,
			CheckRedirect: sameHostRedirectPolicy,
		}
	}

	apiURL := strings.TrimRight(cfg.APIURL, "/")
	if apiURL == "" {
		apiURL = DefaultAPIURL
	}

	contentURL := strings.TrimRight(cfg.ContentURL, "/")
	if contentURL == "" {
		contentURL = DefaultContentURL
	}

	return &Backend{
		httpClient: httpClient,
		apiURL:     apiURL,
		contentURL: contentURL,
		token:      cfg.Token,
		logger:     logger,
		retry: retry.Policy{
			Max:    cfg.MaxUploadRetries,
			Delay:  retryAfter,
			Logger: logger,
		},
	}
}

func (b *Backend) IsAuthenticated() bool {
	return b.token != ""
}

func (b *Backend) IsReadyForSyncing() bool {
	return b.token != ""
}

func (b *Backend) ServiceType() filesync.ServiceType {
	return filesync.ServiceHTTP
}

type listFolderArgs struct {
	Path           string `json:"path"`
	Recursive      bool   `json:"recursive"`
	IncludeDeleted bool   `json:"include_deleted"`
}

type cursorArgs struct {
	Cursor string `json:"cursor"`
}

// ListRootFolder pages through the root folder, including deleted
// entries. Folders are skipped.
func (b *Backend) ListRootFolder(ctx context.Context) ([]filesync.Descriptor, error) {
	if !b.IsAuthenticated() {
		return nil, syncerr.NotAuthenticated()
	}

	body, err := b.rpc(ctx, "/2/files/list_folder", listFolderArgs{Path: "", IncludeDeleted: true})
	if err != nil {
		return nil, classify("", err)
	}

	var out []filesync.Descriptor

	for {
		page := gjson.ParseBytes(body)

		for _, entry := range page.Get("entries").Array() {
			if d, ok := descriptorFor(entry); ok {
				out = append(out, d)
			}
		}

		if !page.Get("has_more").Bool() {
			return out, nil
		}

		body, err = b.rpc(ctx, "/2/files/list_folder/continue", cursorArgs{Cursor: page.Get("cursor").String()})
		if err != nil {
			return nil, classify("", err)
		}
	}
}

func descriptorFor(entry gjson.Result) (filesync.Descriptor, bool) {
	name := entry.Get("name").String()
	if name == "" {
		return filesync.Descriptor{}, false
	}

	locator := entry.Get("path_lower").String()
	if locator == "" {
		locator = "/" + strings.ToLower(name)
	}

	switch entry.Get(`\.tag`).String() {
	case "file":
		// A malformed timestamp leaves the zero time, which always loses.
		updated, _ := time.Parse(time.RFC3339, entry.Get("client_modified").String())

		return filesync.Descriptor{
			Filename:      name,
			State:         filesync.StateNormal,
			UpdatedAt:     updated,
			Size:          entry.Get("size").Int(),
			RemoteLocator: locator,
		}, true
	case "deleted":
		return filesync.Descriptor{
			Filename:      name,
			State:         filesync.StateDeleted,
			UpdatedAt:     tombstoneTime,
			RemoteLocator: locator,
		}, true
	default:
		return filesync.Descriptor{}, false
	}
}

type uploadArgs struct {
	Path           string `json:"path"`
	Mode           string `json:"mode"`
	Autorename     bool   `json:"autorename"`
	ClientModified string `json:"client_modified,omitempty"`
	Mute           bool   `json:"mute"`
}

// Upload sends the bytes at d.LocalLocator, stamped with d.UpdatedAt.
// Rate-limited attempts wait for the provider's retry_after and retry.
func (b *Backend) Upload(ctx context.Context, d filesync.Descriptor, overwrite bool) error {
	if !b.IsAuthenticated() {
		return syncerr.NotAuthenticated()
	}

	if d.LocalLocator == "" {
		return syncerr.NoContent(d.Filename)
	}

	data, err := os.ReadFile(d.LocalLocator)
	if err != nil {
		return syncerr.NoContent(d.Filename)
	}

	args := uploadArgs{Path: "/" + d.Filename, Mode: "add"}
	if overwrite {
		args.Mode = "overwrite"
	}

	if !d.UpdatedAt.IsZero() {
		args.ClientModified = d.UpdatedAt.UTC().Format(clientModifiedLayout)
	}

	return b.retry.Do(ctx, d.Filename, func() error {
		if _, err := b.content(ctx, "/2/files/upload", args, data); err != nil {
			return classify(d.Filename, err)
		}

		return nil
	})
}

type pathArgs struct {
	Path string `json:"path"`
}

func (b *Backend) Download(ctx context.Context, d filesync.Descriptor) ([]byte, error) {
	if !b.IsAuthenticated() {
		return nil, syncerr.NotAuthenticated()
	}

	data, err := b.content(ctx, "/2/files/download", pathArgs{Path: "/" + d.Filename}, nil)
	if err != nil {
		return nil, classify(d.Filename, err)
	}

	return data, nil
}

// Remove deletes the file. A file that is already gone is not an error.
func (b *Backend) Remove(ctx context.Context, d filesync.Descriptor) error {
	if !b.IsAuthenticated() {
		return syncerr.NotAuthenticated()
	}

	_, err := b.rpc(ctx, "/2/files/delete_v2", pathArgs{Path: "/" + d.Filename})
	if err == nil {
		return nil
	}

	err = classify(d.Filename, err)
	if errors.Is(err, syncerr.ErrNoContent) {
		return nil
	}

	return err
}

type moveArgs struct {
	FromPath   string `json:"from_path"`
	ToPath     string `json:"to_path"`
	Autorename bool   `json:"autorename"`
}

// Rename validates every change against the provider first. If any
// source is missing, any destination exists or any extension changes,
// nothing is moved and every problem is returned.
func (b *Backend) Rename(ctx context.Context, changes []filesync.Rename) error {
	if !b.IsAuthenticated() {
		return syncerr.NotAuthenticated()
	}

	if err := b.validateRenames(ctx, changes); err != nil {
		return err
	}

	var errs []error

	for _, c := range changes {
		args := moveArgs{FromPath: "/" + c.Source.Filename, ToPath: "/" + c.Destination.Filename}
		if _, err := b.rpc(ctx, "/2/files/move_v2", args); err != nil {
			errs = append(errs, classify(c.Source.Filename, err))
			continue
		}

		b.logger.Info("renamed remote file",
			slog.String("from", c.Source.Filename),
			slog.String("to", c.Destination.Filename),
		)
	}

	return errors.Join(errs...)
}

func (b *Backend) validateRenames(ctx context.Context, changes []filesync.Rename) error {
	// Two slots per change: source lookup then destination lookup.
	results := make([]error, 2*len(changes))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(renameValidationLimit)

	for i, c := range changes {
		if !sameExtension(c.Source.Filename, c.Destination.Filename) {
			results[2*i] = syncerr.DifferentFileTypes(c.Source.Filename, c.Destination.Filename)
			continue
		}

		g.Go(func() error {
			exists, err := b.exists(gctx, c.Source.Filename)

			switch {
			case err != nil:
				results[2*i] = err
			case !exists:
				results[2*i] = syncerr.NoContent(c.Source.Filename)
			}

			return nil
		})

		g.Go(func() error {
			exists, err := b.exists(gctx, c.Destination.Filename)

			switch {
			case err != nil:
				results[2*i+1] = err
			case exists:
				results[2*i+1] = syncerr.FileAlreadyExists(c.Destination.Filename)
			}

			return nil
		})
	}

	_ = g.Wait()

	return errors.Join(append(results, filesync.CheckRenameBatch(changes, strings.ToLower))...)
}

// exists reports whether a live file is at filename.
func (b *Backend) exists(ctx context.Context, filename string) (bool, error) {
	body, err := b.rpc(ctx, "/2/files/get_metadata", pathArgs{Path: "/" + filename})
	if err == nil {
		return gjson.GetBytes(body, `\.tag`).String() != "deleted", nil
	}

	err = classify(filename, err)
	if errors.Is(err, syncerr.ErrNoContent) {
		return false, nil
	}

	return false, fmt.Errorf("looking up %s: %w", filename, err)
}

func sameExtension(a, b string) bool {
	return strings.EqualFold(ext(a), ext(b))
}

func ext(name string) string {
	if i := strings.LastIndexByte(name, '.'); i >= 0 {
		return name[i:]
	}

	return ""
}
