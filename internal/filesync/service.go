package filesync

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync/atomic"

	syncerr "github.com/alexjbarnes/cloudsync/internal/errors"
	mapset "github.com/deckarep/golang-set/v2"
	"github.com/dustin/go-humanize"
	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"
)

const (
	// defaultConcurrency bounds the number of file operations in flight
	// during a pass.
	defaultConcurrency = 8

	// defaultProgressBuffer is the number of progress notifications that
	// may queue up before workers wait on a slow callback.
	defaultProgressBuffer = 64
)

// Phase is the step a pass is currently in.
type Phase int32

const (
	PhaseIdle Phase = iota
	PhasePreparing
	PhaseListing
	PhaseComparing
	PhaseExecuting
	PhaseCommitting
)

func (p Phase) String() string {
	switch p {
	case PhaseIdle:
		return "idle"
	case PhasePreparing:
		return "preparing"
	case PhaseListing:
		return "listing"
	case PhaseComparing:
		return "comparing"
	case PhaseExecuting:
		return "executing"
	case PhaseCommitting:
		return "committing"
	default:
		return fmt.Sprintf("phase(%d)", int32(p))
	}
}

// Outcome is the result of a pass. OK is true exactly when Errors is
// empty.
type Outcome struct {
	OK     bool
	Errors []error

	// Synced holds the descriptors handed to the local handler's commit
	// for sync passes, and the removed descriptors for Delete.
	Synced []Descriptor
}

func newOutcome(errs []error, synced []Descriptor) Outcome {
	return Outcome{OK: len(errs) == 0, Errors: errs, Synced: synced}
}

func failed(errs ...error) Outcome {
	return newOutcome(errs, nil)
}

// Option configures a Service.
type Option func(*Service)

// WithConcurrency sets the maximum number of concurrent file operations.
func WithConcurrency(n int) Option {
	return func(s *Service) {
		if n > 0 {
			s.concurrency = n
		}
	}
}

// WithProgressBuffer sets how many progress notifications may be queued
// ahead of the callback.
func WithProgressBuffer(n int) Option {
	return func(s *Service) {
		if n >= 0 {
			s.progressBuffer = n
		}
	}
}

// Service drives sync passes between a StorageBackend and a
// LocalDataHandler. At most one full or partial pass runs at a time.
type Service struct {
	backend StorageBackend
	handler LocalDataHandler
	logger  *slog.Logger

	concurrency    int
	progressBuffer int

	syncing atomic.Bool
	phase   atomic.Int32
}

// NewService creates a Service.
func NewService(backend StorageBackend, handler LocalDataHandler, logger *slog.Logger, opts ...Option) *Service {
	s := &Service{
		backend:        backend,
		handler:        handler,
		logger:         logger,
		concurrency:    defaultConcurrency,
		progressBuffer: defaultProgressBuffer,
	}
	for _, opt := range opts {
		opt(s)
	}

	return s
}

// IsSyncing reports whether a pass is running.
func (s *Service) IsSyncing() bool {
	return s.syncing.Load()
}

// Phase returns the step the running pass is in, or PhaseIdle.
func (s *Service) Phase() Phase {
	return Phase(s.phase.Load())
}

// ServiceType returns the type of the configured backend.
func (s *Service) ServiceType() ServiceType {
	return s.backend.ServiceType()
}

// ShouldBeginFullSync reports whether the backend is ready for a pass.
func (s *Service) ShouldBeginFullSync() bool {
	return !s.IsSyncing() && s.backend.IsReadyForSyncing()
}

// FullSync runs a pass over every local and remote file. The returned
// error is non-nil only when another pass is already running, in which
// case nothing happens. All other failures are reported in the Outcome.
// Cancelling ctx does not stop a pass once it has started.
func (s *Service) FullSync(ctx context.Context, progress ProgressFunc) (Outcome, error) {
	if err := s.tryStart("full sync"); err != nil {
		return rejected(err)
	}
	defer s.release()

	return s.run(ctx, pass{full: true, progress: progress}), nil
}

// Sync runs a partial pass limited to the owners of the given
// descriptors. Only remote files whose identifier matches one of those
// owners take part, and the commit is flagged as partial.
func (s *Service) Sync(ctx context.Context, descriptors []Descriptor) (Outcome, error) {
	if err := s.tryStart("partial sync"); err != nil {
		return rejected(err)
	}
	defer s.release()

	return s.run(ctx, pass{local: descriptors}), nil
}

// BeginFullSync starts a full pass in the background and calls done
// once it finishes. It returns false without ever calling done when a
// pass is already running.
func (s *Service) BeginFullSync(ctx context.Context, progress ProgressFunc, done CompletionFunc) bool {
	return s.begin(ctx, "full sync", pass{full: true, progress: progress}, done)
}

// BeginSync is the background form of Sync.
func (s *Service) BeginSync(ctx context.Context, descriptors []Descriptor, done CompletionFunc) bool {
	return s.begin(ctx, "partial sync", pass{local: descriptors}, done)
}

func (s *Service) begin(ctx context.Context, op string, p pass, done CompletionFunc) bool {
	if done == nil {
		done = func(bool, []error) {}
	}

	if err := s.tryStart(op); err != nil {
		if errors.Is(err, syncerr.ErrSyncInProgress) {
			return false
		}

		go done(false, []error{err})

		return true
	}

	go func() {
		o := s.run(ctx, p)
		s.release()
		done(o.OK, o.Errors)
	}()

	return true
}

// Delete removes files remotely, then removes their local data. It
// bypasses comparison and does not wait for a running pass.
func (s *Service) Delete(ctx context.Context, descriptors []Descriptor) Outcome {
	if err := s.checkPreconditions(); err != nil {
		return failed(err)
	}

	ctx = context.WithoutCancel(ctx)
	ds := append([]Descriptor(nil), descriptors...)
	results := make([]error, len(ds))

	g := new(errgroup.Group)
	g.SetLimit(s.concurrency)

	for i := range ds {
		g.Go(func() error {
			results[i] = s.deleteRemotely(ctx, &ds[i])
			return nil
		})
	}

	_ = g.Wait()

	var (
		errs    []error
		removed []Descriptor
	)

	for i, err := range results {
		if err != nil {
			errs = append(errs, wrapLeaves("deleting "+ds[i].Filename, err)...)
			continue
		}

		removed = append(removed, ds[i])
	}

	s.logger.Info("delete: complete",
		slog.Int("removed", len(removed)),
		slog.Int("errors", len(errs)),
	)

	return newOutcome(errs, removed)
}

// Rename applies a batch of renames remotely, then locally. The local
// handler is only invoked when the backend accepted the whole batch.
// Like a sync request it is rejected while a pass is running.
func (s *Service) Rename(ctx context.Context, changes []Rename) (Outcome, error) {
	if s.syncing.Load() {
		s.logger.Info("rename: ignored, a sync pass is running")
		return Outcome{}, syncerr.ErrSyncInProgress
	}

	if err := s.checkPreconditions(); err != nil {
		return failed(err), nil
	}

	if len(changes) == 0 {
		return newOutcome(nil, nil), nil
	}

	ctx = context.WithoutCancel(ctx)

	if err := s.backend.Rename(ctx, changes); err != nil {
		errs := syncerr.Flatten(err)
		s.logger.Warn("rename: rejected by backend", slog.Int("errors", len(errs)))

		return failed(errs...), nil
	}

	if err := s.handler.ApplyRenames(ctx, changes); err != nil {
		return failed(syncerr.Flatten(err)...), nil
	}

	s.logger.Info("rename: complete", slog.Int("count", len(changes)))

	return newOutcome(nil, nil), nil
}

// Plan lists both sides and returns the comparison without executing
// anything.
func (s *Service) Plan(ctx context.Context) (ComparisonResult, error) {
	if err := s.checkPreconditions(); err != nil {
		return ComparisonResult{}, err
	}

	local, err := s.handler.KnownLocalDescriptors(ctx)
	if err != nil {
		return ComparisonResult{}, fmt.Errorf("reading local descriptors: %w", err)
	}

	remote, err := s.backend.ListRootFolder(ctx)
	if err != nil {
		return ComparisonResult{}, fmt.Errorf("listing remote folder: %w", err)
	}

	return Compare(remote, local, s.handler.CanHandle), nil
}

func rejected(err error) (Outcome, error) {
	if errors.Is(err, syncerr.ErrSyncInProgress) {
		return Outcome{}, err
	}

	return failed(err), nil
}

func (s *Service) checkPreconditions() error {
	if !s.backend.IsAuthenticated() {
		return syncerr.InitializationFailed("storage backend is not authenticated")
	}

	if !s.backend.IsReadyForSyncing() {
		return syncerr.InitializationFailed("storage backend is not ready for syncing")
	}

	return nil
}

// tryStart claims the service for a pass. It returns ErrSyncInProgress
// when a pass is running and an initialization error when the backend
// is not usable. The syncing flag is left untouched on failure.
func (s *Service) tryStart(op string) error {
	if s.syncing.Load() {
		s.logger.Info("sync: request ignored, a pass is already running", slog.String("op", op))
		return syncerr.ErrSyncInProgress
	}

	if err := s.checkPreconditions(); err != nil {
		s.logger.Warn("sync: cannot begin", slog.String("op", op), slog.String("error", err.Error()))
		return err
	}

	if !s.syncing.CompareAndSwap(false, true) {
		s.logger.Info("sync: request ignored, a pass is already running", slog.String("op", op))
		return syncerr.ErrSyncInProgress
	}

	return nil
}

func (s *Service) release() {
	s.setPhase(PhaseIdle)
	s.syncing.Store(false)
}

func (s *Service) setPhase(p Phase) {
	s.phase.Store(int32(p))
}

// pass describes one sync pass. A full pass reads all local descriptors
// from the handler. A partial pass uses local and filters the remote
// listing by the identifiers they belong to.
type pass struct {
	full     bool
	local    []Descriptor
	progress ProgressFunc
}

func (s *Service) run(ctx context.Context, p pass) Outcome {
	ctx = context.WithoutCancel(ctx)
	logger := s.logger.With(slog.String("pass", uuid.NewString()), slog.Bool("full", p.full))

	rep := newReporter(p.progress, s.progressBuffer)
	defer rep.close()

	s.setPhase(PhasePreparing)
	rep.status(StatusTextPreparing, "")

	local := p.local

	var filter mapset.Set[string]

	if p.full {
		var err error

		local, err = s.handler.KnownLocalDescriptors(ctx)
		if err != nil {
			logger.Error("sync: reading local descriptors failed", slog.String("error", err.Error()))
			return failed(fmt.Errorf("reading local descriptors: %w", err))
		}
	} else {
		if len(local) == 0 {
			logger.Debug("sync: nothing to do for an empty partial sync")
			return newOutcome(nil, nil)
		}

		filter = mapset.NewThreadUnsafeSet[string]()
		for id := range s.handler.GroupByIdentifier(local) {
			filter.Add(id)
		}

		// An empty filter would match no remote file and turn every
		// given local file into a local deletion.
		if filter.IsEmpty() {
			logger.Warn("sync: no identifiers for partial sync, skipping", slog.Int("files", len(local)))
			return newOutcome(nil, nil)
		}
	}

	s.setPhase(PhaseListing)
	rep.status(StatusTextListing, "")

	remote, err := s.backend.ListRootFolder(ctx)
	if err != nil {
		errs := wrapLeaves("listing remote folder", err)
		logger.Error("sync: listing remote folder failed", slog.Int("errors", len(errs)))

		return failed(errs...)
	}

	if filter != nil {
		remote = s.filterByIdentifier(remote, filter)
	}

	s.setPhase(PhaseComparing)
	rep.status(StatusTextComparing, "")

	res := Compare(remote, local, s.handler.CanHandle)

	logger.Info("sync: compared",
		slog.Int("remote", len(remote)),
		slog.Int("local", len(local)),
		slog.Int("unchanged", len(res.Unchanged)),
		slog.Int("upload", len(res.ToUpload)),
		slog.Int("download", len(res.ToDownload)),
		slog.Int("delete_local", len(res.ToDeleteLocally)),
		slog.Int("delete_remote", len(res.ToDeleteOnRemote)),
		slog.Int("invalid", len(res.Invalid)),
	)

	s.setPhase(PhaseExecuting)
	rep.expect(res.ActionCount())

	errs := s.execute(ctx, &res, rep, logger)

	s.setPhase(PhaseCommitting)
	rep.status(StatusTextSaving, "")

	synced := res.AllSynced()
	if err := s.handler.Commit(ctx, synced, p.full); err != nil {
		logger.Error("sync: commit failed", slog.String("error", err.Error()))
		errs = append(errs, wrapLeaves("committing local data", err)...)
	}

	rep.status(StatusTextDone, "")

	expected, completed := rep.counts()
	logger.Info("sync: pass complete",
		slog.Int("expected", expected),
		slog.Int("completed", completed),
		slog.Int("synced", len(synced)),
		slog.Int("errors", len(errs)),
	)

	return newOutcome(errs, synced)
}

func (s *Service) filterByIdentifier(remote []Descriptor, ids mapset.Set[string]) []Descriptor {
	out := make([]Descriptor, 0, len(remote))
	for _, d := range remote {
		if ids.Contains(s.handler.IdentifierFor(d)) {
			out = append(out, d)
		}
	}

	return out
}

type operation struct {
	verb string
	d    *Descriptor
	fn   func(ctx context.Context, d *Descriptor) error
}

// execute runs every actionable bucket of res concurrently. Each
// operation owns exactly one descriptor slot in res and records its
// error in its own result slot; errors are merged after all finish.
func (s *Service) execute(ctx context.Context, res *ComparisonResult, rep *reporter, logger *slog.Logger) []error {
	var ops []operation

	add := func(ds []Descriptor, verb string, fn func(context.Context, *Descriptor) error) {
		for i := range ds {
			ops = append(ops, operation{verb: verb, d: &ds[i], fn: fn})
		}
	}

	add(res.ToDeleteLocally, "delete local", s.deleteLocally)
	add(res.ToUpload, "upload", s.upload)
	add(res.ToDownload, "download", s.download)
	add(res.ToDeleteOnRemote, "delete remote", s.deleteRemotely)

	results := make([]error, len(ops))

	g := new(errgroup.Group)
	g.SetLimit(s.concurrency)

	for i, op := range ops {
		g.Go(func() error {
			err := op.fn(ctx, op.d)
			results[i] = err

			if err != nil {
				logger.Warn("sync: operation failed",
					slog.String("op", op.verb),
					slog.String("path", op.d.Filename),
					slog.String("error", err.Error()),
				)
			} else {
				logger.Debug("sync: operation done",
					slog.String("op", op.verb),
					slog.String("path", op.d.Filename),
				)
			}

			rep.step(progressDetail(op.verb, *op.d, err))

			return nil
		})
	}

	_ = g.Wait()

	var errs []error

	for i, err := range results {
		if err != nil {
			errs = append(errs, wrapLeaves(ops[i].verb+" "+ops[i].d.Filename, err)...)
		}
	}

	return errs
}

func (s *Service) deleteLocally(ctx context.Context, d *Descriptor) error {
	if err := s.handler.RemoveLocalData(ctx, d.LocalLocator, *d); err != nil {
		return err
	}

	*d = d.WithState(StateDeleted)

	return nil
}

func (s *Service) upload(ctx context.Context, d *Descriptor) error {
	c := *d
	if err := s.handler.PrepareLocalData(ctx, &c); err != nil {
		return err
	}

	if err := s.backend.Upload(ctx, c, true); err != nil {
		return err
	}

	*d = c.WithState(StateNormal)

	return nil
}

func (s *Service) download(ctx context.Context, d *Descriptor) error {
	data, err := s.backend.Download(ctx, *d)
	if err != nil {
		return err
	}

	c := *d
	if err := s.handler.SaveLocally(ctx, data, &c); err != nil {
		return err
	}

	if c.LocalLocator == "" {
		panic(fmt.Sprintf("filesync: local handler saved %q without setting a local locator", c.Filename))
	}

	if c.Size == 0 {
		c.Size = int64(len(data))
	}

	c.State = StateNormal
	c.Dirty = true
	*d = c

	return nil
}

func (s *Service) deleteRemotely(ctx context.Context, d *Descriptor) error {
	if err := s.backend.Remove(ctx, *d); err != nil {
		return err
	}

	if err := s.handler.RemoveLocalData(ctx, d.LocalLocator, *d); err != nil {
		return err
	}

	*d = d.WithState(StateDeleted)

	return nil
}

func progressDetail(verb string, d Descriptor, err error) string {
	if err != nil {
		return fmt.Sprintf("%s %s failed", verb, d.Filename)
	}

	if d.Size > 0 && (verb == "upload" || verb == "download") {
		return fmt.Sprintf("%s %s (%s)", verb, d.Filename, humanize.Bytes(uint64(d.Size)))
	}

	return fmt.Sprintf("%s %s", verb, d.Filename)
}

// wrapLeaves flattens joined errors and prefixes each leaf with context.
func wrapLeaves(prefix string, err error) []error {
	leaves := syncerr.Flatten(err)
	out := make([]error, 0, len(leaves))

	for _, e := range leaves {
		out = append(out, fmt.Errorf("%s: %w", prefix, e))
	}

	return out
}
