package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"time"

	syncerr "github.com/alexjbarnes/cloudsync/internal/errors"
	"github.com/alexjbarnes/cloudsync/internal/filesync"
	"github.com/alexjbarnes/cloudsync/internal/localstore"
	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"
	"gopkg.in/yaml.v3"
)

const defaultWatchInterval = 5 * time.Minute

// withApp wraps a command body with openApp and close.
func withApp(fn func(cmd *cobra.Command, a *app, args []string) error) func(*cobra.Command, []string) error {
	return func(cmd *cobra.Command, args []string) error {
		a, err := openApp(cmd.Context())
		if err != nil {
			return err
		}
		defer a.close()

		return fn(cmd, a, args)
	}
}

func printProgress(w io.Writer) filesync.ProgressFunc {
	return func(p filesync.Progress) {
		if p.Expected > 0 {
			fmt.Fprintf(w, "[%d/%d] %s: %s\n", p.Completed, p.Expected, p.Status, p.Detail)
			return
		}

		if p.Detail != "" {
			fmt.Fprintf(w, "%s: %s\n", p.Status, p.Detail)
			return
		}

		fmt.Fprintln(w, p.Status)
	}
}

func newSyncCmd() *cobra.Command {
	var only []string

	cmd := &cobra.Command{
		Use:   "sync",
		Short: "Run a full sync, or a partial sync of the given files",
		Args:  cobra.NoArgs,
		RunE: withApp(func(cmd *cobra.Command, a *app, _ []string) error {
			ctx := cmd.Context()

			if len(only) > 0 {
				ds, err := a.descriptorsFor(ctx, only)
				if err != nil {
					return err
				}

				o, err := a.svc.Sync(ctx, ds)
				if err != nil {
					return err
				}

				return a.outcomeError("partial sync", o)
			}

			o, err := a.svc.FullSync(ctx, printProgress(cmd.ErrOrStderr()))
			if err != nil {
				return err
			}

			fmt.Fprintf(cmd.OutOrStdout(), "%s files in sync\n", humanize.Comma(int64(len(o.Synced))))

			return a.outcomeError("full sync", o)
		}),
	}

	cmd.Flags().StringSliceVar(&only, "only", nil, "sync only the owners of these files")

	return cmd
}

func newPlanCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "plan",
		Short: "Show what a full sync would do, as YAML",
		Args:  cobra.NoArgs,
		RunE: withApp(func(cmd *cobra.Command, a *app, _ []string) error {
			res, err := a.svc.Plan(cmd.Context())
			if err != nil {
				return err
			}

			enc := yaml.NewEncoder(cmd.OutOrStdout())
			enc.SetIndent(2)

			if err := enc.Encode(res); err != nil {
				return fmt.Errorf("encoding plan: %w", err)
			}

			return enc.Close()
		}),
	}
}

func newWatchCmd() *cobra.Command {
	var interval time.Duration

	cmd := &cobra.Command{
		Use:   "watch",
		Short: "Sync continuously: local changes immediately, remote changes periodically",
		Args:  cobra.NoArgs,
		RunE: withApp(func(cmd *cobra.Command, a *app, _ []string) error {
			return watch(cmd.Context(), a, interval, cmd.ErrOrStderr())
		}),
	}

	cmd.Flags().DurationVar(&interval, "interval", defaultWatchInterval, "time between full syncs")

	return cmd
}

func watch(ctx context.Context, a *app, interval time.Duration, progressOut io.Writer) error {
	fullSync := func() {
		o, err := a.svc.FullSync(ctx, printProgress(progressOut))
		if errors.Is(err, syncerr.ErrSyncInProgress) {
			return
		}

		if err := a.outcomeError("full sync", o); err != nil {
			a.logger.Warn("full sync incomplete", slog.String("error", err.Error()))
		}
	}

	onChange := func(ctx context.Context, names []string) {
		ds, err := a.store.Lookup(ctx, names)
		if err != nil {
			a.logger.Warn("reading changed files", slog.String("error", err.Error()))
			return
		}

		o, err := a.svc.Sync(ctx, ds)
		if errors.Is(err, syncerr.ErrSyncInProgress) {
			// The next full sync picks these up.
			a.logger.Info("sync running, deferring local changes", slog.Int("files", len(names)))
			return
		}

		if err := a.outcomeError("partial sync", o); err != nil {
			a.logger.Warn("partial sync incomplete", slog.String("error", err.Error()))
		}
	}

	fullSync()

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		return localstore.NewWatcher(a.store, a.logger, onChange).Watch(gctx)
	})

	g.Go(func() error {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()

		for {
			select {
			case <-gctx.Done():
				return nil
			case <-ticker.C:
				fullSync()
			}
		}
	})

	return g.Wait()
}

func newDeleteCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "delete <file>...",
		Short: "Delete files remotely and locally",
		Args:  cobra.MinimumNArgs(1),
		RunE: withApp(func(cmd *cobra.Command, a *app, args []string) error {
			ds, err := a.descriptorsFor(cmd.Context(), args)
			if err != nil {
				return err
			}

			o := a.svc.Delete(cmd.Context(), ds)
			for _, d := range o.Synced {
				fmt.Fprintf(cmd.OutOrStdout(), "deleted %s\n", d.Filename)
			}

			return a.outcomeError("delete", o)
		}),
	}
}

func newRenameCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "rename <from>=<to>...",
		Short: "Rename files remotely and locally as one batch",
		Args:  cobra.MinimumNArgs(1),
		RunE: withApp(func(cmd *cobra.Command, a *app, args []string) error {
			changes, err := parseRenames(args)
			if err != nil {
				return err
			}

			o, err := a.svc.Rename(cmd.Context(), changes)
			if err != nil {
				return err
			}

			return a.outcomeError("rename", o)
		}),
	}
}

// parseRenames turns "from=to" arguments into a rename batch.
func parseRenames(args []string) ([]filesync.Rename, error) {
	changes := make([]filesync.Rename, 0, len(args))

	for _, arg := range args {
		from, to, ok := strings.Cut(arg, "=")
		if !ok || from == "" || to == "" {
			return nil, fmt.Errorf("invalid rename %q, want <from>=<to>", arg)
		}

		changes = append(changes, filesync.Rename{
			Source:      filesync.Descriptor{Filename: from},
			Destination: filesync.Descriptor{Filename: to},
		})
	}

	return changes, nil
}

func newStatusCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "status [file]...",
		Short: "Show the local store, when it last synced and the record of each given file",
		RunE: withApp(func(cmd *cobra.Command, a *app, args []string) error {
			out := cmd.OutOrStdout()

			fmt.Fprintf(out, "store:    %s\n", a.store.Dir())
			fmt.Fprintf(out, "backend:  %s\n", a.backend.ServiceType())
			fmt.Fprintf(out, "schema:   v%s\n", a.state.SchemaVersion())
			fmt.Fprintf(out, "records:  %s\n", humanize.Comma(int64(a.state.RecordCount(a.store.ID()))))

			last, err := a.store.LastSync()
			if err != nil {
				return err
			}

			if last == nil {
				fmt.Fprintln(out, "last sync: never")
			} else {
				kind := "partial"
				if last.Full {
					kind = "full"
				}

				fmt.Fprintf(out, "last sync: %s (%s, %s)\n", humanize.Time(last.At), kind, last.Service)
			}

			for _, name := range args {
				r, err := a.store.Record(name)
				if err != nil {
					return fmt.Errorf("reading record for %s: %w", name, err)
				}

				if r == nil {
					fmt.Fprintf(out, "%s: not synced\n", name)
					continue
				}

				fmt.Fprintf(out, "%s: %s, %s, updated %s\n", r.Filename, r.State, humanize.Bytes(uint64(r.Size)), humanize.Time(r.UpdatedAt))
			}

			return nil
		}),
	}
}
