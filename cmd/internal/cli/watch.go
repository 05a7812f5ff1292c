package cli

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"arcfeed/cmd/internal/metrics"
	"arcfeed/cmd/internal/stream"

	"github.com/spf13/pflag"
	"golang.org/x/sync/errgroup"
)

func watchCommand(env Env) *Command {
	return &Command{
		Name:    "watch",
		Summary: "Print recent history of a room, then follow new messages.",
		Usage:   "arcfeed watch [flags] <room-ref>",
		Flags: func() *pflag.FlagSet {
			fs := commonFlags("watch")
			fs.IntP("limit", "n", 0, "history window size (default from config)")
			fs.String("metrics-addr", "", "serve Prometheus stream metrics on this address")
			return fs
		},
		Run: func(ctx context.Context, fs *pflag.FlagSet, args []string) error {
			if len(args) != 1 {
				return errUsage
			}
			return runWatch(ctx, env, fs, args[0])
		},
	}
}

func runWatch(ctx context.Context, env Env, fs *pflag.FlagSet, ref string) error {
	cfg, c, log, err := setup(env, fs)
	if err != nil {
		return err
	}
	limit, _ := fs.GetInt("limit")
	if limit <= 0 {
		limit = cfg.HistoryLimit
	}
	metricsAddr, _ := fs.GetString("metrics-addr")

	room, err := c.Resolve(ctx, ref, cfg.Token)
	if err != nil {
		if stream.IsResolution(err) {
			return &ExitError{Code: ExitFailure, Err: fmt.Errorf("room not found: %s", ref)}
		}
		return err
	}

	reg := metrics.NewRegistry()
	sess := stream.NewSession(room, c, c,
		stream.WithLogger(log),
		stream.WithObserver(metrics.NewStream(reg)),
	)
	sess.CancelOn(env.Lifecycle)

	window, seq, err := sess.Start(ctx, cfg.Token, limit)
	if err != nil {
		if stream.IsCancelled(err) {
			return nil
		}
		return err
	}
	fmt.Fprintf(env.Stderr, "watching %s (%s), %d earlier messages\n", ref, room, len(window))

	runCtx, stop := context.WithCancel(ctx)
	defer stop()
	g, gctx := errgroup.WithContext(runCtx)

	if metricsAddr != "" {
		srv := &http.Server{Addr: metricsAddr, Handler: reg.Handler(), ReadHeaderTimeout: 5 * time.Second}
		g.Go(func() error {
			if err := srv.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
				return fmt.Errorf("metrics server: %w", err)
			}
			return nil
		})
		g.Go(func() error {
			<-gctx.Done()
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
			defer cancel()
			return srv.Shutdown(shutdownCtx)
		})
	}

	g.Go(func() error {
		defer stop()
		return stream.Pump(gctx, window, seq, NewRenderer(env.Stdout, env.Color))
	})

	err = g.Wait()
	switch {
	case err == nil:
		log.Debug("watch.done", "room_id", room, "state", sess.State().String())
		return nil
	case stream.IsInterrupted(err):
		return &ExitError{Code: ExitInterrupted, Err: err}
	default:
		return err
	}
}
