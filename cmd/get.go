package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/NEXORA-Studios/NovaCL/internal/data"
	"github.com/NEXORA-Studios/NovaCL/internal/logging"
	"github.com/NEXORA-Studios/NovaCL/internal/progress"
)

const refreshInterval = 250 * time.Millisecond

type startFlags struct {
	output   string
	filename string
	segments int
}

func (f *startFlags) register(cmd *cobra.Command) {
	cmd.Flags().StringVarP(&f.output, "output", "o", ".", "Directory to save into")
	cmd.Flags().StringVarP(&f.filename, "filename", "f", "", "File name (default: last URL path element)")
	cmd.Flags().IntVarP(&f.segments, "segments", "n", 0, "Number of segments (default from config)")
}

func (f *startFlags) request(url string) data.StartRequest {
	return data.StartRequest{URL: url, SavePath: f.output, Filename: f.filename, Segments: f.segments}
}

// newGetCmd downloads one URL in-process without a server.
func newGetCmd(g *globalFlags) *cobra.Command {
	var (
		sf      startFlags
		limit   string
		verbose bool
	)
	cmd := &cobra.Command{
		Use:   "get URL [-o DIR]",
		Short: "Download a URL in the foreground",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := g.loadConfig()
			if err != nil {
				return err
			}
			if limit != "" {
				if cfg.BandwidthLimit, err = progress.ParseBytes(limit); err != nil {
					return fmt.Errorf("--limit: %w", err)
				}
			}
			if !verbose {
				cfg.Log.Level = "warn"
			}
			logger, logCloser, err := logging.New(cfg.Log, os.Stderr)
			if err != nil {
				return err
			}
			defer func() { _ = logCloser.Close() }()

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			a, err := newApp(cfg, logger, false)
			if err != nil {
				return err
			}
			defer func() {
				sctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
				defer cancel()
				_ = a.Close(sctx)
			}()

			dl, _, err := a.svc.Start(ctx, sf.request(args[0]))
			if err != nil {
				return err
			}
			return follow(ctx, cmd.OutOrStdout(), dl.Name, func(ctx context.Context) (data.Progress, error) {
				return a.svc.Progress(ctx, dl.ID)
			}, dl.Path())
		},
	}
	sf.register(cmd)
	cmd.Flags().StringVar(&limit, "limit", "", "Bandwidth limit such as 2MiB (per second)")
	cmd.Flags().BoolVarP(&verbose, "verbose", "v", false, "Log engine activity to stderr")
	return cmd
}

// follow redraws a progress line until the download ends or ctx is done.
func follow(ctx context.Context, w io.Writer, name string, poll func(context.Context) (data.Progress, error), path string) error {
	tick := time.NewTicker(refreshInterval)
	defer tick.Stop()
	for {
		p, err := poll(ctx)
		if err != nil {
			return err
		}
		fmt.Fprintf(w, "\r\033[K%s", progressLine(name, p))
		switch p.Status {
		case data.StatusCompleted:
			fmt.Fprintf(w, "\n%s\n", successStyle.Render("saved "+path))
			return nil
		case data.StatusFailed:
			fmt.Fprintln(w)
			return fmt.Errorf("download failed: %s", p.Error)
		case data.StatusCancelled:
			fmt.Fprintln(w)
			return fmt.Errorf("download cancelled")
		}
		select {
		case <-ctx.Done():
			fmt.Fprintf(w, "\n%s\n", warningStyle.Render("interrupted, partial file kept"))
			return nil
		case <-tick.C:
		}
	}
}
