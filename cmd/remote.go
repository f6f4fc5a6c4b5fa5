package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/NEXORA-Studios/NovaCL/internal/client"
	"github.com/NEXORA-Studios/NovaCL/internal/data"
)

func newAddCmd(g *globalFlags) *cobra.Command {
	var (
		sf     startFlags
		followUp bool
	)
	cmd := &cobra.Command{
		Use:   "add URL [-o DIR]",
		Short: "Queue a download on the server",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := g.client()
			if err != nil {
				return err
			}
			ctx := cmd.Context()
			id, created, err := c.Start(ctx, sf.request(args[0]))
			if err != nil {
				return err
			}
			if created {
				fmt.Fprintln(cmd.OutOrStdout(), successStyle.Render("added "+id))
			} else {
				fmt.Fprintln(cmd.OutOrStdout(), warningStyle.Render("already downloading "+id))
			}
			if followUp {
				return watch(ctx, cmd, c, id)
			}
			return nil
		},
	}
	sf.register(cmd)
	cmd.Flags().BoolVarP(&followUp, "watch", "w", false, "Follow progress until the download ends")
	return cmd
}

func newListCmd(g *globalFlags) *cobra.Command {
	var asJSON bool
	cmd := &cobra.Command{
		Use:     "ls",
		Aliases: []string{"list"},
		Short:   "List downloads",
		Args:    cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := g.client()
			if err != nil {
				return err
			}
			list, err := c.List(cmd.Context())
			if err != nil {
				return err
			}
			if asJSON {
				enc := json.NewEncoder(cmd.OutOrStdout())
				enc.SetIndent("", "  ")
				return enc.Encode(list)
			}
			printTable(cmd.OutOrStdout(), list)
			return nil
		},
	}
	cmd.Flags().BoolVar(&asJSON, "json", false, "Print JSON")
	return cmd
}

func newStatusCmd(g *globalFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "status ID",
		Short: "Show a download's details and progress",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := g.client()
			if err != nil {
				return err
			}
			d, err := c.Get(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			printDetails(cmd.OutOrStdout(), d)
			return nil
		},
	}
}

func newControlCmd(g *globalFlags, use, short string, op func(*client.Client, context.Context, string) error) *cobra.Command {
	return &cobra.Command{
		Use:   use + " ID...",
		Short: short,
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := g.client()
			if err != nil {
				return err
			}
			var errs []error
			for _, id := range args {
				if err := op(c, cmd.Context(), id); err != nil {
					fmt.Fprintln(cmd.ErrOrStderr(), errorStyle.Render(id+": "+err.Error()))
					errs = append(errs, err)
					continue
				}
				fmt.Fprintln(cmd.OutOrStdout(), successStyle.Render(use+" "+id))
			}
			return errors.Join(errs...)
		},
	}
}

func newWatchCmd(g *globalFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "watch [ID]",
		Short: "Stream download events; with an ID, follow that download's progress",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := g.client()
			if err != nil {
				return err
			}
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			if len(args) == 1 {
				return watch(ctx, cmd, c, args[0])
			}
			events, err := c.Events(ctx, "")
			if err != nil {
				return err
			}
			for e := range events {
				line := fmt.Sprintf("%s %s", e.ID, e.Type)
				if e.Progress != nil {
					line = progressLine(e.ID, *e.Progress)
				}
				if e.Error != "" {
					line += " " + errorStyle.Render(e.Error)
				}
				fmt.Fprintln(cmd.OutOrStdout(), line)
			}
			return nil
		},
	}
}

// watch follows one download by polling its progress, which also covers
// downloads that finished before the call.
func watch(ctx context.Context, cmd *cobra.Command, c *client.Client, id string) error {
	d, err := c.Get(ctx, id)
	if err != nil {
		return err
	}
	return follow(ctx, cmd.OutOrStdout(), d.Name, func(ctx context.Context) (data.Progress, error) {
		return c.Progress(ctx, id)
	}, d.Path())
}
