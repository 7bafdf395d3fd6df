package cli

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/rpaops/orcsync/internal/store"
)

func NewInitDBCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "init-db",
		Short: "Create the warehouse tables if missing",
		RunE: func(c *cobra.Command, args []string) error {
			rt, err := newRuntime()
			if err != nil {
				return err
			}
			defer rt.Close()

			if err := store.EnsureSchema(c.Context(), rt.db, rt.dialect); err != nil {
				return err
			}
			fmt.Println("Warehouse schema is up to date.")
			return nil
		},
	}
}

func NewCheckpointCmd() *cobra.Command {
	var source string

	cmd := &cobra.Command{
		Use:   "checkpoint",
		Short: "Inspect or reset extraction checkpoints",
	}
	cmd.PersistentFlags().StringVarP(&source, "source", "s", "", "Source name (queue-items or jobs)")
	cmd.MarkPersistentFlagRequired("source")

	show := &cobra.Command{
		Use:   "show",
		Short: "Print the stored checkpoint for a source",
		RunE: func(c *cobra.Command, args []string) error {
			return withCheckpoints(source, func(ctx context.Context, name string, cps *store.CheckpointStore) error {
				cp, err := cps.Get(ctx, name)
				if errors.Is(err, sql.ErrNoRows) {
					fmt.Printf("%s: no checkpoint yet (first run extracts the full history window)\n", name)
					return nil
				}
				if err != nil {
					return err
				}
				fmt.Printf("%s: cursor=%s status=%s updated=%s\n", cp.Source, cp.Cursor, cp.Status, cp.UpdatedAt)
				return nil
			})
		},
	}

	reset := &cobra.Command{
		Use:   "reset",
		Short: "Drop the checkpoint so the next run re-extracts full history",
		RunE: func(c *cobra.Command, args []string) error {
			return withCheckpoints(source, func(ctx context.Context, name string, cps *store.CheckpointStore) error {
				if err := cps.Reset(ctx, name); err != nil {
					return err
				}
				fmt.Printf("%s: checkpoint reset\n", name)
				return nil
			})
		},
	}

	cmd.AddCommand(show, reset)
	return cmd
}

func withCheckpoints(source string, fn func(ctx context.Context, name string, cps *store.CheckpointStore) error) error {
	name, err := sourceName(source)
	if err != nil {
		return err
	}
	rt, err := newRuntime()
	if err != nil {
		return err
	}
	defer rt.Close()
	return fn(context.Background(), name, rt.checkpoints)
}
