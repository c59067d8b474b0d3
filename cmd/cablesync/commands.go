package main

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"

	"github.com/spf13/cobra"

	"github.com/hazyhaar/cablesync/auth"
	"github.com/hazyhaar/cablesync/cablesync"
	"github.com/hazyhaar/cablesync/kit"
	"github.com/hazyhaar/cablesync/trace"
)

type scopeFlags struct {
	cablesync.Scope
}

func (s *scopeFlags) register(cmd *cobra.Command) {
	cmd.Flags().StringVar(&s.Ship, "ship", "", "ship identifier (required)")
	cmd.Flags().StringVar(&s.Contract, "contract", "", "contract identifier (required)")
	cmd.Flags().StringVar(&s.Lot, "lot", "", "lot")
	cmd.Flags().StringVar(&s.ProjectCode, "project", "", "project code")
}

func printJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func newImportCommand(opts *rootOptions) *cobra.Command {
	var (
		scope     scopeFlags
		container string
		note      string
		actor     string
		force     bool
	)
	cmd := &cobra.Command{
		Use:   "import <file>",
		Short: "Import a spreadsheet into its dataset and print the result",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			data, err := os.ReadFile(args[0])
			if err != nil {
				return err
			}
			engine, err := cablesync.OpenEngine(opts.cfg)
			if err != nil {
				return err
			}
			defer engine.Close()

			ctx := kit.WithTransport(cmd.Context(), "cli")
			if actor != "" {
				ctx = kit.WithUserID(ctx, actor)
			}
			res, err := engine.Sync(ctx, cablesync.Request{
				Scope:       scope.Scope,
				ContainerID: container,
				Note:        note,
				Force:       force,
				FileName:    filepath.Base(args[0]),
				Data:        data,
			})
			if err != nil {
				return err
			}
			return printJSON(cmd.OutOrStdout(), res)
		},
	}
	scope.register(cmd)
	cmd.Flags().StringVar(&container, "container", "", "container reference, required for a new dataset")
	cmd.Flags().StringVar(&note, "note", "", "note stored on the import run")
	cmd.Flags().StringVar(&actor, "actor", os.Getenv("USER"), "identity recorded on the import run")
	cmd.Flags().BoolVar(&force, "force", false, "apply even if the content equals the current head")
	return cmd
}

func newRunsCommand(opts *rootOptions) *cobra.Command {
	var (
		scope  scopeFlags
		headID string
		limit  uint64
	)
	cmd := &cobra.Command{
		Use:   "runs",
		Short: "List the import runs of a dataset, newest first",
		Long:  "List the import runs of the head given by --head, or of the head resolved from the scope flags.",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			engine, err := cablesync.OpenEngine(opts.cfg)
			if err != nil {
				return err
			}
			defer engine.Close()

			ctx := cmd.Context()
			if headID == "" {
				head, err := engine.Head(ctx, scope.Scope)
				if err != nil {
					return err
				}
				headID = head.ID
			}
			head, err := engine.Store.GetSnapshot(ctx, headID)
			if err != nil {
				return err
			}
			runs, err := engine.Store.ListRuns(ctx, cablesync.RunFilter{HeadID: head.ID, Limit: limit})
			if err != nil {
				return err
			}
			return printJSON(cmd.OutOrStdout(), map[string]any{"head": head, "runs": runs})
		},
	}
	scope.register(cmd)
	cmd.Flags().StringVar(&headID, "head", "", "head snapshot id")
	cmd.Flags().Uint64Var(&limit, "limit", 20, "maximum number of runs")
	return cmd
}

func newTracesCommand(opts *rootOptions) *cobra.Command {
	var (
		slowest int
		traceID string
	)
	cmd := &cobra.Command{
		Use:   "traces",
		Short: "Print the slowest recorded SQL statements",
		Long:  "Print the slowest statements recorded while trace_sql was enabled, optionally for one request trace id.",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			engine, err := cablesync.OpenEngine(opts.cfg)
			if err != nil {
				return err
			}
			defer engine.Close()
			if engine.Traces == nil {
				return fmt.Errorf("observability_db_path is not configured")
			}
			entries, err := engine.Traces.Slowest(cmd.Context(), traceID, slowest)
			if err != nil {
				return err
			}
			if entries == nil {
				entries = []trace.Entry{}
			}
			return printJSON(cmd.OutOrStdout(), map[string]any{"traces": entries})
		},
	}
	cmd.Flags().IntVar(&slowest, "slowest", 20, "number of statements to print")
	cmd.Flags().StringVar(&traceID, "trace", "", "only statements of this trace id")
	return cmd
}

func newTokenCommand(opts *rootOptions) *cobra.Command {
	var (
		user string
		role string
		ttl  time.Duration
	)
	cmd := &cobra.Command{
		Use:   "token",
		Short: "Issue an API token signed with the configured secret",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if opts.cfg.JWTSecret == "" {
				return fmt.Errorf("jwt_secret is not configured")
			}
			tok, err := auth.GenerateToken([]byte(opts.cfg.JWTSecret), &auth.Claims{UserID: user, Role: role}, ttl)
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), tok)
			return nil
		},
	}
	cmd.Flags().StringVar(&user, "user", "", "user id (required)")
	cmd.Flags().StringVar(&role, "role", "", "role, checked against import_roles")
	cmd.Flags().DurationVar(&ttl, "ttl", 24*time.Hour, "token lifetime")
	cmd.MarkFlagRequired("user")
	return cmd
}
