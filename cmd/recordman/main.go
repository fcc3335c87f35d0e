// Command recordman runs the record manager's batch operations:
// normalization, deduplication, search index updates and store maintenance.
package main

import (
	"context"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/openlibhub/recordman/internal/controller"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	var lockfile string

	cmd := &cobra.Command{
		Use:   "recordman",
		Short: "Normalize, deduplicate and index bibliographic records",
		Long: `Recordman manages harvested bibliographic records: it normalizes raw
metadata into canonical attributes, maintains deduplication groups across
data sources and projects records into search index documents.`,
		SilenceUsage: true,
	}
	cmd.PersistentFlags().StringVar(&lockfile, "lockfile", "",
		"run lock file path (overrides configuration; empty uses the configured path)")

	cmd.AddCommand(
		newRenormalizeCmd(&lockfile),
		newDeduplicateCmd(&lockfile),
		newIndexUpdateCmd(&lockfile),
		newDumpCmd(&lockfile),
		newHostRelinkCmd(&lockfile),
		newMarkDeletedCmd(&lockfile),
		newDeleteSourceCmd(&lockfile),
		newMarkForUpdateCmd(&lockfile),
		newCheckDedupCmd(&lockfile),
	)
	return cmd
}

func newRenormalizeCmd(lockfile *string) *cobra.Command {
	var source, single string

	cmd := &cobra.Command{
		Use:   "renormalize",
		Short: "Re-parse stored raw metadata with the current drivers",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(*lockfile, func(ctx context.Context, a *app) error {
				result, err := a.controller.Renormalize(ctx, source, single)
				if err != nil {
					return err
				}
				fmt.Printf("renormalized %d records (%d failed)\n", result.Processed, result.Failed)
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&source, "source", "", "source to process")
	cmd.Flags().StringVar(&single, "single", "", "process only this record id")
	_ = cmd.MarkFlagRequired("source")
	return cmd
}

func newDeduplicateCmd(lockfile *string) *cobra.Command {
	var source, single string
	var all, markOnly bool

	cmd := &cobra.Command{
		Use:   "deduplicate",
		Short: "Match records and maintain deduplication groups",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(*lockfile, func(ctx context.Context, a *app) error {
				result, err := a.controller.Deduplicate(ctx, source, controller.DeduplicateOptions{
					RecordID: single,
					All:      all,
					MarkOnly: markOnly,
				})
				if err != nil {
					return err
				}
				fmt.Printf("deduplicated %d records: %d matched, %d conflicts\n",
					result.Processed, result.Matched, result.Conflicts)
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&source, "source", "", "source to process")
	cmd.Flags().StringVar(&single, "single", "", "process only this record id")
	cmd.Flags().BoolVar(&all, "all", false, "re-evaluate already processed records")
	cmd.Flags().BoolVar(&markOnly, "mark-only", false, "report would-be matches without writing groups")
	_ = cmd.MarkFlagRequired("source")
	return cmd
}

func newIndexUpdateCmd(lockfile *string) *cobra.Command {
	var source, single string
	var noCommit bool

	cmd := &cobra.Command{
		Use:   "index-update",
		Short: "Project records into search documents and submit them to Solr",
		RunE: func(cmd *cobra.Command, args []string) error {
			if single != "" && source == "" {
				return fmt.Errorf("--single requires --source")
			}
			return withApp(*lockfile, func(ctx context.Context, a *app) error {
				result, err := a.controller.IndexUpdate(ctx, controller.IndexUpdateOptions{
					SourceID: source,
					RecordID: single,
					NoCommit: noCommit,
				})
				if err != nil {
					return err
				}
				fmt.Printf("indexed %d documents, deleted %d (%d failed)\n",
					result.Indexed, result.Deleted, result.Failed)
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&source, "source", "", "limit the update to one source")
	cmd.Flags().StringVar(&single, "single", "", "process only this record id")
	cmd.Flags().BoolVar(&noCommit, "no-commit", false, "skip the explicit commit at the end of the run")
	return cmd
}

func newDumpCmd(lockfile *string) *cobra.Command {
	var source, single string

	cmd := &cobra.Command{
		Use:   "dump",
		Short: "Export one record as XML",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(*lockfile, func(ctx context.Context, a *app) error {
				out, err := a.controller.Dump(ctx, source, single)
				if err != nil {
					return err
				}
				fmt.Println(string(out))
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&source, "source", "", "record's source")
	cmd.Flags().StringVar(&single, "single", "", "record id to export")
	_ = cmd.MarkFlagRequired("source")
	_ = cmd.MarkFlagRequired("single")
	return cmd
}

func newHostRelinkCmd(lockfile *string) *cobra.Command {
	var source, single string

	cmd := &cobra.Command{
		Use:   "host-relink",
		Short: "Re-resolve a record's host links from its raw metadata",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(*lockfile, func(ctx context.Context, a *app) error {
				result, err := a.controller.HostRelink(ctx, source, single)
				if err != nil {
					return err
				}
				fmt.Printf("relinked %s.%s: %d host links, %d resolved\n",
					source, single, result.HostLinks, result.Resolved)
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&source, "source", "", "record's source")
	cmd.Flags().StringVar(&single, "single", "", "record id to relink")
	_ = cmd.MarkFlagRequired("source")
	_ = cmd.MarkFlagRequired("single")
	return cmd
}

func newMarkDeletedCmd(lockfile *string) *cobra.Command {
	var source, single string

	cmd := &cobra.Command{
		Use:   "mark-deleted",
		Short: "Flag a record as deleted and detach it from its dedup group",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(*lockfile, func(ctx context.Context, a *app) error {
				if err := a.controller.MarkDeleted(ctx, source, single); err != nil {
					return err
				}
				fmt.Printf("marked %s.%s deleted\n", source, single)
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&source, "source", "", "record's source")
	cmd.Flags().StringVar(&single, "single", "", "record id to mark deleted")
	_ = cmd.MarkFlagRequired("source")
	_ = cmd.MarkFlagRequired("single")
	return cmd
}

func newDeleteSourceCmd(lockfile *string) *cobra.Command {
	var source string
	var force bool

	cmd := &cobra.Command{
		Use:   "delete-source",
		Short: "Remove all records of a source from the store",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(*lockfile, func(ctx context.Context, a *app) error {
				deleted, err := a.controller.DeleteSource(ctx, source, force)
				if err != nil {
					return err
				}
				fmt.Printf("deleted %d records of source %s\n", deleted, source)
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&source, "source", "", "source to delete")
	cmd.Flags().BoolVar(&force, "force", false, "delete even when deduplication is enabled for the source")
	_ = cmd.MarkFlagRequired("source")
	return cmd
}

func newMarkForUpdateCmd(lockfile *string) *cobra.Command {
	var source, single string

	cmd := &cobra.Command{
		Use:   "mark-for-update",
		Short: "Reset records so the next passes re-normalize and re-match them",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(*lockfile, func(ctx context.Context, a *app) error {
				marked, err := a.controller.MarkForUpdate(ctx, source, single)
				if err != nil {
					return err
				}
				fmt.Printf("marked %d records for update\n", marked)
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&source, "source", "", "source to mark")
	cmd.Flags().StringVar(&single, "single", "", "mark only this record id")
	_ = cmd.MarkFlagRequired("source")
	return cmd
}

func newCheckDedupCmd(lockfile *string) *cobra.Command {
	return &cobra.Command{
		Use:   "check-dedup",
		Short: "Scan all deduplication groups and repair inconsistencies",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(*lockfile, func(ctx context.Context, a *app) error {
				result, err := a.controller.CheckDedup(ctx)
				if err != nil {
					return err
				}
				fmt.Printf("checked %d groups: %d dissolved, %d reassigned\n",
					result.Groups, result.Dissolved, result.Reassigned)
				return nil
			})
		},
	}
}
