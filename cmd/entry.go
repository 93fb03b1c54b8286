package cmd

import (
	"context"
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/CloudNativeWorks/ilog/internal/initializer"
	"github.com/CloudNativeWorks/ilog/internal/store"
	"github.com/google/uuid"
	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"
)

var (
	entryAt     string
	entryFormat string
)

var entryCmd = &cobra.Command{
	Use:   "entry",
	Short: "Record, list and delete logged values",
}

var entryAddCmd = &cobra.Command{
	Use:   "add VALUE",
	Short: "Record a value, dated now unless --at is given",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		value, err := strconv.ParseFloat(args[0], 64)
		if err != nil {
			return fmt.Errorf("invalid value %q: %v", args[0], err)
		}

		date := time.Now()
		if entryAt != "" {
			if date, err = time.Parse(time.RFC3339, entryAt); err != nil {
				return fmt.Errorf("invalid --at %q, want RFC 3339: %v", entryAt, err)
			}
		}

		return withEntries(cmd.Context(), func(ctx context.Context, entries *store.EntryStore) error {
			entry, err := entries.Add(ctx, value, date)
			if err != nil {
				return err
			}
			fmt.Println(entry.ID)
			return nil
		})
	},
}

var entryListCmd = &cobra.Command{
	Use:   "list",
	Short: "List entries, newest first",
	RunE: func(cmd *cobra.Command, args []string) error {
		return withEntries(cmd.Context(), func(ctx context.Context, entries *store.EntryStore) error {
			list := entries.List()

			if entryFormat == "yaml" {
				enc := yaml.NewEncoder(os.Stdout)
				enc.SetIndent(2)
				defer enc.Close()
				return enc.Encode(list)
			}

			for _, e := range list {
				fmt.Printf("%s  %s  %g\n", e.ID, e.Date.Local().Format("2006-01-02 15:04"), e.Value)
			}
			return nil
		})
	},
}

var entryDeleteCmd = &cobra.Command{
	Use:   "delete ID",
	Short: "Delete an entry",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		id, err := uuid.Parse(args[0])
		if err != nil {
			return fmt.Errorf("invalid entry id %q: %v", args[0], err)
		}

		return withEntries(cmd.Context(), func(ctx context.Context, entries *store.EntryStore) error {
			return entries.Delete(ctx, id)
		})
	},
}

func withEntries(ctx context.Context, fn func(context.Context, *store.EntryStore) error) error {
	if ctx == nil {
		ctx = context.Background()
	}

	if err := initializer.NewInitializer(Cfg).EnsureDirectories(); err != nil {
		return err
	}

	kv, err := store.OpenKV(ctx, Cfg.Store.Path)
	if err != nil {
		return err
	}
	defer kv.Close()

	entries, err := store.NewEntryStore(ctx, kv)
	if err != nil {
		return err
	}
	return fn(ctx, entries)
}

func init() {
	entryAddCmd.Flags().StringVar(&entryAt, "at", "", "entry date in RFC 3339, e.g. 2025-01-31T08:00:00Z")
	entryListCmd.Flags().StringVarP(&entryFormat, "output", "o", "text", "output format: text or yaml")

	entryCmd.AddCommand(entryAddCmd, entryListCmd, entryDeleteCmd)
	RootCmd.AddCommand(entryCmd)
}
