package main

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/v0xg/stepflow/internal/cache"
)

func newCacheCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "cache",
		Short: "Inspect and correct cached plans",
		Long: `Cached plans are reused verbatim for the same prompt. A plan that keeps
failing can be corrected by editing its entry (file backend) and rerunning.`,
	}

	cmd.AddCommand(&cobra.Command{
		Use:   "ls",
		Short: "List cached plans",
		Args:  cobra.NoArgs,
		RunE:  cacheList,
	}, &cobra.Command{
		Use:   "show <key>",
		Short: "Print a cached plan (a unique key prefix is enough)",
		Args:  cobra.ExactArgs(1),
		RunE:  cacheShow,
	}, &cobra.Command{
		Use:   "rm <key>",
		Short: "Remove a cached plan so the prompt is planned again",
		Args:  cobra.ExactArgs(1),
		RunE:  cacheRemove,
	})
	return cmd
}

// openLister opens the configured cache for listing commands
func openLister(cmd *cobra.Command) (cache.Store, cache.Lister, error) {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return nil, nil, err
	}
	store, err := cache.Open(cfg.Cache.Backend, cfg.Cache.Dir, cfg.Cache.Path)
	if err != nil {
		return nil, nil, err
	}
	lister, ok := store.(cache.Lister)
	if !ok {
		closeStore(store)
		return nil, nil, fmt.Errorf("cache backend %q cannot be listed", cfg.Cache.Backend)
	}
	return store, lister, nil
}

func closeStore(s cache.Store) {
	if c, ok := s.(io.Closer); ok {
		_ = c.Close()
	}
}

func cacheList(cmd *cobra.Command, args []string) error {
	store, lister, err := openLister(cmd)
	if err != nil {
		return err
	}
	defer closeStore(store)

	entries, err := lister.List(cmd.Context())
	if err != nil {
		return err
	}
	if len(entries) == 0 {
		fmt.Println("No cached plans")
		return nil
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "KEY\tSTEPS\tUPDATED\tPROMPT")
	for _, e := range entries {
		steps := fmt.Sprint(e.Steps)
		if e.Steps < 0 {
			steps = "invalid"
		}
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\n", shortKey(e.Key), steps, e.UpdatedAt.Format(time.DateTime), e.Prompt)
	}
	return w.Flush()
}

func cacheShow(cmd *cobra.Command, args []string) error {
	store, lister, err := openLister(cmd)
	if err != nil {
		return err
	}
	defer closeStore(store)

	key, err := cache.Lookup(cmd.Context(), lister, args[0])
	if err != nil {
		return err
	}
	list, _, err := store.Get(cmd.Context(), key)
	if err != nil {
		return err
	}

	if fs, ok := store.(*cache.FileStore); ok {
		fmt.Fprintf(os.Stderr, "# %s\n", fs.Path(key))
	}
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(list)
}

func cacheRemove(cmd *cobra.Command, args []string) error {
	store, lister, err := openLister(cmd)
	if err != nil {
		return err
	}
	defer closeStore(store)

	key, err := cache.Lookup(cmd.Context(), lister, args[0])
	if err != nil {
		return err
	}
	if err := lister.Delete(cmd.Context(), key); err != nil {
		return err
	}
	fmt.Printf("✓ Removed %s\n", shortKey(key))
	return nil
}
