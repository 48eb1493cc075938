package main

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	tasksync "github.com/Mschirtzinger/tasksync/internal/sync"
	"github.com/Mschirtzinger/tasksync/internal/ui"
)

var refreshCmd = &cobra.Command{
	Use:     "refresh",
	GroupID: "sync",
	Short:   "Pull the remote list into the local store",
	Long: `Fetch the full list from the service and merge it into the local store.
Items with unconfirmed local changes keep their local version. If the
list is dirty a reconciliation sweep follows.`,
	Run: func(cmd *cobra.Command, args []string) {
		requireRemote()
		ctx := cmd.Context()
		a := mustOpenApp(ctx, nil)
		defer closeApp(a)

		start := time.Now()
		if err := a.orch.Refresh(ctx); err != nil {
			closeAndExit(a, "refresh failed: %v", err)
		}
		a.orch.Wait()

		stats := a.orch.Stats()
		fmt.Printf("%s Refreshed %d items (revision %d) in %v\n",
			ui.RenderPass("✓"), stats.Total, stats.Revision, time.Since(start).Round(time.Millisecond))
		if stats.Dirty {
			fmt.Printf("%s Still dirty: %v\n", ui.RenderWarn("⚠"), a.orch.LastError())
		}
	},
}

var syncCmd = &cobra.Command{
	Use:     "sync",
	GroupID: "sync",
	Short:   "Reconcile local and remote lists",
	Long: `Run a reconciliation sweep: the remote list is merged with every
unconfirmed local change and the result is written to both sides in one
batch. Run this after working offline.`,
	Run: func(cmd *cobra.Command, args []string) {
		requireRemote()
		ctx := cmd.Context()
		a := mustOpenApp(ctx, nil)
		defer closeApp(a)

		pending := a.orch.Pending()
		fmt.Printf("%s Reconciling %d pending changes...\n", ui.RenderAccent("🔄"), len(pending.Upserts)+len(pending.Deletes))

		start := time.Now()
		if err := a.orch.Reconcile(ctx); err != nil {
			closeAndExit(a, "sweep failed: %v", err)
		}
		stats := a.orch.Stats()
		fmt.Printf("%s Sync complete in %v: %d items at revision %d\n",
			ui.RenderPass("✓"), time.Since(start).Round(time.Millisecond), stats.Total, stats.Revision)
	},
}

var statusCmd = &cobra.Command{
	Use:     "status",
	GroupID: "sync",
	Short:   "Show list and synchronization status",
	Run: func(cmd *cobra.Command, args []string) {
		asJSON, _ := cmd.Flags().GetBool("json")

		a := mustOpenApp(cmd.Context(), nil)
		defer closeApp(a)

		stats := a.orch.Stats()
		pending := a.orch.Pending()

		if asJSON {
			out := struct {
				Stats   tasksync.Stats   `json:"stats"`
				Pending tasksync.Pending `json:"pending"`
				Store   string           `json:"store"`
				Remote  string           `json:"remote,omitempty"`
				Config  string           `json:"config,omitempty"`
			}{stats, pending, a.backend.Name(), cfg.Remote.URL, cfg.File}
			data, _ := json.MarshalIndent(out, "", "  ")
			fmt.Println(string(data))
			return
		}

		fmt.Printf("\n%s Status\n\n", ui.RenderAccent("📊"))
		fmt.Printf("  Store:      %s\n", a.backend.Name())
		remoteURL := cfg.Remote.URL
		if remoteURL == "" {
			remoteURL = ui.RenderMuted("(not configured)")
		}
		fmt.Printf("  Remote:     %s\n", remoteURL)
		if cfg.File != "" {
			fmt.Printf("  Config:     %s\n", cfg.File)
		}
		fmt.Printf("  Revision:   %d\n", stats.Revision)
		fmt.Printf("  Items:      %d (%d completed)\n", stats.Total, stats.Completed)
		if stats.Dirty {
			fmt.Printf("  Sync:       %s, %d upserts and %d deletes waiting\n",
				ui.RenderWarn("dirty"), len(pending.Upserts), len(pending.Deletes))
		} else {
			fmt.Printf("  Sync:       %s\n", ui.RenderPass("clean"))
		}
		fmt.Println()
	},
}

func init() {
	statusCmd.Flags().Bool("json", false, "Print status as JSON")

	rootCmd.AddCommand(refreshCmd, syncCmd, statusCmd)
}
