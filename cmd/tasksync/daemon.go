package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/Mschirtzinger/tasksync/internal/daemon"
	"github.com/Mschirtzinger/tasksync/internal/dashboard"
	tasksync "github.com/Mschirtzinger/tasksync/internal/sync"
	"github.com/Mschirtzinger/tasksync/internal/ui"
)

var daemonCmd = &cobra.Command{
	Use:     "daemon",
	GroupID: "sync",
	Short:   "Keep the list synchronized in the background",
	Long: `Run in the foreground until interrupted, refreshing the list from the
service on an interval and importing item files dropped into the inbox
directory. Files are merged into the list (existing ids are updated)
and moved to inbox/processed afterwards.

With --dashboard a WebSocket dashboard streams item changes, completed
syncs and remote failures. SIGHUP reopens the log file.`,
	Run: func(cmd *cobra.Command, args []string) {
		withDashboard, _ := cmd.Flags().GetBool("dashboard")
		runDaemon(cmd, withDashboard)
	},
}

var dashboardCmd = &cobra.Command{
	Use:     "dashboard",
	GroupID: "advanced",
	Short:   "Run the daemon with the real-time event dashboard",
	Long: `Start the daemon together with a WebSocket server that streams list
events to connected clients.

Endpoints:
  /ws       WebSocket event stream (stats first, then item_update,
            sync_complete and remote_error messages)
  /health   health check`,
	Run: func(cmd *cobra.Command, args []string) {
		runDaemon(cmd, true)
	},
}

func runDaemon(cmd *cobra.Command, withDashboard bool) {
	requireRemote()
	flags := cmd.Flags()
	if flags.Changed("addr") {
		cfg.Dashboard.Addr, _ = flags.GetString("addr")
	}
	if flags.Changed("interval") {
		cfg.Daemon.RefreshInterval, _ = flags.GetDuration("interval")
	}
	if flags.Changed("inbox") {
		cfg.Daemon.InboxDir, _ = flags.GetString("inbox")
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	var (
		server   *dashboard.Server
		handler  *dashboard.Handler
		observer tasksync.Observer
	)
	if withDashboard {
		server = dashboard.NewServer(&dashboard.Config{
			Addr:   cfg.Dashboard.Addr,
			Logger: logs.New("dashboard"),
		})
		handler = dashboard.NewHandler(server, logs.New("dashboard"))
		observer = handler
	}

	a := mustOpenApp(ctx, observer)
	defer closeApp(a)

	if withDashboard {
		handler.SetSource(a.orch)
		if err := server.Start(); err != nil {
			closeAndExit(a, "failed to start dashboard: %v", err)
		}
		defer server.Stop()
		fmt.Printf("%s Dashboard running at http://%s\n", ui.RenderPass("✓"), server.GetAddr())
		fmt.Printf("  WebSocket: ws://%s/ws\n", server.GetAddr())
	}

	d, err := daemon.NewWithConfig(a.orch, cfg.Daemon.InboxDir, &daemon.Config{
		RefreshInterval:  cfg.Daemon.RefreshInterval,
		DebounceInterval: cfg.Daemon.Debounce,
		Logger:           logs.New("daemon"),
	})
	if err != nil {
		closeAndExit(a, "%v", err)
	}

	go reopenLogsOnHangup(ctx)

	fmt.Printf("%s Syncing with %s every %v\n", ui.RenderAccent("🔄"), cfg.Remote.URL, cfg.Daemon.RefreshInterval)
	fmt.Printf("  Inbox: %s\n", cfg.Daemon.InboxDir)
	fmt.Println("\nPress Ctrl+C to stop")

	if err := d.Start(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		return
	}
	fmt.Printf("\n%s Stopped\n", ui.RenderPass("✓"))
}

func reopenLogsOnHangup(ctx context.Context) {
	hup := make(chan os.Signal, 1)
	signal.Notify(hup, syscall.SIGHUP)
	defer signal.Stop(hup)
	for {
		select {
		case <-ctx.Done():
			return
		case <-hup:
			if err := logs.Rotate(); err != nil {
				fmt.Fprintf(os.Stderr, "Error rotating log file: %v\n", err)
			}
		}
	}
}

func init() {
	for _, c := range []*cobra.Command{daemonCmd, dashboardCmd} {
		c.Flags().String("addr", "", "Dashboard listen address (default from dashboard.addr)")
		c.Flags().Duration("interval", 0, "Refresh interval (default from daemon.refresh_interval)")
		c.Flags().String("inbox", "", "Inbox directory (default next to the store)")
	}
	daemonCmd.Flags().Bool("dashboard", false, "Also serve the event dashboard")

	rootCmd.AddCommand(daemonCmd, dashboardCmd)
}
