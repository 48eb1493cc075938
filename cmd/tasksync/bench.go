package main

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/Mschirtzinger/tasksync/internal/loadtest"
	"github.com/Mschirtzinger/tasksync/internal/ui"
)

var benchCmd = &cobra.Command{
	Use:     "bench",
	GroupID: "advanced",
	Short:   "Load test the sync engine against an in-process list service",
	Long: `Run concurrent writers against an orchestrator talking to an in-process
list service and report how long local mutations take and how long the
remote side needs to settle. The run fails if the local store and the
service disagree at the end.

Examples:
  # 10 writers, 20 mutations each, in memory
  tasksync bench

  # SQLite backend, strict revision checks and 5 injected server errors
  tasksync bench --store sqlite --strict --faults 5
`,
	Run: runBench,
}

func init() {
	defaults := loadtest.DefaultConfig()
	benchCmd.Flags().Int("writers", defaults.Writers, "Number of concurrent writers")
	benchCmd.Flags().Int("ops", defaults.OpsPerWriter, "Mutations per writer")
	benchCmd.Flags().String("store", defaults.Backend, "Store backend: memory, file or sqlite")
	benchCmd.Flags().Int("faults", 0, "Answer the first N requests with HTTP 500")
	benchCmd.Flags().Bool("strict", false, "Enforce the revision check on writes")
	benchCmd.Flags().Int64("seed", defaults.Seed, "Random seed for the operation mix")
	benchCmd.Flags().Bool("json", false, "Output results as JSON")
	rootCmd.AddCommand(benchCmd)
}

func runBench(cmd *cobra.Command, args []string) {
	flags := cmd.Flags()
	cfg := loadtest.DefaultConfig()
	cfg.Writers, _ = flags.GetInt("writers")
	cfg.OpsPerWriter, _ = flags.GetInt("ops")
	cfg.Backend, _ = flags.GetString("store")
	cfg.Faults, _ = flags.GetInt("faults")
	cfg.Strict, _ = flags.GetBool("strict")
	cfg.Seed, _ = flags.GetInt64("seed")
	cfg.Logger = logs.New("bench")
	jsonOutput, _ := flags.GetBool("json")

	if cfg.Backend != "memory" {
		dir, err := os.MkdirTemp("", "tasksync-bench-")
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			os.Exit(1)
		}
		defer os.RemoveAll(dir)
		cfg.Dir = dir
	}

	h, err := loadtest.NewHarness(cmd.Context(), cfg)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
	defer h.Close()

	if !jsonOutput {
		fmt.Printf("Running %d writers x %d mutations (%s backend)...\n\n", cfg.Writers, cfg.OpsPerWriter, cfg.Backend)
	}
	res, err := h.Run(cmd.Context())
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		return
	}

	if jsonOutput {
		outputBenchJSON(cfg, res)
	} else {
		res.Local.PrintStats(os.Stdout)
		fmt.Printf("\n  Settle:        %v\n", res.Settle)
		fmt.Printf("  Total:         %v\n", res.Total)
		fmt.Printf("  Final sweep:   %v\n", res.Swept)
		fmt.Printf("  Items:         %d local, %d server\n\n", res.LocalItems, res.ServerItems)
		if res.Consistent {
			fmt.Printf("%s Local store and service agree\n", ui.RenderPass("✓"))
		}
	}

	if !res.Consistent {
		fmt.Fprintf(os.Stderr, "WARNING: local store and service disagree: %s\n", res.Mismatch)
		h.Close()
		os.Exit(1)
	}
}

func outputBenchJSON(cfg loadtest.Config, res *loadtest.Result) {
	output := map[string]interface{}{
		"config": map[string]interface{}{
			"writers": cfg.Writers,
			"ops":     cfg.OpsPerWriter,
			"backend": cfg.Backend,
			"faults":  cfg.Faults,
			"strict":  cfg.Strict,
		},
		"latency": map[string]interface{}{
			"min_us":  res.Local.Min.Microseconds(),
			"p50_us":  res.Local.P50.Microseconds(),
			"mean_us": res.Local.Mean.Microseconds(),
			"p95_us":  res.Local.P95.Microseconds(),
			"p99_us":  res.Local.P99.Microseconds(),
			"max_us":  res.Local.Max.Microseconds(),
		},
		"operations":   res.Local.Operations,
		"errors":       res.Local.Errors,
		"settle_ms":    res.Settle.Milliseconds(),
		"total_ms":     res.Total.Milliseconds(),
		"final_sweep":  res.Swept,
		"local_items":  res.LocalItems,
		"server_items": res.ServerItems,
		"consistent":   res.Consistent,
	}

	data, err := json.MarshalIndent(output, "", "  ")
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error encoding JSON: %v\n", err)
		os.Exit(1)
	}
	fmt.Println(string(data))
}
