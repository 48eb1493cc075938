package main

import (
	"fmt"
	"os"
	"sort"

	"github.com/spf13/cobra"

	"github.com/Mschirtzinger/tasksync/internal/migrate"
	tasksync "github.com/Mschirtzinger/tasksync/internal/sync"
	"github.com/Mschirtzinger/tasksync/internal/task"
	"github.com/Mschirtzinger/tasksync/internal/ui"
)

var exportCmd = &cobra.Command{
	Use:     "export <file>",
	GroupID: "advanced",
	Short:   "Write the local list to a .json or .csv file",
	Args:    cobra.ExactArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		path := args[0]
		format, ok := task.FormatFromPath(path)
		if !ok {
			fmt.Fprintf(os.Stderr, "Error: unsupported file %s (want .json or .csv)\n", path)
			os.Exit(1)
		}

		a := mustOpenApp(cmd.Context(), nil)
		defer closeApp(a)

		var err error
		switch format {
		case task.FormatPrimary:
			err = a.store.ExportPrimary(path)
		case task.FormatSecondary:
			err = a.store.ExportSecondary(path)
		}
		if err != nil {
			closeAndExit(a, "%v", err)
		}
		fmt.Printf("%s Exported %d items to %s (%s)\n", ui.RenderPass("✓"), a.store.Len(), path, format)
	},
}

var importCmd = &cobra.Command{
	Use:     "import <file>",
	GroupID: "advanced",
	Short:   "Replace the local list with a .json or .csv file",
	Long: `Replace the whole local list with the content of a file. A JSON file is
imported only if it parses completely; CSV lines that do not parse are
skipped. The service is not contacted; the import is recorded as pending
work that the next 'tasksync sync' pushes. Use the daemon inbox to merge
items into the list instead of replacing it.`,
	Args: cobra.ExactArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		path := args[0]
		format, ok := task.FormatFromPath(path)
		if !ok {
			fmt.Fprintf(os.Stderr, "Error: unsupported file %s (want .json or .csv)\n", path)
			os.Exit(1)
		}

		a := mustOpenApp(cmd.Context(), nil)
		before := a.store.List()

		skipped := 0
		var err error
		switch format {
		case task.FormatPrimary:
			err = a.store.ImportPrimary(path)
		case task.FormatSecondary:
			skipped, err = a.store.ImportSecondary(path)
		}
		if err != nil {
			closeAndExit(a, "%v", err)
		}
		after := a.store.List()
		closeApp(a)

		if err := markImported(a.journal, before, after); err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			os.Exit(1)
		}
		fmt.Printf("%s Imported %d items from %s\n", ui.RenderPass("✓"), len(after), path)
		if skipped > 0 {
			fmt.Printf("%s Skipped %d unparseable lines\n", ui.RenderWarn("⚠"), skipped)
		}
		fmt.Printf("%s Run 'tasksync sync' to push the imported list\n", ui.RenderAccent("→"))
	},
}

// markImported records an import in the pending journal: every imported
// item is an upsert and every item the import dropped is a delete, so the
// next sweep pushes the imported list as a whole.
func markImported(journal string, before, after []task.Item) error {
	p, err := tasksync.LoadPending(journal)
	if err != nil {
		return err
	}
	upserts := make(map[string]bool)
	for _, id := range p.Upserts {
		upserts[id] = true
	}
	deletes := make(map[string]bool)
	for _, id := range p.Deletes {
		deletes[id] = true
	}

	kept := make(map[string]bool, len(after))
	for _, it := range after {
		kept[it.ID] = true
		upserts[it.ID] = true
		delete(deletes, it.ID)
	}
	for _, it := range before {
		if !kept[it.ID] {
			deletes[it.ID] = true
			delete(upserts, it.ID)
		}
	}

	next := tasksync.Pending{Dirty: true}
	for id := range upserts {
		next.Upserts = append(next.Upserts, id)
	}
	for id := range deletes {
		next.Deletes = append(next.Deletes, id)
	}
	sort.Strings(next.Upserts)
	sort.Strings(next.Deletes)
	return tasksync.SavePending(journal, next)
}

var convertCmd = &cobra.Command{
	Use:     "convert <from> <to>",
	GroupID: "advanced",
	Short:   "Convert a list file between the JSON and CSV formats",
	Long: `Convert a list file between formats without touching the local store.
Formats follow the file extensions (.json, .csv).`,
	Args: cobra.ExactArgs(2),
	Run: func(cmd *cobra.Command, args []string) {
		dryRun, _ := cmd.Flags().GetBool("dry-run")
		backup, _ := cmd.Flags().GetBool("backup")
		force, _ := cmd.Flags().GetBool("force")

		result, err := migrate.Convert(cmd.Context(), migrate.Options{
			From:      args[0],
			To:        args[1],
			DryRun:    dryRun,
			Backup:    backup,
			Overwrite: force,
		})
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			os.Exit(1)
		}

		if result.BackupCreated != "" {
			fmt.Printf("%s Backed up existing output to %s\n", ui.RenderAccent("→"), result.BackupCreated)
		}
		if !result.Written {
			fmt.Printf("%s Dry run: %d items would be converted from %s to %s\n",
				ui.RenderAccent("→"), result.Converted, result.FromFormat, result.ToFormat)
		} else {
			fmt.Printf("%s Converted %d items from %s to %s\n",
				ui.RenderPass("✓"), result.Converted, result.FromFormat, result.ToFormat)
		}
		if result.Skipped > 0 {
			fmt.Printf("%s Skipped %d unparseable lines\n", ui.RenderWarn("⚠"), result.Skipped)
		}
	},
}

func init() {
	convertCmd.Flags().Bool("dry-run", false, "Parse and count without writing")
	convertCmd.Flags().Bool("backup", false, "Keep a copy of an existing output file")
	convertCmd.Flags().BoolP("force", "f", false, "Overwrite an existing output file")

	rootCmd.AddCommand(exportCmd, importCmd, convertCmd)
}
