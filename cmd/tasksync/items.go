package main

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/charmbracelet/huh"
	"github.com/spf13/cobra"
	"golang.org/x/term"

	"github.com/Mschirtzinger/tasksync/internal/remote"
	"github.com/Mschirtzinger/tasksync/internal/task"
	"github.com/Mschirtzinger/tasksync/internal/ui"
)

var listCmd = &cobra.Command{
	Use:     "list",
	Aliases: []string{"ls"},
	GroupID: "items",
	Short:   "Show the task list",
	Long: `Show the local task list. Completed items are hidden unless --all is
given or sync.show_completed is set. With --refresh the remote list is
pulled first.`,
	Run: func(cmd *cobra.Command, args []string) {
		all, _ := cmd.Flags().GetBool("all")
		refresh, _ := cmd.Flags().GetBool("refresh")
		asJSON, _ := cmd.Flags().GetBool("json")

		if refresh {
			requireRemote()
		}
		ctx := cmd.Context()
		a := mustOpenApp(ctx, nil)
		defer closeApp(a)

		if refresh {
			if err := a.orch.Refresh(ctx); err != nil {
				fmt.Fprintf(os.Stderr, "%s Refresh failed, showing local list: %v\n", ui.RenderWarn("⚠"), err)
			}
		}
		if all {
			a.orch.SetShowCompleted(true)
		}
		items := a.orch.Visible()

		if asJSON {
			if err := task.EncodeJSON(os.Stdout, items); err != nil {
				closeAndExit(a, "%v", err)
			}
			return
		}
		fmt.Print(ui.RenderList(items, a.orch.CompletedCount(), time.Now()))
	},
}

var showCmd = &cobra.Command{
	Use:     "show <id>",
	GroupID: "items",
	Short:   "Show one item",
	Long: `Show one item as JSON. The id may be a unique prefix. With --remote the
item is fetched from the service instead of the local store.`,
	Args: cobra.ExactArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		fromRemote, _ := cmd.Flags().GetBool("remote")

		if fromRemote {
			requireRemote()
		}
		ctx := cmd.Context()
		a := mustOpenApp(ctx, nil)
		defer closeApp(a)

		var it task.Item
		if fromRemote {
			var err error
			it, err = a.client.Get(ctx, args[0])
			if errors.Is(err, remote.ErrNotFound) {
				closeAndExit(a, "item %s not found on the server", args[0])
			}
			if err != nil {
				closeAndExit(a, "%v", err)
			}
		} else {
			it = mustResolve(a, args[0])
		}

		data, err := json.MarshalIndent(it, "", "  ")
		if err != nil {
			closeAndExit(a, "%v", err)
		}
		fmt.Println(string(data))
		fmt.Printf("%s %s\n", ui.RenderMuted("state:"), a.orch.State(it.ID))
	},
}

var addCmd = &cobra.Command{
	Use:     "add [text]",
	GroupID: "items",
	Short:   "Add an item",
	Long: `Add an item. Deadlines accept dates (2026-03-01, 2026-03-01 17:00) and
phrases such as "tomorrow 5pm" or "next friday".

Without text, or with --interactive, a form asks for the fields when
standard input is a terminal.`,
	Run: func(cmd *cobra.Command, args []string) {
		importance, _ := cmd.Flags().GetString("importance")
		deadline, _ := cmd.Flags().GetString("deadline")
		interactive, _ := cmd.Flags().GetBool("interactive")
		text := strings.TrimSpace(strings.Join(args, " "))

		if interactive || text == "" {
			if !term.IsTerminal(int(os.Stdin.Fd())) {
				fmt.Fprintf(os.Stderr, "Error: item text is required (no terminal for the interactive form)\n")
				os.Exit(1)
			}
			var err error
			text, importance, deadline, err = runItemForm(text, importance, deadline)
			if err != nil {
				fmt.Fprintf(os.Stderr, "Error: %v\n", err)
				os.Exit(1)
			}
		}

		due, err := parseDeadline(deadline, time.Now())
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			os.Exit(1)
		}

		a := mustOpenApp(cmd.Context(), nil)
		defer closeApp(a)

		added, err := a.orch.Add(task.New(text, task.ParseImportance(importance), due))
		if err != nil {
			closeAndExit(a, "%v", err)
		}
		a.orch.Wait()
		reportChange("Added", a, added)
	},
}

var editCmd = &cobra.Command{
	Use:     "edit <id>",
	GroupID: "items",
	Short:   "Change an item's text, importance or deadline",
	Args:    cobra.ExactArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		flags := cmd.Flags()
		if !flags.Changed("text") && !flags.Changed("importance") && !flags.Changed("deadline") && !flags.Changed("clear-deadline") {
			fmt.Fprintf(os.Stderr, "Error: nothing to change (use --text, --importance, --deadline or --clear-deadline)\n")
			os.Exit(1)
		}

		a := mustOpenApp(cmd.Context(), nil)
		defer closeApp(a)

		it := mustResolve(a, args[0])
		if flags.Changed("text") {
			it.Text, _ = flags.GetString("text")
		}
		if flags.Changed("importance") {
			v, _ := flags.GetString("importance")
			it.Importance = task.ParseImportance(v)
		}
		if flags.Changed("deadline") {
			v, _ := flags.GetString("deadline")
			due, err := parseDeadline(v, time.Now())
			if err != nil {
				closeAndExit(a, "%v", err)
			}
			it.Deadline = due
		}
		if clearDeadline, _ := flags.GetBool("clear-deadline"); clearDeadline {
			it.Deadline = nil
		}

		edited, err := a.orch.Edit(it)
		if err != nil {
			closeAndExit(a, "%v", err)
		}
		a.orch.Wait()
		reportChange("Updated", a, edited)
	},
}

var doneCmd = &cobra.Command{
	Use:     "done <id>",
	GroupID: "items",
	Short:   "Toggle the done flag of an item",
	Args:    cobra.ExactArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		a := mustOpenApp(cmd.Context(), nil)
		defer closeApp(a)

		it := mustResolve(a, args[0])
		toggled, err := a.orch.ToggleDone(it.ID)
		if err != nil {
			closeAndExit(a, "%v", err)
		}
		a.orch.Wait()
		verb := "Reopened"
		if toggled.Done {
			verb = "Completed"
		}
		reportChange(verb, a, toggled)
	},
}

var rmCmd = &cobra.Command{
	Use:     "rm <id>",
	Aliases: []string{"remove"},
	GroupID: "items",
	Short:   "Remove an item",
	Args:    cobra.ExactArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		a := mustOpenApp(cmd.Context(), nil)
		defer closeApp(a)

		it := mustResolve(a, args[0])
		removed, ok, err := a.orch.Remove(it.ID)
		if err != nil {
			closeAndExit(a, "%v", err)
		}
		if !ok {
			closeAndExit(a, "item %s not found", args[0])
		}
		a.orch.Wait()
		reportChange("Removed", a, removed)
	},
}

// mustResolve finds the item whose id equals or uniquely starts with ref.
func mustResolve(a *app, ref string) task.Item {
	it, err := resolveItem(a.orch.Items(), ref)
	if err != nil {
		closeAndExit(a, "%v", err)
	}
	return it
}

func resolveItem(items []task.Item, ref string) (task.Item, error) {
	var matches []task.Item
	for _, it := range items {
		if it.ID == ref {
			return it, nil
		}
		if strings.HasPrefix(it.ID, ref) {
			matches = append(matches, it)
		}
	}
	switch len(matches) {
	case 0:
		return task.Item{}, fmt.Errorf("item %s not found", ref)
	case 1:
		return matches[0], nil
	default:
		return task.Item{}, fmt.Errorf("id prefix %s is ambiguous (%d items)", ref, len(matches))
	}
}

// reportChange prints the outcome of a mutation, including whether the
// service confirmed it.
func reportChange(verb string, a *app, it task.Item) {
	fmt.Printf("%s %s %s\n", ui.RenderPass("✓"), verb, ui.RenderItem(it, time.Now()))
	if a.orch.Dirty() {
		msg := "not yet on the server; run 'tasksync sync' when it is reachable"
		if err := a.orch.LastError(); err != nil {
			msg += " (" + err.Error() + ")"
		}
		fmt.Printf("%s %s\n", ui.RenderWarn("⚠"), msg)
	}
}

// runItemForm asks for the fields of a new item, starting from the
// values already given on the command line.
func runItemForm(text, importance, deadline string) (string, string, string, error) {
	if importance == "" {
		importance = task.ImportanceNormal.String()
	}
	importance = task.ParseImportance(importance).String()

	form := huh.NewForm(
		huh.NewGroup(
			huh.NewInput().
				Title("Text").
				Value(&text).
				Validate(func(s string) error {
					if strings.TrimSpace(s) == "" {
						return errors.New("text cannot be empty")
					}
					return nil
				}),
			huh.NewSelect[string]().
				Title("Importance").
				Options(
					huh.NewOption("Low", task.ImportanceLow.String()),
					huh.NewOption("Normal", task.ImportanceNormal.String()),
					huh.NewOption("High", task.ImportanceHigh.String()),
				).
				Value(&importance),
			huh.NewInput().
				Title("Deadline").
				Description("e.g. tomorrow 5pm or 2026-03-01; leave empty for none").
				Value(&deadline).
				Validate(func(s string) error {
					_, err := parseDeadline(s, time.Now())
					return err
				}),
		),
	)
	if err := form.Run(); err != nil {
		return "", "", "", err
	}
	return strings.TrimSpace(text), importance, deadline, nil
}

func init() {
	listCmd.Flags().BoolP("all", "a", false, "Include completed items")
	listCmd.Flags().Bool("refresh", false, "Pull the remote list first")
	listCmd.Flags().Bool("json", false, "Print the list in the primary JSON format")

	showCmd.Flags().Bool("remote", false, "Fetch the item from the service")

	addCmd.Flags().StringP("importance", "i", "", "low, normal or high")
	addCmd.Flags().StringP("deadline", "d", "", "Deadline date or phrase")
	addCmd.Flags().Bool("interactive", false, "Fill the fields in a form")

	editCmd.Flags().String("text", "", "New text")
	editCmd.Flags().StringP("importance", "i", "", "low, normal or high")
	editCmd.Flags().StringP("deadline", "d", "", "New deadline date or phrase")
	editCmd.Flags().Bool("clear-deadline", false, "Remove the deadline")

	rootCmd.AddCommand(listCmd, showCmd, addCmd, editCmd, doneCmd, rmCmd)
}
