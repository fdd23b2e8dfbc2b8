package main

import (
	"fmt"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/pysugar/assistant/internal/client/app"
	"github.com/pysugar/assistant/internal/db"
	"github.com/pysugar/assistant/internal/db/models"
	"github.com/spf13/cobra"
)

const dueOutputLayout = "2006-01-02 15:04"

var dueInputLayouts = []string{"2006-01-02 15:04", "2006-01-02T15:04", "2006-01-02"}

var (
	tasksAll        bool
	taskDue         string
	taskPriority    string
	taskDescription string
	tasksNotify     bool
)

var tasksCmd = &cobra.Command{
	Use:   "tasks",
	Short: "Manage tasks",
}

var tasksListCmd = &cobra.Command{
	Use:   "list",
	Short: "List open tasks (--all includes completed)",
	Args:  cobra.NoArgs,
	RunE:  withApp(runTasksList),
}

var tasksAddCmd = &cobra.Command{
	Use:   "add <title>",
	Short: "Create a task",
	Args:  cobra.MinimumNArgs(1),
	RunE:  withApp(runTasksAdd),
}

var tasksDoneCmd = &cobra.Command{
	Use:   "done <id>",
	Short: "Mark a task completed",
	Args:  cobra.ExactArgs(1),
	RunE:  withApp(runTasksDone),
}

var tasksDeleteCmd = &cobra.Command{
	Use:   "delete <id>",
	Short: "Delete a task",
	Args:  cobra.ExactArgs(1),
	RunE:  withApp(runTasksDelete),
}

var tasksDueCmd = &cobra.Command{
	Use:   "due",
	Short: "List open tasks that are due now",
	Args:  cobra.NoArgs,
	RunE:  withApp(runTasksDue),
}

func init() {
	tasksListCmd.Flags().BoolVarP(&tasksAll, "all", "a", false, "Include completed tasks")
	tasksAddCmd.Flags().StringVar(&taskDue, "due", "", "Due time (RFC3339, \"2006-01-02 15:04\" or \"2006-01-02\")")
	tasksAddCmd.Flags().StringVar(&taskPriority, "priority", "medium", "low, medium or high")
	tasksAddCmd.Flags().StringVarP(&taskDescription, "description", "d", "", "Task description")
	tasksDueCmd.Flags().BoolVar(&tasksNotify, "notify", false, "Also show a desktop notification per task")

	tasksCmd.AddCommand(tasksListCmd, tasksAddCmd, tasksDoneCmd, tasksDeleteCmd, tasksDueCmd)
}

func parseDueFlag(value string) (*time.Time, error) {
	value = strings.TrimSpace(value)
	if value == "" {
		return nil, nil
	}
	if t, err := time.Parse(time.RFC3339, value); err == nil {
		return &t, nil
	}
	for _, layout := range dueInputLayouts {
		if t, err := time.ParseInLocation(layout, value, time.Local); err == nil {
			return &t, nil
		}
	}
	return nil, fmt.Errorf("invalid due time %q", value)
}

func printTasks(cmd *cobra.Command, tasks []models.Task) error {
	w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "ID\tTITLE\tDUE\tPRIORITY\tSTATUS")
	for _, t := range tasks {
		due := "-"
		if t.DueAt != nil {
			due = t.DueAt.Local().Format(dueOutputLayout)
		}
		status := "open"
		if t.Completed {
			status = "done"
		}
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\n", t.ID, t.Title, due, t.Priority, status)
	}
	return w.Flush()
}

func runTasksList(cmd *cobra.Command, args []string, a *app.App) error {
	var completed *bool
	if !tasksAll {
		open := false
		completed = &open
	}
	tasks, err := a.Backend().ListTasks(cmd.Context(), completed, nil)
	if err != nil {
		return err
	}
	if len(tasks) == 0 {
		fmt.Fprintln(cmd.OutOrStdout(), "No tasks.")
		return nil
	}
	return printTasks(cmd, tasks)
}

func runTasksAdd(cmd *cobra.Command, args []string, a *app.App) error {
	due, err := parseDueFlag(taskDue)
	if err != nil {
		return err
	}
	priority, err := db.NormalizePriority(taskPriority)
	if err != nil {
		return err
	}
	task, err := a.Backend().CreateTask(cmd.Context(), models.Task{
		Title:       strings.Join(args, " "),
		Description: taskDescription,
		DueAt:       due,
		Priority:    priority,
	})
	if err != nil {
		return err
	}
	fmt.Fprintf(cmd.OutOrStdout(), "📝 Task created: %s (%s)\n", task.Title, task.ID)
	return nil
}

func runTasksDone(cmd *cobra.Command, args []string, a *app.App) error {
	done := true
	task, err := a.Backend().UpdateTask(cmd.Context(), args[0], db.TaskPatch{Completed: &done})
	if err != nil {
		return err
	}
	fmt.Fprintf(cmd.OutOrStdout(), "✅ Completed: %s\n", task.Title)
	return nil
}

func runTasksDelete(cmd *cobra.Command, args []string, a *app.App) error {
	if err := a.Backend().DeleteTask(cmd.Context(), args[0]); err != nil {
		return err
	}
	fmt.Fprintf(cmd.OutOrStdout(), "🗑️ Deleted task %s\n", args[0])
	return nil
}

func runTasksDue(cmd *cobra.Command, args []string, a *app.App) error {
	tasks, err := a.DueTasks(cmd.Context(), time.Now(), tasksNotify)
	if err != nil {
		return err
	}
	if len(tasks) == 0 {
		fmt.Fprintln(cmd.OutOrStdout(), "Nothing due.")
		return nil
	}
	return printTasks(cmd, tasks)
}
