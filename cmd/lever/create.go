package main

import (
	"fmt"
	"net/http"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/gianmatteo-arcana/engine-lever/pkg/models"
)

var createCmd = &cobra.Command{
	Use:   "create <task-type> [key=value...]",
	Short: "Create and start a task",
	Long: `Create a task from a template and start advancing it.

Key=value arguments seed the task's shared context. Values that parse
as JSON are kept structured, so nested data can be passed inline:

  lever create business_onboarding business='{"business_name":"Acme LLC"}'`,
	Args: cobra.MinimumNArgs(1),
	RunE: runCreate,
}

func runCreate(cmd *cobra.Command, args []string) error {
	client, err := newAPIClient()
	if err != nil {
		return err
	}

	initialData, err := parseKeyValues(args[1:])
	if err != nil {
		return err
	}

	var task models.TaskContext
	err = client.do(http.MethodPost, "/api/v1/tasks", map[string]any{
		"task_type":    args[0],
		"initial_data": initialData,
	}, &task)
	if err != nil {
		return err
	}

	fmt.Printf("%s Created task %s\n", color.GreenString("✓"), task.ContextID)
	fmt.Printf("  Type: %s\n", task.TaskType)
	fmt.Printf("  Status: %s\n", task.Status)
	fmt.Printf("\nFollow it with:\n  lever status %s\n  lever watch %s\n", task.ContextID, task.ContextID)
	return nil
}
