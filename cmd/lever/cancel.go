package main

import (
	"fmt"
	"net/http"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/gianmatteo-arcana/engine-lever/pkg/models"
)

var cancelReason string

var cancelCmd = &cobra.Command{
	Use:   "cancel <context-id>",
	Short: "Cancel a running task",
	Long: `Cancel a task. The cancellation is recorded as a terminal event;
canceling an already-terminal task is a no-op and reports the existing
state.`,
	Args: cobra.ExactArgs(1),
	RunE: runCancel,
}

func init() {
	cancelCmd.Flags().StringVar(&cancelReason, "reason", "", "Reason recorded with the cancellation")
}

func runCancel(cmd *cobra.Command, args []string) error {
	client, err := newAPIClient()
	if err != nil {
		return err
	}

	var task models.TaskContext
	err = client.do(http.MethodPost, "/api/v1/tasks/"+args[0]+"/cancel", map[string]any{
		"reason": cancelReason,
	}, &task)
	if err != nil {
		return err
	}

	fmt.Printf("%s Task %s is %s\n", color.GreenString("✓"), task.ContextID, task.Status)
	if task.FailureReason != "" {
		fmt.Printf("  Reason: %s\n", task.FailureReason)
	}
	return nil
}
