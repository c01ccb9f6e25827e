package main

import (
	"fmt"
	"net/http"

	"github.com/fatih/color"
	"github.com/spf13/cobra"
)

var resumeCmd = &cobra.Command{
	Use:   "resume <token> [key=value...]",
	Short: "Redeem a resume token",
	Long: `Redeem a single-use resume token to wake a paused task.

Key=value arguments supply the resume data the pause demanded (for
example a payment confirmation ID). Tokens are consumed on success and
cannot be reused.`,
	Args: cobra.MinimumNArgs(1),
	RunE: runResume,
}

func runResume(cmd *cobra.Command, args []string) error {
	client, err := newAPIClient()
	if err != nil {
		return err
	}

	resumeData, err := parseKeyValues(args[1:])
	if err != nil {
		return err
	}

	var result struct {
		TaskID string `json:"task_id"`
		Phase  string `json:"phase"`
	}
	err = client.do(http.MethodPost, "/api/v1/resume", map[string]any{
		"token":       args[0],
		"resume_data": resumeData,
	}, &result)
	if err != nil {
		return err
	}

	fmt.Printf("%s Task %s resumed", color.GreenString("✓"), result.TaskID)
	if result.Phase != "" {
		fmt.Printf(" at phase %s", result.Phase)
	}
	fmt.Println()
	return nil
}
