package main

import (
	"fmt"
	"net/http"
	"sort"
	"time"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/gianmatteo-arcana/engine-lever/pkg/models"
)

var statusCmd = &cobra.Command{
	Use:   "status <context-id>",
	Short: "Show a task's current state",
	Long: `Display the projected state of a task.

Shows:
  - Lifecycle status and current phase
  - Completed phases
  - Pending UI augmentation requests, if any
  - Event log position`,
	Args: cobra.ExactArgs(1),
	RunE: runStatus,
}

func runStatus(cmd *cobra.Command, args []string) error {
	client, err := newAPIClient()
	if err != nil {
		return err
	}
	contextID := args[0]

	var task models.TaskContext
	if err := client.do(http.MethodGet, "/api/v1/tasks/"+contextID, nil, &task); err != nil {
		return err
	}

	displayTask(&task)

	if task.Status != models.TaskStatusPausedForInput {
		return nil
	}

	var pending struct {
		Requests []*models.UIAugmentationRequest `json:"requests"`
	}
	if err := client.do(http.MethodGet, "/api/v1/tasks/"+contextID+"/requests", nil, &pending); err != nil {
		return err
	}
	displayPendingRequests(pending.Requests)
	return nil
}

func displayTask(t *models.TaskContext) {
	fmt.Printf("Task: %s\n", t.ContextID)
	fmt.Printf("  Type: %s\n", t.TaskType)
	fmt.Printf("  Status: %s\n", colorStatus(t.Status))
	if t.CurrentPhase != "" {
		fmt.Printf("  Current phase: %s\n", t.CurrentPhase)
	}
	if len(t.CompletedPhases) > 0 {
		phases := make([]string, 0, len(t.CompletedPhases))
		for phase := range t.CompletedPhases {
			phases = append(phases, phase)
		}
		sort.Strings(phases)
		fmt.Printf("  Completed phases: %v\n", phases)
	}
	if t.FailureReason != "" {
		fmt.Printf("  Failure reason: %s\n", color.RedString(t.FailureReason))
	}
	fmt.Printf("  Events: %d\n", t.LastSequence)
	if !t.UpdatedAt.IsZero() {
		fmt.Printf("  Updated: %s ago\n", formatDuration(time.Since(t.UpdatedAt)))
	}
}

func displayPendingRequests(requests []*models.UIAugmentationRequest) {
	if len(requests) == 0 {
		return
	}
	fmt.Println("\nPending input requests:")
	for _, req := range requests {
		fmt.Printf("  %s (%s): %s\n", req.RequestID, req.AgentRole, req.Presentation.Title)
		for _, section := range req.FormSections {
			for _, field := range section.Fields {
				marker := ""
				if field.Required {
					marker = " (required)"
				}
				fmt.Printf("    - %s%s\n", field.Name, marker)
			}
		}
		fmt.Printf("  Respond with:\n    lever respond %s key=value...\n", req.RequestID)
	}
}

func colorStatus(s models.TaskStatus) string {
	switch s {
	case models.TaskStatusCompleted:
		return color.GreenString(string(s))
	case models.TaskStatusFailed:
		return color.RedString(string(s))
	case models.TaskStatusPausedForInput:
		return color.YellowString(string(s))
	default:
		return string(s)
	}
}

// formatDuration formats a duration in a human-readable way.
func formatDuration(d time.Duration) string {
	if d < time.Minute {
		return fmt.Sprintf("%ds", int(d.Seconds()))
	}
	if d < time.Hour {
		return fmt.Sprintf("%dm", int(d.Minutes()))
	}
	if d < 24*time.Hour {
		h := int(d.Hours())
		m := int(d.Minutes()) % 60
		if m > 0 {
			return fmt.Sprintf("%dh%dm", h, m)
		}
		return fmt.Sprintf("%dh", h)
	}
	return fmt.Sprintf("%dd", int(d.Hours())/24)
}
