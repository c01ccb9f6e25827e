package main

import (
	"fmt"
	"net/http"

	"github.com/fatih/color"
	"github.com/spf13/cobra"
)

var annotateCmd = &cobra.Command{
	Use:   "annotate <context-id> <note> [key=value...]",
	Short: "Add an audit annotation to a task",
	Long: `Append an audit annotation to a task's event log.

Annotations are the only events accepted on completed or failed tasks,
so post-hoc review notes share the log with the work they review.`,
	Args: cobra.MinimumNArgs(2),
	RunE: runAnnotate,
}

func runAnnotate(cmd *cobra.Command, args []string) error {
	client, err := newAPIClient()
	if err != nil {
		return err
	}

	data, err := parseKeyValues(args[2:])
	if err != nil {
		return err
	}

	var result struct {
		SequenceNumber int64 `json:"sequence_number"`
	}
	err = client.do(http.MethodPost, "/api/v1/tasks/"+args[0]+"/annotations", map[string]any{
		"note": args[1],
		"data": data,
	}, &result)
	if err != nil {
		return err
	}

	fmt.Printf("%s Annotation recorded at sequence %d\n", color.GreenString("✓"), result.SequenceNumber)
	return nil
}
