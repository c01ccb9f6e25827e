package main

import (
	"fmt"
	"net/http"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/gianmatteo-arcana/engine-lever/pkg/models"
)

var (
	respondSkip bool
	respondPill string
)

var respondCmd = &cobra.Command{
	Use:   "respond <request-id> [key=value...]",
	Short: "Answer a pending input request",
	Long: `Resolve a UI augmentation request so its task can continue.

By default key=value arguments are submitted as form data. Use --pill
to choose a quick-response pill instead, or --skip to decline an
optional request.`,
	Args: cobra.MinimumNArgs(1),
	RunE: runRespond,
}

func init() {
	respondCmd.Flags().BoolVar(&respondSkip, "skip", false, "Skip the request instead of answering")
	respondCmd.Flags().StringVar(&respondPill, "pill", "", "Choose a quick-response pill by ID")
}

func runRespond(cmd *cobra.Command, args []string) error {
	client, err := newAPIClient()
	if err != nil {
		return err
	}
	if respondSkip && respondPill != "" {
		return fmt.Errorf("--skip and --pill are mutually exclusive")
	}

	body := models.UIAugmentationResponse{
		RequestID:   args[0],
		RespondedBy: client.user,
	}
	switch {
	case respondSkip:
		body.ActionTaken = models.ActionSkip
	case respondPill != "":
		body.ActionTaken = models.ActionPillTaken
		body.PillID = respondPill
	default:
		formData, err := parseKeyValues(args[1:])
		if err != nil {
			return err
		}
		if len(formData) == 0 {
			return fmt.Errorf("form data required (key=value), or use --skip / --pill")
		}
		body.ActionTaken = models.ActionSubmit
		body.FormData = formData
	}

	var resolved models.UIAugmentationRequest
	if err := client.do(http.MethodPost, "/api/v1/responses", body, &resolved); err != nil {
		return err
	}

	fmt.Printf("%s Request %s %s\n", color.GreenString("✓"), resolved.RequestID, resolved.Status)
	fmt.Printf("  Task %s is resuming\n", resolved.ContextID)
	return nil
}
