package main

import (
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/fatih/color"
	"github.com/gorilla/websocket"
	"github.com/spf13/cobra"

	"github.com/gianmatteo-arcana/engine-lever/pkg/models"
)

var watchSince int64

var watchCmd = &cobra.Command{
	Use:   "watch <context-id>",
	Short: "Stream a task's events",
	Long: `Follow a task's event log live over the engine's stream endpoint.

History is replayed from --since (sequence number, default 0) before
live events. The stream ends when the task reaches a terminal state or
on Ctrl-C.`,
	Args: cobra.ExactArgs(1),
	RunE: runWatch,
}

func init() {
	watchCmd.Flags().Int64Var(&watchSince, "since", 0, "Replay history after this sequence number")
}

func runWatch(cmd *cobra.Command, args []string) error {
	client, err := newAPIClient()
	if err != nil {
		return err
	}

	wsAddr := client.addr
	wsAddr = strings.Replace(wsAddr, "https://", "wss://", 1)
	wsAddr = strings.Replace(wsAddr, "http://", "ws://", 1)
	url := fmt.Sprintf("%s/api/v1/tasks/%s/stream?since=%d", wsAddr, args[0], watchSince)

	header := http.Header{}
	header.Set("X-Business-ID", client.business)
	header.Set("X-User-ID", client.user)

	conn, resp, err := websocket.DefaultDialer.Dial(url, header)
	if err != nil {
		if resp != nil {
			resp.Body.Close()
			return fmt.Errorf("connect stream: %s", resp.Status)
		}
		return fmt.Errorf("connect stream: %w", err)
	}
	defer conn.Close()

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sig
		conn.Close()
	}()

	for {
		var event models.ContextEvent
		if err := conn.ReadJSON(&event); err != nil {
			if websocket.IsCloseError(err, websocket.CloseNormalClosure) {
				return nil
			}
			return nil
		}
		printEvent(&event)
		if event.Terminal() {
			return nil
		}
	}
}

func printEvent(e *models.ContextEvent) {
	op := e.Operation
	switch e.Operation {
	case models.OpTaskCompleted:
		op = color.GreenString(op)
	case models.OpTaskFailed, models.OpTaskCanceled:
		op = color.RedString(op)
	case models.OpUIRequestCreated, models.OpTaskPaused:
		op = color.YellowString(op)
	}
	fmt.Printf("%4d  %-22s %s/%s", e.SequenceNumber, op, e.ActorType, e.ActorID)
	if e.Reasoning != "" {
		fmt.Printf("  %s", e.Reasoning)
	}
	fmt.Println()
}
