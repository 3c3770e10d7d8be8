package commands

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/promolab/blast/internal/db/models"
	"github.com/promolab/blast/internal/types"
)

// queueOutput represents the filtered output for a deferred request
type queueOutput struct {
	RequestID string `json:"request_id"`
	Status    string `json:"status"`
	Attempts  int    `json:"attempts"`
	NotBefore string `json:"not_before"`
	LastError string `json:"last_error,omitempty"`
}

func init() {
	queueCmd.AddCommand(enqueueCmd)
	queueCmd.AddCommand(listQueueCmd)
	queueCmd.AddCommand(tickQueueCmd)

	enqueueCmd.Flags().StringP("account", "a", "", "Target remote ad account ID")
	enqueueCmd.Flags().StringP("payload", "p", "", "Call payload as a JSON document")
	enqueueCmd.Flags().DurationP("delay", "d", 0, "Hold the request for this long before the queue may take it")
	_ = enqueueCmd.MarkFlagRequired("account")
	_ = enqueueCmd.MarkFlagRequired("payload")

	listQueueCmd.Flags().IntP("limit", "l", 0, "Limit the number of requests returned")
	listQueueCmd.Flags().StringP("status", "s", "", "Filter requests by status")
}

var queueCmd = &cobra.Command{
	Use:   "queue",
	Short: "Inspect and drain the deferred request queue",
}

var enqueueCmd = &cobra.Command{
	Use:   "enqueue",
	Short: "Defer a remote call through the queue",
	RunE: func(cmd *cobra.Command, _ []string) error {
		account, _ := cmd.Flags().GetString("account")
		payload, _ := cmd.Flags().GetString("payload")
		delay, _ := cmd.Flags().GetDuration("delay")

		req := types.EnqueueRequest{
			AccountID: account,
			Payload:   json.RawMessage(payload),
		}
		if delay > 0 {
			req.NotBefore = time.Now().Add(delay)
		}

		requestID, err := getAPIClient(cmd).EnqueueDeferred(context.Background(), req)
		if err != nil {
			return fmt.Errorf("error enqueueing request: %w", err)
		}
		return printJSON(types.EnqueueResponse{RequestID: requestID})
	},
}

var listQueueCmd = &cobra.Command{
	Use:   "list",
	Short: "List deferred requests",
	RunE: func(cmd *cobra.Command, _ []string) error {
		limit, _ := cmd.Flags().GetInt("limit")
		status, _ := cmd.Flags().GetString("status")

		opts := &models.ListOptions{Limit: limit}
		if status != "" {
			queueStatus, err := models.ParseQueueStatus(status)
			if err != nil {
				return fmt.Errorf("invalid status value: %w", err)
			}
			opts.QueueStatus = &queueStatus
		}

		requests, err := getAPIClient(cmd).ListQueue(context.Background(), opts)
		if err != nil {
			return fmt.Errorf("error fetching queue: %w", err)
		}

		output := make([]queueOutput, len(requests))
		for i, req := range requests {
			output[i] = queueOutput{
				RequestID: req.RequestID,
				Status:    req.Status.String(),
				Attempts:  req.Attempts,
				NotBefore: req.NotBefore.Format("2006-01-02 15:04:05"),
				LastError: req.LastError,
			}
		}
		return printJSON(output)
	},
}

var tickQueueCmd = &cobra.Command{
	Use:   "tick",
	Short: "Drain the queue now instead of waiting for the next tick",
	RunE: func(cmd *cobra.Command, _ []string) error {
		if err := getAPIClient(cmd).TickQueue(context.Background()); err != nil {
			return fmt.Errorf("error ticking queue: %w", err)
		}
		fmt.Println("queue tick triggered")
		return nil
	},
}

// GetQueueCmd returns the queue command
func GetQueueCmd() *cobra.Command {
	return queueCmd
}
