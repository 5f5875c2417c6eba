package cmd

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/aceteam-ai/aiworker/internal/config"
	"github.com/aceteam-ai/aiworker/internal/handlers"
	redisclient "github.com/aceteam-ai/aiworker/internal/redis"
)

var (
	enqueueType  string
	enqueueInput string
	enqueueOwner string
	enqueueJobID string
)

var enqueueCmd = &cobra.Command{
	Use:   "enqueue",
	Short: "Push a job onto the Redis job stream",
	Long: `Append one job to the configured Redis stream. Intended for smoke tests and
manual replays; producers normally enqueue from their own services.`,
	Example: `  aiworker enqueue --type meal_plan --input '{"userId":"u1","goals":["lose weight"]}'
  aiworker enqueue --type messaging_reply --input '{"message":"hi","channel":"whatsapp"}'`,
	RunE: func(cmd *cobra.Command, args []string) error {
		input, err := parseJobInput(enqueueType, enqueueInput)
		if err != nil {
			return err
		}
		jobID := enqueueJobID
		if jobID == "" {
			jobID = uuid.New().String()
		}
		msgID, err := enqueueJob(cmd.Context(), cfg, jobID, enqueueType, enqueueOwner, input)
		if err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "enqueued job %s (%s) as %s on %s\n", jobID, enqueueType, msgID, cfg.Queue.Stream)
		return nil
	},
}

// parseJobInput checks the job type and decodes the JSON input object.
func parseJobInput(jobType, raw string) (map[string]any, error) {
	known := false
	for _, t := range handlers.Types {
		if t == jobType {
			known = true
			break
		}
	}
	if !known {
		return nil, fmt.Errorf("unknown job type %q (want one of %v)", jobType, handlers.Types)
	}
	input := map[string]any{}
	if raw == "" {
		return input, nil
	}
	if err := json.Unmarshal([]byte(raw), &input); err != nil {
		return nil, fmt.Errorf("--input must be a JSON object: %w", err)
	}
	return input, nil
}

func enqueueJob(ctx context.Context, c config.Config, jobID, jobType, owner string, input map[string]any) (string, error) {
	if c.Queue.RedisURL == "" {
		return "", fmt.Errorf("queue.redis_url is required (or set REDIS_URL)")
	}
	client := redisclient.NewClient(redisclient.ClientConfig{QueueName: c.Queue.Stream})
	if err := client.Connect(ctx, c.Queue.RedisURL, c.Queue.RedisPassword); err != nil {
		return "", err
	}
	defer client.Close()
	return client.Enqueue(ctx, jobID, jobType, owner, input)
}

func init() {
	rootCmd.AddCommand(enqueueCmd)
	enqueueCmd.Flags().StringVar(&enqueueType, "type", "", "job type, e.g. image_analysis")
	enqueueCmd.Flags().StringVar(&enqueueInput, "input", "", "job input as a JSON object")
	enqueueCmd.Flags().StringVar(&enqueueOwner, "owner", "", "owner recorded on the job")
	enqueueCmd.Flags().StringVar(&enqueueJobID, "job-id", "", "job id (default: random UUID)")
	enqueueCmd.MarkFlagRequired("type")
}
