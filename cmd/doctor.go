package cmd

import (
	"context"
	"fmt"
	"io"
	"net/url"
	"sort"
	"text/tabwriter"
	"time"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/aceteam-ai/aiworker/internal/config"
	redisclient "github.com/aceteam-ai/aiworker/internal/redis"
	"github.com/aceteam-ai/aiworker/internal/status"
)

var (
	headerColor = color.New(color.FgCyan, color.Bold)
	goodColor   = color.New(color.FgGreen)
	warnColor   = color.New(color.FgYellow)
	badColor    = color.New(color.FgRed)
	labelColor  = color.New(color.Bold)
	noColor     bool
	doctorProbe bool
)

var doctorCmd = &cobra.Command{
	Use:   "doctor",
	Short: "Check the resolved configuration and provider reachability",
	Long: `Print the configuration aiworker would run with (secrets are never shown,
only whether they are set), validate it, and optionally probe Redis and the
local LLM.`,
	Example: `  aiworker doctor
  aiworker doctor --probe --no-color`,
	RunE: func(cmd *cobra.Command, args []string) error {
		if noColor {
			color.NoColor = true
		}
		ok := printDoctor(cmd.OutOrStdout(), cfg)
		if doctorProbe {
			ctx, cancel := context.WithTimeout(cmd.Context(), 10*time.Second)
			defer cancel()
			if !probeDependencies(ctx, cmd.OutOrStdout(), cfg) {
				ok = false
			}
		}
		if !ok {
			return fmt.Errorf("configuration has problems")
		}
		return nil
	},
}

// printDoctor writes the configuration report and reports whether it is valid.
func printDoctor(out io.Writer, c config.Config) bool {
	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	defer w.Flush()

	headerColor.Fprintf(w, "--- aiworker doctor (%s) ---\n", Version)

	headerColor.Fprintln(w, "\nWORKER")
	fmt.Fprintf(w, "  %s:\t%s\n", labelColor.Sprint("Worker ID"), valueOr(c.WorkerID, "(generated at start)"))
	fmt.Fprintf(w, "  %s:\t%d\n", labelColor.Sprint("Concurrency"), c.Concurrency)
	fmt.Fprintf(w, "  %s:\t%s\n", labelColor.Sprint("Job timeout"), c.JobTimeout)

	headerColor.Fprintln(w, "\nQUEUE")
	fmt.Fprintf(w, "  %s:\t%s\n", labelColor.Sprint("Backend"), c.Queue.Backend)
	switch c.Queue.Backend {
	case "redis":
		fmt.Fprintf(w, "  %s:\t%s\n", labelColor.Sprint("Redis"), valueOr(redactURL(c.Queue.RedisURL), "(not set)"))
		fmt.Fprintf(w, "  %s:\t%s\n", labelColor.Sprint("Stream"), c.Queue.Stream)
		fmt.Fprintf(w, "  %s:\t%s\n", labelColor.Sprint("Group"), c.Queue.ConsumerGroup)
	case "sqs":
		fmt.Fprintf(w, "  %s:\t%s\n", labelColor.Sprint("Queue URL"), valueOr(c.Queue.SQSQueueURL, "(not set)"))
		fmt.Fprintf(w, "  %s:\t%s\n", labelColor.Sprint("Result queue"), valueOr(c.Queue.SQSResultQueueURL, "(none)"))
		fmt.Fprintf(w, "  %s:\t%s\n", labelColor.Sprint("Region"), c.Queue.SQSRegion)
	}
	fmt.Fprintf(w, "  %s:\t%d\n", labelColor.Sprint("Max attempts"), c.Queue.MaxAttempts)

	headerColor.Fprintln(w, "\nCACHE")
	fmt.Fprintf(w, "  %s:\t%s\n", labelColor.Sprint("Backend"), c.Cache.Backend)
	ttl := "never expires"
	if c.Cache.TTL > 0 {
		ttl = c.Cache.TTL.String()
	}
	fmt.Fprintf(w, "  %s:\t%s\n", labelColor.Sprint("TTL"), ttl)

	headerColor.Fprintln(w, "\nPROVIDERS")
	presence := c.ProviderPresence()
	names := make([]string, 0, len(presence))
	for name := range presence {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		state := warnColor.Sprint("not configured")
		if presence[name] {
			state = goodColor.Sprint("configured")
		}
		fmt.Fprintf(w, "  %s:\t%s\n", labelColor.Sprint(name), state)
	}

	headerColor.Fprintln(w, "\nVALIDATION")
	if err := c.Validate(); err != nil {
		fmt.Fprintf(w, "  %s\n", badColor.Sprintf("✗ %v", err))
		return false
	}
	fmt.Fprintf(w, "  %s\n", goodColor.Sprint("✓ configuration is valid"))
	return true
}

// probeDependencies checks that Redis answers and lists the local models.
func probeDependencies(ctx context.Context, out io.Writer, c config.Config) bool {
	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	defer w.Flush()
	ok := true

	headerColor.Fprintln(w, "\nPROBES")
	if c.Queue.Backend == "redis" && c.Queue.RedisURL != "" {
		client := redisclient.NewClient(redisclient.ClientConfig{QueueName: c.Queue.Stream})
		if err := client.Connect(ctx, c.Queue.RedisURL, c.Queue.RedisPassword); err != nil {
			fmt.Fprintf(w, "  %s:\t%s\n", labelColor.Sprint("Redis"), badColor.Sprintf("unreachable: %v", err))
			ok = false
		} else {
			depth, _ := client.QueueLength(ctx)
			fmt.Fprintf(w, "  %s:\t%s\n", labelColor.Sprint("Redis"), goodColor.Sprintf("ok (%d queued)", depth))
			client.Close()
		}
	}

	if c.Providers.LocalLLM.URL != "" {
		probe := status.NewModelDiscovery().Probe(ctx, c.Providers.LocalLLM.URL)
		if probe.Health == status.HealthStatusHealthy {
			fmt.Fprintf(w, "  %s:\t%s\n", labelColor.Sprint("Local LLM"), goodColor.Sprintf("ok, models: %v", probe.Models))
		} else {
			// The local model is optional; the assistant falls back to the cloud.
			fmt.Fprintf(w, "  %s:\t%s\n", labelColor.Sprint("Local LLM"), warnColor.Sprintf("unavailable: %s", probe.Error))
		}
	}
	return ok
}

func redactURL(raw string) string {
	if raw == "" {
		return ""
	}
	u, err := url.Parse(raw)
	if err != nil {
		return "***"
	}
	return u.Redacted()
}

func valueOr(v, fallback string) string {
	if v == "" {
		return fallback
	}
	return v
}

func init() {
	rootCmd.AddCommand(doctorCmd)
	doctorCmd.Flags().BoolVar(&noColor, "no-color", false, "Disable color output")
	doctorCmd.Flags().BoolVar(&doctorProbe, "probe", false, "Also connect to Redis and the local LLM")
}
