package main

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/tessaro/ordmirror/internal/deltasync"
)

// --- jobs ---

var jobsCmd = &cobra.Command{
	Use:   "jobs",
	Short: "Manage queued order submissions",
}

var jobsSubmitCmd = &cobra.Command{
	Use:   "submit",
	Short: "Queue an order for submission through the portal",
	Long: `Queue an order for submission through the portal.

Examples:
  ordmirror jobs submit --owner acct-1 --payload '{"customer":"c88","lines":[{"sku":"A-400","qty":2}]}'
  ordmirror jobs submit --owner acct-1 --file ./order.json`,
	RunE: func(cmd *cobra.Command, args []string) error {
		owner, _ := cmd.Flags().GetString("owner")
		payload, _ := cmd.Flags().GetString("payload")
		file, _ := cmd.Flags().GetString("file")

		if owner == "" {
			return fmt.Errorf("--owner is required")
		}
		if payload == "" && file == "" {
			return fmt.Errorf("one of --payload or --file is required")
		}
		if file != "" {
			data, err := os.ReadFile(file)
			if err != nil {
				return fmt.Errorf("reading file: %w", err)
			}
			payload = string(data)
		}
		if !json.Valid([]byte(payload)) {
			return fmt.Errorf("payload is not valid JSON")
		}

		client, err := newAPIClient()
		if err != nil {
			return err
		}

		resp, err := client.post("/jobs", map[string]any{
			"owner_id": owner,
			"payload":  json.RawMessage(payload),
		})
		if err != nil {
			return err
		}

		var result map[string]any
		if err := decodeJSON(resp, &result); err != nil {
			return err
		}
		printSuccess("Queued job %s", result["id"])
		return nil
	},
}

var jobsListCmd = &cobra.Command{
	Use:   "list",
	Short: "List jobs",
	RunE: func(cmd *cobra.Command, args []string) error {
		owner, _ := cmd.Flags().GetString("owner")
		status, _ := cmd.Flags().GetString("status")

		client, err := newAPIClient()
		if err != nil {
			return err
		}

		path := "/jobs"
		switch {
		case owner != "":
			path += "?owner=" + owner
		case status != "":
			path += "?status=" + status
		}
		resp, err := client.get(path)
		if err != nil {
			return err
		}

		var jobs []map[string]any
		if err := decodeJSON(resp, &jobs); err != nil {
			return err
		}
		if len(jobs) == 0 {
			fmt.Println("no jobs")
			return nil
		}
		for _, j := range jobs {
			fmt.Printf("  %s  %-10s  owner=%s  %s\n", j["id"], j["status"], j["owner_id"], j["created_at"])
		}
		return nil
	},
}

var jobsShowCmd = &cobra.Command{
	Use:   "show <id>",
	Short: "Show one job",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		client, err := newAPIClient()
		if err != nil {
			return err
		}
		resp, err := client.get("/jobs/" + args[0])
		if err != nil {
			return err
		}
		var job map[string]any
		if err := decodeJSON(resp, &job); err != nil {
			return err
		}
		out, _ := json.MarshalIndent(job, "", "  ")
		fmt.Println(string(out))
		return nil
	},
}

var jobsRetryCmd = &cobra.Command{
	Use:   "retry <id>",
	Short: "Retry a failed job",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		client, err := newAPIClient()
		if err != nil {
			return err
		}
		resp, err := client.post("/jobs/"+args[0]+"/retry", nil)
		if err != nil {
			return err
		}
		var job map[string]any
		if err := decodeJSON(resp, &job); err != nil {
			return err
		}
		printSuccess("Queued retry %s (of %s)", job["id"], args[0])
		return nil
	},
}

func init() {
	jobsSubmitCmd.Flags().String("owner", "", "portal account the order is submitted under")
	jobsSubmitCmd.Flags().String("payload", "", "order payload as JSON")
	jobsSubmitCmd.Flags().String("file", "", "file containing the order payload")
	jobsListCmd.Flags().String("owner", "", "filter by owner")
	jobsListCmd.Flags().String("status", "", "filter by status (queued, processing, succeeded, failed)")

	jobsCmd.AddCommand(jobsSubmitCmd)
	jobsCmd.AddCommand(jobsListCmd)
	jobsCmd.AddCommand(jobsShowCmd)
	jobsCmd.AddCommand(jobsRetryCmd)
}

// --- sync ---

var syncCmd = &cobra.Command{
	Use:   "sync",
	Short: "Inspect and drive the portal mirror",
}

var syncStatusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show sync progress for every entity type",
	RunE: func(cmd *cobra.Command, args []string) error {
		client, err := newAPIClient()
		if err != nil {
			return err
		}
		resp, err := client.get("/sync")
		if err != nil {
			return err
		}
		var progress []map[string]any
		if err := decodeJSON(resp, &progress); err != nil {
			return err
		}
		for _, p := range progress {
			line := fmt.Sprintf("%-10s %-10s cursor=%v", p["entity_type"], p["status"], p["cursor"])
			if ls, ok := p["last_success_at"].(string); ok && ls != "" {
				line += "  last success " + ls
			}
			if le, ok := p["last_error"].(string); ok && le != "" {
				line += "  error: " + le
			}
			fmt.Println("  " + line)
		}
		return nil
	},
}

var syncRunCmd = &cobra.Command{
	Use:   "run <entity>",
	Short: "Start a sync run for one entity type",
	Long: `Start a sync run for one entity type.

Entity types: ` + fmt.Sprint(deltasync.EntityTypes()),
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		entity := args[0]
		if !deltasync.ValidEntityType(entity) {
			return fmt.Errorf("unknown entity type %q", entity)
		}
		client, err := newAPIClient()
		if err != nil {
			return err
		}
		resp, err := client.post("/sync/"+entity+"/run", nil)
		if err != nil {
			return err
		}
		var result map[string]string
		if err := decodeJSON(resp, &result); err != nil {
			return err
		}
		printSuccess("Sync started for %s", entity)
		return nil
	},
}

var syncStopCmd = &cobra.Command{
	Use:   "stop <entity>",
	Short: "Ask a running sync to pause at the next page boundary",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		entity := args[0]
		if !deltasync.ValidEntityType(entity) {
			return fmt.Errorf("unknown entity type %q", entity)
		}
		client, err := newAPIClient()
		if err != nil {
			return err
		}
		resp, err := client.post("/sync/"+entity+"/stop", nil)
		if err != nil {
			return err
		}
		var result map[string]string
		if err := decodeJSON(resp, &result); err != nil {
			return err
		}
		printSuccess("Stop requested for %s", entity)
		return nil
	},
}

func init() {
	syncCmd.AddCommand(syncStatusCmd)
	syncCmd.AddCommand(syncRunCmd)
	syncCmd.AddCommand(syncStopCmd)
}
