package main

import (
	"github.com/spf13/cobra"

	"github.com/storyfetch/storyfetch/internal/api"
	"github.com/storyfetch/storyfetch/internal/server"
)

var (
	serverURL string
	addSite   string
	addForce  bool
)

var addCmd = &cobra.Command{
	Use:   "add <url>...",
	Short: "Queue story URLs on the running daemon",
	Long: `Queue one or more story URLs for download on the running daemon.

The site is derived from the URL unless --site is given.

Examples:
  storyfetch add https://archiveofourown.org/works/12345
  storyfetch add --force https://www.fanfiction.net/s/67890`,
	Args: cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		client := api.NewClient(serverURL)

		var queued []server.EnqueueResponse
		for _, url := range args {
			req := server.EnqueueRequest{URL: url, Site: addSite, Force: addForce}
			var resp server.EnqueueResponse
			if err := client.Post(cmd.Context(), "/enqueue", req, &resp); err != nil {
				return err
			}
			queued = append(queued, resp)
		}

		return api.Output(queued)
	},
}

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show the daemon's scheduler state",
	Long: `Show the running daemon's scheduler state: which worker holds
which site, idle workers, and per-site backlog depth.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		client := api.NewClient(serverURL)

		var snap map[string]any
		if err := client.Get(cmd.Context(), "/status", &snap); err != nil {
			return err
		}

		return api.Output(snap)
	},
}

func init() {
	for _, c := range []*cobra.Command{addCmd, statusCmd} {
		c.Flags().StringVar(&serverURL, "server", "http://127.0.0.1:8188", "Daemon URL")
	}
	addCmd.Flags().StringVar(&addSite, "site", "", "Override the site key derived from the URL")
	addCmd.Flags().BoolVar(&addForce, "force", false, "Request a forced re-download")

	rootCmd.AddCommand(addCmd)
	rootCmd.AddCommand(statusCmd)
}
