package cmd

import (
	"fmt"

	"github.com/spf13/cobra"
)

var listCmd = &cobra.Command{
	Use:   "list",
	Short: "List all deployments",
	RunE: func(cmd *cobra.Command, args []string) error {
		var resp struct {
			Deployments []struct {
				DeploymentID string `json:"deployment_id"`
				Name         string `json:"name"`
				UserID       string `json:"user_id"`
				State        string `json:"state"`
				CreatedAt    string `json:"created_at"`
			} `json:"deployments"`
		}
		if err := getJSON(serverURL()+"/api/v1/deployments", &resp); err != nil {
			return err
		}

		if len(resp.Deployments) == 0 {
			fmt.Println("no deployments")
			return nil
		}
		for _, d := range resp.Deployments {
			fmt.Printf("%s  %-12s %-20s %s  %s\n", d.DeploymentID, d.State, d.Name, d.UserID, d.CreatedAt)
		}
		return nil
	},
}
