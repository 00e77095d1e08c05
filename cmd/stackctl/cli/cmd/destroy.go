package cmd

import (
	"fmt"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

var destroyCmd = &cobra.Command{
	Use:   "destroy <deployment-id>",
	Short: "Cancel or tear down a deployment",
	Long:  `Cancels a deployment that is still provisioning, or tears down the resources of a finished one. Re-issuing against an already destroyed deployment is a no-op.`,
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		id := args[0]

		var resp struct {
			Status   string `json:"status"`
			Teardown *struct {
				Destroyed []struct {
					ProviderID string `json:"provider_identifier"`
					Type       string `json:"type"`
				} `json:"destroyed"`
				Failed []struct {
					Handle struct {
						ProviderID string `json:"provider_identifier"`
						Type       string `json:"type"`
					} `json:"handle"`
					Error string `json:"error"`
				} `json:"failed"`
			} `json:"teardown"`
		}
		if err := deleteJSON(serverURL()+"/api/v1/deployments/"+id, &resp); err != nil {
			return err
		}

		logger.Info("destroy requested",
			zap.String("deployment_id", id),
			zap.String("state", resp.Status),
		)

		if resp.Teardown == nil {
			fmt.Println("⚙ deployment is cancelling; teardown runs once in-flight steps finish")
			return nil
		}
		for _, r := range resp.Teardown.Destroyed {
			fmt.Printf("✅ destroyed %s (%s)\n", r.ProviderID, r.Type)
		}
		for _, r := range resp.Teardown.Failed {
			fmt.Printf("❌ failed %s: %s\n", r.Handle.ProviderID, r.Error)
		}
		if len(resp.Teardown.Failed) > 0 {
			return fmt.Errorf("teardown left %d resource(s) behind; re-run destroy to retry", len(resp.Teardown.Failed))
		}
		fmt.Println("🧹 all resources destroyed")
		return nil
	},
}
