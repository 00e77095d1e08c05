package cmd

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/stackdeploy-io/stackdeploy/internal/deploy"
)

var deployCmd = &cobra.Command{
	Use:   "deploy",
	Short: "Start a new stack deployment",
	Long:  `Submits a deployment request to stackdeployd and optionally watches it until it finishes.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		name, _ := cmd.Flags().GetString("name")
		user, _ := cmd.Flags().GetString("user")
		apiKey, _ := cmd.Flags().GetString("api-key")

		if name == "" || user == "" || apiKey == "" {
			return fmt.Errorf("--name, --user and --api-key are required")
		}

		req := deploy.Request{Name: name, UserID: user, APIKey: apiKey}
		req.GraphURI, _ = cmd.Flags().GetString("graph-uri")
		req.GraphUser, _ = cmd.Flags().GetString("graph-user")
		req.GraphPassword, _ = cmd.Flags().GetString("graph-password")
		req.AppImage, _ = cmd.Flags().GetString("image")

		var resp struct {
			DeploymentID string `json:"deployment_id"`
			WebsocketURL string `json:"websocket_url"`
			Status       string `json:"status"`
		}
		if err := postJSON(serverURL()+"/api/v1/deployments", req, &resp); err != nil {
			return err
		}

		logger.Info("deployment started",
			zap.String("deployment_id", resp.DeploymentID),
			zap.String("name", name),
		)
		fmt.Println("🚀 deployment started:", resp.DeploymentID)
		fmt.Println("   websocket:", resp.WebsocketURL)

		watch, _ := cmd.Flags().GetBool("watch")
		if !watch {
			return nil
		}
		return watchDeployment(resp.DeploymentID)
	},
}

func init() {
	deployCmd.Flags().String("name", "", "deployment name")
	deployCmd.Flags().String("user", "", "owning user id")
	deployCmd.Flags().String("api-key", "", "API key injected into the application service")
	deployCmd.Flags().String("graph-uri", "", "managed graph store URI (skips container provisioning)")
	deployCmd.Flags().String("graph-user", "", "managed graph store username")
	deployCmd.Flags().String("graph-password", "", "managed graph store password")
	deployCmd.Flags().String("image", "", "application container image override")
	deployCmd.Flags().Bool("watch", false, "poll status until the deployment reaches a terminal state")
}

func watchDeployment(id string) error {
	for {
		var snap deploy.Snapshot
		if err := getJSON(serverURL()+"/api/v1/deployments/"+id+"/status", &snap); err != nil {
			return err
		}
		fmt.Printf("%s %3d%% %s\n", progressBar(snap.OverallProgress), snap.OverallProgress, snap.CurrentPhase)
		if snap.Success {
			fmt.Println("✅ deployment complete")
			for name, url := range snap.Endpoints {
				fmt.Printf("   %s: %s\n", name, url)
			}
			return nil
		}
		for _, step := range snap.Steps {
			if step.Status == deploy.StepFailed && step.Error != nil {
				return fmt.Errorf("deployment failed at %q: %s", step.Name, step.Error.Message)
			}
		}
		time.Sleep(2 * time.Second)
	}
}

func progressBar(pct int) string {
	filled := pct / 10
	bar := ""
	for i := 0; i < 10; i++ {
		if i < filled {
			bar += "■"
		} else {
			bar += "□"
		}
	}
	return bar
}
