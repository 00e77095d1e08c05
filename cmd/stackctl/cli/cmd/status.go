package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/stackdeploy-io/stackdeploy/internal/deploy"
)

var statusCmd = &cobra.Command{
	Use:   "status <deployment-id>",
	Short: "Show the live status of a deployment",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		var snap deploy.Snapshot
		if err := getJSON(serverURL()+"/api/v1/deployments/"+args[0]+"/status", &snap); err != nil {
			return err
		}

		fmt.Printf("deployment %s\n", snap.DeploymentID)
		fmt.Printf("  progress: %s %d%%\n", progressBar(snap.OverallProgress), snap.OverallProgress)
		fmt.Printf("  phase:    %s\n", snap.CurrentPhase)
		fmt.Printf("  quality:  %d\n", snap.QualityScore)
		fmt.Printf("  success:  %t\n", snap.Success)

		fmt.Println("  steps:")
		for _, step := range snap.Steps {
			marker := "⚙"
			switch step.Status {
			case deploy.StepCompleted:
				marker = "✅"
			case deploy.StepFailed:
				marker = "❌"
			}
			fmt.Printf("    %s %-28s %3d%% [%s]\n", marker, step.Name, step.Progress, step.Phase)
			if step.Error != nil {
				fmt.Printf("       error: %s (%s)\n", step.Error.Message, step.Error.Kind)
			}
		}

		if len(snap.Endpoints) > 0 {
			fmt.Println("  endpoints:")
			for name, url := range snap.Endpoints {
				fmt.Printf("    %s: %s\n", name, url)
			}
		}
		if len(snap.DecisionsMade) > 0 {
			fmt.Println("  decisions:")
			for _, d := range snap.DecisionsMade {
				fmt.Printf("    %s %s\n", d.Confidence, d.Decision)
			}
		}
		for _, debt := range snap.TechnicalDebt {
			fmt.Printf("  debt: %s\n", debt)
		}
		return nil
	},
}
