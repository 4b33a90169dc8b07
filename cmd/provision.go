package main

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"
)

var provisionCmd = &cobra.Command{
	Use:   "provision <project-id>",
	Short: "Provision a platform device for a project identifier",
	Long: `Creates the backing device and credential on the remote platform for a
project identifier before its first reading arrives, and persists the mapping.
Provisioning an already-known identifier is a no-op.`,
	Args: cobra.ExactArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		runProvision(args[0])
	},
}

func init() {
	rootCmd.AddCommand(provisionCmd)
}

func runProvision(projectID string) {
	g, err := buildGateway()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
	defer g.close()

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	known := false
	for _, id := range g.provisioner.ProjectIDs() {
		if id == projectID {
			known = true
			break
		}
	}

	if _, err := g.provisioner.GetOrProvision(ctx, projectID); err != nil {
		fmt.Fprintf(os.Stderr, "Error: provisioning failed: %v\n", err)
		os.Exit(1)
	}

	if known {
		fmt.Printf("Device for %q already provisioned\n", projectID)
	} else {
		fmt.Printf("Device for %q provisioned\n", projectID)
	}
}
