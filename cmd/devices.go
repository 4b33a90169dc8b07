package main

import (
	"fmt"
	"os"
	"text/tabwriter"

	"github.com/spf13/cobra"
)

var devicesCmd = &cobra.Command{
	Use:   "devices",
	Short: "List provisioned project identifiers",
	Long: `Lists the project identifiers with a provisioned platform device, in the
order they were first seen. Credentials are not printed; read the mapping
mirror file if you need them.`,
	Run: func(cmd *cobra.Command, args []string) {
		runDevices()
	},
}

func init() {
	rootCmd.AddCommand(devicesCmd)
}

func runDevices() {
	g, err := buildGateway()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
	defer g.close()

	projectIDs := g.provisioner.ProjectIDs()
	if len(projectIDs) == 0 {
		fmt.Println("No devices provisioned")
		return
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "#\tPROJECT ID")
	for i, projectID := range projectIDs {
		fmt.Fprintf(w, "%d\t%s\n", i+1, projectID)
	}
	w.Flush()

	fmt.Printf("\n%d device(s) provisioned\n", len(projectIDs))
}
