package main

import (
	"fmt"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/dockhand/dockhand/pkg/config"
	"github.com/dockhand/dockhand/pkg/registry"
	"github.com/dockhand/dockhand/pkg/types"
)

var instancesCmd = &cobra.Command{
	Use:   "instances",
	Short: "List instances this console launched",
	RunE: func(cmd *cobra.Command, args []string) error {
		configPath, _ := cmd.Flags().GetString("config")
		cfg, err := config.Load(configPath)
		if err != nil {
			return err
		}

		store, err := registry.NewStore(cfg.DataDir)
		if err != nil {
			return fmt.Errorf("failed to open instance registry: %v", err)
		}
		defer store.Close()

		records, err := store.List()
		if err != nil {
			return err
		}
		if len(records) == 0 {
			fmt.Println("No instances recorded.")
			return nil
		}

		w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
		fmt.Fprintln(w, "INSTANCE\tADDRESS\tCLASS\tOWNER\tLAUNCHED")
		for _, rec := range records {
			fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\n",
				rec.InstanceID,
				rec.Descriptor.PublicAddress,
				rec.Descriptor.InstanceClass,
				rec.LogicalOwner,
				rec.Descriptor.LaunchedAt.Format("2006-01-02 15:04"),
			)
		}
		return w.Flush()
	},
}

var terminateCmd = &cobra.Command{
	Use:   "terminate INSTANCE_ID",
	Short: "Terminate an instance by ID",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		instanceID := args[0]
		region, _ := cmd.Flags().GetString("region")
		if region == "" {
			return fmt.Errorf("--region is required")
		}

		provider, err := awsFactory(cmd.Context(), types.CloudContext{Region: region})
		if err != nil {
			return fmt.Errorf("failed to build cloud client: %v", err)
		}

		if err := provider.TerminateInstance(cmd.Context(), instanceID); err != nil {
			return fmt.Errorf("failed to terminate %s: %v", instanceID, err)
		}
		fmt.Printf("✓ Termination requested for %s\n", instanceID)
		return nil
	},
}

func init() {
	instancesCmd.Flags().String("config", "", "Path to YAML configuration file")
	terminateCmd.Flags().String("region", "", "Cloud region the instance lives in (required)")
	_ = terminateCmd.MarkFlagRequired("region")
}
