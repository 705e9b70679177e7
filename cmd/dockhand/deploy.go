package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/dockhand/dockhand/pkg/config"
	"github.com/dockhand/dockhand/pkg/events"
	"github.com/dockhand/dockhand/pkg/log"
	"github.com/dockhand/dockhand/pkg/orchestrator"
	"github.com/dockhand/dockhand/pkg/registry"
	"github.com/dockhand/dockhand/pkg/types"
)

// Exit codes name the phase a failed deployment died in, so scripts can
// tell a launch timeout from a broken image.
var phaseExitCodes = map[types.Phase]int{
	types.PhaseProvisioning:         10,
	types.PhaseLaunching:            11,
	types.PhaseAwaitingConnectivity: 12,
	types.PhaseBootstrapping:        13,
	types.PhaseDeploying:            14,
}

var deployCmd = &cobra.Command{
	Use:   "deploy",
	Short: "Deploy a container image onto a fresh cloud instance",
	Long: `Deploy provisions an instance, installs the container runtime over
the management channel, and starts the requested image on it.

Examples:
  # Deploy the latest image from a repository
  dockhand deploy --region us-east-2 --account-id 123456789012 \
    --repository my-app --instance-class t3.medium

  # Deploy a GPU workload with extra storage
  dockhand deploy --region us-east-2 --account-id 123456789012 \
    --repository trainer --instance-class g5.xlarge --storage-size 200`,
	RunE: runDeploy,
}

func init() {
	deployCmd.Flags().String("region", "", "Cloud region (required)")
	deployCmd.Flags().String("account-id", "", "Account that owns the image registry (required)")
	deployCmd.Flags().String("repository", "", "Registry repository to deploy (required)")
	deployCmd.Flags().String("image-tag", "latest", "Image tag")
	deployCmd.Flags().String("instance-class", "t3.medium", "Instance class to launch")
	deployCmd.Flags().Int("storage-size", 30, "Root volume size in GiB")
	deployCmd.Flags().String("storage-class", "", "Root volume class")
	deployCmd.Flags().String("zone", "", "Availability zone")
	deployCmd.Flags().String("subnet-id", "", "Subnet to place the instance in")
	deployCmd.Flags().String("machine-image", "", "Machine image override (skips catalog lookup)")
	deployCmd.Flags().String("init-script", "", "Path to an instance init script")
	deployCmd.Flags().String("config", "", "Path to YAML configuration file")
	_ = deployCmd.MarkFlagRequired("region")
	_ = deployCmd.MarkFlagRequired("account-id")
	_ = deployCmd.MarkFlagRequired("repository")
}

func runDeploy(cmd *cobra.Command, args []string) error {
	configPath, _ := cmd.Flags().GetString("config")
	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}

	log.Init(log.Config{Level: log.Level(cfg.LogLevel)})

	req, err := requestFromFlags(cmd)
	if err != nil {
		return err
	}

	cc := types.CloudContext{Region: req.Region, AccountID: req.AccountID}
	provider, err := awsFactory(cmd.Context(), cc)
	if err != nil {
		return fmt.Errorf("failed to build cloud client: %v", err)
	}

	store, err := registry.NewStore(cfg.DataDir)
	if err != nil {
		return fmt.Errorf("failed to open instance registry: %v", err)
	}
	defer store.Close()

	template := orchestrationTemplate(cfg)
	template.Compute = provider
	template.Commands = provider
	template.RegistryAuth = provider
	template.Registry = store

	stream := events.NewStream(256)
	done := make(chan *types.Session, 1)
	go func() {
		done <- orchestrator.New(template).Run(cmd.Context(), req, stream)
	}()

	for ev := range stream.Events() {
		switch ev.Kind {
		case events.KindLog:
			fmt.Println(ev.Message)
		case events.KindProgress:
			fmt.Printf("[%3d%%]\n", ev.Percent)
		case events.KindComplete:
			fmt.Println()
			fmt.Println("✓ Deployment succeeded")
			fmt.Printf("  Instance: %s\n", ev.Instance.InstanceID)
			fmt.Printf("  Address:  %s\n", ev.Instance.PublicAddress)
		case events.KindError:
			fmt.Fprintf(os.Stderr, "\n✗ Deployment failed: %s\n", ev.Error.Message)
		}
	}

	session := <-done
	if session.Phase == types.PhaseSucceeded {
		return nil
	}

	code := 1
	if session.Error != nil {
		if c, ok := phaseExitCodes[session.Error.Phase]; ok {
			code = c
		}
	}
	os.Exit(code)
	return nil
}

func requestFromFlags(cmd *cobra.Command) (*types.DeploymentRequest, error) {
	region, _ := cmd.Flags().GetString("region")
	accountID, _ := cmd.Flags().GetString("account-id")
	repository, _ := cmd.Flags().GetString("repository")
	imageTag, _ := cmd.Flags().GetString("image-tag")
	instanceClass, _ := cmd.Flags().GetString("instance-class")
	storageSize, _ := cmd.Flags().GetInt("storage-size")
	storageClass, _ := cmd.Flags().GetString("storage-class")
	zone, _ := cmd.Flags().GetString("zone")
	subnetID, _ := cmd.Flags().GetString("subnet-id")
	machineImage, _ := cmd.Flags().GetString("machine-image")
	initScriptPath, _ := cmd.Flags().GetString("init-script")

	req := &types.DeploymentRequest{
		Region:               region,
		AccountID:            accountID,
		Repository:           repository,
		ImageTag:             imageTag,
		InstanceClass:        instanceClass,
		Storage:              types.StorageSpec{SizeGiB: storageSize, Class: storageClass},
		MachineImageOverride: machineImage,
	}
	if zone != "" || subnetID != "" {
		req.Placement = &types.Placement{Zone: zone, SubnetID: subnetID}
	}
	if initScriptPath != "" {
		script, err := os.ReadFile(initScriptPath)
		if err != nil {
			return nil, fmt.Errorf("failed to read init script: %v", err)
		}
		req.InitScript = string(script)
	}

	if err := req.Validate(); err != nil {
		return nil, err
	}
	return req, nil
}
