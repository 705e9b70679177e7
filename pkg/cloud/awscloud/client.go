// Package awscloud implements the cloud provider interfaces against AWS:
// EC2 for compute, SSM for the management channel, and ECR for registry
// authentication. It is the only package that imports the AWS SDK.
package awscloud

import (
	"context"
	"fmt"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/ec2"
	"github.com/aws/aws-sdk-go-v2/service/ecr"
	"github.com/aws/aws-sdk-go-v2/service/ssm"

	"github.com/dockhand/dockhand/pkg/types"
)

// Client bundles the per-request AWS service clients. One Client is built
// per deployment from the request's CloudContext; nothing is read from
// process-wide environment inside orchestration logic.
type Client struct {
	ec2 *ec2.Client
	ssm *ssm.Client
	ecr *ecr.Client
}

// New builds service clients scoped to the given cloud context. When the
// context carries no static credentials the SDK's default chain is used,
// which is the boundary where ambient credentials are allowed in.
func New(ctx context.Context, cc types.CloudContext) (*Client, error) {
	opts := []func(*awsconfig.LoadOptions) error{
		awsconfig.WithRegion(cc.Region),
	}
	if cc.AccessKeyID != "" {
		opts = append(opts, awsconfig.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(cc.AccessKeyID, cc.SecretAccessKey, cc.SessionToken),
		))
	}

	cfg, err := awsconfig.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to load AWS config: %w", err)
	}

	return &Client{
		ec2: ec2.NewFromConfig(cfg),
		ssm: ssm.NewFromConfig(cfg),
		ecr: ecr.NewFromConfig(cfg),
	}, nil
}

func strOrEmpty(s *string) string {
	return aws.ToString(s)
}
