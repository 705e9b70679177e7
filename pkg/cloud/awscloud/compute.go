package awscloud

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/ec2"
	ec2types "github.com/aws/aws-sdk-go-v2/service/ec2/types"
	"github.com/aws/smithy-go"

	"github.com/dockhand/dockhand/pkg/cloud"
)

const (
	// Image name patterns for machine image resolution. GPU classes get
	// the NVIDIA deep learning base image, everything else the current
	// general-purpose Amazon Linux.
	gpuImagePattern     = "Deep Learning Base OSS Nvidia Driver GPU AMI (Amazon Linux 2023)*"
	generalImagePattern = "al2023-ami-2023*-x86_64"

	managementPort = 443
)

// FindSecurityPolicy looks up a security group by name. Returns nil when
// no group with that name exists.
func (c *Client) FindSecurityPolicy(ctx context.Context, name string) (*cloud.SecurityPolicy, error) {
	out, err := c.ec2.DescribeSecurityGroups(ctx, &ec2.DescribeSecurityGroupsInput{
		Filters: []ec2types.Filter{
			{Name: aws.String("group-name"), Values: []string{name}},
		},
	})
	if err != nil {
		return nil, fmt.Errorf("failed to describe security groups: %w", err)
	}
	if len(out.SecurityGroups) == 0 {
		return nil, nil
	}

	sg := out.SecurityGroups[0]
	return &cloud.SecurityPolicy{
		ID:   strOrEmpty(sg.GroupId),
		Name: strOrEmpty(sg.GroupName),
	}, nil
}

// CreateSecurityPolicy creates a security group with no inbound rules and
// outbound access restricted to the management channel's HTTPS port. The
// default allow-all egress rule is revoked before the narrow rule is added.
func (c *Client) CreateSecurityPolicy(ctx context.Context, name string) (*cloud.SecurityPolicy, error) {
	created, err := c.ec2.CreateSecurityGroup(ctx, &ec2.CreateSecurityGroupInput{
		GroupName:   aws.String(name),
		Description: aws.String("dockhand deployment: management channel egress only"),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create security group %s: %w", name, err)
	}
	groupID := strOrEmpty(created.GroupId)

	_, err = c.ec2.RevokeSecurityGroupEgress(ctx, &ec2.RevokeSecurityGroupEgressInput{
		GroupId: created.GroupId,
		IpPermissions: []ec2types.IpPermission{
			{
				IpProtocol: aws.String("-1"),
				IpRanges:   []ec2types.IpRange{{CidrIp: aws.String("0.0.0.0/0")}},
			},
		},
	})
	if err != nil {
		return nil, fmt.Errorf("failed to revoke default egress on %s: %w", groupID, err)
	}

	_, err = c.ec2.AuthorizeSecurityGroupEgress(ctx, &ec2.AuthorizeSecurityGroupEgressInput{
		GroupId: created.GroupId,
		IpPermissions: []ec2types.IpPermission{
			{
				IpProtocol: aws.String("tcp"),
				FromPort:   aws.Int32(managementPort),
				ToPort:     aws.Int32(managementPort),
				IpRanges:   []ec2types.IpRange{{CidrIp: aws.String("0.0.0.0/0")}},
			},
		},
	})
	if err != nil {
		return nil, fmt.Errorf("failed to authorize management egress on %s: %w", groupID, err)
	}

	return &cloud.SecurityPolicy{ID: groupID, Name: name}, nil
}

// ListMachineImages returns available Amazon-owned images matching the
// filter's class family.
func (c *Client) ListMachineImages(ctx context.Context, filter cloud.ImageFilter) ([]cloud.MachineImage, error) {
	pattern := generalImagePattern
	if filter.GPU {
		pattern = gpuImagePattern
	}

	out, err := c.ec2.DescribeImages(ctx, &ec2.DescribeImagesInput{
		Owners: []string{"amazon"},
		Filters: []ec2types.Filter{
			{Name: aws.String("name"), Values: []string{pattern}},
			{Name: aws.String("state"), Values: []string{"available"}},
			{Name: aws.String("architecture"), Values: []string{"x86_64"}},
		},
	})
	if err != nil {
		return nil, fmt.Errorf("failed to describe images: %w", err)
	}

	images := make([]cloud.MachineImage, 0, len(out.Images))
	for _, img := range out.Images {
		created, err := time.Parse(time.RFC3339, strOrEmpty(img.CreationDate))
		if err != nil {
			created = time.Time{}
		}
		images = append(images, cloud.MachineImage{
			ID:        strOrEmpty(img.ImageId),
			Name:      strOrEmpty(img.Name),
			CreatedAt: created,
		})
	}
	return images, nil
}

// LaunchInstance creates exactly one instance per the spec and returns its
// id without waiting for it to run.
func (c *Client) LaunchInstance(ctx context.Context, spec cloud.LaunchSpec) (string, error) {
	ebs := &ec2types.EbsBlockDevice{
		VolumeSize:          aws.Int32(int32(spec.StorageSizeGiB)),
		DeleteOnTermination: aws.Bool(true),
	}
	if spec.StorageClass != "" {
		ebs.VolumeType = ec2types.VolumeType(spec.StorageClass)
	}

	input := &ec2.RunInstancesInput{
		ImageId:          aws.String(spec.ImageID),
		InstanceType:     ec2types.InstanceType(spec.InstanceClass),
		MinCount:         aws.Int32(1),
		MaxCount:         aws.Int32(1),
		SecurityGroupIds: []string{spec.PolicyID},
		BlockDeviceMappings: []ec2types.BlockDeviceMapping{
			{DeviceName: aws.String("/dev/xvda"), Ebs: ebs},
		},
		TagSpecifications: []ec2types.TagSpecification{
			{
				ResourceType: ec2types.ResourceTypeInstance,
				Tags: []ec2types.Tag{
					{Key: aws.String("Name"), Value: aws.String(spec.Name)},
					{Key: aws.String("managed-by"), Value: aws.String("dockhand")},
				},
			},
		},
	}

	if spec.Profile != "" {
		input.IamInstanceProfile = &ec2types.IamInstanceProfileSpecification{
			Name: aws.String(spec.Profile),
		}
	}
	if spec.SubnetID != "" {
		input.SubnetId = aws.String(spec.SubnetID)
	}
	if spec.Zone != "" {
		input.Placement = &ec2types.Placement{AvailabilityZone: aws.String(spec.Zone)}
	}
	if spec.InitScript != "" {
		input.UserData = aws.String(base64.StdEncoding.EncodeToString([]byte(spec.InitScript)))
	}

	out, err := c.ec2.RunInstances(ctx, input)
	if err != nil {
		return "", fmt.Errorf("failed to launch instance: %w", err)
	}
	if len(out.Instances) == 0 {
		return "", fmt.Errorf("launch returned no instances")
	}
	return strOrEmpty(out.Instances[0].InstanceId), nil
}

// InstanceState reports the instance's lifecycle state.
func (c *Client) InstanceState(ctx context.Context, instanceID string) (cloud.InstanceState, error) {
	inst, err := c.describeInstance(ctx, instanceID)
	if err != nil {
		return cloud.InstanceStateUnknown, err
	}
	if inst == nil || inst.State == nil {
		return cloud.InstanceStateUnknown, nil
	}

	switch inst.State.Name {
	case ec2types.InstanceStateNamePending:
		return cloud.InstanceStatePending, nil
	case ec2types.InstanceStateNameRunning:
		return cloud.InstanceStateRunning, nil
	case ec2types.InstanceStateNameTerminated, ec2types.InstanceStateNameShuttingDown:
		return cloud.InstanceStateTerminated, nil
	default:
		return cloud.InstanceStateUnknown, nil
	}
}

// InstanceAddress returns the instance's public DNS name, falling back to
// the public IP. Empty while no address is assigned.
func (c *Client) InstanceAddress(ctx context.Context, instanceID string) (string, error) {
	inst, err := c.describeInstance(ctx, instanceID)
	if err != nil {
		return "", err
	}
	if inst == nil {
		return "", nil
	}
	if dns := strOrEmpty(inst.PublicDnsName); dns != "" {
		return dns, nil
	}
	return strOrEmpty(inst.PublicIpAddress), nil
}

// TerminateInstance terminates by id. Terminating an unknown or
// already-terminated instance is not an error.
func (c *Client) TerminateInstance(ctx context.Context, instanceID string) error {
	_, err := c.ec2.TerminateInstances(ctx, &ec2.TerminateInstancesInput{
		InstanceIds: []string{instanceID},
	})
	if err != nil {
		var apiErr smithy.APIError
		if errors.As(err, &apiErr) && apiErr.ErrorCode() == "InvalidInstanceID.NotFound" {
			return nil
		}
		return fmt.Errorf("failed to terminate instance %s: %w", instanceID, err)
	}
	return nil
}

func (c *Client) describeInstance(ctx context.Context, instanceID string) (*ec2types.Instance, error) {
	out, err := c.ec2.DescribeInstances(ctx, &ec2.DescribeInstancesInput{
		InstanceIds: []string{instanceID},
	})
	if err != nil {
		return nil, fmt.Errorf("failed to describe instance %s: %w", instanceID, err)
	}
	for _, res := range out.Reservations {
		for i := range res.Instances {
			return &res.Instances[i], nil
		}
	}
	return nil, nil
}
