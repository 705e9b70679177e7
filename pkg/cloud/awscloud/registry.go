package awscloud

import (
	"context"
	"encoding/base64"
	"fmt"
	"strings"

	"github.com/aws/aws-sdk-go-v2/service/ecr"
)

// PullToken fetches a short-lived ECR authorization token and splits it
// into the username/password pair docker login expects.
func (c *Client) PullToken(ctx context.Context) (string, string, error) {
	out, err := c.ecr.GetAuthorizationToken(ctx, &ecr.GetAuthorizationTokenInput{})
	if err != nil {
		return "", "", fmt.Errorf("failed to get registry authorization token: %w", err)
	}
	if len(out.AuthorizationData) == 0 {
		return "", "", fmt.Errorf("registry returned no authorization data")
	}

	raw, err := base64.StdEncoding.DecodeString(strOrEmpty(out.AuthorizationData[0].AuthorizationToken))
	if err != nil {
		return "", "", fmt.Errorf("failed to decode authorization token: %w", err)
	}

	user, pass, ok := strings.Cut(string(raw), ":")
	if !ok {
		return "", "", fmt.Errorf("malformed authorization token")
	}
	return user, pass, nil
}

// ListRepositories returns the account's image repository names, for the
// console's metadata endpoint.
func (c *Client) ListRepositories(ctx context.Context) ([]string, error) {
	var names []string
	paginator := ecr.NewDescribeRepositoriesPaginator(c.ecr, &ecr.DescribeRepositoriesInput{})
	for paginator.HasMorePages() {
		page, err := paginator.NextPage(ctx)
		if err != nil {
			return nil, fmt.Errorf("failed to list repositories: %w", err)
		}
		for _, repo := range page.Repositories {
			names = append(names, strOrEmpty(repo.RepositoryName))
		}
	}
	return names, nil
}
