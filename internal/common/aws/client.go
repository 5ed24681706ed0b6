// Package aws centralizes aws-sdk-go-v2 client construction.
package aws

import (
	"context"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
)

// LoadConfig loads the default AWS configuration for a region. Credentials
// come from the standard chain (env, shared config, instance metadata).
func LoadConfig(ctx context.Context, region string) (aws.Config, error) {
	return config.LoadDefaultConfig(ctx, config.WithRegion(region))
}
