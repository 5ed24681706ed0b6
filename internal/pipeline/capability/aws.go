package capability

import (
	"context"
	"errors"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/ec2"
	ec2types "github.com/aws/aws-sdk-go-v2/service/ec2/types"
	"github.com/aws/smithy-go"

	pipelineerrors "infra-wizard/internal/common/errors"
	"infra-wizard/internal/lexicon"
	"infra-wizard/internal/models"
)

// EC2API is the slice of the EC2 client the adapter uses.
type EC2API interface {
	DescribeRegions(ctx context.Context, params *ec2.DescribeRegionsInput, optFns ...func(*ec2.Options)) (*ec2.DescribeRegionsOutput, error)
	DescribeInstanceTypeOfferings(ctx context.Context, params *ec2.DescribeInstanceTypeOfferingsInput, optFns ...func(*ec2.Options)) (*ec2.DescribeInstanceTypeOfferingsOutput, error)
}

// AWSAdapter serves live region and instance-type capability data from the
// EC2 API. Database engine versions come from the bundled catalogue until an
// RDS client is wired in.
type AWSAdapter struct {
	api EC2API
	lex *lexicon.Lexicon
}

func NewAWSAdapter(api EC2API, lex *lexicon.Lexicon) *AWSAdapter {
	return &AWSAdapter{api: api, lex: lex}
}

func (a *AWSAdapter) Supports(provider string) bool {
	return provider == "aws"
}

func (a *AWSAdapter) FetchCapabilities(ctx context.Context, provider, region string, kind models.ResourceKind) (*models.CapabilityFact, error) {
	if !a.Supports(provider) {
		return nil, pipelineerrors.NewProviderUnavailableError(provider, errors.New("no live adapter for provider"))
	}

	allowed := make(map[string][]string)

	regions, err := a.fetchRegions(ctx)
	if err != nil {
		return nil, mapAWSError(provider, err)
	}
	allowed["region"] = regions

	switch kind {
	case models.KindCompute:
		types, err := a.fetchInstanceTypes(ctx, region)
		if err != nil {
			return nil, mapAWSError(provider, err)
		}
		allowed["instance_type"] = types
	case models.KindDatabase:
		snapshot, err := a.lex.SnapshotFact(provider, region, kind)
		if err != nil {
			return nil, err
		}
		allowed["engine"] = snapshot.Allowed["engine"]
		allowed["engine_version"] = snapshot.Allowed["engine_version"]
	}

	return &models.CapabilityFact{
		Provider:  provider,
		Region:    region,
		Kind:      kind,
		Allowed:   allowed,
		FetchedAt: time.Now().UTC(),
	}, nil
}

func (a *AWSAdapter) fetchRegions(ctx context.Context) ([]string, error) {
	out, err := a.api.DescribeRegions(ctx, &ec2.DescribeRegionsInput{})
	if err != nil {
		return nil, err
	}
	regions := make([]string, 0, len(out.Regions))
	for _, r := range out.Regions {
		if r.RegionName != nil {
			regions = append(regions, *r.RegionName)
		}
	}
	return regions, nil
}

func (a *AWSAdapter) fetchInstanceTypes(ctx context.Context, region string) ([]string, error) {
	input := &ec2.DescribeInstanceTypeOfferingsInput{
		LocationType: ec2types.LocationTypeRegion,
		Filters: []ec2types.Filter{
			{Name: aws.String("location"), Values: []string{region}},
		},
	}

	var types []string
	for {
		out, err := a.api.DescribeInstanceTypeOfferings(ctx, input)
		if err != nil {
			return nil, err
		}
		for _, offering := range out.InstanceTypeOfferings {
			types = append(types, string(offering.InstanceType))
		}
		if out.NextToken == nil {
			return types, nil
		}
		input.NextToken = out.NextToken
	}
}

// credentialErrorCodes are the EC2 API error codes the pipeline never
// retries; they abort the session before any file is written.
var credentialErrorCodes = map[string]bool{
	"AuthFailure":           true,
	"UnauthorizedOperation": true,
	"InvalidClientTokenId":  true,
	"SignatureDoesNotMatch": true,
	"RequestExpired":        true,
}

func mapAWSError(provider string, err error) error {
	var apiErr smithy.APIError
	if errors.As(err, &apiErr) && credentialErrorCodes[apiErr.ErrorCode()] {
		return pipelineerrors.NewInvalidCredentialsError(provider, err)
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return pipelineerrors.NewProviderTimeoutError(provider)
	}
	return pipelineerrors.NewProviderUnavailableError(provider, err)
}
