package directory

import (
	"context"
	"fmt"

	"github.com/aws/aws-sdk-go-v2/service/ec2"
	"github.com/rs/zerolog/log"
)

// EC2API is the subset of the EC2 client used for region discovery.
type EC2API interface {
	DescribeRegions(ctx context.Context, params *ec2.DescribeRegionsInput, optFns ...func(*ec2.Options)) (*ec2.DescribeRegionsOutput, error)
}

// EnabledRegions intersects want with the regions enabled for the account.
// Opt-in regions left disabled would reject instance creation, so they are
// dropped before any deployment targets them.
func EnabledRegions(ctx context.Context, client EC2API, want []string) ([]string, error) {
	out, err := client.DescribeRegions(ctx, &ec2.DescribeRegionsInput{})
	if err != nil {
		return nil, fmt.Errorf("%w: failed to describe enabled regions: %v", ErrDirectory, err)
	}

	enabled := make(map[string]bool, len(out.Regions))
	for _, region := range out.Regions {
		if region.RegionName != nil {
			enabled[*region.RegionName] = true
		}
	}

	var regions []string
	for _, region := range want {
		if enabled[region] {
			regions = append(regions, region)
			continue
		}
		log.Warn().Str("region", region).Msg("Configured region not enabled for this account, dropping")
	}

	return regions, nil
}
