// Package mainconfig holds the AWS wiring shared by turn-api and voicectl.
package mainconfig

import (
	"context"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/bedrockruntime"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/sqs"

	appconfig "github.com/wolfman30/voice-turn-core/internal/config"
)

// callPathServices resolve to AWS_ENDPOINT_OVERRIDE when it is set: tenant
// and scenario tables, the call archive bucket, the trace queue, and Tier 3.
var callPathServices = map[string]bool{
	dynamodb.ServiceID:       true,
	s3.ServiceID:             true,
	sqs.ServiceID:            true,
	bedrockruntime.ServiceID: true,
}

// LoadAWSConfig builds the SDK config for the turn API and the voicectl
// Tier 3 check. Static keys win over the default chain when both are set.
func LoadAWSConfig(ctx context.Context, cfg *appconfig.Config) (aws.Config, error) {
	loaders := []func(*config.LoadOptions) error{config.WithRegion(cfg.AWSRegion)}
	if strings.TrimSpace(cfg.AWSAccessKeyID) != "" && strings.TrimSpace(cfg.AWSSecretAccessKey) != "" {
		loaders = append(loaders, config.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(cfg.AWSAccessKeyID, cfg.AWSSecretAccessKey, ""),
		))
	}

	awsCfg, err := config.LoadDefaultConfig(ctx, loaders...)
	if err != nil {
		return aws.Config{}, err
	}
	if endpoint := strings.TrimSpace(cfg.AWSEndpointOverride); endpoint != "" {
		awsCfg.EndpointResolverWithOptions = overrideResolver(endpoint, cfg.AWSRegion)
	}
	return awsCfg, nil
}

// overrideResolver points the call-path services at a LocalStack-style
// endpoint; everything else falls through to the SDK default.
func overrideResolver(endpoint, region string) aws.EndpointResolverWithOptions {
	return aws.EndpointResolverWithOptionsFunc(func(service, _ string, _ ...interface{}) (aws.Endpoint, error) {
		if !callPathServices[service] {
			return aws.Endpoint{}, &aws.EndpointNotFoundError{}
		}
		return aws.Endpoint{
			URL:           endpoint,
			PartitionID:   "aws",
			SigningRegion: region,
		}, nil
	})
}
