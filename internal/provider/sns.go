package provider

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/sns"
	"github.com/aws/smithy-go"
)

const TypeSNS = "sns"

// SNSPublisher is the slice of the SNS client the provider needs.
type SNSPublisher interface {
	Publish(ctx context.Context, in *sns.PublishInput, optFns ...func(*sns.Options)) (*sns.PublishOutput, error)
}

// SNSClientFactory builds a publisher for a region ("" means the SDK default).
type SNSClientFactory func(ctx context.Context, region string) (SNSPublisher, error)

// DefaultSNSClientFactory resolves credentials through the SDK default chain.
func DefaultSNSClientFactory(ctx context.Context, region string) (SNSPublisher, error) {
	var opts []func(*awsconfig.LoadOptions) error
	if region != "" {
		opts = append(opts, awsconfig.WithRegion(region))
	}
	cfg, err := awsconfig.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("load aws config: %w", err)
	}
	return sns.NewFromConfig(cfg), nil
}

// NewSNS publishes to the topic in the "topicArn" setting. The region comes
// from the "region" setting, else from the ARN itself.
func NewSNS(factory SNSClientFactory) Provider {
	if factory == nil {
		factory = DefaultSNSClientFactory
	}
	var (
		mu      sync.Mutex
		clients = map[string]SNSPublisher{}
	)
	client := func(ctx context.Context, region string) (SNSPublisher, error) {
		mu.Lock()
		defer mu.Unlock()
		if c, ok := clients[region]; ok {
			return c, nil
		}
		c, err := factory(ctx, region)
		if err != nil {
			return nil, err
		}
		clients[region] = c
		return c, nil
	}

	return Provider{
		Type:          TypeSNS,
		CredentialKey: "topicArn",
		Send: func(ctx context.Context, msg Message, to Target) error {
			region := to.Setting("region")
			if region == "" {
				region = regionFromARN(to.Credential)
			}
			c, err := client(ctx, region)
			if err != nil {
				return fmt.Errorf("sns: %w", err)
			}
			in := &sns.PublishInput{
				TopicArn: aws.String(to.Credential),
				Message:  aws.String(plainText(msg)),
			}
			if msg.Title != "" {
				// SNS subjects are limited to 100 characters.
				in.Subject = aws.String(truncate(msg.Title, 97))
			}
			if _, err := c.Publish(ctx, in); err != nil {
				return classifySNS(err)
			}
			return nil
		},
	}
}

func classifySNS(err error) error {
	var apiErr smithy.APIError
	if errors.As(err, &apiErr) && apiErr.ErrorFault() == smithy.FaultClient {
		switch apiErr.ErrorCode() {
		case "Throttling", "ThrottledException":
		default:
			return Permanent(fmt.Errorf("sns: %w", err))
		}
	}
	return fmt.Errorf("sns: %w", err)
}

// regionFromARN extracts the region of arn:aws:sns:<region>:<account>:<topic>.
func regionFromARN(arn string) string {
	parts := strings.Split(arn, ":")
	if len(parts) < 6 || parts[0] != "arn" {
		return ""
	}
	return parts[3]
}
