package notify

import (
	"context"
	"fmt"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/sns"
	"github.com/aws/aws-sdk-go-v2/service/sns/types"
)

// SNSPublisher is the slice of the SNS client the SMS sender uses.
type SNSPublisher interface {
	Publish(ctx context.Context, in *sns.PublishInput, opts ...func(*sns.Options)) (*sns.PublishOutput, error)
}

// SMSSender delivers messages as SMS through AWS SNS.
type SMSSender struct {
	client   SNSPublisher
	senderID string
}

// NewSMSSender loads the default AWS config for region.
func NewSMSSender(ctx context.Context, region, senderID string) (*SMSSender, error) {
	var opts []func(*awsconfig.LoadOptions) error
	if region != "" {
		opts = append(opts, awsconfig.WithRegion(region))
	}
	cfg, err := awsconfig.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("load aws config: %w", err)
	}
	return NewSMSSenderWithClient(sns.NewFromConfig(cfg), senderID), nil
}

func NewSMSSenderWithClient(client SNSPublisher, senderID string) *SMSSender {
	return &SMSSender{client: client, senderID: senderID}
}

// Send publishes the body to the recipient's phone number. SMS has no subject.
func (s *SMSSender) Send(ctx context.Context, m Message) error {
	in := &sns.PublishInput{
		PhoneNumber: aws.String(m.To),
		Message:     aws.String(m.Body),
	}
	if s.senderID != "" {
		in.MessageAttributes = map[string]types.MessageAttributeValue{
			"AWS.SNS.SMS.SenderID": {DataType: aws.String("String"), StringValue: aws.String(s.senderID)},
		}
	}
	if _, err := s.client.Publish(ctx, in); err != nil {
		return fmt.Errorf("send sms to %s: %w", m.To, err)
	}
	return nil
}
