package notify

import (
	"context"
	"fmt"
	"strings"

	"github.com/Joseph-Xorlasi-Dzagli/Apsel-web-sub001/internal/events"
	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/sns"
	"github.com/aws/aws-sdk-go-v2/service/sns/types"
	"github.com/sirupsen/logrus"
)

// SNSAPI is the part of the SNS client the sender uses.
type SNSAPI interface {
	Publish(ctx context.Context, params *sns.PublishInput, optFns ...func(*sns.Options)) (*sns.PublishOutput, error)
}

// NewSNSClient loads the default AWS configuration. A non-empty endpoint
// points the client at a local emulator.
func NewSNSClient(ctx context.Context, region, endpoint string) (*sns.Client, error) {
	var opts []func(*awsconfig.LoadOptions) error
	if region != "" {
		opts = append(opts, awsconfig.WithRegion(region))
	}
	cfg, err := awsconfig.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to load aws config: %w", err)
	}
	return sns.NewFromConfig(cfg, func(o *sns.Options) {
		if endpoint != "" {
			o.BaseEndpoint = aws.String(endpoint)
		}
	}), nil
}

// SNSSender texts customers that have a phone number. Customers reachable
// only by email are published to the email topic when one is configured.
type SNSSender struct {
	client     SNSAPI
	senderID   string
	emailTopic string
	logger     *logrus.Logger
}

func NewSNSSender(client SNSAPI, senderID, emailTopicARN string, logger *logrus.Logger) *SNSSender {
	return &SNSSender{client: client, senderID: senderID, emailTopic: emailTopicARN, logger: logger}
}

func (s *SNSSender) Name() string { return "sns" }

func (s *SNSSender) Send(ctx context.Context, n events.CustomerNotification) error {
	var input *sns.PublishInput
	switch {
	case n.Contact.Phone != "":
		phone := normalizePhone(n.Contact.Phone)
		if !strings.HasPrefix(phone, "+") {
			return permanent("phone number %q is not in E.164 form", n.Contact.Phone)
		}
		input = &sns.PublishInput{
			PhoneNumber: aws.String(phone),
			Message:     aws.String(n.Message),
		}
		if s.senderID != "" {
			input.MessageAttributes = map[string]types.MessageAttributeValue{
				"AWS.SNS.SMS.SenderID": {DataType: aws.String("String"), StringValue: aws.String(s.senderID)},
			}
		}
	case n.Contact.Email != "" && s.emailTopic != "":
		input = &sns.PublishInput{
			TopicArn: aws.String(s.emailTopic),
			Subject:  aws.String("Update on your order"),
			Message:  aws.String(n.Message),
			MessageAttributes: map[string]types.MessageAttributeValue{
				"email":    {DataType: aws.String("String"), StringValue: aws.String(n.Contact.Email)},
				"order_id": {DataType: aws.String("String"), StringValue: aws.String(n.OrderID)},
			},
		}
	default:
		return ErrNoRoute
	}

	out, err := s.client.Publish(ctx, input)
	if err != nil {
		return fmt.Errorf("sns publish failed: %w", err)
	}
	s.logger.WithFields(logrus.Fields{
		"order_id":   n.OrderID,
		"message_id": aws.ToString(out.MessageId),
	}).Debug("Published notification to SNS")
	return nil
}

func normalizePhone(phone string) string {
	return strings.Map(func(r rune) rune {
		if r == ' ' || r == '-' || r == '(' || r == ')' {
			return -1
		}
		return r
	}, strings.TrimSpace(phone))
}
