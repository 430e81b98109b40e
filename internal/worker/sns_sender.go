package worker

import (
	"context"
	"fmt"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/sns"
	"go.uber.org/zap"

	"github.com/redgarden/venue-workers/internal/alert"
)

type snsAPI interface {
	Publish(ctx context.Context, params *sns.PublishInput, optFns ...func(*sns.Options)) (*sns.PublishOutput, error)
}

// SNSSender texts alerts to the admin phone via AWS SNS (SMS_PROVIDER=sns)
type SNSSender struct {
	client snsAPI
	to     string
	logger *zap.Logger
}

type SNSConfig struct {
	Region     string
	AdminPhone string
}

func NewSNSSender(ctx context.Context, cfg SNSConfig, logger *zap.Logger) (*SNSSender, error) {
	awsCfg, err := config.LoadDefaultConfig(ctx, config.WithRegion(cfg.Region))
	if err != nil {
		return nil, fmt.Errorf("failed to load default AWS config for SNS: %w", err)
	}

	return &SNSSender{
		client: sns.NewFromConfig(awsCfg),
		to:     cfg.AdminPhone,
		logger: logger,
	}, nil
}

func (s *SNSSender) Send(ctx context.Context, a *alert.Alert) error {
	input := &sns.PublishInput{
		PhoneNumber: aws.String(s.to),
		Message:     aws.String(a.Text),
	}

	result, err := s.client.Publish(ctx, input)
	if err != nil {
		return fmt.Errorf("sns publish failed: %w", err)
	}

	s.logger.Info("SMS sent via SNS",
		zap.String("notification_id", a.NotificationID),
		zap.String("phone_number", s.to),
		zap.String("message_id", aws.ToString(result.MessageId)),
	)
	return nil
}

func (s *SNSSender) SupportsChannel(channel string) bool {
	return channel == alert.ChannelSMS
}
