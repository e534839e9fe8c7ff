package delivery

import (
	"context"
	"fmt"
	"log"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/sesv2"
	"github.com/aws/aws-sdk-go-v2/service/sesv2/types"

	"github.com/shopdesk/shopdesk/internal/pkg/logger"
)

// SESMailer sends emails via AWS SES using the SDK v2.
type SESMailer struct {
	fromEmail string
	fromName  string
	client    *sesv2.Client
}

// NewSESMailer creates an SES mailer. Initializes the AWS SDK client if
// credentials are provided; an unconfigured mailer fails every send.
func NewSESMailer(accessKey, secretKey, region, fromEmail, fromName string) *SESMailer {
	if region == "" {
		region = "eu-west-1"
	}

	m := &SESMailer{fromEmail: fromEmail, fromName: fromName}

	if accessKey != "" && secretKey != "" {
		cfg, err := awsconfig.LoadDefaultConfig(context.Background(),
			awsconfig.WithRegion(region),
			awsconfig.WithCredentialsProvider(credentials.NewStaticCredentialsProvider(accessKey, secretKey, "")),
		)
		if err != nil {
			log.Printf("[SES] Warning: Failed to initialize AWS config: %v", err)
		} else {
			m.client = sesv2.NewFromConfig(cfg)
		}
	}

	return m
}

// Send delivers a single email to the given recipients through AWS SES.
func (m *SESMailer) Send(ctx context.Context, to []string, subject, htmlBody string) (string, error) {
	if m.client == nil {
		return "", fmt.Errorf("SES client not initialized - check credentials")
	}

	input := &sesv2.SendEmailInput{
		FromEmailAddress: aws.String(fmt.Sprintf("%s <%s>", m.fromName, m.fromEmail)),
		Destination:      &types.Destination{ToAddresses: to},
		Content: &types.EmailContent{
			Simple: &types.Message{
				Subject: &types.Content{Data: aws.String(subject), Charset: aws.String("UTF-8")},
				Body: &types.Body{
					Html: &types.Content{Data: aws.String(htmlBody), Charset: aws.String("UTF-8")},
				},
			},
		},
	}

	result, err := m.client.SendEmail(ctx, input)
	if err != nil {
		log.Printf("[SES] Failed to send to %s: %v", logger.RedactEmail(to[0]), err)
		return "", fmt.Errorf("ses send: %w", err)
	}

	messageID := ""
	if result.MessageId != nil {
		messageID = *result.MessageId
	}
	log.Printf("[SES] Sent to %d recipient(s) (id: %s)", len(to), messageID)
	return messageID, nil
}
