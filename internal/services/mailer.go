package services

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/ses"
	"github.com/aws/aws-sdk-go-v2/service/ses/types"
)

// AWSSESMailer delivers challenge codes using AWS SES.
type AWSSESMailer struct {
	sesClient   *ses.Client
	fromAddress string
	logger      *slog.Logger
}

// NewAWSSESMailer creates a new AWS SES mailer
func NewAWSSESMailer(region, fromAddress string, logger *slog.Logger) (*AWSSESMailer, error) {
	cfg, err := awsconfig.LoadDefaultConfig(context.Background(), awsconfig.WithRegion(region))
	if err != nil {
		return nil, fmt.Errorf("failed to load AWS config: %w", err)
	}

	return &AWSSESMailer{
		sesClient:   ses.NewFromConfig(cfg),
		fromAddress: fromAddress,
		logger:      logger,
	}, nil
}

// SendChallengeCode sends a second-factor challenge code to the user.
func (m *AWSSESMailer) SendChallengeCode(ctx context.Context, email, code string, expiresAt time.Time) error {
	minutes := int(time.Until(expiresAt).Round(time.Minute).Minutes())

	htmlBody := fmt.Sprintf(`
<!DOCTYPE html>
<html>
<head>
    <meta charset="UTF-8">
    <style>
        body { font-family: Arial, sans-serif; line-height: 1.6; color: #333; }
        .container { max-width: 600px; margin: 0 auto; padding: 20px; }
        .code { font-size: 32px; letter-spacing: 8px; font-weight: bold; text-align: center; padding: 16px; background-color: #f8f9fa; border-radius: 4px; }
        .footer { color: #666; font-size: 12px; margin-top: 20px; padding-top: 20px; border-top: 1px solid #eee; }
    </style>
</head>
<body>
    <div class="container">
        <p>Your verification code:</p>
        <div class="code">%s</div>
        <p>This code expires in %d minutes. If you did not try to sign in, you can ignore this email.</p>
        <div class="footer">This is an automated security message.</div>
    </div>
</body>
</html>`, code, minutes)

	textBody := fmt.Sprintf("Your verification code is %s. It expires in %d minutes.", code, minutes)

	input := &ses.SendEmailInput{
		Source: aws.String(m.fromAddress),
		Destination: &types.Destination{
			ToAddresses: []string{email},
		},
		Message: &types.Message{
			Subject: &types.Content{
				Data: aws.String("Your sign-in verification code"),
			},
			Body: &types.Body{
				Html: &types.Content{Data: aws.String(htmlBody)},
				Text: &types.Content{Data: aws.String(textBody)},
			},
		},
	}

	if _, err := m.sesClient.SendEmail(ctx, input); err != nil {
		m.logger.Error("failed to send challenge email", slog.Any("error", err))
		return fmt.Errorf("send challenge email: %w", err)
	}

	return nil
}

// LogMailer writes challenge codes to the log instead of sending email.
// It is only suitable for development environments without SES access.
type LogMailer struct {
	logger *slog.Logger
}

// NewLogMailer creates a new LogMailer
func NewLogMailer(logger *slog.Logger) *LogMailer {
	return &LogMailer{logger: logger}
}

func (m *LogMailer) SendChallengeCode(_ context.Context, email, code string, expiresAt time.Time) error {
	m.logger.Info("challenge code issued",
		slog.String("email", email),
		slog.String("code", code),
		slog.Time("expires_at", expiresAt))
	return nil
}
