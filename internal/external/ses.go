package external

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/sesv2"
	sestypes "github.com/aws/aws-sdk-go-v2/service/sesv2/types"

	"mailfan/internal/types"
)

// SESSendAPI is the subset of the SES v2 client the mailer uses. Extracted
// so tests can provide a mock.
type SESSendAPI interface {
	SendEmail(ctx context.Context, params *sesv2.SendEmailInput, optFns ...func(*sesv2.Options)) (*sesv2.SendEmailOutput, error)
}

// SESMailerConfig holds the sender identity and optional tracking set.
type SESMailerConfig struct {
	FromAddress string
	FromName    string
	// ConfigSetName is the SES configuration set for open/click tracking.
	// Optional; empty disables it.
	ConfigSetName string
	Logger        *slog.Logger
}

// SESMailer sends templated email through AWS SES v2. The template lives
// provider-side; each send carries only the template name and the variable
// payload. Authentication is IAM-role based, and the AWS SDK brings its own
// transport retries, so the mailer does not sit behind BaseClient.
type SESMailer struct {
	api  SESSendAPI
	cfg  SESMailerConfig
	from string
}

// NewSESMailer creates a mailer from an AWS config.
func NewSESMailer(awsCfg aws.Config, cfg SESMailerConfig) *SESMailer {
	return NewSESMailerWithAPI(sesv2.NewFromConfig(awsCfg), cfg)
}

// NewSESMailerWithAPI creates a mailer with a pre-built SES API, for tests.
func NewSESMailerWithAPI(api SESSendAPI, cfg SESMailerConfig) *SESMailer {
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}

	from := cfg.FromAddress
	if cfg.FromName != "" {
		from = fmt.Sprintf("%s <%s>", cfg.FromName, cfg.FromAddress)
	}

	return &SESMailer{api: api, cfg: cfg, from: from}
}

// Send delivers one templated message. TemplateData is serialized to the
// JSON payload SES substitutes into the stored template.
//
// Error mapping:
//   - TooManyRequestsException -> ErrCodeUpstreamRateLimited (the processor
//     keys its backoff off this)
//   - MessageRejected -> ErrCodeEmailBlocked
//   - SendingPausedException -> ErrCodeUpstreamUnavailable
//   - anything else -> ErrCodeUpstreamEmailProvider
func (m *SESMailer) Send(ctx context.Context, input types.SendInput) (string, error) {
	data, err := json.Marshal(input.TemplateData)
	if err != nil {
		return "", types.NewAppError(
			types.ErrCodeInternalUnexpected,
			"failed to encode template data",
			err,
		)
	}

	emailInput := &sesv2.SendEmailInput{
		FromEmailAddress: aws.String(m.from),
		Destination: &sestypes.Destination{
			ToAddresses: []string{input.To},
		},
		Content: &sestypes.EmailContent{
			Template: &sestypes.Template{
				TemplateName: aws.String(input.TemplateID),
				TemplateData: aws.String(string(data)),
			},
		},
	}
	if m.cfg.ConfigSetName != "" {
		emailInput.ConfigurationSetName = aws.String(m.cfg.ConfigSetName)
	}

	result, err := m.api.SendEmail(ctx, emailInput)
	if err != nil {
		return "", mapSESError(err)
	}

	msgID := ""
	if result.MessageId != nil {
		msgID = *result.MessageId
	}
	return msgID, nil
}

// mapSESError translates AWS SES errors into domain AppErrors.
func mapSESError(err error) error {
	var msgRejected *sestypes.MessageRejected
	if errors.As(err, &msgRejected) {
		return types.NewAppError(
			types.ErrCodeEmailBlocked,
			fmt.Sprintf("SES rejected message: %v", err),
			err,
		)
	}

	var tooManyReqs *sestypes.TooManyRequestsException
	if errors.As(err, &tooManyReqs) {
		return types.NewAppError(
			types.ErrCodeUpstreamRateLimited,
			fmt.Sprintf("SES rate limit exceeded: %v", err),
			err,
		)
	}

	var sendingPaused *sestypes.SendingPausedException
	if errors.As(err, &sendingPaused) {
		return types.NewAppError(
			types.ErrCodeUpstreamUnavailable,
			fmt.Sprintf("SES account sending paused: %v", err),
			err,
		)
	}

	return types.NewAppError(
		types.ErrCodeUpstreamEmailProvider,
		fmt.Sprintf("SES error: %v", err),
		err,
	)
}
