package external

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/sesv2"
	sestypes "github.com/aws/aws-sdk-go-v2/service/sesv2/types"

	"mailfan/internal/types"
)

// SESTemplateAPI is the subset of the SES v2 client the template store uses.
type SESTemplateAPI interface {
	CreateEmailTemplate(ctx context.Context, params *sesv2.CreateEmailTemplateInput, optFns ...func(*sesv2.Options)) (*sesv2.CreateEmailTemplateOutput, error)
	GetEmailTemplate(ctx context.Context, params *sesv2.GetEmailTemplateInput, optFns ...func(*sesv2.Options)) (*sesv2.GetEmailTemplateOutput, error)
	ListEmailTemplates(ctx context.Context, params *sesv2.ListEmailTemplatesInput, optFns ...func(*sesv2.Options)) (*sesv2.ListEmailTemplatesOutput, error)
	UpdateEmailTemplate(ctx context.Context, params *sesv2.UpdateEmailTemplateInput, optFns ...func(*sesv2.Options)) (*sesv2.UpdateEmailTemplateOutput, error)
	DeleteEmailTemplate(ctx context.Context, params *sesv2.DeleteEmailTemplateInput, optFns ...func(*sesv2.Options)) (*sesv2.DeleteEmailTemplateOutput, error)
}

// SESTemplateStore manages provider-side email templates. Bulk jobs
// reference templates by name, so template CRUD is part of the service's
// management surface.
type SESTemplateStore struct {
	api    SESTemplateAPI
	logger *slog.Logger
}

// NewSESTemplateStore creates a template store from an AWS config.
func NewSESTemplateStore(awsCfg aws.Config, logger *slog.Logger) *SESTemplateStore {
	return NewSESTemplateStoreWithAPI(sesv2.NewFromConfig(awsCfg), logger)
}

// NewSESTemplateStoreWithAPI creates a template store with a pre-built SES
// API, for tests.
func NewSESTemplateStoreWithAPI(api SESTemplateAPI, logger *slog.Logger) *SESTemplateStore {
	if logger == nil {
		logger = slog.Default()
	}
	return &SESTemplateStore{api: api, logger: logger}
}

// Create registers a new template. A duplicate name maps to a conflict.
func (s *SESTemplateStore) Create(ctx context.Context, tmpl types.EmailTemplate) error {
	_, err := s.api.CreateEmailTemplate(ctx, &sesv2.CreateEmailTemplateInput{
		TemplateName:    aws.String(tmpl.Name),
		TemplateContent: templateContent(tmpl),
	})
	if err != nil {
		var exists *sestypes.AlreadyExistsException
		if errors.As(err, &exists) {
			return types.NewAppError(types.ErrCodeConflictTemplateExists,
				fmt.Sprintf("template %s already exists", tmpl.Name), err)
		}
		return mapTemplateError(tmpl.Name, err)
	}
	return nil
}

// Get fetches one template by name.
func (s *SESTemplateStore) Get(ctx context.Context, name string) (*types.EmailTemplate, error) {
	out, err := s.api.GetEmailTemplate(ctx, &sesv2.GetEmailTemplateInput{
		TemplateName: aws.String(name),
	})
	if err != nil {
		return nil, mapTemplateError(name, err)
	}

	tmpl := &types.EmailTemplate{Name: name}
	if out.TemplateContent != nil {
		tmpl.Subject = aws.ToString(out.TemplateContent.Subject)
		tmpl.HTMLBody = aws.ToString(out.TemplateContent.Html)
		tmpl.TextBody = aws.ToString(out.TemplateContent.Text)
	}
	return tmpl, nil
}

// List returns the names and creation times of all templates, following
// pagination to exhaustion. Only metadata comes back from the list call;
// bodies require a Get.
func (s *SESTemplateStore) List(ctx context.Context) ([]types.EmailTemplate, error) {
	var templates []types.EmailTemplate
	var nextToken *string

	for {
		out, err := s.api.ListEmailTemplates(ctx, &sesv2.ListEmailTemplatesInput{
			NextToken: nextToken,
		})
		if err != nil {
			return nil, types.NewAppError(types.ErrCodeUpstreamEmailProvider,
				"failed to list templates", err)
		}

		for _, meta := range out.TemplatesMetadata {
			tmpl := types.EmailTemplate{Name: aws.ToString(meta.TemplateName)}
			if meta.CreatedTimestamp != nil {
				t := *meta.CreatedTimestamp
				tmpl.CreatedAt = &t
			}
			templates = append(templates, tmpl)
		}

		if out.NextToken == nil {
			return templates, nil
		}
		nextToken = out.NextToken
	}
}

// Update replaces an existing template's content.
func (s *SESTemplateStore) Update(ctx context.Context, tmpl types.EmailTemplate) error {
	_, err := s.api.UpdateEmailTemplate(ctx, &sesv2.UpdateEmailTemplateInput{
		TemplateName:    aws.String(tmpl.Name),
		TemplateContent: templateContent(tmpl),
	})
	if err != nil {
		return mapTemplateError(tmpl.Name, err)
	}
	return nil
}

// Delete removes a template by name.
func (s *SESTemplateStore) Delete(ctx context.Context, name string) error {
	_, err := s.api.DeleteEmailTemplate(ctx, &sesv2.DeleteEmailTemplateInput{
		TemplateName: aws.String(name),
	})
	if err != nil {
		return mapTemplateError(name, err)
	}
	return nil
}

func templateContent(tmpl types.EmailTemplate) *sestypes.EmailTemplateContent {
	content := &sestypes.EmailTemplateContent{
		Subject: aws.String(tmpl.Subject),
	}
	if tmpl.HTMLBody != "" {
		content.Html = aws.String(tmpl.HTMLBody)
	}
	if tmpl.TextBody != "" {
		content.Text = aws.String(tmpl.TextBody)
	}
	return content
}

// mapTemplateError translates SES template errors into domain AppErrors.
func mapTemplateError(name string, err error) error {
	var notFound *sestypes.NotFoundException
	if errors.As(err, &notFound) {
		return types.NewAppError(types.ErrCodeNotFoundTemplate,
			fmt.Sprintf("template %s not found", name), err)
	}

	var tooManyReqs *sestypes.TooManyRequestsException
	if errors.As(err, &tooManyReqs) {
		return types.NewAppError(types.ErrCodeUpstreamRateLimited,
			"SES rate limit exceeded", err)
	}

	return types.NewAppError(types.ErrCodeUpstreamEmailProvider,
		fmt.Sprintf("SES template operation failed for %s", name), err)
}
