package external

import (
	"context"
	"testing"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/sesv2"
	sestypes "github.com/aws/aws-sdk-go-v2/service/sesv2/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"mailfan/internal/types"
)

// mockSESTemplates is an in-memory SESTemplateAPI.
type mockSESTemplates struct {
	templates map[string]*sestypes.EmailTemplateContent
	created   map[string]time.Time
	pageSize  int
	failErr   error
}

func newMockSESTemplates() *mockSESTemplates {
	return &mockSESTemplates{
		templates: make(map[string]*sestypes.EmailTemplateContent),
		created:   make(map[string]time.Time),
	}
}

func (m *mockSESTemplates) CreateEmailTemplate(_ context.Context, params *sesv2.CreateEmailTemplateInput, _ ...func(*sesv2.Options)) (*sesv2.CreateEmailTemplateOutput, error) {
	if m.failErr != nil {
		return nil, m.failErr
	}
	name := aws.ToString(params.TemplateName)
	if _, ok := m.templates[name]; ok {
		return nil, &sestypes.AlreadyExistsException{}
	}
	m.templates[name] = params.TemplateContent
	m.created[name] = time.Now().UTC()
	return &sesv2.CreateEmailTemplateOutput{}, nil
}

func (m *mockSESTemplates) GetEmailTemplate(_ context.Context, params *sesv2.GetEmailTemplateInput, _ ...func(*sesv2.Options)) (*sesv2.GetEmailTemplateOutput, error) {
	if m.failErr != nil {
		return nil, m.failErr
	}
	content, ok := m.templates[aws.ToString(params.TemplateName)]
	if !ok {
		return nil, &sestypes.NotFoundException{}
	}
	return &sesv2.GetEmailTemplateOutput{
		TemplateName:    params.TemplateName,
		TemplateContent: content,
	}, nil
}

func (m *mockSESTemplates) ListEmailTemplates(_ context.Context, params *sesv2.ListEmailTemplatesInput, _ ...func(*sesv2.Options)) (*sesv2.ListEmailTemplatesOutput, error) {
	if m.failErr != nil {
		return nil, m.failErr
	}

	names := make([]string, 0, len(m.templates))
	for name := range m.templates {
		names = append(names, name)
	}
	// Deterministic paging for the test.
	for i := 0; i < len(names); i++ {
		for k := i + 1; k < len(names); k++ {
			if names[k] < names[i] {
				names[i], names[k] = names[k], names[i]
			}
		}
	}

	start := 0
	if params.NextToken != nil {
		for i, name := range names {
			if name == aws.ToString(params.NextToken) {
				start = i
				break
			}
		}
	}

	end := len(names)
	pageSize := m.pageSize
	if pageSize > 0 && start+pageSize < end {
		end = start + pageSize
	}

	out := &sesv2.ListEmailTemplatesOutput{}
	for _, name := range names[start:end] {
		ts := m.created[name]
		out.TemplatesMetadata = append(out.TemplatesMetadata, sestypes.EmailTemplateMetadata{
			TemplateName:     aws.String(name),
			CreatedTimestamp: &ts,
		})
	}
	if end < len(names) {
		out.NextToken = aws.String(names[end])
	}
	return out, nil
}

func (m *mockSESTemplates) UpdateEmailTemplate(_ context.Context, params *sesv2.UpdateEmailTemplateInput, _ ...func(*sesv2.Options)) (*sesv2.UpdateEmailTemplateOutput, error) {
	if m.failErr != nil {
		return nil, m.failErr
	}
	name := aws.ToString(params.TemplateName)
	if _, ok := m.templates[name]; !ok {
		return nil, &sestypes.NotFoundException{}
	}
	m.templates[name] = params.TemplateContent
	return &sesv2.UpdateEmailTemplateOutput{}, nil
}

func (m *mockSESTemplates) DeleteEmailTemplate(_ context.Context, params *sesv2.DeleteEmailTemplateInput, _ ...func(*sesv2.Options)) (*sesv2.DeleteEmailTemplateOutput, error) {
	if m.failErr != nil {
		return nil, m.failErr
	}
	name := aws.ToString(params.TemplateName)
	if _, ok := m.templates[name]; !ok {
		return nil, &sestypes.NotFoundException{}
	}
	delete(m.templates, name)
	return &sesv2.DeleteEmailTemplateOutput{}, nil
}

func TestSESTemplateStore_CreateGetUpdateDelete(t *testing.T) {
	mock := newMockSESTemplates()
	s := NewSESTemplateStoreWithAPI(mock, nil)
	ctx := context.Background()

	require.NoError(t, s.Create(ctx, types.EmailTemplate{
		Name:     "welcome",
		Subject:  "Welcome aboard",
		HTMLBody: "<p>Hi {{display_name}}</p>",
		TextBody: "Hi {{display_name}}",
	}))

	got, err := s.Get(ctx, "welcome")
	require.NoError(t, err)
	assert.Equal(t, "Welcome aboard", got.Subject)
	assert.Equal(t, "<p>Hi {{display_name}}</p>", got.HTMLBody)

	require.NoError(t, s.Update(ctx, types.EmailTemplate{
		Name:    "welcome",
		Subject: "Welcome!",
	}))
	got, err = s.Get(ctx, "welcome")
	require.NoError(t, err)
	assert.Equal(t, "Welcome!", got.Subject)

	require.NoError(t, s.Delete(ctx, "welcome"))
	_, err = s.Get(ctx, "welcome")
	require.Error(t, err)
}

func TestSESTemplateStore_DuplicateCreateConflicts(t *testing.T) {
	mock := newMockSESTemplates()
	s := NewSESTemplateStoreWithAPI(mock, nil)
	ctx := context.Background()

	require.NoError(t, s.Create(ctx, types.EmailTemplate{Name: "welcome", Subject: "a"}))
	err := s.Create(ctx, types.EmailTemplate{Name: "welcome", Subject: "b"})
	require.Error(t, err)

	var appErr *types.AppError
	require.ErrorAs(t, err, &appErr)
	assert.Equal(t, types.ErrCodeConflictTemplateExists, appErr.Code)
}

func TestSESTemplateStore_UnknownTemplateNotFound(t *testing.T) {
	s := NewSESTemplateStoreWithAPI(newMockSESTemplates(), nil)

	_, err := s.Get(context.Background(), "missing")
	require.Error(t, err)

	var appErr *types.AppError
	require.ErrorAs(t, err, &appErr)
	assert.Equal(t, types.ErrCodeNotFoundTemplate, appErr.Code)
}

func TestSESTemplateStore_ListFollowsPagination(t *testing.T) {
	mock := newMockSESTemplates()
	mock.pageSize = 2
	s := NewSESTemplateStoreWithAPI(mock, nil)
	ctx := context.Background()

	for _, name := range []string{"alpha", "beta", "gamma", "delta", "epsilon"} {
		require.NoError(t, s.Create(ctx, types.EmailTemplate{Name: name, Subject: name}))
	}

	templates, err := s.List(ctx)
	require.NoError(t, err)
	require.Len(t, templates, 5)

	names := make([]string, len(templates))
	for i, tmpl := range templates {
		names[i] = tmpl.Name
		assert.NotNil(t, tmpl.CreatedAt)
	}
	assert.ElementsMatch(t, []string{"alpha", "beta", "gamma", "delta", "epsilon"}, names)
}
