package external

import (
	"context"
	"testing"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/sesv2"
	sestypes "github.com/aws/aws-sdk-go-v2/service/sesv2/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"mailfan/internal/types"
)

// mockSESSend captures SendEmail inputs and returns a canned result.
type mockSESSend struct {
	inputs  []*sesv2.SendEmailInput
	failErr error
}

func (m *mockSESSend) SendEmail(_ context.Context, params *sesv2.SendEmailInput, _ ...func(*sesv2.Options)) (*sesv2.SendEmailOutput, error) {
	m.inputs = append(m.inputs, params)
	if m.failErr != nil {
		return nil, m.failErr
	}
	return &sesv2.SendEmailOutput{MessageId: aws.String("msg-123")}, nil
}

func newTestMailer(api SESSendAPI) *SESMailer {
	return NewSESMailerWithAPI(api, SESMailerConfig{
		FromAddress: "noreply@example.com",
		FromName:    "Mailfan",
	})
}

func TestSESMailer_Send_BuildsTemplatedEmail(t *testing.T) {
	mock := &mockSESSend{}
	m := newTestMailer(mock)

	msgID, err := m.Send(context.Background(), types.SendInput{
		TemplateID: "welcome",
		To:         "user@example.com",
		TemplateData: map[string]string{
			"display_name": "Ada",
			"email":        "user@example.com",
		},
	})
	require.NoError(t, err)
	assert.Equal(t, "msg-123", msgID)

	require.Len(t, mock.inputs, 1)
	in := mock.inputs[0]
	assert.Equal(t, "Mailfan <noreply@example.com>", aws.ToString(in.FromEmailAddress))
	assert.Equal(t, []string{"user@example.com"}, in.Destination.ToAddresses)

	require.NotNil(t, in.Content.Template)
	assert.Equal(t, "welcome", aws.ToString(in.Content.Template.TemplateName))
	assert.JSONEq(t, `{"display_name":"Ada","email":"user@example.com"}`, aws.ToString(in.Content.Template.TemplateData))
}

func TestSESMailer_Send_BareFromAddressWithoutName(t *testing.T) {
	mock := &mockSESSend{}
	m := NewSESMailerWithAPI(mock, SESMailerConfig{FromAddress: "noreply@example.com"})

	_, err := m.Send(context.Background(), types.SendInput{TemplateID: "t", To: "a@b.com"})
	require.NoError(t, err)
	assert.Equal(t, "noreply@example.com", aws.ToString(mock.inputs[0].FromEmailAddress))
}

func TestSESMailer_Send_ErrorMapping(t *testing.T) {
	tests := []struct {
		name     string
		err      error
		wantCode types.ErrorCode
	}{
		{"throttled", &sestypes.TooManyRequestsException{}, types.ErrCodeUpstreamRateLimited},
		{"rejected", &sestypes.MessageRejected{}, types.ErrCodeEmailBlocked},
		{"paused", &sestypes.SendingPausedException{}, types.ErrCodeUpstreamUnavailable},
		{"other", assert.AnError, types.ErrCodeUpstreamEmailProvider},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			m := newTestMailer(&mockSESSend{failErr: tt.err})

			_, err := m.Send(context.Background(), types.SendInput{TemplateID: "t", To: "a@b.com"})
			require.Error(t, err)

			var appErr *types.AppError
			require.ErrorAs(t, err, &appErr)
			assert.Equal(t, tt.wantCode, appErr.Code)
		})
	}
}

func TestSESMailer_Send_ThrottleIsRetryable(t *testing.T) {
	m := newTestMailer(&mockSESSend{failErr: &sestypes.TooManyRequestsException{}})

	_, err := m.Send(context.Background(), types.SendInput{TemplateID: "t", To: "a@b.com"})
	assert.True(t, types.IsRateLimited(err))
}
