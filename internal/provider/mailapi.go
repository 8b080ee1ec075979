package provider

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"
)

const defaultMailAPITimeout = 30 * time.Second

type mailAPIRequest struct {
	To                 string `json:"to"`
	Subject            string `json:"subject"`
	BodyText           string `json:"bodyText"`
	Attachment         string `json:"attachment,omitempty"`
	AttachmentFilename string `json:"attachmentFilename,omitempty"`
}

// MailAPIProvider delivers messages through an authorized HTTP mail-sending
// API using a bearer token obtained out of band.
type MailAPIProvider struct {
	client   *resty.Client
	endpoint string
	token    string
}

func NewMailAPIProvider(endpoint, token string) (*MailAPIProvider, error) {
	client := resty.New()
	client.SetTimeout(defaultMailAPITimeout)
	client.SetRetryCount(0)

	return NewMailAPIProviderWithClient(endpoint, token, client)
}

func NewMailAPIProviderWithClient(endpoint, token string, client *resty.Client) (*MailAPIProvider, error) {
	trimmedEndpoint := strings.TrimSpace(endpoint)
	if trimmedEndpoint == "" {
		return nil, fmt.Errorf("mail api endpoint is required")
	}
	if _, err := url.ParseRequestURI(trimmedEndpoint); err != nil {
		return nil, fmt.Errorf("invalid mail api endpoint: %w", err)
	}
	if client == nil {
		return nil, fmt.Errorf("resty client is required")
	}

	if client.GetClient().Timeout == 0 {
		client.SetTimeout(defaultMailAPITimeout)
	}
	client.SetRetryCount(0)

	return &MailAPIProvider{
		client:   client,
		endpoint: strings.TrimRight(trimmedEndpoint, "/"),
		token:    strings.TrimSpace(token),
	}, nil
}

func (p *MailAPIProvider) Send(ctx context.Context, msg Message) (*ProviderResponse, error) {
	if p == nil || p.client == nil {
		return nil, fmt.Errorf("provider is not initialized")
	}
	if strings.TrimSpace(msg.To) == "" {
		return nil, fmt.Errorf("recipient address is required")
	}
	if p.token == "" {
		return nil, &ProviderError{
			Message:    "no sending credential configured",
			Credential: true,
		}
	}

	reqBody := mailAPIRequest{
		To:       msg.To,
		Subject:  msg.Subject,
		BodyText: msg.Body,
	}
	if len(msg.Document) > 0 {
		reqBody.Attachment = base64.StdEncoding.EncodeToString(msg.Document)
		reqBody.AttachmentFilename = msg.Filename
	}

	response, err := p.client.R().
		SetContext(ctx).
		SetHeader("Content-Type", "application/json").
		SetAuthToken(p.token).
		SetBody(reqBody).
		Post(p.endpoint + "/messages/send")
	if err != nil {
		return nil, &ProviderError{
			Message:   "mail api request failed",
			Transient: !errors.Is(err, context.Canceled),
			Cause:     err,
		}
	}
	if response == nil {
		return nil, &ProviderError{
			Message:   "mail api returned empty response",
			Transient: true,
		}
	}

	statusCode := response.StatusCode()
	responseBody := strings.TrimSpace(response.String())

	if statusCode >= http.StatusOK && statusCode < http.StatusMultipleChoices {
		return &ProviderResponse{
			StatusCode: statusCode,
			Body:       responseBody,
			MessageID:  mailMessageID(response),
		}, nil
	}

	return nil, &ProviderError{
		StatusCode: statusCode,
		Message:    mailErrorMessage(statusCode, responseBody),
		Transient:  isTransientHTTPStatus(statusCode),
		Credential: isCredentialHTTPStatus(statusCode),
	}
}

// VerifyCredential probes the API's profile endpoint with the configured
// token. The runner calls this once before a run rather than discovering a
// dead credential item by item.
func (p *MailAPIProvider) VerifyCredential(ctx context.Context) error {
	if p == nil || p.client == nil {
		return fmt.Errorf("provider is not initialized")
	}
	if p.token == "" {
		return &ProviderError{
			Message:    "no sending credential configured",
			Credential: true,
		}
	}

	response, err := p.client.R().
		SetContext(ctx).
		SetAuthToken(p.token).
		Get(p.endpoint + "/profile")
	if err != nil {
		return &ProviderError{
			Message:   "credential check failed",
			Transient: !errors.Is(err, context.Canceled),
			Cause:     err,
		}
	}

	statusCode := response.StatusCode()
	if statusCode >= http.StatusOK && statusCode < http.StatusMultipleChoices {
		return nil
	}

	return &ProviderError{
		StatusCode: statusCode,
		Message:    mailErrorMessage(statusCode, strings.TrimSpace(response.String())),
		Transient:  isTransientHTTPStatus(statusCode),
		Credential: isCredentialHTTPStatus(statusCode),
	}
}

func mailErrorMessage(statusCode int, body string) string {
	base := fmt.Sprintf("mail api returned status %d", statusCode)
	if body == "" {
		return base
	}
	return fmt.Sprintf("%s: %s", base, body)
}

func mailMessageID(response *resty.Response) string {
	if response == nil {
		return ""
	}

	for _, key := range []string{"X-Message-ID", "X-Message-Id", "X-Request-ID", "X-Request-Id"} {
		if value := strings.TrimSpace(response.Header().Get(key)); value != "" {
			return value
		}
	}

	return ""
}
