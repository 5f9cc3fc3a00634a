package notify

import (
	"context"
	"fmt"
	"time"

	"codeberg.org/mutker/bmcmon/internal/errors"
	"github.com/go-resty/resty/v2"
)

const defaultSendTimeout = 10 * time.Second

func newHTTPClient(timeout time.Duration) *resty.Client {
	if timeout <= 0 {
		timeout = defaultSendTimeout
	}

	return resty.New().
		SetTimeout(timeout).
		SetHeader("Content-Type", "application/json")
}

// postJSON posts the payload and converts any non-success response into a
// provider error carrying status and body. Redirect-range statuses are
// accepted; some webhook endpoints answer 302.
func postJSON(ctx context.Context, client *resty.Client, url string, payload any) error {
	errFactory := errors.New()

	resp, err := client.R().
		SetContext(ctx).
		SetBody(payload).
		Post(url)
	if err != nil {
		return errFactory.Wrap(ErrDeliveryFailed, err)
	}

	if resp.StatusCode() >= 400 {
		return errFactory.WithData(ErrProviderResponse, struct {
			Status int
			Body   string
		}{
			Status: resp.StatusCode(),
			Body:   string(resp.Body()),
		})
	}

	return nil
}

// slackProvider posts to a Slack incoming webhook.
type slackProvider struct {
	endpoint string
	client   *resty.Client
}

func (p *slackProvider) Name() string { return "slack" }

func (p *slackProvider) Send(ctx context.Context, message Message) error {
	payload := map[string]string{
		"text": fmt.Sprintf("*%s*\n%s", message.Subject, message.Body),
	}

	return postJSON(ctx, p.client, p.endpoint, payload)
}

// teamsProvider posts an adaptive card to a Teams workflow webhook.
type teamsProvider struct {
	endpoint string
	client   *resty.Client
}

func (p *teamsProvider) Name() string { return "teams" }

func (p *teamsProvider) Send(ctx context.Context, message Message) error {
	payload := map[string]any{
		"type": "message",
		"attachments": []map[string]any{
			{
				"contentType": "application/vnd.microsoft.card.adaptive",
				"content": map[string]any{
					"type":    "AdaptiveCard",
					"$schema": "http://adaptivecards.io/schemas/adaptive-card.json",
					"version": "1.4",
					"body": []map[string]any{
						{"type": "TextBlock", "size": "Medium", "weight": "Bolder", "text": message.Subject},
						{"type": "TextBlock", "text": message.Body, "wrap": true},
					},
				},
			},
		},
	}

	return postJSON(ctx, p.client, p.endpoint, payload)
}

// discordProvider posts to a Discord webhook.
type discordProvider struct {
	endpoint string
	client   *resty.Client
}

func (p *discordProvider) Name() string { return "discord" }

func (p *discordProvider) Send(ctx context.Context, message Message) error {
	payload := map[string]string{
		"content": fmt.Sprintf("**%s**\n%s", message.Subject, message.Body),
	}

	return postJSON(ctx, p.client, p.endpoint, payload)
}
