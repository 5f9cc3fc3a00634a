package notify

import (
	"context"
	"fmt"

	"github.com/go-resty/resty/v2"
)

const telegramAPIBase = "https://api.telegram.org"

// telegramProvider posts through the Bot API. The stored endpoint is the bot
// token; the chat identifier comes from channel metadata.
type telegramProvider struct {
	botToken string
	chatID   string
	client   *resty.Client
	apiBase  string
}

func (p *telegramProvider) Name() string { return "telegram" }

func (p *telegramProvider) Send(ctx context.Context, message Message) error {
	payload := map[string]string{
		"chat_id": p.chatID,
		"text":    fmt.Sprintf("%s\n%s", message.Subject, message.Body),
	}

	base := p.apiBase
	if base == "" {
		base = telegramAPIBase
	}
	url := fmt.Sprintf("%s/bot%s/sendMessage", base, p.botToken)

	return postJSON(ctx, p.client, url, payload)
}
