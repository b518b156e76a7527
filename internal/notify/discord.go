package notify

import (
	"context"
	"net/http"
	"strings"
)

// discordLimit is the maximum length of a webhook message's content.
const discordLimit = 2000

// DiscordSender delivers notifications via a Discord webhook.
type DiscordSender struct {
	webhookURL string
	username   string
	client     *http.Client
}

// NewDiscordSender creates a DiscordSender for the given webhook URL. A
// non-empty username overrides the webhook's display name.
func NewDiscordSender(webhookURL, username string) *DiscordSender {
	return &DiscordSender{
		webhookURL: webhookURL,
		username:   username,
		client:     &http.Client{Timeout: defaultSendTimeout},
	}
}

// Send posts a message to the webhook with the title in bold. Content over
// the Discord limit is truncated.
func (d *DiscordSender) Send(ctx context.Context, title, message string) error {
	content := "**" + title + "**\n" + message
	if len(content) > discordLimit {
		content = strings.ToValidUTF8(content[:discordLimit-3], "") + "..."
	}

	payload := map[string]string{"content": content}
	if d.username != "" {
		payload["username"] = d.username
	}
	return postJSON(ctx, d.client, "discord", d.webhookURL, payload)
}

// Name returns the sender identifier.
func (d *DiscordSender) Name() string {
	return "discord"
}
