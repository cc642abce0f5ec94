package notify

import (
	"context"
	"net/http"
)

const (
	// discordDescriptionLimit is Discord's cap on an embed description.
	discordDescriptionLimit = 4096
	discordColor            = 0xF0B90B
)

// DiscordSender posts an embed to a Discord webhook.
type DiscordSender struct {
	webhookURL string
	client     *http.Client
}

// NewDiscordSender creates a DiscordSender for webhookURL.
func NewDiscordSender(webhookURL string) *DiscordSender {
	return &DiscordSender{webhookURL: webhookURL, client: defaultHTTPClient()}
}

type discordEmbed struct {
	Title       string `json:"title"`
	Description string `json:"description"`
	Color       int    `json:"color"`
}

type discordPayload struct {
	Username string         `json:"username"`
	Embeds   []discordEmbed `json:"embeds"`
}

func discordMessage(title, message string) discordPayload {
	if r := []rune(message); len(r) > discordDescriptionLimit {
		message = string(r[:discordDescriptionLimit-1]) + "…"
	}
	return discordPayload{
		Username: "mockexchange",
		Embeds:   []discordEmbed{{Title: title, Description: message, Color: discordColor}},
	}
}

// Send posts title and message as one embed.
func (d *DiscordSender) Send(ctx context.Context, title, message string) error {
	return postJSON(ctx, d.client, "discord", d.webhookURL, discordMessage(title, message))
}

// Name returns the sender identifier.
func (d *DiscordSender) Name() string {
	return "discord"
}
