package notify

import (
	"context"
	"net/http"
)

// embedColor is the side bar colour of every alert embed.
const embedColor = 0xD9534F

// DiscordSender delivers alerts as embeds through a Discord webhook.
type DiscordSender struct {
	webhookURL string
	username   string
	client     *http.Client
}

type discordMessage struct {
	Username string         `json:"username,omitempty"`
	Embeds   []discordEmbed `json:"embeds"`
}

type discordEmbed struct {
	Title       string `json:"title"`
	Description string `json:"description"`
	Color       int    `json:"color"`
}

// NewDiscordSender creates a DiscordSender posting as "tradeledger".
func NewDiscordSender(webhookURL string) *DiscordSender {
	return &DiscordSender{
		webhookURL: webhookURL,
		username:   "tradeledger",
		client:     defaultClient(),
	}
}

// Send posts one embed. Discord answers 204 on success.
func (d *DiscordSender) Send(ctx context.Context, title, message string) error {
	return postJSON(ctx, d.client, d.Name(), d.webhookURL, discordMessage{
		Username: d.username,
		Embeds:   []discordEmbed{{Title: title, Description: message, Color: embedColor}},
	})
}

// Name returns the sender identifier.
func (d *DiscordSender) Name() string {
	return "discord"
}
