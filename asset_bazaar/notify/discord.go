package notify

import (
	"bms_platform/asset_bazaar/schema"
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"
)

// ErrUndeliverable means the recipient cannot be reached on the external
// channel at all, for example local accounts without a discord identity.
var ErrUndeliverable = errors.New("recipient has no external channel")

type Sender interface {
	Send(ctx context.Context, alert schema.Alert) error
}

type DiscordSender struct {
	client      *resty.Client
	frontendUrl string
}

// NewDiscordSender sends alerts as direct messages from the bot. apiUrl is
// normally auth.DiscordApiUrl.
func NewDiscordSender(apiUrl, botToken, frontendUrl string) *DiscordSender {
	client := resty.New().
		SetBaseURL(apiUrl).
		SetHeader("Authorization", "Bot "+botToken).
		SetTimeout(10 * time.Second)

	return &DiscordSender{client: client, frontendUrl: strings.TrimSuffix(frontendUrl, "/")}
}

func isSnowflake(id string) bool {
	if id == "" {
		return false
	}
	for _, c := range id {
		if c < '0' || c > '9' {
			return false
		}
	}
	return true
}

type discordChannel struct {
	Id string `json:"id"`
}

type discordEmbed struct {
	Title       string `json:"title"`
	Description string `json:"description"`
	Url         string `json:"url,omitempty"`
}

type discordMessage struct {
	Embeds []discordEmbed `json:"embeds"`
}

func (s *DiscordSender) link(alert schema.Alert) string {
	if s.frontendUrl == "" {
		return ""
	}
	switch {
	case alert.AssetId != nil:
		return fmt.Sprintf("%v/assets/%d", s.frontendUrl, *alert.AssetId)
	case alert.RequestId != nil:
		return fmt.Sprintf("%v/requests/%d", s.frontendUrl, *alert.RequestId)
	}
	return ""
}

// statusError classifies a failed discord response. Client errors other than
// rate limiting mean the recipient cannot be messaged (unknown user, dms
// disabled, no shared server), so retrying will not help.
func statusError(action, userId string, res *resty.Response) error {
	code := res.StatusCode()
	if code >= 400 && code < 500 && code != http.StatusTooManyRequests {
		return fmt.Errorf("%w: %v for %v returned status %d: %v", ErrUndeliverable, action, userId, code, res.String())
	}
	return fmt.Errorf("%v returned status %d: %v", action, code, res.String())
}

func (s *DiscordSender) Send(ctx context.Context, alert schema.Alert) error {
	if !isSnowflake(alert.UserId) {
		return fmt.Errorf("%w: %v", ErrUndeliverable, alert.UserId)
	}

	var channel discordChannel
	res, err := s.client.R().
		SetContext(ctx).
		SetBody(map[string]string{"recipient_id": alert.UserId}).
		SetResult(&channel).
		Post("/users/@me/channels")
	if err != nil {
		return fmt.Errorf("error opening dm channel: %w", err)
	}
	if res.IsError() {
		return statusError("dm channel request", alert.UserId, res)
	}

	message := discordMessage{Embeds: []discordEmbed{{
		Title:       alert.Header,
		Description: alert.Message,
		Url:         s.link(alert),
	}}}

	res, err = s.client.R().
		SetContext(ctx).
		SetBody(message).
		Post(fmt.Sprintf("/channels/%v/messages", channel.Id))
	if err != nil {
		return fmt.Errorf("error sending dm: %w", err)
	}
	if res.IsError() {
		return statusError("dm request", alert.UserId, res)
	}

	return nil
}
