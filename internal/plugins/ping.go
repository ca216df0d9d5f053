package plugins

import (
	"context"
	"fmt"
	"time"

	"github.com/darkwinzo/queen-mini-go/internal/services"
	"github.com/darkwinzo/queen-mini-go/internal/transport"
)

// Ping replies with the round-trip latency of a message send
func Ping(ctx context.Context, client transport.Client, evt transport.MessageEvent, snap services.SessionSnapshot) (services.Outcome, error) {
	start := time.Now()
	if err := client.SendText(ctx, evt.ChatID, "🏓 Pinging..."); err != nil {
		return services.Outcome{}, err
	}
	latency := time.Since(start).Milliseconds()

	reply := fmt.Sprintf("🏓 *Pong!*\n\n⚡ *Latency:* %dms\n🤖 *Bot:* %s\n📱 *Status:* Online",
		latency, snap.BotName)
	if err := client.SendText(ctx, evt.ChatID, reply); err != nil {
		return services.Outcome{}, err
	}
	return services.Outcome{Replied: true}, nil
}
