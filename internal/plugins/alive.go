package plugins

import (
	"context"
	"fmt"
	"time"

	"github.com/darkwinzo/queen-mini-go/internal/services"
	"github.com/darkwinzo/queen-mini-go/internal/transport"
)

// Alive replies with a status card including the session uptime
func Alive(ctx context.Context, client transport.Client, evt transport.MessageEvent, snap services.SessionSnapshot) (services.Outcome, error) {
	var uptime time.Duration
	if !snap.ConnectedAt.IsZero() {
		uptime = time.Since(snap.ConnectedAt)
	}
	hours := int(uptime.Hours())
	minutes := int(uptime.Minutes()) % 60
	seconds := int(uptime.Seconds()) % 60

	reply := fmt.Sprintf(`╭─────────────────────╮
│    🤖 QUEEN-MINI    │
│      BOT ALIVE      │
╰─────────────────────╯

📱 *Bot Name:* %s
📞 *Phone:* %s
⏰ *Uptime:* %dh %dm %ds
🔋 *Status:* Online & Active
👑 *Version:* 2.0.0`,
		snap.BotName, snap.PhoneNumber, hours, minutes, seconds)

	if err := client.SendText(ctx, evt.ChatID, reply); err != nil {
		return services.Outcome{}, err
	}
	return services.Outcome{Replied: true}, nil
}
