package plugins

import (
	"context"
	"fmt"

	"github.com/darkwinzo/queen-mini-go/internal/services"
	"github.com/darkwinzo/queen-mini-go/internal/transport"
)

// Menu replies with the command menu
func Menu(ctx context.Context, client transport.Client, evt transport.MessageEvent, snap services.SessionSnapshot) (services.Outcome, error) {
	prefix := snap.Settings.Prefix
	if prefix == "" {
		prefix = "."
	}

	reply := fmt.Sprintf(`╭──────────────────────╮
│   👑 QUEEN-MINI MENU   │
│  Advanced Bot System   │
╰──────────────────────╯

🤖 *BOT INFO*
├ Name: %s
├ Version: 2.0.0
├ Prefix: %s
└ Status: Active

📋 *MAIN COMMANDS*
├ %salive - Bot status
├ %sping - Check latency
└ %smenu - Show this menu`,
		snap.BotName, prefix, prefix, prefix, prefix)

	if err := client.SendText(ctx, evt.ChatID, reply); err != nil {
		return services.Outcome{}, err
	}
	return services.Outcome{Replied: true}, nil
}
