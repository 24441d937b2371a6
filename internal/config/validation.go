package config

import (
	"fmt"
	"strings"
)

func validate(c *Config) error {
	var problems []string

	switch c.PriceFeed.Provider {
	case "binance", "static":
	default:
		problems = append(problems, fmt.Sprintf("pricefeed.provider %q is not supported (binance, static)", c.PriceFeed.Provider))
	}
	if c.PriceFeed.Provider == "static" && len(c.PriceFeed.Static) == 0 {
		problems = append(problems, "pricefeed.provider=static requires pricefeed.static prices")
	}
	if c.Trading.FeeRate >= 1 {
		problems = append(problems, fmt.Sprintf("trading.fee_rate %.4f must be below 1", c.Trading.FeeRate))
	}
	if c.Notify.Telegram.Enabled {
		if strings.TrimSpace(c.Notify.Telegram.BotToken) == "" || strings.TrimSpace(c.Notify.Telegram.ChatID) == "" {
			problems = append(problems, "notify.telegram.enabled requires bot_token and chat_id")
		}
	}

	if len(problems) > 0 {
		return fmt.Errorf("invalid config: %s", strings.Join(problems, "; "))
	}
	return nil
}
