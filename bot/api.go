package bot

import (
	"errors"
	"fmt"
	"net/http"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"go.uber.org/zap"

	"github.com/arkhipovkm/filerelay/config"
)

// pollTimeout is the getUpdates long-poll window in seconds.
const pollTimeout = 60

// apiClient bounds every Bot API call, so a getFile abandoned by its caller
// still ends once Telegram stops answering. It must outlast a long poll.
func apiClient() *http.Client {
	return &http.Client{Timeout: (pollTimeout + 30) * time.Second}
}

// NewAPI authenticates against the Bot API, or a local Bot API server when one is configured.
func NewAPI(cfg config.AppConfig, logger *zap.Logger) (*tgbotapi.BotAPI, error) {
	if cfg.TelegramToken == "" {
		return nil, errors.New("telegram bot token is not set")
	}
	if err := tgbotapi.SetLogger(zap.NewStdLog(logger.Named("tgbotapi"))); err != nil {
		return nil, err
	}

	endpoint := cfg.TelegramAPIEndpoint
	if endpoint == "" {
		endpoint = tgbotapi.APIEndpoint
	}
	api, err := tgbotapi.NewBotAPIWithClient(cfg.TelegramToken, endpoint, apiClient())
	if err != nil {
		return nil, fmt.Errorf("telegram auth: %w", err)
	}
	api.Debug = cfg.Debug
	logger.Info("authenticated on Telegram", zap.String("bot", api.Self.UserName))
	return api, nil
}

// Updates starts long polling. Call api.StopReceivingUpdates to end it.
func Updates(api *tgbotapi.BotAPI) tgbotapi.UpdatesChannel {
	u := tgbotapi.NewUpdate(0)
	u.Timeout = pollTimeout
	u.AllowedUpdates = []string{"message", "callback_query"}
	return api.GetUpdatesChan(u)
}
