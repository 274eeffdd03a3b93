// Package chat parses chat command flags and composes transport entrypoints.
package chat

import (
	"context"
	"flag"
	"fmt"

	entrypoint "github.com/gatechat/gatechat/internal/platform/cmd"
	server "github.com/gatechat/gatechat/internal/services/chat/app"
)

// Config holds chat command configuration.
type Config struct {
	HTTPAddr         string `env:"GATECHAT_HTTP_ADDR"           envDefault:":8080"`
	StoragePath      string `env:"GATECHAT_STORAGE_PATH"        envDefault:"gatechat.db"`
	ModerationURL    string `env:"GATECHAT_MODERATION_URL"`
	ModerationAPIKey string `env:"GATECHAT_MODERATION_API_KEY"`
	ModerationModel  string `env:"GATECHAT_MODERATION_MODEL"    envDefault:"gpt-4o-mini"`
}

// ParseConfig parses environment and flags into a Config.
func ParseConfig(fs *flag.FlagSet, args []string) (Config, error) {
	var cfg Config
	if err := entrypoint.ParseConfig(&cfg); err != nil {
		return Config{}, err
	}

	fs.StringVar(&cfg.HTTPAddr, "http-addr", cfg.HTTPAddr, "chat HTTP listen address")
	fs.StringVar(&cfg.StoragePath, "storage-path", cfg.StoragePath, "message store database path, empty disables persistence")
	fs.StringVar(&cfg.ModerationURL, "moderation-url", cfg.ModerationURL, "moderation responses endpoint URL")
	fs.StringVar(&cfg.ModerationAPIKey, "moderation-api-key", cfg.ModerationAPIKey, "moderation API key, empty disables moderation")
	fs.StringVar(&cfg.ModerationModel, "moderation-model", cfg.ModerationModel, "moderation model name")
	if err := entrypoint.ParseArgs(fs, args); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Run builds the chat app and starts realtime transport behavior.
func Run(ctx context.Context, cfg Config) error {
	return entrypoint.RunWithTelemetry(ctx, entrypoint.ServiceChat, func(ctx context.Context) error {
		if err := server.Run(ctx, server.Config{
			HTTPAddr:         cfg.HTTPAddr,
			StoragePath:      cfg.StoragePath,
			ModerationURL:    cfg.ModerationURL,
			ModerationAPIKey: cfg.ModerationAPIKey,
			ModerationModel:  cfg.ModerationModel,
		}); err != nil {
			return fmt.Errorf("serve chat: %w", err)
		}
		return nil
	})
}
