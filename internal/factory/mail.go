package factory

import (
	"fmt"

	"github.com/rs/zerolog"

	"github.com/vocalmail/vocalmail/internal/config"
	"github.com/vocalmail/vocalmail/internal/provider"
	"github.com/vocalmail/vocalmail/internal/transport"
)

// NewMailProvider builds the upstream mailbox reader.
func NewMailProvider(cfg *config.Config) (provider.MailProvider, error) {
	if cfg.ProviderAPIKey == "" || cfg.ProviderGrantID == "" {
		return nil, fmt.Errorf("provider API key and grant id are required")
	}
	return provider.NewNylasProvider(cfg.ProviderBaseURL, cfg.ProviderAPIKey, cfg.ProviderGrantID), nil
}

// NewSendTransport selects the outbound email path from cfg.EmailMode.
// The sink keeps sends local and inspectable; "provider" delivers for real.
func NewSendTransport(cfg *config.Config, log zerolog.Logger) (transport.Transport, error) {
	switch cfg.EmailMode {
	case "", "sink":
		return transport.NewSink(), nil
	case "provider":
		if cfg.ProviderAPIKey == "" || cfg.ProviderGrantID == "" {
			return nil, fmt.Errorf("provider API key and grant id are required for EMAIL_MODE=provider")
		}
		return transport.NewNylasTransport(cfg.ProviderBaseURL, cfg.ProviderAPIKey, cfg.ProviderGrantID), nil
	default:
		return nil, fmt.Errorf("unknown EMAIL_MODE: %s", cfg.EmailMode)
	}
}
