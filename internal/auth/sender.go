package auth

import (
	"context"

	"github.com/rs/zerolog/log"

	"github.com/kiku-jw/kikuai-gateway/internal/logger"
)

// LogMagicLinkSender logs the login URL instead of emailing it. It is the
// default when no transactional email provider is configured; swap in a
// real MagicLinkSender implementation once one is wired.
type LogMagicLinkSender struct{}

// NewLogMagicLinkSender builds a no-op-delivery sender that only logs.
func NewLogMagicLinkSender() LogMagicLinkSender { return LogMagicLinkSender{} }

func (LogMagicLinkSender) Send(ctx context.Context, email, url string) error {
	log.Info().
		Str("email", logger.RedactEmail(email)).
		Str("url", url).
		Msg("auth: magic link (no email provider configured, logging instead)")
	return nil
}
