// Package logging provides structured logging with OpenTelemetry
// integration for outreachd.
//
// Logger wraps zap with context-aware methods that attach trace ids and
// the campaign, lead and request carried by the context:
//
//	ctx = logging.WithCampaignID(ctx, c.ID)
//	ctx = logging.WithLeadID(ctx, lead.ID)
//	logger.Info(ctx, "touch dispatched", zap.Int("touch", 2))
//
// Output is JSON or console on stdout, tee'd to the OpenTelemetry log
// bridge when a provider is configured. Below error level, entries are
// sampled; errors always pass.
//
// Lead contact data is redacted at the encoder: configured field names
// (email, phone, password, token, ...) and value patterns such as email
// addresses never reach the output.
package logging
