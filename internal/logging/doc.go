// Package logging provides structured logging for orgchartd.
//
// Logger wraps zap with context-aware methods. Every entry picks up the
// active trace, the HTTP request id and the refresh run id from the context:
//
//	ctx = logging.WithRunID(ctx, runID)
//	logger.Info(ctx, "refresh completed", zap.Int("employees", n))
//
// produces
//
//	{"level":"info","msg":"refresh completed","run_id":"…","employees":412}
//
// # Secrets
//
// Directory credentials are redacted at the encoder by field name
// (client_secret, access_token, authorization, ...) and by value pattern
// (bearer tokens). Use Secret or RedactedString to log only a length.
//
// # Sampling
//
// Entries below error level are sampled per tick; errors are never dropped.
//
// # Testing
//
//	tl := logging.NewTestLogger()
//	scheduler := refresh.New(..., refresh.WithLogger(tl.Logger))
//	tl.AssertLogged(t, zapcore.WarnLevel, "refresh failed")
package logging
