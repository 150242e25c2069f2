// Package logging is reasond's structured logger: zap behind a wrapper
// whose level methods take a context and prepend the correlation fields
// stored on it (trace_id, task_id, thought_id, round, stage, provider).
//
// Every encoded entry passes through redaction. Fields with sensitive
// names are masked outright, and string values and messages are scanned
// with the same credential rules the dispatcher applies to SPEAK and
// MEMORIZE content. Entries below error level may be sampled. An
// OpenTelemetry log bridge can be teed in alongside the writer.
//
//	cfg, err := logging.NewConfigFrom(appCfg.Logging)
//	logger, err := logging.NewLogger(cfg, nil)
//	defer logger.Sync()
//
//	ctx = logging.WithTask(ctx, task.ID)
//	ctx = logging.WithThought(ctx, thought.ID, thought.Round)
//	logger.Info(ctx, "dma fan-out complete", zap.Bool("degraded", res.Degraded))
package logging
