// Package telemetry provides observability instrumentation for the chute agent.
//
// It bundles structured logging (zerolog), distributed tracing
// (OpenTelemetry), Prometheus metrics and an in-process update event
// publisher.
//
// # Usage
//
// Initialize telemetry at startup:
//
//	cfg := telemetry.DefaultConfig()
//	tel, err := telemetry.NewTelemetry(cfg)
//	if err != nil {
//	    return err
//	}
//	defer tel.Shutdown(context.Background())
//
//	if err := tel.StartMetricsServer(); err != nil {
//	    return err
//	}
//
// # Logging
//
//	logger := tel.Logger.NewComponentLogger("engine").WithUpdateID(u.ID).WithChute(u.ChuteName()).Zerolog()
//	logger.Info().Msg("executing plans")
//
// # Tracing
//
// Every update gets a root span and every plan or abort operation a child:
//
//	ctx, span := tel.Tracer.StartUpdateSpan(ctx, u.ID, "create", "hello-world")
//	defer span.End()
//
// # Metrics
//
//	tel.Metrics.RecordUpdateStarted("create")
//	tel.Metrics.RecordUpdateCompleted("create", "completed", elapsed)
//
// # Events
//
// Reporters subscribe to update events:
//
//	tel.Events.Subscribe(reporter.Handle, telemetry.FilterByType(telemetry.EventTypeUpdateFinished))
//
// Metrics, Tracer and EventPublisher methods are safe to call on nil
// receivers so components can be constructed without telemetry in tests.
package telemetry
