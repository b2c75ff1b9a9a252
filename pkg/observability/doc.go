// Package observability wires OpenTelemetry tracing and RED metrics around
// the kernel's HTTP-facing operations.
//
// Initialize once at startup:
//
//	cfg := observability.DefaultConfig()
//	cfg.OTLPEndpoint = "otel-collector:4317"
//	p, err := observability.New(ctx, cfg)
//	defer p.Shutdown(ctx)
//
// Wrap an operation's lifecycle:
//
//	ctx, finish := p.TrackOperation(ctx, "ubl.execute", observability.AttrProgramName.String(name))
//	result, err := doWork(ctx)
//	finish(err)
package observability
