// Package trace records what a patch run is doing: which stage is active,
// which classes and methods were visited, and how long each step took.
//
// Tracing is off by default and costs a nil check per call site when
// disabled. Enable it from the command line:
//
//	paccer --trace=- --trace-level=stage classes.dex out.dex services.jar 34
//
// Events go either straight to a writer (stream mode), into an in-memory
// ring that is dumped only when the run fails (ring mode), or both.
// Output is plain text, NDJSON, or Chrome trace_event JSON that loads in
// chrome://tracing and Perfetto.
//
// Tracers travel through the pipeline in the context:
//
//	ctx = trace.WithTracer(ctx, tr)
//	span := trace.Begin(trace.FromContext(ctx), trace.ScopeStage, "parse", 0)
//	defer span.End("")
package trace
