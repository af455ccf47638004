// Package observability provides an OTel metrics hook that counts job
// lifecycle transitions queue-wide. Register it with
// engine.WithHook(observability.NewMetricsHook()).
package observability
