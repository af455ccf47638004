// Package audithook records job lifecycle transitions as an append-only
// audit trail. Wire it with engine.WithHook(audithook.New(recorder));
// NewWriterRecorder gives a JSON-lines recorder over any io.Writer.
package audithook
