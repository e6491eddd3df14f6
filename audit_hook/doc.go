// Package audithook is a toolqueue extension that turns job lifecycle
// events into audit records.
//
// Every hook emits an [AuditEvent] through a [Recorder]. Severity follows
// the outcome: info for submissions, claims and completions, warning for
// retries and cancellations, critical for terminal failures. Metadata
// carries the tool slug, queue, owner and attempt counters; job input and
// output never leave the store.
//
// # Logging recorder
//
//	eng, _ := engine.Build(s, reg,
//	    engine.WithExtension(audithook.New(audithook.NewSlogRecorder(logger))),
//	)
//
// # Selective filtering
//
//	audithook.New(recorder,
//	    audithook.WithActions(
//	        audithook.ActionJobFailed,
//	        audithook.ActionJobDeleted,
//	    ),
//	)
package audithook
