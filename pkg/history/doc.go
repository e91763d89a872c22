// Package history records one audit entry per detection or training-upload
// attempt and drives it through its status lifecycle.
//
// # Overview
//
// Every proxied inference call owns exactly one Entry. The entry is created
// as pending once the request has passed validation, marked processing just
// before the outbound call, and finished as success, partial_success or
// failure when the call returns. Terminal entries are never modified again.
//
// # Lifecycle
//
//	pending ──> processing ──> success
//	   │             ├──────> partial_success (training only)
//	   └─────────────┴──────> failure
//
// # Usage Example
//
//	run, err := recorder.Begin(ctx, &history.Entry{
//		UserID:          identity.UserID,
//		Type:            history.TypeDetection,
//		DetectionSource: history.SourceUpload,
//	})
//	if err != nil {
//		return err
//	}
//	run.Processing(ctx)
//	result, err := client.Detect(ctx, file)
//	if err != nil {
//		run.Fail(ctx, err.Error())
//		return err
//	}
//	run.Succeed(ctx, func(e *history.Entry) { e.DetectionResults = result.Detections })
//
// # Storage
//
// Store has two implementations: DBStore on PostgreSQL (detection results in
// JSONB, filename lists in TEXT[]) and MemoryStore for local development and
// tests. Both order listings newest first with the id as tie breaker, so a
// page re-read without new activity is identical.
//
// # Related Packages
//
//   - pkg/api: the detect, detect-frame, train and history handlers
//   - pkg/storage/postgres: schema migrations for history_entries
package history
