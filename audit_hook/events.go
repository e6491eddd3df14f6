package audithook

// Audit event actions. Each constant corresponds to one ext lifecycle hook
// and becomes the Action field of the audit event.
const (
	ActionJobSubmitted   = "job.submitted"
	ActionJobClaimed     = "job.claimed"
	ActionJobCompleted   = "job.completed"
	ActionJobFailed      = "job.failed"
	ActionJobRetrying    = "job.retrying"
	ActionJobCancelled   = "job.cancelled"
	ActionJobDeleted     = "job.deleted"
	ActionSweepCompleted = "sweep.completed"
)

// Audit event categories group related actions.
const (
	CategoryJob   = "toolqueue.job"
	CategorySweep = "toolqueue.sweep"
)

// Resource types used as the Resource field in audit events.
const (
	ResourceJob   = "job"
	ResourceSweep = "sweep"
)

// AllActions returns every action this extension can emit.
func AllActions() []string {
	return []string{
		ActionJobSubmitted,
		ActionJobClaimed,
		ActionJobCompleted,
		ActionJobFailed,
		ActionJobRetrying,
		ActionJobCancelled,
		ActionJobDeleted,
		ActionSweepCompleted,
	}
}
