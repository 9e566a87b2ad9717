package workflows

// Activity names registered by the worker
const (
	ActivityFindExpiredReservations   = "FindExpiredReservations"
	ActivityReleaseExpiredReservation = "ReleaseExpiredReservation"
)

const (
	// DefaultSweepBatchSize bounds one query for expired reservations
	DefaultSweepBatchSize = 200
	// DefaultSweepMaxBatches bounds one run so its history stays small
	DefaultSweepMaxBatches = 10
)
