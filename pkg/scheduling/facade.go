package scheduling

// Facade supplies the pieces of scheduling policy owned by the surrounding
// system rather than by the controller itself.
type Facade interface {
	// IsMisfireFireAndProceed reports the current misfire policy. The
	// controller reads it fresh on every trigger build, so policy changes
	// take effect on the next schedule or reschedule.
	IsMisfireFireAndProceed() bool

	// ReleaseResources releases externally held resources tied to the job,
	// such as distributed locks or leases. It is best-effort and never fails.
	ReleaseResources()
}
