package scheduling

import (
	"github.com/gosimple/slug"
)

// TriggerIdentityFor derives the stable trigger identity for a job name.
// The name is slugified so identities stay safe to embed in URLs, log
// fields and notification payloads regardless of how the job was named.
func TriggerIdentityFor(jobName string) TriggerIdentity {
	if jobName == "" {
		jobName = "job"
	}

	return TriggerIdentity(slug.Make(jobName) + "-trigger")
}
