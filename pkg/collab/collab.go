// Package collab defines the interfaces the parameter pipeline (C3)
// consumes for three external collaborators named in spec.md §1 as
// out of scope: the application metadata service, the configuration
// service, and the policy-configuration service. No interface is
// defined for the instance-registration service. One concrete
// HTTP-backed implementation of each ships in pkg/collab/httpcollab.
package collab

import "context"

// MetadataClient fetches owner/contact/email per application
// (spec.md §4.3 step 3, get-metadata).
type MetadataClient interface {
	GetApplicationMetadata(ctx context.Context, application string) (owner, contact, email string, err error)
}

// ConfigurationClient is the version-controlled configuration service,
// addressed by hash (spec.md §4.3 steps 4-6).
type ConfigurationClient interface {
	// LatestHash resolves the latest configuration hash for
	// (environment, application); used by ensure-hash.
	LatestHash(ctx context.Context, environment, application string) (string, error)
	// HashExists verifies a hash is known for (environment, application);
	// used by verify-hash.
	HashExists(ctx context.Context, environment, application, hash string) (bool, error)
	// ApplicationProperties, DeploymentParams, LaunchData fetch the
	// three configuration documents addressed by hash.
	ApplicationProperties(ctx context.Context, environment, application, hash string) (map[string]string, error)
	DeploymentParams(ctx context.Context, environment, application, hash string) (map[string]interface{}, error)
	LaunchData(ctx context.Context, environment, application, hash string) (string, error)
}

// PolicyClient is the governance check required in certain environments
// before deployment (spec.md §4.3 step 14, check-configuration).
type PolicyClient interface {
	// Allowed reports whether (environment, application) is cleared to
	// deploy. parseFault is set (and err nil) when the response could
	// not be parsed — the one case the pipeline retries rather than
	// fails.
	Allowed(ctx context.Context, environment, application string) (allowed bool, parseFault bool, err error)
}
