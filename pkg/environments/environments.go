// Package environments is the fixed, compiled-in environment registry
// (Open Question decision 2, SPEC_FULL.md §6): the set is operationally
// static in the source material, so no persistence layer backs it.
package environments

// All is the complete set of deployable environments, exposed read-only
// via GET /environments.
var All = []string{"poke", "test", "stage", "prod"}

// PolicyChecked names the environments check-configuration (spec.md
// §4.3 step 14) consults the policy service for.
var PolicyChecked = map[string]bool{"poke": true, "prod": true}

// Known reports whether name is one of the fixed environments.
func Known(name string) bool {
	for _, e := range All {
		if e == name {
			return true
		}
	}
	return false
}
