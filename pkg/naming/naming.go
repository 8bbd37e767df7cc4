// Package naming implements C7: deterministic successor-name generation
// for ASGs and launch configurations, and tag synthesis (spec.md §4.7).
package naming

import (
	"fmt"
	"regexp"
	"time"
)

// nameRegexp matches "<application>-<environment>", optionally followed
// by "-v<NNN>", optionally followed by "-<timestamp>" (the launch
// configuration suffix). Application and environment are themselves
// restricted to a lowercase letter followed by lowercase letters or
// digits, matching spec.md §4.6's application
// name grammar; environment names in practice are drawn from a small
// fixed set (see pkg/environments) but the parser doesn't need to know
// that to split the string correctly, since version and timestamp
// suffixes are unambiguous.
var nameRegexp = regexp.MustCompile(`^([a-z][a-z0-9]*)-([a-z][a-z0-9]*)(?:-v(\d{3})(?:-(\d{14}))?)?$`)

// Details is the result of parsing an existing ASG or launch
// configuration name.
type Details struct {
	Application string
	Environment string
	Version     int  // 0 if the name carried no "-vNNN" suffix
	HasVersion  bool
	Timestamp   string // the raw "-<timestamp>" suffix, if present
}

// ParseName parses a predecessor ASG name of the form
// "<application>-<environment>[-vNNN[-<timestamp>]]". It returns ok=false
// for any string that doesn't match one of the three grammars named in
// spec.md §4.7, which callers treat as "no predecessor".
func ParseName(name string) (Details, bool) {
	m := nameRegexp.FindStringSubmatch(name)
	if m == nil {
		return Details{}, false
	}
	d := Details{Application: m[1], Environment: m[2]}
	if m[3] != "" {
		var v int
		fmt.Sscanf(m[3], "%03d", &v)
		d.Version = v
		d.HasVersion = true
	}
	d.Timestamp = m[4]
	return d, true
}

// NextASGName computes the successor ASG name for application/environment
// given the predecessor's name, wrapping from no version to "v001" and
// otherwise incrementing by one, zero-padded to three digits.
func NextASGName(application, environment, predecessorName string) string {
	base := fmt.Sprintf("%s-%s", application, environment)
	next := 1
	if predecessorName != "" {
		if d, ok := ParseName(predecessorName); ok && d.Application == application && d.Environment == environment && d.HasVersion {
			next = d.Version + 1
		}
	}
	return fmt.Sprintf("%s-v%03d", base, next)
}

// LaunchConfigurationName builds "<asg-name>-<yyyyMMddHHmmss>" in UTC,
// as spec.md §4.7 requires.
func LaunchConfigurationName(asgName string, at time.Time) string {
	return fmt.Sprintf("%s-%s", asgName, at.UTC().Format("20060102150405"))
}

// imageNameRegexp matches a machine image's display name,
// "<application>-<version>-<virt-type>".
var imageNameRegexp = regexp.MustCompile(`^([a-z][a-z0-9]*)-(\S+)-(paravirtual|hvm)$`)

// ImageDetails is the result of parsing an image's display name.
type ImageDetails struct {
	Application string
	Version     string
	VirtType    string
}

// ParseImageName implements get-image-details's parse of an image's
// display name into {application, version, virt-type} (spec.md §4.3
// step 11).
func ParseImageName(name string) (ImageDetails, bool) {
	m := imageNameRegexp.FindStringSubmatch(name)
	if m == nil {
		return ImageDetails{}, false
	}
	return ImageDetails{Application: m[1], Version: m[2], VirtType: m[3]}, true
}

// Tag is the minimal shape create-auto-scaling-group-tags (spec.md §4.3
// step 23) needs to build, independent of maestro.Tag so this package
// stays free of a dependency on the domain package.
type Tag struct {
	Key   string
	Value string
}

// TagsInput is everything create-auto-scaling-group-tags needs.
type TagsInput struct {
	Application string
	Contact     string
	DeployedBy  string
	Version     string
	Environment string
	ASGName     string
	DeployedOn  time.Time
}

// AutoScalingGroupTags synthesizes the fixed tag set spec.md §4.3 step
// 23 requires: Application, Contact, DeployedBy, DeployedOn,
// Environment, Name, Version, as key/value pairs. The propagate-at-launch
// and resource scoping attributes are not set here; the pipeline's
// create-auto-scaling-group-tags step adds them.
func AutoScalingGroupTags(in TagsInput) []Tag {
	return []Tag{
		{Key: "Application", Value: in.Application},
		{Key: "Contact", Value: in.Contact},
		{Key: "DeployedBy", Value: in.DeployedBy},
		{Key: "DeployedOn", Value: in.DeployedOn.UTC().Format(time.RFC3339)},
		{Key: "Environment", Value: in.Environment},
		{Key: "Name", Value: fmt.Sprintf("%s-%s", in.Application, in.Version)},
		{Key: "Version", Value: in.Version},
	}
}
