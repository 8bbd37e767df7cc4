// Package userdata implements C8: deterministic rendering of the
// boot-time script fragment embedded into a launch configuration
// (spec.md §4.8). The rendered text always carries "export HASH=<hash>"
// on its own token, so the next deployment's populate-previous-state
// step can recover the predecessor's configuration version by scanning
// the base64-decoded user-data with the regex "export HASH=([^\s]+)".
package userdata

import (
	"encoding/base64"
	"fmt"
	"regexp"
	"strings"
	"text/template"
)

// Input is everything the boot script needs to reference.
type Input struct {
	Application string
	Environment string
	Hash        string
	ImageID     string
	Region      string
	ASGName     string
}

const scriptTemplate = `#!/bin/bash
# Generated by maestro. Do not edit by hand.
export NETFLIX_APP={{.Application}}
export NETFLIX_ENVIRONMENT={{.Environment}}
export NETFLIX_AUTO_SCALE_GROUP={{.ASGName}}
export EC2_REGION={{.Region}}
export HASH={{.Hash}}

echo "deploying ${NETFLIX_APP} in ${NETFLIX_ENVIRONMENT} (${EC2_REGION}) image ${1:-unknown}" >> /var/log/maestro-userdata.log
`

var tmpl = template.Must(template.New("userdata").Parse(scriptTemplate))

// Render produces the plain-text boot script for in.
func Render(in Input) (string, error) {
	var buf strings.Builder
	if err := tmpl.Execute(&buf, in); err != nil {
		return "", fmt.Errorf("rendering user-data: %w", err)
	}
	return buf.String(), nil
}

// Encode base64-encodes script for embedding into a launch configuration.
func Encode(script string) string {
	return base64.StdEncoding.EncodeToString([]byte(script))
}

// Decode is the inverse of Encode.
func Decode(encoded string) (string, error) {
	raw, err := base64.StdEncoding.DecodeString(encoded)
	if err != nil {
		return "", err
	}
	return string(raw), nil
}

var hashExtractor = regexp.MustCompile(`export HASH=([^\s]+)`)

// ExtractHash recovers the hash marker from a (decoded, plain-text)
// user-data blob, or "" if none is present.
func ExtractHash(script string) string {
	m := hashExtractor.FindStringSubmatch(script)
	if m == nil {
		return ""
	}
	return m[1]
}
