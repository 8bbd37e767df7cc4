// Package httpcollab implements pkg/collab's three interfaces against
// per-environment HTTP endpoints, resolving the "whether the older
// single-global-collaborator variant or the newer multi-environment
// one is intended" open question named in spec.md §9 in favor of the
// multi-environment model: each method takes an environment and this
// package looks up that environment's base URL.
package httpcollab

import (
	"context"
	"fmt"

	"github.com/maestro-deploy/maestro/pkg/merrors"
	"github.com/maestro-deploy/maestro/pkg/transport"
)

// Endpoints maps an environment name to the base URL of its
// configuration/policy services. The metadata service is assumed
// global (one registry of applications across all environments),
// matching the spec's description of application metadata as a
// property of the application, not the environment.
type Endpoints struct {
	MetadataBaseURL string
	PerEnvironment  map[string]string // environment -> base URL for configuration + policy
}

type Client struct {
	endpoints Endpoints
	http      *transport.Client
}

func New(endpoints Endpoints, httpClient *transport.Client) *Client {
	return &Client{endpoints: endpoints, http: httpClient}
}

func (c *Client) baseFor(environment string) (string, error) {
	base, ok := c.endpoints.PerEnvironment[environment]
	if !ok {
		return "", merrors.New(merrors.UpstreamNotFound, fmt.Errorf("no configuration endpoint registered for environment %q", environment))
	}
	return base, nil
}

type metadataResponse struct {
	Owner   string `json:"owner"`
	Contact string `json:"contact"`
	Email   string `json:"email"`
}

func (c *Client) GetApplicationMetadata(ctx context.Context, application string) (owner, contact, email string, err error) {
	var resp metadataResponse
	url := fmt.Sprintf("%s/applications/%s", c.endpoints.MetadataBaseURL, application)
	if err := c.http.GetJSON(ctx, url, &resp); err != nil {
		if ce, ok := asClassified(err); ok && ce.StatusCode == 404 {
			return "", "", "", merrors.New(merrors.UpstreamNotFound, err)
		}
		return "", "", "", merrors.New(merrors.UpstreamFaultHTTP, err)
	}
	return resp.Owner, resp.Contact, resp.Email, nil
}

type hashResponse struct {
	Hash string `json:"hash"`
}

func (c *Client) LatestHash(ctx context.Context, environment, application string) (string, error) {
	base, err := c.baseFor(environment)
	if err != nil {
		return "", err
	}
	var resp hashResponse
	url := fmt.Sprintf("%s/applications/%s/latest-hash", base, application)
	if err := c.http.GetJSON(ctx, url, &resp); err != nil {
		return "", merrors.New(merrors.UpstreamFaultHTTP, err)
	}
	return resp.Hash, nil
}

func (c *Client) HashExists(ctx context.Context, environment, application, hash string) (bool, error) {
	base, err := c.baseFor(environment)
	if err != nil {
		return false, err
	}
	var resp struct {
		Exists bool `json:"exists"`
	}
	url := fmt.Sprintf("%s/applications/%s/hashes/%s", base, application, hash)
	if err := c.http.GetJSON(ctx, url, &resp); err != nil {
		if ce, ok := asClassified(err); ok && ce.StatusCode == 404 {
			return false, nil
		}
		return false, merrors.New(merrors.UpstreamFaultHTTP, err)
	}
	return resp.Exists, nil
}

func (c *Client) ApplicationProperties(ctx context.Context, environment, application, hash string) (map[string]string, error) {
	base, err := c.baseFor(environment)
	if err != nil {
		return nil, err
	}
	var props map[string]string
	url := fmt.Sprintf("%s/applications/%s/hashes/%s/properties", base, application, hash)
	if err := c.http.GetJSON(ctx, url, &props); err != nil {
		return nil, classifyConfigFetch(err)
	}
	return props, nil
}

func (c *Client) DeploymentParams(ctx context.Context, environment, application, hash string) (map[string]interface{}, error) {
	base, err := c.baseFor(environment)
	if err != nil {
		return nil, err
	}
	var params map[string]interface{}
	url := fmt.Sprintf("%s/applications/%s/hashes/%s/deployment-params", base, application, hash)
	if err := c.http.GetJSON(ctx, url, &params); err != nil {
		return nil, classifyConfigFetch(err)
	}
	return params, nil
}

func (c *Client) LaunchData(ctx context.Context, environment, application, hash string) (string, error) {
	base, err := c.baseFor(environment)
	if err != nil {
		return "", err
	}
	var resp struct {
		LaunchData string `json:"launchData"`
	}
	url := fmt.Sprintf("%s/applications/%s/hashes/%s/launch-data", base, application, hash)
	if err := c.http.GetJSON(ctx, url, &resp); err != nil {
		return "", classifyConfigFetch(err)
	}
	return resp.LaunchData, nil
}

func classifyConfigFetch(err error) error {
	if ce, ok := asClassified(err); ok && ce.StatusCode == 404 {
		return merrors.New(merrors.ConfigurationMissing, err)
	}
	return merrors.New(merrors.UpstreamFaultHTTP, err)
}

func (c *Client) Allowed(ctx context.Context, environment, application string) (allowed bool, parseFault bool, err error) {
	base, err := c.baseFor(environment)
	if err != nil {
		return false, false, err
	}
	var resp struct {
		Allowed bool `json:"allowed"`
	}
	url := fmt.Sprintf("%s/policy/%s", base, application)
	fetchErr := c.http.GetJSON(ctx, url, &resp)
	if fetchErr == nil {
		return resp.Allowed, false, nil
	}
	ce, ok := asClassified(fetchErr)
	if !ok {
		// GetJSON only returns an unclassified error when a response was
		// actually received and its body failed to decode as JSON — the
		// one case spec.md §4.3 step 14 has the pipeline retry.
		return false, true, nil
	}
	if ce.StatusCode == 404 {
		return false, false, merrors.New(merrors.ConfigurationMissing, fetchErr)
	}
	// A connectivity fault or a non-404 status is neither "definite
	// absence" nor "response could not be parsed" — report it like
	// every other collaborator call's transport failure instead of
	// retrying the same step forever.
	return false, false, merrors.New(merrors.UpstreamFaultHTTP, fetchErr)
}

func asClassified(err error) (*transport.ClassifiedError, bool) {
	ce, ok := err.(*transport.ClassifiedError)
	return ce, ok
}
