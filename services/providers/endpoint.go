package providers

import (
	"net/url"
	"strings"
)

// ResolveEndpoint joins the base URL (trailing slashes trimmed) with the provider's path.
// Unknown providers use the OpenAI-compatible path.
func (r *Registry) ResolveEndpoint(provider, baseURL, model string) string {
	profile := r.Resolve(provider)
	path := strings.ReplaceAll(profile.EndpointPath, "{model}", url.PathEscape(model))
	return strings.TrimRight(strings.TrimSpace(baseURL), "/") + path
}

// BuildHeaders returns the outbound headers for a provider.
// Authorization is omitted for keyless providers and when no key is configured.
func (r *Registry) BuildHeaders(provider, apiKey string) map[string]string {
	profile := r.Resolve(provider)

	headers := map[string]string{
		"Content-Type": "application/json",
	}
	for k, v := range profile.ExtraHeaders {
		headers[k] = v
	}

	key := strings.TrimSpace(apiKey)
	if profile.AuthStyle == AuthNone || key == "" {
		return headers
	}
	if hasBearerPrefix(key) {
		headers["Authorization"] = key
	} else {
		headers["Authorization"] = "Bearer " + key
	}
	return headers
}

// IsFallbackEndpoint reports whether requests to this provider/URL get the fallback timeout
func (r *Registry) IsFallbackEndpoint(provider, apiURL string) bool {
	if r.Resolve(provider).FallbackEndpoint {
		return true
	}
	u, err := url.Parse(apiURL)
	if err != nil {
		return false
	}
	return strings.Contains(strings.ToLower(u.Path), "/fallback")
}

// RequiresKey reports whether the provider authenticates with an API key
func (r *Registry) RequiresKey(provider string) bool {
	return r.Resolve(provider).AuthStyle != AuthNone
}

func hasBearerPrefix(key string) bool {
	return len(key) >= len("bearer ") && strings.EqualFold(key[:len("bearer ")], "bearer ")
}
