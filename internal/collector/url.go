package collector

import (
	"fmt"
	"net/url"
	"strings"
)

// DomainOf returns the lower-cased host (without port) of rawURL.
func DomainOf(rawURL string) (string, error) {
	u, err := url.Parse(rawURL)
	if err != nil {
		return "", fmt.Errorf("%w: parse url: %v", ErrValidation, err)
	}
	host := strings.ToLower(u.Hostname())
	if host == "" {
		return "", fmt.Errorf("%w: url %q has no host", ErrValidation, rawURL)
	}
	return host, nil
}

// NormalizeURL returns the canonical form of an absolute URL: lower-cased
// scheme and host, no default port, sorted query and no fragment.
func NormalizeURL(rawURL string) (string, error) {
	u, err := url.Parse(rawURL)
	if err != nil {
		return "", fmt.Errorf("%w: parse url: %v", ErrValidation, err)
	}
	if u.Host == "" {
		return "", fmt.Errorf("%w: url %q has no host", ErrValidation, rawURL)
	}
	u.Scheme = strings.ToLower(u.Scheme)
	host := strings.ToLower(u.Host)
	switch port := u.Port(); {
	case u.Scheme == "http" && port == "80", u.Scheme == "https" && port == "443":
		host = strings.TrimSuffix(host, ":"+port)
	}
	u.Host = host
	u.Fragment = ""
	u.RawFragment = ""
	if u.RawQuery != "" {
		u.RawQuery = u.Query().Encode()
	}
	return u.String(), nil
}
