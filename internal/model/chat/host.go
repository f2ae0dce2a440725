package chat

import (
	"errors"
	"net/url"
	"strings"
)

// ErrInvalidHost is returned for microservice hosts that do not parse to a URL with a hostname.
var ErrInvalidHost = errors.New("please enter a valid microservice host URL")

// NormalizeHost validates a user-supplied microservice host and returns the base URL used
// for requests. Inputs without a scheme are treated as http; trailing slashes are dropped.
func NormalizeHost(raw string) (string, error) {
	host := strings.TrimSpace(raw)
	if host == "" {
		return "", ErrInvalidHost
	}
	if !strings.HasPrefix(host, "http") {
		host = "http://" + host
	}

	parsed, err := url.Parse(host)
	if err != nil || parsed.Hostname() == "" {
		return "", ErrInvalidHost
	}
	if parsed.Scheme != "http" && parsed.Scheme != "https" {
		return "", ErrInvalidHost
	}

	return strings.TrimRight(parsed.String(), "/"), nil
}
