package messaging

import (
	"net/url"
	"strings"
)

// #nosec G101 -- Placeholder text for redacted URLs, not actual credentials
const redactedAMQPPlaceholder = "amqp://****:****@<host>:<port>/<vhost>"

// redactAMQPURL removes credentials from AMQP URLs for safe logging. The URL
// structure (scheme, host, port, vhost) is preserved and the username is kept
// for debugging; only the password is masked. If the URL cannot be parsed, a
// generic placeholder is returned to avoid leaking credentials.
func redactAMQPURL(amqpURL string) string {
	if amqpURL == "" {
		return redactedAMQPPlaceholder
	}

	u, err := url.Parse(amqpURL)
	if err != nil {
		return redactedAMQPPlaceholder
	}

	if u.Scheme != "amqp" && u.Scheme != "amqps" {
		return redactedAMQPPlaceholder
	}

	if u.Host == "" {
		return redactedAMQPPlaceholder
	}

	username := ""
	if u.User != nil {
		username = u.User.Username()
	}

	return buildRedactedURL(u, username)
}

// buildRedactedURL reconstructs the URL manually so the mask is not
// URL-encoded.
func buildRedactedURL(u *url.URL, username string) string {
	userInfo := "****:****"
	if username != "" {
		userInfo = username + ":****"
	}

	var result strings.Builder
	result.WriteString(u.Scheme)
	result.WriteString("://")
	result.WriteString(userInfo)
	result.WriteString("@")
	result.WriteString(u.Host)

	if u.RawPath != "" {
		result.WriteString(u.RawPath)
	} else if u.Path != "" {
		result.WriteString(u.Path)
	}

	if u.RawQuery != "" {
		result.WriteString("?")
		result.WriteString(u.RawQuery)
	}

	return result.String()
}
