package config

import (
	"crypto/rand"
	"encoding/base64"
	"fmt"
	"net/url"
	"os"
	"strings"
)

// GetInstanceID returns an ID for this instance of the application.
// In order, it uses:
//   - The replica name on Azure Container Apps (env var CONTAINER_APP_REPLICA_NAME)
//   - The "service.instance.id" OpenTelemetry resource attribute (env var OTEL_RESOURCE_ATTRIBUTES)
//   - A random value
func GetInstanceID() (string, error) {
	id := os.Getenv("CONTAINER_APP_REPLICA_NAME")
	if id != "" {
		return id, nil
	}

	id = instanceIDFromOtelAttributes(os.Getenv("OTEL_RESOURCE_ATTRIBUTES"))
	if id != "" {
		return id, nil
	}

	b := make([]byte, 7)
	_, err := rand.Read(b)
	if err != nil {
		return "", fmt.Errorf("failed to generate random instance ID: %w", err)
	}
	return base64.RawURLEncoding.EncodeToString(b), nil
}

// Values in OTEL_RESOURCE_ATTRIBUTES are comma-separated key=value pairs, with values percent-encoded.
// Invalid values are ignored.
func instanceIDFromOtelAttributes(attrs string) string {
	for pair := range strings.SplitSeq(attrs, ",") {
		key, val, ok := strings.Cut(pair, "=")
		if !ok || strings.TrimSpace(key) != "service.instance.id" {
			continue
		}

		val, err := url.PathUnescape(strings.TrimSpace(val))
		if err != nil {
			return ""
		}
		return val
	}

	return ""
}
