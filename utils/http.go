package utils

import (
	"net/http"
	"time"
)

// HTTPClient is shared by outbound service-to-service calls (push delivery).
var HTTPClient = &http.Client{
	Timeout: 30 * time.Second,
}
