package management

import "errors"

// Sentinel errors for queue directory lookups.
//
// These errors can be checked using errors.Is() for specific handling:
//
//	if errors.Is(err, management.ErrAuthentication) {
//	    // credentials rejected
//	}
var (
	// ErrAuthentication indicates the management API rejected the
	// credentials (HTTP 401 or 403).
	ErrAuthentication = errors.New("management: authentication failed")

	// ErrNetwork indicates a transport failure, timeout or 5xx response.
	ErrNetwork = errors.New("management: network error")

	// ErrMalformedResponse indicates a response that is not a JSON array
	// of queues, or a queue without a name.
	ErrMalformedResponse = errors.New("management: malformed response")

	// ErrVirtualHostNotFound indicates the virtual host does not exist (HTTP 404).
	ErrVirtualHostNotFound = errors.New("management: virtual host not found")

	// ErrInvalidURL indicates the configured management URL is unusable.
	ErrInvalidURL = errors.New("management: invalid URL")
)
