package management

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/nerrad567/ssds-ingest/internal/infrastructure/config"
)

const (
	// defaultTimeout applies when the configured timeout is zero.
	defaultTimeout = 10 * time.Second

	// maxResponseSize caps the queue listing body (8MB).
	maxResponseSize = 8 << 20
)

// QueueDescriptor is one queue as reported by the management API.
type QueueDescriptor struct {
	Name                   string `json:"name"`
	VHost                  string `json:"vhost"`
	Durable                bool   `json:"durable"`
	AutoDelete             bool   `json:"auto_delete"`
	Exclusive              bool   `json:"exclusive"`
	State                  string `json:"state"`
	Messages               int    `json:"messages"`
	MessagesReady          int    `json:"messages_ready"`
	MessagesUnacknowledged int    `json:"messages_unacknowledged"`
	Consumers              int    `json:"consumers"`
}

// Directory lists queues through the RabbitMQ management HTTP API.
//
// It is read-only and never on the message path.
//
// Thread Safety: All methods are safe for concurrent use from multiple goroutines.
type Directory struct {
	baseURL    string
	username   string
	password   string
	httpClient *http.Client
}

// New creates a Directory from management configuration.
//
// Parameters:
//   - cfg: Management API URL, timeout and credentials
//
// Returns:
//   - *Directory: Ready for use (no request is made)
//   - error: ErrInvalidURL if cfg.URL is not an absolute http(s) URL
func New(cfg config.ManagementConfig) (*Directory, error) {
	u, err := url.Parse(cfg.URL)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidURL, err)
	}
	if (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return nil, fmt.Errorf("%w: %q", ErrInvalidURL, cfg.URL)
	}

	timeout := cfg.GetTimeout()
	if timeout <= 0 {
		timeout = defaultTimeout
	}

	return &Directory{
		baseURL:    strings.TrimRight(cfg.URL, "/"),
		username:   cfg.Auth.Username,
		password:   cfg.Auth.Password,
		httpClient: &http.Client{Timeout: timeout},
	}, nil
}

// ListQueues returns the queues in vhost, in the order the API reports them.
// An empty vhost lists queues across all virtual hosts.
//
// Parameters:
//   - ctx: Context for cancellation and timeout
//   - vhost: Virtual host name (e.g. "ssds"; "/" is escaped)
//
// Returns:
//   - []QueueDescriptor: Possibly empty, never nil on success
//   - error: ErrAuthentication, ErrNetwork, ErrMalformedResponse or
//     ErrVirtualHostNotFound
func (d *Directory) ListQueues(ctx context.Context, vhost string) ([]QueueDescriptor, error) {
	endpoint := d.baseURL + "/api/queues"
	if vhost != "" {
		endpoint += "/" + url.PathEscape(vhost)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, fmt.Errorf("%w: creating request: %w", ErrNetwork, err)
	}
	req.SetBasicAuth(d.username, d.password)
	req.Header.Set("Accept", "application/json")

	resp, err := d.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrNetwork, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseSize+1))
	if err != nil {
		return nil, fmt.Errorf("%w: reading response: %w", ErrNetwork, err)
	}

	switch {
	case resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden:
		return nil, fmt.Errorf("%w: status %d", ErrAuthentication, resp.StatusCode)
	case resp.StatusCode == http.StatusNotFound:
		return nil, fmt.Errorf("%w: %q", ErrVirtualHostNotFound, vhost)
	case resp.StatusCode >= http.StatusInternalServerError:
		return nil, fmt.Errorf("%w: status %d", ErrNetwork, resp.StatusCode)
	case resp.StatusCode != http.StatusOK:
		return nil, fmt.Errorf("%w: unexpected status %d", ErrMalformedResponse, resp.StatusCode)
	}

	if len(body) > maxResponseSize {
		return nil, fmt.Errorf("%w: response exceeds %d bytes", ErrMalformedResponse, maxResponseSize)
	}

	return parseQueues(body)
}

// QueueNames returns only the names of the queues in vhost.
func (d *Directory) QueueNames(ctx context.Context, vhost string) ([]string, error) {
	queues, err := d.ListQueues(ctx, vhost)
	if err != nil {
		return nil, err
	}
	names := make([]string, len(queues))
	for i, q := range queues {
		names[i] = q.Name
	}
	return names, nil
}

// parseQueues decodes a queue listing, requiring a JSON array whose
// elements all carry a name.
func parseQueues(body []byte) ([]QueueDescriptor, error) {
	var queues []QueueDescriptor
	if err := json.Unmarshal(body, &queues); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrMalformedResponse, err)
	}
	if queues == nil {
		// JSON null
		return nil, fmt.Errorf("%w: expected array, got null", ErrMalformedResponse)
	}
	for i, q := range queues {
		if q.Name == "" {
			return nil, fmt.Errorf("%w: queue %d has no name", ErrMalformedResponse, i)
		}
	}
	return queues, nil
}
