// Package management lists broker queues through the RabbitMQ management
// HTTP API (GET /api/queues/{vhost}, HTTP Basic authentication).
//
// It serves diagnostics only: the CLI "queues" command and the API's queue
// listing. Message flow never depends on it.
//
// # Usage
//
//	dir, err := management.New(cfg.Management)
//	queues, err := dir.ListQueues(ctx, "ssds")
//	if errors.Is(err, management.ErrAuthentication) {
//	    // check credentials
//	}
package management
