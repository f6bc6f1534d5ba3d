package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"text/tabwriter"

	"github.com/nerrad567/ssds-ingest/internal/infrastructure/management"
)

// runQueues implements "ssdsingest queues": it lists the queues of a
// virtual host as a table, or as JSON with --json.
func runQueues(ctx context.Context, args []string, stdout io.Writer) error {
	var configPath, vhost string
	var asJSON bool
	flagSet := newFlagSet("queues", stdout, &configPath)
	flagSet.StringVar(&vhost, "vhost", "", "virtual host to list (default broker.vhost)")
	flagSet.BoolVar(&asJSON, "json", false, "print JSON instead of a table")
	if help, err := parseFlags(flagSet, args); help || err != nil {
		return err
	}

	cfg, _, err := loadConfig(configPath)
	if err != nil {
		return err
	}
	if vhost == "" {
		vhost = cfg.Broker.VHost
	}

	dir, err := management.New(cfg.Management)
	if err != nil {
		return err
	}
	queues, err := dir.ListQueues(ctx, vhost)
	if err != nil {
		return fmt.Errorf("listing queues in %q: %w", vhost, err)
	}

	if asJSON {
		enc := json.NewEncoder(stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(queues)
	}
	return writeQueueTable(stdout, queues)
}

func writeQueueTable(w io.Writer, queues []management.QueueDescriptor) error {
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "NAME\tSTATE\tDURABLE\tMESSAGES\tREADY\tUNACKED\tCONSUMERS")
	for _, q := range queues {
		fmt.Fprintf(tw, "%s\t%s\t%t\t%d\t%d\t%d\t%d\n",
			q.Name, q.State, q.Durable, q.Messages, q.MessagesReady, q.MessagesUnacknowledged, q.Consumers)
	}
	return tw.Flush()
}
