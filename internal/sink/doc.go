// Package sink provides the destinations the ingestion pipeline writes
// decoded packets to: a SQLite archive, an InfluxDB time series and a
// fan-out over several sinks.
//
// Every sink is idempotent per packet. The pipeline delivers at least
// once, so the same packet can arrive again after a failed ack or a
// restart.
package sink
