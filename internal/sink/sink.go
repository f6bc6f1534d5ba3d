package sink

import (
	"context"
	"errors"
	"fmt"

	"github.com/nerrad567/ssds-ingest/internal/packet"
)

// Sink stores decoded packets. It has the same method set as ingest.Sink.
type Sink interface {
	Write(ctx context.Context, p packet.DevicePacket) error
}

// Named is implemented by sinks that report a name in errors and logs.
type Named interface {
	Name() string
}

// Fanout writes every packet to each sink in order.
//
// All sinks are attempted even after one fails, and the write fails if
// any of them failed. Sinks must therefore tolerate the same packet twice:
// a failed fan-out leaves the delivery unacknowledged and it comes back.
type Fanout []Sink

// Write writes p to every sink and joins their errors.
func (f Fanout) Write(ctx context.Context, p packet.DevicePacket) error {
	var errs []error
	for i, s := range f {
		if err := s.Write(ctx, p); err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", sinkName(s, i), err))
		}
	}
	return errors.Join(errs...)
}

// Name returns "fanout".
func (Fanout) Name() string { return "fanout" }

func sinkName(s Sink, i int) string {
	if n, ok := s.(Named); ok {
		return n.Name()
	}
	return fmt.Sprintf("sink[%d]", i)
}

// PacketWriter writes one packet as a time-series point.
// *influxdb.Client implements it.
type PacketWriter interface {
	WritePacket(ctx context.Context, p packet.DevicePacket) error
}

// Influx stores packets as InfluxDB points. Rewriting a packet overwrites
// the same point, so redeliveries are harmless.
type Influx struct {
	w PacketWriter
}

// NewInflux returns a sink writing through w.
func NewInflux(w PacketWriter) *Influx {
	return &Influx{w: w}
}

// Write writes p with the blocking write API, so a nil error means the
// point reached the server.
func (s *Influx) Write(ctx context.Context, p packet.DevicePacket) error {
	if err := s.w.WritePacket(ctx, p); err != nil {
		return fmt.Errorf("%w: %w", ErrWriteFailed, err)
	}
	return nil
}

// Name returns "influxdb".
func (*Influx) Name() string { return "influxdb" }
