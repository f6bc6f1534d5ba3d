package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/nerrad567/ssds-ingest/internal/infrastructure/amqp"
	"github.com/nerrad567/ssds-ingest/internal/infrastructure/logging"
	"github.com/nerrad567/ssds-ingest/internal/packet"
	"github.com/nerrad567/ssds-ingest/internal/producer"
)

// publishFlags holds the packet template of "ssdsingest publish".
type publishFlags struct {
	sourceID    int64
	parentID    int64
	packetType  int32
	subType     int32
	metadataSeq int64
	dataVersion int64
	sequence    int64
	count       int
	buffer      []byte
	bufferTwo   []byte
	codec       string
}

// codecsByName maps --codec values to codecs.
var codecsByName = map[string]packet.Codec{
	"canonical": packet.Canonical,
	"message":   packet.Message,
	"legacy":    packet.Legacy,
}

// runPublish implements "ssdsingest publish": it publishes count packets
// with consecutive sequence numbers, each stamped with the current time.
func runPublish(ctx context.Context, args []string, stdout io.Writer) error {
	var configPath string
	var f publishFlags
	flagSet := newFlagSet("publish", stdout, &configPath)
	flagSet.Int64Var(&f.sourceID, "source", 1, "source (sensor) id")
	flagSet.Int64Var(&f.parentID, "parent", 0, "parent (deployment) id")
	flagSet.Int32Var(&f.packetType, "type", 0, "packet type")
	flagSet.Int32Var(&f.subType, "subtype", 0, "packet subtype")
	flagSet.Int64Var(&f.metadataSeq, "metadata-seq", 0, "metadata sequence number")
	flagSet.Int64Var(&f.dataVersion, "data-version", 1, "data description version")
	flagSet.Int64Var(&f.sequence, "seq", 1, "sequence number of the first packet")
	flagSet.IntVarP(&f.count, "count", "n", 1, "number of packets to publish")
	flagSet.BytesHexVar(&f.buffer, "buffer", nil, "primary payload, hex encoded")
	flagSet.BytesHexVar(&f.bufferTwo, "buffer-two", nil, "secondary payload, hex encoded")
	flagSet.StringVar(&f.codec, "codec", "canonical", "encoding: canonical, message or legacy")
	if help, err := parseFlags(flagSet, args); help || err != nil {
		return err
	}

	codec, ok := codecsByName[strings.ToLower(f.codec)]
	if !ok {
		return fmt.Errorf("unknown codec %q: want canonical, message or legacy", f.codec)
	}
	if f.count < 1 {
		return errors.New("--count must be at least 1")
	}

	cfg, _, err := loadConfig(configPath)
	if err != nil {
		return err
	}
	// Keep stdout for the command's own output.
	cfg.Logging.Output = "stderr"
	log := logging.New(cfg.Logging, version).With("component", "publish")

	client, err := amqp.Connect(ctx, cfg.Broker)
	if err != nil {
		return fmt.Errorf("connecting to broker: %w", err)
	}
	defer func() {
		if closeErr := client.Close(); closeErr != nil {
			log.Error("error closing broker connection", "error", closeErr)
		}
	}()
	client.SetLogger(log)

	prod, err := producer.New(ctx, client, amqp.QueueOptionsFrom(cfg.Queue),
		producer.WithCodec(codec),
		producer.WithLogger(log),
	)
	if err != nil {
		return err
	}

	published, err := prod.PublishAll(ctx, f.packets(time.Now()))
	fmt.Fprintf(stdout, "published %d of %d packets to %q (%s)\n",
		published, f.count, prod.Queue().Name, codec.ContentType())
	return err
}

// packets builds the batch described by the flags.
func (f publishFlags) packets(now time.Time) []packet.DevicePacket {
	pkts := make([]packet.DevicePacket, 0, f.count)
	for i := range f.count {
		pkts = append(pkts, packet.DevicePacket{
			SourceID:               f.sourceID,
			ParentID:               f.parentID,
			PacketType:             f.packetType,
			PacketSubType:          f.subType,
			MetadataSequenceNumber: f.metadataSeq,
			DataDescriptionVersion: f.dataVersion,
			SequenceNumber:         f.sequence + int64(i),
			BufferBytes:            f.buffer,
			BufferTwoBytes:         f.bufferTwo,
		}.WithTime(now))
	}
	return pkts
}
