package sink

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/nerrad567/ssds-ingest/internal/packet"
)

// MaxRecentLimit caps Recent.
const MaxRecentLimit = 1000

const insertPacket = `INSERT INTO device_packets (
	packet_key, source_id, parent_id, packet_type, packet_sub_type,
	sequence_number, metadata_sequence_number, timestamp_seconds, timestamp_nanos,
	data_description_version, buffer, buffer_two, received_at
) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
ON CONFLICT(packet_key) DO NOTHING`

const selectRecent = `SELECT
	packet_key, source_id, parent_id, packet_type, packet_sub_type,
	sequence_number, metadata_sequence_number, timestamp_seconds, timestamp_nanos,
	data_description_version, buffer, buffer_two, received_at
FROM device_packets
WHERE source_id = ?
ORDER BY timestamp_seconds DESC, timestamp_nanos DESC
LIMIT ?`

// Record is an archived packet.
type Record struct {
	Key        string
	Packet     packet.DevicePacket
	ReceivedAt time.Time
}

// Archive stores packets in the device_packets table of the SQLite
// database. Packets are keyed by content, so a redelivered packet is
// stored once.
type Archive struct {
	db  *sql.DB
	now func() time.Time
}

// NewArchive returns an archive over db, which must carry the
// device_packets migration.
func NewArchive(db *sql.DB) *Archive {
	return &Archive{db: db, now: time.Now}
}

// Name returns "archive".
func (*Archive) Name() string { return "archive" }

// Write inserts p unless a packet with the same content key exists.
func (a *Archive) Write(ctx context.Context, p packet.DevicePacket) error {
	key, err := p.Key()
	if err != nil {
		return fmt.Errorf("%w: %w", ErrWriteFailed, err)
	}

	_, err = a.db.ExecContext(ctx, insertPacket,
		key, p.SourceID, p.ParentID, p.PacketType, p.PacketSubType,
		p.SequenceNumber, p.MetadataSequenceNumber, p.TimestampSeconds, p.TimestampNanoseconds,
		p.DataDescriptionVersion, nonNil(p.BufferBytes), nonNil(p.BufferTwoBytes),
		a.now().UTC().Format(time.RFC3339Nano),
	)
	if err != nil {
		return fmt.Errorf("%w: archiving %s: %w", ErrWriteFailed, key, err)
	}
	return nil
}

// Recent returns up to limit packets from sourceID, newest reading first.
// limit is clamped to 1..MaxRecentLimit.
func (a *Archive) Recent(ctx context.Context, sourceID int64, limit int) ([]Record, error) {
	limit = max(1, min(limit, MaxRecentLimit))

	rows, err := a.db.QueryContext(ctx, selectRecent, sourceID, limit)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrQueryFailed, err)
	}
	defer rows.Close()

	var records []Record
	for rows.Next() {
		var (
			r          Record
			receivedAt string
		)
		err := rows.Scan(
			&r.Key, &r.Packet.SourceID, &r.Packet.ParentID, &r.Packet.PacketType, &r.Packet.PacketSubType,
			&r.Packet.SequenceNumber, &r.Packet.MetadataSequenceNumber, &r.Packet.TimestampSeconds, &r.Packet.TimestampNanoseconds,
			&r.Packet.DataDescriptionVersion, &r.Packet.BufferBytes, &r.Packet.BufferTwoBytes, &receivedAt,
		)
		if err != nil {
			return nil, fmt.Errorf("%w: scanning packet: %w", ErrQueryFailed, err)
		}
		r.ReceivedAt, err = time.Parse(time.RFC3339Nano, receivedAt)
		if err != nil {
			return nil, fmt.Errorf("%w: received_at %q: %w", ErrQueryFailed, receivedAt, err)
		}
		r.Packet.BufferBytes = nonNil(r.Packet.BufferBytes)
		r.Packet.BufferTwoBytes = nonNil(r.Packet.BufferTwoBytes)
		records = append(records, r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrQueryFailed, err)
	}
	return records, nil
}

// Count returns the number of archived packets.
func (a *Archive) Count(ctx context.Context) (int64, error) {
	var n int64
	if err := a.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM device_packets`).Scan(&n); err != nil {
		return 0, fmt.Errorf("%w: %w", ErrQueryFailed, err)
	}
	return n, nil
}

// nonNil keeps BLOB columns NOT NULL for empty buffers.
func nonNil(b []byte) []byte {
	if b == nil {
		return []byte{}
	}
	return b
}
