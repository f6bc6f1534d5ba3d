package api

import (
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/nerrad567/ssds-ingest/internal/sink"
)

// defaultPacketLimit applies when limit is absent.
const defaultPacketLimit = 50

// PacketResponse is one archived packet. Buffers are base64 in JSON.
type PacketResponse struct {
	Key                    string `json:"key"`
	SourceID               int64  `json:"source_id"`
	ParentID               int64  `json:"parent_id"`
	PacketType             int32  `json:"packet_type"`
	PacketSubType          int32  `json:"packet_sub_type"`
	SequenceNumber         int64  `json:"sequence_number"`
	MetadataSequenceNumber int64  `json:"metadata_sequence_number"`
	DataDescriptionVersion int64  `json:"data_description_version"`
	Timestamp              string `json:"timestamp"`
	Buffer                 []byte `json:"buffer"`
	BufferTwo              []byte `json:"buffer_two"`
	ReceivedAt             string `json:"received_at"`
}

// PacketListResponse is the body of GET /api/v1/packets/{sourceID}.
type PacketListResponse struct {
	SourceID int64            `json:"source_id"`
	Count    int              `json:"count"`
	Packets  []PacketResponse `json:"packets"`
}

// handleRecentPackets returns the newest archived packets of one source.
func (s *Server) handleRecentPackets(w http.ResponseWriter, r *http.Request) {
	if s.archive == nil {
		writeUnavailable(w, "packet archive not configured")
		return
	}

	sourceID, err := strconv.ParseInt(chi.URLParam(r, "sourceID"), 10, 64)
	if err != nil {
		writeBadRequest(w, "sourceID must be an integer")
		return
	}

	limit := defaultPacketLimit
	if raw := r.URL.Query().Get("limit"); raw != "" {
		limit, err = strconv.Atoi(raw)
		if err != nil || limit < 1 || limit > sink.MaxRecentLimit {
			writeBadRequest(w, "limit must be between 1 and "+strconv.Itoa(sink.MaxRecentLimit))
			return
		}
	}

	records, err := s.archive.Recent(r.Context(), sourceID, limit)
	if err != nil {
		s.logger.Error("archive query failed", "source_id", sourceID, "error", err)
		writeInternalError(w, "archive query failed")
		return
	}

	resp := PacketListResponse{SourceID: sourceID, Count: len(records), Packets: make([]PacketResponse, 0, len(records))}
	for _, rec := range records {
		p := rec.Packet
		resp.Packets = append(resp.Packets, PacketResponse{
			Key:                    rec.Key,
			SourceID:               p.SourceID,
			ParentID:               p.ParentID,
			PacketType:             p.PacketType,
			PacketSubType:          p.PacketSubType,
			SequenceNumber:         p.SequenceNumber,
			MetadataSequenceNumber: p.MetadataSequenceNumber,
			DataDescriptionVersion: p.DataDescriptionVersion,
			Timestamp:              p.Time().Format(time.RFC3339Nano),
			Buffer:                 p.BufferBytes,
			BufferTwo:              p.BufferTwoBytes,
			ReceivedAt:             rec.ReceivedAt.UTC().Format(time.RFC3339Nano),
		})
	}

	writeJSON(w, http.StatusOK, resp)
}
