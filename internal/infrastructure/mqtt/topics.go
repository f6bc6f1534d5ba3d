package mqtt

import (
	"strconv"
	"strings"
)

// Topic prefixes for the SSDS uplink.
//
// Sensors publish encoded DevicePackets to ssds/packets/{sourceID}; the
// uplink reports its own liveness on ssds/system/status.
const (
	// TopicPrefix is the root of every SSDS topic.
	TopicPrefix = "ssds"

	// TopicPrefixPackets is the base for per-source packet topics.
	TopicPrefixPackets = TopicPrefix + "/packets"

	// TopicPrefixSystem is the base for system topics.
	TopicPrefixSystem = TopicPrefix + "/system"
)

// Topics provides builders for SSDS MQTT topics.
//
//	topics := mqtt.Topics{}
//	topics.Packets(101) // "ssds/packets/101"
type Topics struct{}

// Packets returns the topic a sensor publishes its packets to.
//
// Example: ssds/packets/101
func (Topics) Packets(sourceID int64) string {
	return TopicPrefixPackets + "/" + strconv.FormatInt(sourceID, 10)
}

// AllPackets returns the wildcard matching every source's packet topic.
//
// Example: ssds/packets/+
func (Topics) AllPackets() string {
	return TopicPrefixPackets + "/+"
}

// SystemStatus returns the uplink's retained online/offline topic.
//
// Example: ssds/system/status
func (Topics) SystemStatus() string {
	return TopicPrefixSystem + "/status"
}

// SourceIDFromTopic extracts the source id from a packet topic.
// It reports false for any topic not of the form ssds/packets/{int64}.
func (Topics) SourceIDFromTopic(topic string) (int64, bool) {
	rest, ok := strings.CutPrefix(topic, TopicPrefixPackets+"/")
	if !ok || rest == "" || strings.Contains(rest, "/") {
		return 0, false
	}
	id, err := strconv.ParseInt(rest, 10, 64)
	if err != nil {
		return 0, false
	}
	return id, true
}

// ValidateFilter reports whether filter is a well-formed MQTT topic filter:
// non-empty, '#' only as the whole last level, '+' only as a whole level.
func ValidateFilter(filter string) error {
	if filter == "" {
		return ErrInvalidTopic
	}
	levels := strings.Split(filter, "/")
	for i, level := range levels {
		switch {
		case level == "#" && i != len(levels)-1:
			return ErrInvalidTopic
		case level != "#" && strings.Contains(level, "#"):
			return ErrInvalidTopic
		case level != "+" && strings.Contains(level, "+"):
			return ErrInvalidTopic
		}
	}
	return nil
}
