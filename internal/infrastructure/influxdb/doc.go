// Package influxdb writes device packet time series to InfluxDB v2.
//
// It wraps the official influxdb-client-go v2 library with a blocking
// write API: a write returns only once InfluxDB has accepted the point,
// which lets the ingestion pipeline acknowledge a delivery after the
// write succeeds.
//
// # Usage
//
//	client, err := influxdb.Connect(ctx, cfg.InfluxDB)
//	if err != nil {
//	    return err
//	}
//	defer client.Close()
//
//	err = client.WritePacket(ctx, pkt)
//
// # Schema
//
// One point per packet in measurement "device_packets", tagged by source,
// parent, packet type and sub type, timestamped with the packet's reading
// time. See PacketPoint.
//
// # Thread Safety
//
// All methods are safe for concurrent use from multiple goroutines.
package influxdb
