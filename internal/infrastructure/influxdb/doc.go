// Package influxdb mirrors graph telemetry into InfluxDB.
//
// Every sample the agent writes to the knowledge graph is also written as a
// point of the "telemetry" measurement, tagged with device_id, class,
// module and attribute. The graph keeps only the latest value per
// attribute; InfluxDB keeps the history for dashboards.
//
// # Usage
//
//	client, err := influxdb.Connect(cfg.InfluxDB)
//	if err != nil {
//	    return err
//	}
//	defer client.Close()
//
//	client.WriteTelemetry("U1", "AirQuality", "temperature_humidity_sensor", "temperature", 21.5, ts)
//
// # Error Handling
//
// Writes are non-blocking and batched according to batch_size and
// flush_interval; batch failures are delivered to the SetOnError callback.
// Connection and health check errors are returned directly.
package influxdb
