// Package telemetry exports organisation status snapshots to observers and
// traces bus traffic with OpenTelemetry.
//
// Sinks:
//
//   - FileSink: JSON lines appended to a file
//   - HTTPSink: batched POST of JSON arrays
//   - WebSocketSink: live feed for dashboards (gorilla/websocket)
//   - NoopSink, MultiSink
//
// Tracing is a no-op until InitProvider installs an OTLP exporter.
package telemetry
