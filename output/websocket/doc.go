// Package websocket provides a websocket server that streams request data to
// browser and script clients.
//
// # Overview
//
// Every websocket connection is one access request. The client chooses the
// URI, start option and order with query parameters; the server builds the
// request, adds it to the manager and streams what the source delivers as
// JSON frames. Closing the connection removes the request.
//
// # Quick Start
//
//	server, err := websocket.New(websocket.Config{
//	    Addr: ":8081",
//	    Path: "/ws",
//	}, manager, registry, logger)
//	if err != nil {
//	    return err
//	}
//	if err := server.Start(); err != nil {
//	    return err
//	}
//	defer server.Stop(5 * time.Second)
//
// A client then connects with:
//
//	ws://localhost:8081/ws?uri=lgr:stn.Hourly.Temp&start=relative-to-newest&backfill=1h
//
// # Query Parameters
//
//   - uri: the request URI (required)
//   - start: a start option name such as at-newest, at-record or date-query
//   - file-mark, record, stamp, backfill, offset, begin, end: start option
//     parameters, see access.ParseStartOption
//   - order: collected, log-reported or real-time
//   - cache-size: records per delivery batch
//
// Invalid parameters are rejected with HTTP 400 before the upgrade.
//
// # Frames
//
//	{"type":"ready","uri":"lgr:stn.Hourly.Temp","values":["Temp(1)","Temp(2)"]}
//	{"type":"record","uri":"...","record":{"record_no":7,"stamp":"...","fields":[...]}}
//	{"type":"failure","uri":"...","failure":"invalid_table_name"}
//	{"type":"state","uri":"...","state":"satisfied"}
//
// Connection level failures (connection_failed, invalid_logon) are retried by
// the source and leave the client open. Any other failure is final: the
// server sends the failure frame and closes the connection normally.
//
// # Slow Clients
//
// Frames for each client wait in a bounded pkg/buffer queue with the
// DropOldest policy. A client that cannot keep up loses its oldest frames
// and the server reports degraded health; other clients are unaffected.
//
// # Ping/Pong Keepalive
//
// The server pings every client each PingInterval and drops clients that
// have not answered for two intervals.
//
// # Thread Safety
//
// Sink callbacks run on the manager's loop and only queue frames. Each client
// has a write goroutine that owns data frames and a read goroutine that
// watches for the close; control frames share the client's write lock.
package websocket
