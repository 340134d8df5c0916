// Package arduino manages a serial-attached microcontroller: USB discovery,
// link bring-up with an auto-reset pulse, framed message exchange, confirmed
// delivery with retries, firmware flashing and self-healing reconnects.
//
// A Connection owns one device. It discovers the port by polling the system
// device list, opens it, pulses the DTR/RTS control lines so the board's
// auto-reset circuit restarts the sketch, and then exchanges messages in one
// of two modes:
//   - Binary mode: payloads travel as stuffed binary frames with an optional
//     trailing XOR checksum. This mode supports confirmed delivery.
//   - Text mode: payloads travel as start-delimited lines with a two-digit
//     hex checksum, terminated by a carriage return.
//
// Confirmed Delivery:
// Send and SendAsync append a mod-256 sequence number to each payload and
// queue it. The queue writes one message at a time and waits for the device
// to echo the sequence number back as a one-byte frame. Messages retry on
// timeout until their attempt budget is spent; low priority messages are
// discarded instead of competing with queued traffic. A run of consecutive
// failures past the configured ceiling wipes the whole queue, acting as a
// circuit breaker against an unresponsive device.
//
// Events:
// Subscribers receive typed events (connect, disconnect, data, error,
// discard) over buffered channels. A subscriber that falls behind loses
// events instead of stalling the receive path.
//
// A minimal session:
//
//	cfg, err := arduino.NewConfig(arduino.WithBoard("uno"))
//	if err != nil { ... }
//	conn, err := arduino.NewConnection(ctx, cfg)
//	if err != nil { ... }
//	defer conn.Close()
//
//	events, cancel := conn.Subscribe()
//	defer cancel()
//
//	if err := conn.Connect(true); err != nil { ... }
//	err = conn.Send(ctx, []byte("ping"))
package arduino
