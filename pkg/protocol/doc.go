// ABOUTME: lc3cast wire protocol package
// ABOUTME: Defines handshake messages and the binary SDU packet layout
// Package protocol implements the lc3cast wire protocol.
//
// Listeners connect over WebSocket, send listener/hello and receive
// broadcast/hello describing the stream. Audio then arrives as binary
// messages, one SDU per message:
//
//	[type:1][channel:1][sequence:2][timestamp:8][sdu:N]
//
// Multi-byte fields are big-endian. The timestamp is the broadcaster's
// clock in microseconds at which the SDU should be presented.
package protocol
