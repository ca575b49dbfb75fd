// Package transport implements the length-prefixed request/response
// framing worker sessions speak: a 4-byte big-endian length followed by a
// msgpack-encoded payload, two frames per logical request (header then
// body), and a streamed, last-flagged reply for QUERY.
package transport

// MessageType discriminates the header's request kind.
type MessageType string

const (
	MessageQuery     MessageType = "QUERY"
	MessageReplicate MessageType = "REPLICATE"
	MessageStop      MessageType = "STOP"
	MessageStatus    MessageType = "STATUS"
)

// Header is the first frame of every logical request.
type Header struct {
	Type MessageType `msgpack:"type"`
	ID   string      `msgpack:"id"`
}

// TableScan mirrors task.TableScan on the wire.
type TableScan struct {
	DB       string `msgpack:"db"`
	Table    string `msgpack:"table"`
	Slowness int32  `msgpack:"slowness"`
}

// QueryBody is the second frame of a QUERY request.
type QueryBody struct {
	DB        string      `msgpack:"db"`
	Chunk     uint32      `msgpack:"chunk"`
	Fragments []string    `msgpack:"fragments"`
	ScanInfo  []TableScan `msgpack:"scan_info"`
	Priority  string      `msgpack:"priority"`
}

// ReplicateBody is the second frame of a REPLICATE request.
type ReplicateBody struct {
	Database string `msgpack:"database"`
	Chunk    uint32 `msgpack:"chunk"`
	ID       string `msgpack:"id"`
}

// ControlBody is the second frame of a STOP or STATUS request.
type ControlBody struct {
	ID string `msgpack:"id"`
}

// QueryReplyStatus is the terminal status of a streamed QUERY reply.
type QueryReplyStatus string

const (
	QueryReplyOK     QueryReplyStatus = "OK"
	QueryReplyFailed QueryReplyStatus = "FAILED"
)

// QueryReplyFrame is one frame of a streamed QUERY response.
type QueryReplyFrame struct {
	Rows []byte `msgpack:"rows"`
	Last bool   `msgpack:"last"`
}

// ErrorReply is the terminal error frame for any request type.
type ErrorReply struct {
	Status  QueryReplyStatus `msgpack:"status"`
	Message string           `msgpack:"message"`
	Code    int32            `msgpack:"code"`
}
