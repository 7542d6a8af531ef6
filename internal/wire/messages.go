// Package wire defines the client<->server message set (spec.md §6.1) and its binary codec.
// Field numbers below are assigned once and never reused, matching protobuf's forward
// compatibility discipline, without a .proto IDL or generated code (see DESIGN.md for why
// generated protobuf code, as the teacher sources it from a sibling protocol module, could not
// be reproduced here).
package wire

// MessageType prefixes every frame on the wire.
type MessageType byte

const (
	MessageTypeUnknown MessageType = iota

	// client -> server
	MessageTypeBind
	MessageTypeIdentRequest
	MessageTypeUpload
	MessageTypeQuery
	MessageTypeMark
	MessageTypeUnbind
	MessageTypePing
	MessageTypeTestCommand
	MessageTypeClientError

	// server -> client
	MessageTypeIdentResponse
	MessageTypeDownload
	MessageTypeMarkAck
	MessageTypeUnbound
	MessageTypePong
	MessageTypeError
	MessageTypeQueryError
	MessageTypeTestCommandReply
)

// ServerVersion is the server's monotonic changeset sequence number.
type ServerVersion uint64

// ClientVersion is the client's monotonic local-commit sequence number.
type ClientVersion uint64

// LatestServerVersion pairs a server version with the salt it was issued under (spec.md §3).
type LatestServerVersion struct {
	Version ServerVersion
	Salt    int64
}

// Bind opens a per-database sub-protocol on the shared connection (spec.md §4.2/§4.3).
type Bind struct {
	SessionIdent  uint64
	Path          string
	AccessToken   string
	IsFlx         bool
	PartitionKey  string
	ProtocolToken string
}

// IdentRequest carries the client's known ClientFileIdent (zeros on first bind).
type IdentRequest struct {
	SessionIdent uint64
	ClientIdent  uint64
	ClientSalt   int64
}

// IdentResponse is the server's assignment of a ClientFileIdent on first IDENT.
type IdentResponse struct {
	SessionIdent uint64
	ClientIdent  uint64
	ClientSalt   int64
}

// Changeset is one variable-length record inside an Upload or Download batch.
type Changeset struct {
	OriginFileIdent uint64
	ServerVersion   ServerVersion
	ClientVersion   ClientVersion
	Timestamp       int64
	Data            []byte
}

// Upload carries one or more locally-committed changesets (spec.md §6.1).
type Upload struct {
	SessionIdent          uint64
	ProgressClientVersion ClientVersion
	ProgressServerVersion ServerVersion
	Changesets            []Changeset
}

// Query is the flexible-sync subscription-set upload (spec.md §4.3).
type Query struct {
	SessionIdent uint64
	QueryVersion uint64
	QueryBody    []byte
}

// Download is the server->client batch header plus its changeset records (spec.md §6.1).
type Download struct {
	SessionIdent                        uint64
	DownloadServerVersion               ServerVersion
	DownloadLastIntegratedClientVersion ClientVersion
	UploadClientVersion                 ClientVersion
	UploadLastIntegratedServerVersion   ServerVersion
	LatestServerVersion                 LatestServerVersion
	DownloadableBytes                   uint64
	LastInBatch                         bool
	QueryVersion                        uint64
	Changesets                          []Changeset
}

// Mark is the client's round-trip probe; MarkAck is the server's reply carrying the same request
// identifier (spec.md §9, "MARK").
type Mark struct {
	SessionIdent uint64
	RequestIdent uint64
}

type MarkAck struct {
	SessionIdent uint64
	RequestIdent uint64
}

// Unbind tears down a session's sub-protocol; Unbound is the server's acknowledgement.
type Unbind struct {
	SessionIdent uint64
}

type Unbound struct {
	SessionIdent uint64
}

// Ping/Pong carry a monotonic-clock timestamp the PONG must echo verbatim (spec.md §4.2).
type Ping struct {
	TimestampNanos int64
}

type Pong struct {
	TimestampNanos int64
}

// ResumptionDelayInfo is the server-provided backoff schedule on a try_again ERROR (spec.md §4.1).
type ResumptionDelayInfo struct {
	InitialMillis int64
	Multiplier    float64
	CapMillis     int64
}

// ErrorAction mirrors syncclient.ErrorAction without importing the parent package (wire must
// stay dependency-free of the engine it serves).
type ErrorAction int32

// Error is a protocol-level ERROR, connection- or session-scoped (spec.md §6.1).
type Error struct {
	SessionIdent    uint64
	RawErrorCode    int32
	Message         string
	TryAgain        bool
	Action          ErrorAction
	ResumptionDelay *ResumptionDelayInfo
}

// QueryError reports a rejected flexible-sync subscription (spec.md §4.3).
type QueryError struct {
	SessionIdent uint64
	QueryVersion uint64
	ErrorCode    int32
	Message      string
}

// TestCommand/TestCommandReply are a diagnostic round trip used by integration tests.
type TestCommand struct {
	SessionIdent uint64
	RequestIdent uint64
	Body         []byte
}

type TestCommandReply struct {
	SessionIdent uint64
	RequestIdent uint64
	Body         []byte
}

// ClientError is a client-authored JSON diagnostic, encoded as raw bytes on the wire rather than
// through the varint codec (spec.md §6.1, "client-authored ERROR (JSON)").
type ClientError struct {
	JSON []byte
}
