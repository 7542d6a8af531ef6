package syncclient

import "fmt"

// Envelope is the transport wrapper a ServerEndpoint connects through (spec.md §3).
type Envelope string

const (
	EnvelopePlainWs Envelope = "ws"
	EnvelopeTlsWs   Envelope = "wss"
	EnvelopeRealm   Envelope = "realm"
	EnvelopeRealms  Envelope = "realms"
)

// ServerEndpoint is the equality key for connection reuse (spec.md §3): two sessions that
// resolve to the same triple share one Connection.
type ServerEndpoint struct {
	Envelope Envelope
	Host     string
	Port     int
}

func (e ServerEndpoint) String() string {
	return fmt.Sprintf("%s://%s:%d", e.Envelope, e.Host, e.Port)
}

func (e ServerEndpoint) WebsocketURL(path string) string {
	scheme := "ws"
	if e.Envelope == EnvelopeTlsWs || e.Envelope == EnvelopeRealms {
		scheme = "wss"
	}
	return fmt.Sprintf("%s://%s:%d%s", scheme, e.Host, e.Port, path)
}
