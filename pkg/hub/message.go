// Package hub fans messages out to websocket clients through a single
// goroutine that owns the client set.
package hub

// Kind is the websocket frame type a Message is written as.
type Kind int

const (
	// Text frames carry JSON.
	Text Kind = iota
	// Binary frames carry JPEG previews.
	Binary
)

// Message is one broadcast payload.
type Message struct {
	Kind Kind
	Data []byte
}

// TextMessage wraps pre-encoded JSON.
func TextMessage(data []byte) Message {
	return Message{Kind: Text, Data: data}
}

// BinaryMessage wraps raw bytes.
func BinaryMessage(data []byte) Message {
	return Message{Kind: Binary, Data: data}
}
