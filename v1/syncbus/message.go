package syncbus

import (
	"encoding/json"

	"github.com/google/uuid"
)

// message is the wire form of an Event on network buses.
type message struct {
	Nonce  string `json:"n"` // unique per publish, used to drop duplicates
	Origin string `json:"o,omitempty"`
}

func encodeMessage(origin string) ([]byte, string, error) {
	m := message{Nonce: uuid.NewString(), Origin: origin}
	data, err := json.Marshal(m)
	return data, m.Nonce, err
}

func decodeMessage(data []byte) (message, error) {
	var m message
	err := json.Unmarshal(data, &m)
	return m, err
}
