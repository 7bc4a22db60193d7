package hub

import (
	"encoding/json"
	"time"

	"github.com/MrWong99/earshot/pkg/types"
)

// Wire message type tags.
const (
	msgAck          = "ack"
	msgHeartbeat    = "heartbeat"
	msgConfig       = "config"
	msgTranscript   = "transcript"
	msgVolumeAction = "volume_action"
	msgWarning      = "warning"
)

// wireMessage is the envelope of every JSON frame on the client channel.
// Binary frames carry raw PCM and bypass this envelope entirely.
type wireMessage struct {
	Type      string          `json:"type"`
	Payload   json.RawMessage `json:"payload,omitempty"`
	Timestamp int64           `json:"timestamp"`
	ClientID  string          `json:"clientId,omitempty"`
}

type ackPayload struct {
	ClientID string `json:"clientId"`
	Status   string `json:"status"`
}

func nowMillis() int64 {
	return time.Now().UnixMilli()
}

func marshalEnvelope(msgType string, payload any, clientID string) ([]byte, error) {
	var raw json.RawMessage
	if payload != nil {
		data, err := json.Marshal(payload)
		if err != nil {
			return nil, err
		}
		raw = data
	}
	return json.Marshal(wireMessage{
		Type:      msgType,
		Payload:   raw,
		Timestamp: nowMillis(),
		ClientID:  clientID,
	})
}

func ackMessage(clientID string) ([]byte, error) {
	return marshalEnvelope(msgAck, ackPayload{ClientID: clientID, Status: "connected"}, "")
}

func heartbeatMessage() ([]byte, error) {
	return marshalEnvelope(msgHeartbeat, nil, "")
}

func transcriptMessage(t types.Transcript) ([]byte, error) {
	return marshalEnvelope(msgTranscript, t, "")
}

func volumeMessage(cmd types.VolumeCommand, clientID string) ([]byte, error) {
	return marshalEnvelope(msgVolumeAction, cmd, clientID)
}

func warningMessage(w types.Warning) ([]byte, error) {
	return marshalEnvelope(msgWarning, w, "")
}
