package collab

import (
	"encoding/json"
)

// live channel message envelope. every message is a json object with a
// `type` discriminator. note the field name inconsistency between the
// edit/cursor kinds (`userId`) and the joined/left kinds (`user_id`) is
// part of the wire protocol.

const (
	MessageTypeEdit       = "edit"
	MessageTypeCursor     = "cursor"
	MessageTypeSaved      = "saved"
	MessageTypeUserJoined = "user_joined"
	MessageTypeUserLeft   = "user_left"
)

type EditMessage struct {
	Type    string `json:"type"`
	Content string `json:"content"`
	Version *int   `json:"version,omitempty"`
	UserId  string `json:"userId"`
}

type CursorMessage struct {
	Type     string `json:"type"`
	Position int    `json:"position"`
	UserId   string `json:"userId"`
	UserName string `json:"username"`
}

type SavedMessage struct {
	Type    string  `json:"type"`
	Version *int    `json:"version,omitempty"`
	Content *string `json:"content,omitempty"`
}

type UserJoinedMessage struct {
	Type     string `json:"type"`
	UserId   string `json:"user_id"`
	UserName string `json:"username,omitempty"`
}

type UserLeftMessage struct {
	Type   string `json:"type"`
	UserId string `json:"user_id"`
}

// parseMessage demultiplexes one inbound message by its `type`.
// returns (nil, nil) for unrecognized kinds, which are ignored without error.
// a malformed message returns an error; the caller discards the single
// message and keeps the connection alive.
func parseMessage(data []byte) (any, error) {
	var envelope struct {
		Type string `json:"type"`
	}
	if err := json.Unmarshal(data, &envelope); err != nil {
		return nil, err
	}

	switch envelope.Type {
	case MessageTypeEdit:
		message := &EditMessage{}
		if err := json.Unmarshal(data, message); err != nil {
			return nil, err
		}
		return message, nil
	case MessageTypeCursor:
		message := &CursorMessage{}
		if err := json.Unmarshal(data, message); err != nil {
			return nil, err
		}
		return message, nil
	case MessageTypeSaved:
		message := &SavedMessage{}
		if err := json.Unmarshal(data, message); err != nil {
			return nil, err
		}
		return message, nil
	case MessageTypeUserJoined:
		message := &UserJoinedMessage{}
		if err := json.Unmarshal(data, message); err != nil {
			return nil, err
		}
		return message, nil
	case MessageTypeUserLeft:
		message := &UserLeftMessage{}
		if err := json.Unmarshal(data, message); err != nil {
			return nil, err
		}
		return message, nil
	default:
		return nil, nil
	}
}
