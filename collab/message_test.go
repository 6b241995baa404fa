package collab

import (
	"testing"

	"github.com/go-playground/assert/v2"
)

func TestParseMessageDemux(t *testing.T) {
	message, err := parseMessage([]byte(`{"type":"edit","content":"hello","version":4,"userId":"u1"}`))
	assert.Equal(t, err, nil)
	edit := message.(*EditMessage)
	assert.Equal(t, "hello", edit.Content)
	assert.Equal(t, 4, *edit.Version)
	assert.Equal(t, "u1", edit.UserId)

	message, err = parseMessage([]byte(`{"type":"edit","content":"hello","userId":"u1"}`))
	assert.Equal(t, err, nil)
	edit = message.(*EditMessage)
	assert.Equal(t, (*int)(nil), edit.Version)

	message, err = parseMessage([]byte(`{"type":"cursor","position":12,"userId":"u2","username":"bob"}`))
	assert.Equal(t, err, nil)
	cursor := message.(*CursorMessage)
	assert.Equal(t, 12, cursor.Position)
	assert.Equal(t, "bob", cursor.UserName)

	message, err = parseMessage([]byte(`{"type":"saved","version":9,"content":"x"}`))
	assert.Equal(t, err, nil)
	saved := message.(*SavedMessage)
	assert.Equal(t, 9, *saved.Version)
	assert.Equal(t, "x", *saved.Content)

	message, err = parseMessage([]byte(`{"type":"user_joined","user_id":"u3","username":"carol"}`))
	assert.Equal(t, err, nil)
	joined := message.(*UserJoinedMessage)
	assert.Equal(t, "u3", joined.UserId)
	assert.Equal(t, "carol", joined.UserName)

	message, err = parseMessage([]byte(`{"type":"user_left","user_id":"u3"}`))
	assert.Equal(t, err, nil)
	left := message.(*UserLeftMessage)
	assert.Equal(t, "u3", left.UserId)
}

func TestParseMessageUnrecognizedKind(t *testing.T) {
	message, err := parseMessage([]byte(`{"type":"telemetry","payload":1}`))
	assert.Equal(t, err, nil)
	assert.Equal(t, message, nil)
}

func TestParseMessageMalformed(t *testing.T) {
	_, err := parseMessage([]byte(`{not json`))
	assert.NotEqual(t, err, nil)

	_, err = parseMessage([]byte(`{"type":"edit","version":"nope"}`))
	assert.NotEqual(t, err, nil)
}
