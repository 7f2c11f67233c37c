package wire

import (
	"encoding/json"
	"errors"
	"strings"
)

// Decode failures. ErrUnknownTag and ErrMalformed map to the unknown_tag and
// malformed reason codes; the connection stays open after either.
var (
	ErrUnknownTag = errors.New("unknown message tag")
	ErrMalformed  = errors.New("malformed message")
)

const maxMessageBytes = 64 * 1024

// Encode marshals v and appends the line delimiter.
func Encode(v any) ([]byte, error) {
	b, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	return append(b, '\n'), nil
}

// DecodeClient parses one game-channel line into a ClientMessage. The tag set
// is closed: unrecognized tags are an error, not silently ignored, and each
// tag's required fields must be present.
func DecodeClient(line []byte) (*ClientMessage, error) {
	if len(line) == 0 || len(line) > maxMessageBytes {
		return nil, ErrMalformed
	}
	var msg ClientMessage
	if err := json.Unmarshal(line, &msg); err != nil {
		return nil, ErrMalformed
	}
	switch msg.Tag {
	case TagAuth, TagCreateLobby, TagListLobbies:
	case TagJoinLobby, TagStartGame:
		if strings.TrimSpace(msg.LobbyID) == "" {
			return nil, ErrMalformed
		}
	case TagMove:
		if strings.TrimSpace(msg.GameID) == "" || strings.TrimSpace(msg.Move) == "" {
			return nil, ErrMalformed
		}
	case TagResign, TagSpectate:
		if strings.TrimSpace(msg.GameID) == "" {
			return nil, ErrMalformed
		}
	default:
		return nil, ErrUnknownTag
	}
	return &msg, nil
}

// DecodeChatHello parses the first message of a chat connection.
func DecodeChatHello(line []byte) (*ChatHello, error) {
	if len(line) == 0 || len(line) > maxMessageBytes {
		return nil, ErrMalformed
	}
	var hello ChatHello
	if err := json.Unmarshal(line, &hello); err != nil {
		return nil, ErrMalformed
	}
	if strings.TrimSpace(hello.IdentityID) == "" {
		return nil, ErrMalformed
	}
	if hello.Scope != ScopeGame && hello.Scope != ScopeLobby {
		return nil, ErrMalformed
	}
	if strings.TrimSpace(hello.ScopeID) == "" {
		return nil, ErrMalformed
	}
	return &hello, nil
}

// DecodeChatSend parses a chat-channel message after the link is bound.
func DecodeChatSend(line []byte) (*ChatSend, error) {
	if len(line) == 0 || len(line) > maxMessageBytes {
		return nil, ErrMalformed
	}
	var msg ChatSend
	if err := json.Unmarshal(line, &msg); err != nil {
		return nil, ErrMalformed
	}
	if msg.Tag != TagChat {
		return nil, ErrUnknownTag
	}
	return &msg, nil
}
