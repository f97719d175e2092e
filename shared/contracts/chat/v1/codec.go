package v1

import (
	"encoding/json"
	"fmt"
)

// Inbound is the closed set of client -> server frames.
type Inbound interface{ isInbound() }

func (SendMessage) isInbound()     {}
func (AckMessage) isInbound()      {}
func (TypingIndicator) isInbound() {}
func (GoOnline) isInbound()        {}
func (Ping) isInbound()            {}

// Outbound is the closed set of server -> client frames.
type Outbound interface{ isOutbound() }

func (NewMessage) isOutbound()     {}
func (StatusUpdate) isOutbound()   {}
func (ServerAck) isOutbound()      {}
func (PresenceUpdate) isOutbound() {}
func (Pong) isOutbound()           {}
func (Error) isOutbound()          {}

// DecodeError describes a payload that could not be decoded into an inbound
// frame. It is never fatal to a connection: callers answer with an error frame
// and keep reading.
type DecodeError struct {
	Tag string // the "type" value, empty when the JSON itself was malformed
	Err error
}

func (e *DecodeError) Error() string {
	if e.Tag == "" {
		return fmt.Sprintf("chat/v1: malformed frame: %v", e.Err)
	}
	return fmt.Sprintf("chat/v1: bad %q frame: %v", e.Tag, e.Err)
}

func (e *DecodeError) Unwrap() error { return e.Err }

type errUnknownType struct{ tag string }

func (e errUnknownType) Error() string { return fmt.Sprintf("unknown frame type %q", e.tag) }

// Decode parses a raw inbound payload into exactly one inbound frame variant.
// A malformed payload or unknown type tag yields a *DecodeError.
func Decode(data []byte) (Inbound, error) {
	var tag struct {
		Type string `json:"type"`
	}
	if err := json.Unmarshal(data, &tag); err != nil {
		return nil, &DecodeError{Err: err}
	}

	switch tag.Type {
	case TypeMessageSend:
		var f SendMessage
		if err := json.Unmarshal(data, &f); err != nil {
			return nil, &DecodeError{Tag: tag.Type, Err: err}
		}
		return f, nil
	case TypeMessageAck:
		var f AckMessage
		if err := json.Unmarshal(data, &f); err != nil {
			return nil, &DecodeError{Tag: tag.Type, Err: err}
		}
		return f, nil
	case TypePresenceTyping:
		var f TypingIndicator
		if err := json.Unmarshal(data, &f); err != nil {
			return nil, &DecodeError{Tag: tag.Type, Err: err}
		}
		return f, nil
	case TypePresenceOnline:
		return GoOnline{}, nil
	case TypePing:
		return Ping{}, nil
	default:
		return nil, &DecodeError{Tag: tag.Type, Err: errUnknownType{tag: tag.Type}}
	}
}

// Encode serializes an outbound frame with its type discriminator.
// The switch must stay exhaustive over the closed outbound set.
func Encode(out Outbound) ([]byte, error) {
	switch f := out.(type) {
	case NewMessage:
		return json.Marshal(struct {
			Type string `json:"type"`
			NewMessage
		}{TypeMessageNew, f})
	case StatusUpdate:
		return json.Marshal(struct {
			Type string `json:"type"`
			StatusUpdate
		}{TypeMessageStatus, f})
	case ServerAck:
		return json.Marshal(struct {
			Type string `json:"type"`
			ServerAck
		}{TypeServerAck, f})
	case PresenceUpdate:
		return json.Marshal(struct {
			Type string `json:"type"`
			PresenceUpdate
		}{TypePresenceUpdate, f})
	case Pong:
		return json.Marshal(struct {
			Type string `json:"type"`
			Pong
		}{TypePong, f})
	case Error:
		return json.Marshal(struct {
			Type string `json:"type"`
			Error
		}{TypeError, f})
	default:
		return nil, fmt.Errorf("chat/v1: unencodable frame %T", out)
	}
}
