package event

import (
	"encoding/json"
	"errors"
	"fmt"
)

var (
	ErrUnknownEvent = errors.New("unknown event")
	ErrMalformed    = errors.New("malformed event")
)

// Envelope is the wire frame shared by the websocket and the kafka feed.
// To is only set on feed records and lists the recipients.
type Envelope struct {
	Event Kind            `json:"event"`
	Data  json.RawMessage `json:"data,omitempty"`
	To    []string        `json:"to,omitempty"`
}

// Decode parses one wire frame into an Event.
func Decode(frame []byte) (Event, error) {
	var env Envelope
	if err := json.Unmarshal(frame, &env); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformed, err)
	}
	return DecodeEnvelope(&env)
}

// DecodeEnvelope parses the data of env according to its event kind.
func DecodeEnvelope(env *Envelope) (Event, error) {
	switch env.Event {
	case KindNewMessage:
		var v NewMessage
		if err := unmarshal(env, &v); err != nil {
			return nil, err
		}
		if v.ConversationID == "" {
			v.ConversationID = v.Message.ConversationID
		}
		if v.Message.ConversationID == "" {
			v.Message.ConversationID = v.ConversationID
		}
		if v.ConversationID == "" || v.Message.ID < 0 || v.Message.ConversationID != v.ConversationID {
			return nil, fmt.Errorf("%w: %s: bad ids", ErrMalformed, env.Event)
		}
		if v.Message.Kind == "" {
			v.Message.Kind = "text"
		}
		return v, nil
	case KindTyping:
		var v Typing
		if err := unmarshal(env, &v); err != nil {
			return nil, err
		}
		if v.ConversationID == "" || v.UserID == "" {
			return nil, fmt.Errorf("%w: %s: missing ids", ErrMalformed, env.Event)
		}
		return v, nil
	case KindStopTyping:
		var v StopTyping
		if err := unmarshal(env, &v); err != nil {
			return nil, err
		}
		if v.ConversationID == "" || v.UserID == "" {
			return nil, fmt.Errorf("%w: %s: missing ids", ErrMalformed, env.Event)
		}
		return v, nil
	case KindReactionAdded, KindReactionRemoved:
		var v ReactionSet
		if err := unmarshal(env, &v); err != nil {
			return nil, err
		}
		if v.ConversationID == "" || v.MessageID < 0 {
			return nil, fmt.Errorf("%w: %s: missing ids", ErrMalformed, env.Event)
		}
		if env.Event == KindReactionAdded {
			return ReactionAdded{v}, nil
		}
		return ReactionRemoved{v}, nil
	case KindConversationUpdated:
		var v ConversationUpdated
		if err := unmarshal(env, &v); err != nil {
			return nil, err
		}
		if v.Conversation.ID == "" {
			return nil, fmt.Errorf("%w: %s: missing id", ErrMalformed, env.Event)
		}
		return v, nil
	case KindMessageDeleted:
		var v MessageDeleted
		if err := unmarshal(env, &v); err != nil {
			return nil, err
		}
		if v.ConversationID == "" || v.MessageID < 0 {
			return nil, fmt.Errorf("%w: %s: missing ids", ErrMalformed, env.Event)
		}
		return v, nil
	case KindUserOnline:
		var v UserOnline
		if err := unmarshal(env, &v); err != nil {
			return nil, err
		}
		if v.UserID == "" {
			return nil, fmt.Errorf("%w: %s: missing user", ErrMalformed, env.Event)
		}
		return v, nil
	case KindUserOffline:
		var v UserOffline
		if err := unmarshal(env, &v); err != nil {
			return nil, err
		}
		if v.UserID == "" {
			return nil, fmt.Errorf("%w: %s: missing user", ErrMalformed, env.Event)
		}
		return v, nil
	case KindConversationRead:
		var v ConversationRead
		if err := unmarshal(env, &v); err != nil {
			return nil, err
		}
		if v.ConversationID == "" || v.UserID == "" || v.ReadAt.IsZero() {
			return nil, fmt.Errorf("%w: %s: missing fields", ErrMalformed, env.Event)
		}
		return v, nil
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownEvent, env.Event)
	}
}

func unmarshal(env *Envelope, v interface{}) error {
	if len(env.Data) == 0 {
		return fmt.Errorf("%w: %s: empty data", ErrMalformed, env.Event)
	}
	if err := json.Unmarshal(env.Data, v); err != nil {
		return fmt.Errorf("%w: %s: %v", ErrMalformed, env.Event, err)
	}
	return nil
}

// Encode builds the wire frame of a server event, addressed to the given
// recipients (feed records only).
func Encode(e Event, to ...string) ([]byte, error) {
	return encode(e.Kind(), e, to)
}

// EncodeCommand builds the wire frame of a client command.
func EncodeCommand(c Command) ([]byte, error) {
	return encode(c.Kind(), c, nil)
}

func encode(kind Kind, data interface{}, to []string) ([]byte, error) {
	raw, err := json.Marshal(data)
	if err != nil {
		return nil, fmt.Errorf("marshal %s: %w", kind, err)
	}
	return json.Marshal(&Envelope{Event: kind, Data: raw, To: to})
}
