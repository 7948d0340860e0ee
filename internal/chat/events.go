package chat

import (
	"errors"

	"github.com/go-playground/validator/v10"
)

// Inbound event names accepted from clients.
const (
	EventGetRooms    = "get_rooms"
	EventJoin        = "join"
	EventLeave       = "leave"
	EventSendMessage = "send_message"
)

// Outbound event names emitted to clients.
const (
	EventConnect = "connect"
	EventRooms   = "rooms"
	EventMove    = "move"
	EventMessage = "message"
	EventError   = "error"
)

var validate = validator.New()

// JoinRequest is the payload of the join event.
type JoinRequest struct {
	Room string `json:"room" validate:"required"`
	Name string `json:"name" validate:"required"`
}

// Validate checks field-level constraints before any store interaction.
//
// Postcondition: Returns nil or a *ValidationError naming the missing field.
func (r JoinRequest) Validate() error {
	if err := validate.Struct(r); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) && len(verrs) > 0 {
			switch verrs[0].Field() {
			case "Room":
				return &ValidationError{Field: "room", Reason: "room is not specified"}
			default:
				return &ValidationError{Field: "name", Reason: "name is not specified"}
			}
		}
		return &ValidationError{Field: "join", Reason: "invalid join payload"}
	}
	return nil
}

// SendMessageRequest is the payload of the send_message event.
type SendMessageRequest struct {
	Text string `json:"text" validate:"required"`
}

// Validate checks field-level constraints before any store interaction.
//
// Postcondition: Returns nil or a *ValidationError.
func (r SendMessageRequest) Validate() error {
	if err := validate.Struct(r); err != nil {
		return &ValidationError{Field: "text", Reason: "message must not be empty"}
	}
	return nil
}

// MessageEvent is the payload of the outbound message event, delivered to all
// subscribers of a room.
type MessageEvent struct {
	Author string `json:"author"`
	Text   string `json:"text"`
}

// MoveEvent is the payload of the outbound move event, acknowledging a join to
// the joining connection only.
type MoveEvent struct {
	Room string `json:"room"`
}

// ErrorEvent is the payload of the outbound error event, delivered privately
// to the connection whose workflow failed.
type ErrorEvent struct {
	Message string `json:"message"`
}
