package http

import (
	"encoding/json"

	"github.com/vovakirdan/courier/internal/core"
	"github.com/vovakirdan/courier/internal/proto"
)

func decodeConversationData(raw json.RawMessage) (string, error) {
	var data proto.ConversationData
	if err := json.Unmarshal(raw, &data); err != nil {
		return "", core.BadRequest("invalid data")
	}
	if data.ConversationID == "" {
		return "", core.BadRequest("conversationId is required")
	}
	return data.ConversationID, nil
}

func decodeMarkReadData(raw json.RawMessage) (proto.MarkReadData, error) {
	var data proto.MarkReadData
	if err := json.Unmarshal(raw, &data); err != nil {
		return data, core.BadRequest("invalid data")
	}
	if data.ConversationID == "" || data.MessageID == "" {
		return data, core.BadRequest("conversationId and messageId are required")
	}
	return data, nil
}

func outboundFromEvent(event *core.Event) proto.Outbound {
	if event.Error != nil {
		return proto.Outbound{
			Type:  proto.OutboundTypeError,
			Error: &proto.Error{Code: event.Error.Code, Msg: event.Error.Message},
		}
	}
	out := proto.Outbound{
		Type:  proto.OutboundTypeEvent,
		Event: event.Name,
		Data:  event.Payload,
	}
	if !event.Room.IsZero() {
		out.Room = event.Room.String()
	}
	return out
}
