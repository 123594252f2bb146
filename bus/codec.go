package bus

import (
	"encoding/json"

	"campusride/core"
)

// DecodeJSON builds a Decoder for a concrete payload type. The resulting
// closed channel-to-type mapping is assembled once at startup; no runtime
// type inspection of payloads happens after that.
func DecodeJSON[T any]() Decoder {
	return func(data []byte) (any, error) {
		var v T
		if err := json.Unmarshal(data, &v); err != nil {
			return nil, err
		}
		return v, nil
	}
}

// Decoders for the domain channel grammar.
var (
	DecodeChatMessage = DecodeJSON[core.ChatMessage]()
	DecodeMapUpdate   = DecodeJSON[core.MapUpdate]()
	DecodeReadyNotice = DecodeJSON[core.ReadyNotice]()
	DecodeParticipant = DecodeJSON[core.Participant]()
	DecodeKickNotice  = DecodeJSON[core.KickNotice]()
	DecodeSSEEnvelope = DecodeJSON[core.SSEEnvelope]()
	DecodeRoomDeleted = DecodeJSON[core.RoomDeleted]()
)
