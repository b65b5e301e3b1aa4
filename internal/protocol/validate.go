package protocol

import "fmt"

// needs describes which fields a message type requires beyond the envelope.
type needs struct {
	sessionID   bool
	projectPath bool
	data        bool
	message     bool
	dimensions  bool
}

var inboundTypes = map[string]needs{
	TypeTerminalCreate:      {projectPath: true},
	TypeTerminalWrite:       {sessionID: true, data: true},
	TypeTerminalResize:      {sessionID: true, dimensions: true},
	TypeTerminalClose:       {sessionID: true},
	TypeTerminalSubscribe:   {sessionID: true},
	TypeTerminalUnsubscribe: {sessionID: true},
	TypeTerminalList:        {},

	TypeChatCreate:      {projectPath: true},
	TypeChatSend:        {sessionID: true, message: true},
	TypeChatClose:       {sessionID: true},
	TypeChatSubscribe:   {sessionID: true},
	TypeChatUnsubscribe: {sessionID: true},
	TypeChatList:        {},

	TypeProjectSwitch: {projectPath: true},
	TypeStatus:        {},
	TypeStop:          {sessionID: true},
}

// Validate checks an inbound message's shape. Auth is not its business; the
// gateway checks the token before anything else, including validation.
func Validate(msg *Inbound) error {
	if msg.Type == "" {
		return fmt.Errorf("missing message type")
	}
	req, ok := inboundTypes[msg.Type]
	if !ok {
		return fmt.Errorf("unknown message type %q", msg.Type)
	}
	if req.sessionID && msg.SessionID == "" {
		return fmt.Errorf("%s requires sessionId", msg.Type)
	}
	if req.projectPath && msg.ProjectPath == "" {
		return fmt.Errorf("%s requires projectPath", msg.Type)
	}
	if req.data && msg.Data == "" {
		return fmt.Errorf("%s requires data", msg.Type)
	}
	if req.message && msg.Message == "" {
		return fmt.Errorf("%s requires message", msg.Type)
	}
	if req.dimensions && (msg.Cols == 0 || msg.Rows == 0) {
		return fmt.Errorf("%s requires cols and rows", msg.Type)
	}
	return nil
}
