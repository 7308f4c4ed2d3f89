package chat

import "github.com/google/uuid"

// Event types sent to the client over the websocket.
const (
	eventTypeSession = "session"
	eventTypeToken   = "token"
	eventTypeCanned  = "canned"
	eventTypeDone    = "done"
	eventTypeError   = "error"
)

// clientFrame is one inbound websocket message: the student's text plus an
// optional session to continue and optional attachment references.
type clientFrame struct {
	Content   string   `json:"content"`
	SessionID string   `json:"session_id"`
	UploadIDs []string `json:"upload_ids"`
}

// sessionEvent announces the session the turn was recorded under, sent as
// soon as the user message is persisted.
type sessionEvent struct {
	Type      string `json:"type"`
	SessionID string `json:"session_id"`
}

func newSessionEvent(id uuid.UUID) sessionEvent {
	return sessionEvent{Type: eventTypeSession, SessionID: id.String()}
}

// tokenEvent carries one streamed response chunk.
type tokenEvent struct {
	Type    string `json:"type"`
	Content string `json:"content"`
}

func newTokenEvent(content string) tokenEvent {
	return tokenEvent{Type: eventTypeToken, Content: content}
}

// cannedEvent replaces the streamed response when the topic filter
// intercepts the message.
type cannedEvent struct {
	Type    string `json:"type"`
	Content string `json:"content"`
	Filter  string `json:"filter"`
}

func newCannedEvent(content, filter string) cannedEvent {
	return cannedEvent{Type: eventTypeCanned, Content: content, Filter: filter}
}

// doneEvent closes a streamed turn and reports the pedagogy decisions that
// shaped the answer.
type doneEvent struct {
	Type                  string `json:"type"`
	HintLevel             int    `json:"hint_level"`
	ProgrammingDifficulty int    `json:"programming_difficulty"`
	MathsDifficulty       int    `json:"maths_difficulty"`
}

func newDoneEvent(hintLevel, programmingDifficulty, mathsDifficulty int) doneEvent {
	return doneEvent{
		Type:                  eventTypeDone,
		HintLevel:             hintLevel,
		ProgrammingDifficulty: programmingDifficulty,
		MathsDifficulty:       mathsDifficulty,
	}
}

// errorEvent reports a recoverable per-turn failure; the connection stays
// open.
type errorEvent struct {
	Type    string `json:"type"`
	Message string `json:"message"`
}

func newErrorEvent(message string) errorEvent {
	return errorEvent{Type: eventTypeError, Message: message}
}
