// Package protocol defines the frames exchanged with the voice platform's
// custom-LLM WebSocket.
package protocol

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strings"
)

// Inbound interaction types.
const (
	InteractionPingPong         = "ping_pong"
	InteractionCallDetails      = "call_details"
	InteractionUpdateOnly       = "update_only"
	InteractionResponseRequired = "response_required"
	InteractionReminderRequired = "reminder_required"
)

// Outbound response types.
const (
	ResponseTypeResponse = "response"
	ResponseTypePingPong = "ping_pong"
	ResponseTypeConfig   = "config"
)

// Transcript roles as sent by the platform.
const (
	RoleAgent = "agent"
	RoleUser  = "user"
)

type DecodeError struct {
	Code    string
	Message string
	Param   string
}

func (e *DecodeError) Error() string {
	if e == nil {
		return ""
	}
	if strings.TrimSpace(e.Param) == "" {
		return e.Message
	}
	return fmt.Sprintf("%s (%s)", e.Message, e.Param)
}

func badRequest(message, param string) *DecodeError {
	return &DecodeError{Code: "bad_request", Message: message, Param: param}
}

func unsupported(message, param string) *DecodeError {
	return &DecodeError{Code: "unsupported", Message: message, Param: param}
}

// Utterance is one transcript entry.
type Utterance struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// PingPong is a keepalive probe. Timestamp is kept as the literal number so
// the pong echoes it byte for byte.
type PingPong struct {
	Timestamp json.Number `json:"timestamp"`
}

// CallInfo is the call metadata carried by call_details.
type CallInfo struct {
	CallID           string            `json:"call_id,omitempty"`
	FromNumber       string            `json:"from_number,omitempty"`
	ToNumber         string            `json:"to_number,omitempty"`
	Direction        string            `json:"direction,omitempty"`
	Metadata         map[string]any    `json:"metadata,omitempty"`
	DynamicVariables map[string]string `json:"retell_llm_dynamic_variables,omitempty"`
}

type CallDetails struct {
	Call CallInfo `json:"call"`
}

// UpdateOnly carries transcript state that expects no reply.
type UpdateOnly struct {
	Transcript []Utterance `json:"transcript"`
}

// TurnRequest is a response_required or reminder_required event.
type TurnRequest struct {
	ResponseID int64       `json:"response_id"`
	Transcript []Utterance `json:"transcript"`
	Reminder   bool        `json:"-"`
}

// Kind returns the interaction type the request was decoded from.
func (r TurnRequest) Kind() string {
	if r.Reminder {
		return InteractionReminderRequired
	}
	return InteractionResponseRequired
}

// DecodeInbound parses one text frame into PingPong, CallDetails,
// UpdateOnly or TurnRequest. Any failure is a *DecodeError.
func DecodeInbound(data []byte) (any, error) {
	var envelope struct {
		InteractionType string `json:"interaction_type"`
	}
	if err := json.Unmarshal(data, &envelope); err != nil {
		return nil, badRequest("invalid json frame", "")
	}
	typ := strings.TrimSpace(envelope.InteractionType)
	if typ == "" {
		return nil, badRequest("missing interaction_type", "interaction_type")
	}

	switch typ {
	case InteractionPingPong:
		var msg PingPong
		if err := json.Unmarshal(data, &msg); err != nil {
			return nil, badRequest("invalid ping_pong frame", "timestamp")
		}
		if msg.Timestamp == "" {
			return nil, badRequest("ping_pong.timestamp is required", "timestamp")
		}
		return msg, nil
	case InteractionCallDetails:
		var msg CallDetails
		if err := json.Unmarshal(data, &msg); err != nil {
			return nil, badRequest("invalid call_details frame", "call")
		}
		return msg, nil
	case InteractionUpdateOnly:
		var msg UpdateOnly
		if err := json.Unmarshal(data, &msg); err != nil {
			return nil, badRequest("invalid update_only frame", "transcript")
		}
		return msg, nil
	case InteractionResponseRequired, InteractionReminderRequired:
		var raw struct {
			ResponseID *int64      `json:"response_id"`
			Transcript []Utterance `json:"transcript"`
		}
		if err := json.Unmarshal(data, &raw); err != nil {
			return nil, badRequest("invalid "+typ+" frame", "")
		}
		if raw.ResponseID == nil {
			return nil, badRequest(typ+".response_id is required", "response_id")
		}
		return TurnRequest{
			ResponseID: *raw.ResponseID,
			Transcript: raw.Transcript,
			Reminder:   typ == InteractionReminderRequired,
		}, nil
	default:
		return nil, unsupported("unsupported interaction_type", typ)
	}
}

// Response is the outbound content frame.
type Response struct {
	ResponseType    string `json:"response_type"`
	ResponseID      int64  `json:"response_id"`
	Content         string `json:"content"`
	ContentComplete bool   `json:"content_complete"`
	EndCall         bool   `json:"end_call"`
	TransferNumber  string `json:"transfer_number,omitempty"`
}

type Pong struct {
	ResponseType string      `json:"response_type"`
	Timestamp    json.Number `json:"timestamp"`
}

type ConfigBody struct {
	AutoReconnect bool `json:"auto_reconnect"`
	CallDetails   bool `json:"call_details"`
}

type Config struct {
	ResponseType string     `json:"response_type"`
	Config       ConfigBody `json:"config"`
}

// ContentFrame is an incremental, non-terminal frame.
func ContentFrame(responseID int64, content string) Response {
	return Response{ResponseType: ResponseTypeResponse, ResponseID: responseID, Content: content}
}

// TerminalFrame closes a turn. transferNumber is omitted from the wire when empty.
func TerminalFrame(responseID int64, content string, endCall bool, transferNumber string) Response {
	return Response{
		ResponseType:    ResponseTypeResponse,
		ResponseID:      responseID,
		Content:         content,
		ContentComplete: true,
		EndCall:         endCall,
		TransferNumber:  transferNumber,
	}
}

func PongFrame(timestamp json.Number) Pong {
	return Pong{ResponseType: ResponseTypePingPong, Timestamp: timestamp}
}

func ConfigFrame(autoReconnect, callDetails bool) Config {
	return Config{
		ResponseType: ResponseTypeConfig,
		Config:       ConfigBody{AutoReconnect: autoReconnect, CallDetails: callDetails},
	}
}

// Encode marshals an outbound frame without HTML escaping, so replies such
// as "Q&A" reach speech synthesis unchanged.
func Encode(frame any) ([]byte, error) {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	if err := enc.Encode(frame); err != nil {
		return nil, err
	}
	return bytes.TrimRight(buf.Bytes(), "\n"), nil
}
