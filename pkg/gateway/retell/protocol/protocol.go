// Package protocol defines the JSON frames exchanged with the voice platform
// over the custom LLM websocket.
package protocol

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"

	"github.com/vango-go/vai-retell/pkg/core/types"
)

// Inbound interaction types.
const (
	InteractionCallDetails      = "call_details"
	InteractionPingPong         = "ping_pong"
	InteractionUpdateOnly       = "update_only"
	InteractionResponseRequired = string(types.InteractionResponseRequired)
	InteractionReminderRequired = string(types.InteractionReminderRequired)
)

// Outbound response types.
const (
	ResponseTypeConfig   = "config"
	ResponseTypeResponse = "response"
	ResponseTypePingPong = "ping_pong"
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

// Call describes the call a session belongs to.
type Call struct {
	CallID                    string         `json:"call_id"`
	AgentID                   string         `json:"agent_id,omitempty"`
	CallType                  string         `json:"call_type,omitempty"`
	CallStatus                string         `json:"call_status,omitempty"`
	FromNumber                string         `json:"from_number,omitempty"`
	ToNumber                  string         `json:"to_number,omitempty"`
	Direction                 string         `json:"direction,omitempty"`
	Metadata                  map[string]any `json:"metadata,omitempty"`
	RetellLLMDynamicVariables map[string]any `json:"retell_llm_dynamic_variables,omitempty"`
}

// PhoneKey picks the number that correlates the call with stored metadata:
// the dialed number for outbound calls, otherwise whichever is present.
func (c Call) PhoneKey() string {
	to := strings.TrimSpace(c.ToNumber)
	from := strings.TrimSpace(c.FromNumber)
	if strings.EqualFold(c.Direction, "inbound") && from != "" {
		return from
	}
	if to != "" {
		return to
	}
	return from
}

// DynamicFields reads call fields from the platform's dynamic variables.
func (c Call) DynamicFields() types.CallFields {
	return types.CallFieldsFromMap(stringValues(c.RetellLLMDynamicVariables))
}

type CallDetails struct {
	InteractionType string `json:"interaction_type"`
	Call            Call   `json:"call"`
}

type PingPong struct {
	InteractionType string `json:"interaction_type"`
	Timestamp       int64  `json:"timestamp"`
}

type UpdateOnly struct {
	InteractionType string            `json:"interaction_type"`
	Transcript      []types.Utterance `json:"transcript"`
	TurnTaking      string            `json:"turntaking,omitempty"`
}

// ResponseRequest asks for a new response. It covers both
// response_required and reminder_required.
type ResponseRequest struct {
	InteractionType           string            `json:"interaction_type"`
	ResponseID                int64             `json:"response_id"`
	Transcript                []types.Utterance `json:"transcript"`
	RetellLLMDynamicVariables map[string]any    `json:"retell_llm_dynamic_variables,omitempty"`
}

// Kind returns the interaction kind of the request.
func (r ResponseRequest) Kind() types.InteractionKind {
	return types.InteractionKind(r.InteractionType)
}

// DecodeInbound parses and validates one inbound frame. The returned value is
// one of CallDetails, PingPong, UpdateOnly or ResponseRequest.
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
	case InteractionCallDetails:
		var msg CallDetails
		if err := json.Unmarshal(data, &msg); err != nil {
			return nil, badRequest("invalid call_details frame", "")
		}
		msg.InteractionType = typ
		return msg, nil
	case InteractionPingPong:
		var msg PingPong
		if err := json.Unmarshal(data, &msg); err != nil {
			return nil, badRequest("invalid ping_pong frame", "")
		}
		msg.InteractionType = typ
		return msg, nil
	case InteractionUpdateOnly:
		var msg UpdateOnly
		if err := json.Unmarshal(data, &msg); err != nil {
			return nil, badRequest("invalid update_only frame", "")
		}
		msg.InteractionType = typ
		return msg, nil
	case InteractionResponseRequired, InteractionReminderRequired:
		var raw struct {
			ResponseID                *int64            `json:"response_id"`
			Transcript                []types.Utterance `json:"transcript"`
			RetellLLMDynamicVariables map[string]any    `json:"retell_llm_dynamic_variables"`
		}
		if err := json.Unmarshal(data, &raw); err != nil {
			return nil, badRequest("invalid "+typ+" frame", "")
		}
		if raw.ResponseID == nil {
			return nil, badRequest(typ+".response_id is required", "response_id")
		}
		if *raw.ResponseID < 0 {
			return nil, badRequest(typ+".response_id must be >= 0", "response_id")
		}
		return ResponseRequest{
			InteractionType:           typ,
			ResponseID:                *raw.ResponseID,
			Transcript:                raw.Transcript,
			RetellLLMDynamicVariables: raw.RetellLLMDynamicVariables,
		}, nil
	default:
		return nil, unsupported("unsupported interaction_type", "interaction_type")
	}
}

// ConfigSettings are the session options announced when a call opens.
type ConfigSettings struct {
	AutoReconnect bool `json:"auto_reconnect"`
	CallDetails   bool `json:"call_details"`
}

type ConfigResponse struct {
	ResponseType string         `json:"response_type"`
	Config       ConfigSettings `json:"config"`
}

// NewConfigResponse requests keep-alive pings and a call_details frame.
func NewConfigResponse() ConfigResponse {
	return ConfigResponse{
		ResponseType: ResponseTypeConfig,
		Config:       ConfigSettings{AutoReconnect: true, CallDetails: true},
	}
}

type Response struct {
	ResponseType    string `json:"response_type"`
	ResponseID      int64  `json:"response_id"`
	Content         string `json:"content"`
	ContentComplete bool   `json:"content_complete"`
	EndCall         bool   `json:"end_call"`
}

// NewResponse converts a fragment to its wire form.
func NewResponse(f types.Fragment) Response {
	return Response{
		ResponseType:    ResponseTypeResponse,
		ResponseID:      f.ResponseID,
		Content:         f.Content,
		ContentComplete: f.ContentComplete,
		EndCall:         f.EndCall,
	}
}

type PingPongResponse struct {
	ResponseType string `json:"response_type"`
	Timestamp    int64  `json:"timestamp"`
}

func NewPingPongResponse(timestamp int64) PingPongResponse {
	return PingPongResponse{ResponseType: ResponseTypePingPong, Timestamp: timestamp}
}

func stringValues(m map[string]any) map[string]string {
	if len(m) == 0 {
		return nil
	}
	out := make(map[string]string, len(m))
	for k, v := range m {
		switch val := v.(type) {
		case string:
			out[k] = val
		case nil:
		case float64:
			out[k] = strconv.FormatFloat(val, 'f', -1, 64)
		default:
			out[k] = fmt.Sprint(val)
		}
	}
	return out
}
