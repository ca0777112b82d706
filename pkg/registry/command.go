package registry

import (
	"encoding/json"

	"github.com/guido-cesarano/looprelay/pkg/tasks"
)

// Command types accepted by Dispatch.
const (
	CommandStart       = "start"
	CommandStop        = "stop"
	CommandInspect     = "inspect"
	CommandViewDetails = "view_details"
)

// Reply types produced by Dispatch.
const (
	ReplyTaskStarted = "task_started"
	ReplyTaskStopped = "task_stopped"
	ReplyTaskDetails = "task_details"
	ReplyError       = "error"
)

// Machine-readable reasons carried by error replies.
const (
	ReasonNotFound       = "not_found"
	ReasonInvalid        = "invalid_command"
	ReasonUnknownCommand = "unknown_command"
	ReasonEmptyQueue     = "empty_queue"
	ReasonNoCredential   = "missing_credential"
	ReasonStartFailed    = "start_failed"
	ReasonStopFailed     = "stop_failed"
)

// Command is an inbound control message.
type Command struct {
	Type   string `json:"type" validate:"required"`
	TaskID string `json:"taskId,omitempty"`

	// Start fields.
	Credential  string `json:"credential,omitempty"`
	Destination string `json:"destination,omitempty"`
	MessageBody string `json:"messageBody,omitempty"`
	Prefix      string `json:"prefix,omitempty"`
	Suffix      string `json:"suffix,omitempty"`
	// DelaySeconds accepts numbers and numeric strings.
	DelaySeconds any `json:"delaySeconds,omitempty"`
}

// UnmarshalJSON also accepts messageContent and delay, the field names
// used by older clients.
func (c *Command) UnmarshalJSON(data []byte) error {
	type plain Command
	aux := struct {
		*plain
		MessageContent string `json:"messageContent"`
		Delay          any    `json:"delay"`
	}{plain: (*plain)(c)}
	if err := json.Unmarshal(data, &aux); err != nil {
		return err
	}
	if c.MessageBody == "" {
		c.MessageBody = aux.MessageContent
	}
	if c.DelaySeconds == nil {
		c.DelaySeconds = aux.Delay
	}
	return nil
}

// Reply answers a Command.
type Reply struct {
	Type    string          `json:"type"`
	TaskID  string          `json:"taskId,omitempty"`
	Reason  string          `json:"reason,omitempty"`
	Message string          `json:"message,omitempty"`
	From    string          `json:"from,omitempty"`
	Details *tasks.Snapshot `json:"details,omitempty"`
}

// ErrorReply builds an error reply for the command type from.
func ErrorReply(from, reason, msg string) Reply {
	return Reply{Type: ReplyError, From: from, Reason: reason, Message: msg}
}
