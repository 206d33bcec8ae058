package commands

import (
	"bytes"
	"encoding/json"
	"fmt"

	"github.com/neoclaw-ai/msgbridge/internal/channel"
)

const (
	msgCacheMiss = "Message has not been cached"
	msgNoID      = "No Message ID was supplied"
)

// args is a decoded command argument object.
type args map[string]json.RawMessage

func decodeArgs(raw json.RawMessage) (args, error) {
	trimmed := bytes.TrimSpace(raw)
	if len(trimmed) == 0 || bytes.Equal(trimmed, []byte("null")) {
		return nil, badArguments(msgNoID)
	}
	var out args
	if err := json.Unmarshal(trimmed, &out); err != nil {
		return nil, badArguments("Arguments must be an object")
	}
	return out, nil
}

func (a args) id() (string, error) {
	id, ok := a.str("id")
	if !ok || id == "" {
		return "", badArguments(msgNoID)
	}
	return id, nil
}

func (a args) requireString(key string) (string, error) {
	v, ok := a.str(key)
	if !ok {
		return "", badArguments(fmt.Sprintf("%q must be a string", key))
	}
	return v, nil
}

func (a args) requireBool(key string) (bool, error) {
	raw, ok := a[key]
	if !ok {
		return false, badArguments(fmt.Sprintf("%q must be a boolean", key))
	}
	var v bool
	if isNull(raw) || json.Unmarshal(raw, &v) != nil {
		return false, badArguments(fmt.Sprintf("%q must be a boolean", key))
	}
	return v, nil
}

func (a args) requireInt(key string) (int, error) {
	raw, ok := a[key]
	if !ok {
		return 0, badArguments(fmt.Sprintf("%q must be an integer", key))
	}
	var v int
	if isNull(raw) || json.Unmarshal(raw, &v) != nil {
		return 0, badArguments(fmt.Sprintf("%q must be an integer", key))
	}
	return v, nil
}

func (a args) str(key string) (string, bool) {
	raw, ok := a[key]
	if !ok || isNull(raw) {
		return "", false
	}
	var v string
	if err := json.Unmarshal(raw, &v); err != nil {
		return "", false
	}
	return v, true
}

func isNull(raw json.RawMessage) bool {
	return bytes.Equal(bytes.TrimSpace(raw), []byte("null"))
}

func badArguments(message string) *channel.Error {
	return &channel.Error{Code: channel.CodeBadArguments, Message: message}
}

func cacheMiss(id string) *channel.Error {
	return &channel.Error{Code: channel.CodeCacheMiss, Message: msgCacheMiss, Details: id}
}
