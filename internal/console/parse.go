package console

import (
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/google/shlex"

	"github.com/neoclaw-ai/msgbridge/internal/channel"
	"github.com/neoclaw-ai/msgbridge/internal/config"
)

const helpText = `Commands:
  clear <id>                         clearMessage
  show <id>                          showMessage
  dismiss <id> [suppressAutoTrack]   dismissMessage (default false)
  autotrack <id> <true|false>        setAutoTrack
  track <id> <interaction> <code>    trackMessage
  cached                             getCachedMessages
  version                            extensionVersion
  refresh                            refreshInAppMessages
  call <method> [key=value ...]      any method; values are JSON when they parse, else strings
  policy <save|show> <yes|no|silent|unimplemented>
  status
  help
  quit`

type commandKind int

const (
	kindRemote commandKind = iota
	kindHelp
	kindQuit
	kindPolicy
	kindStatus
)

// command is one parsed console line.
type command struct {
	kind   commandKind
	method string
	args   map[string]any

	// policy command fields
	question string
	policy   string
}

var errUsage = errors.New("usage")

func usage(format string, args ...any) error {
	return fmt.Errorf("%w: "+format, append([]any{errUsage}, args...)...)
}

// parseLine turns one console line into a command.
func parseLine(line string) (command, error) {
	fields, err := shlex.Split(line)
	if err != nil {
		return command{}, fmt.Errorf("parse %q: %w", line, err)
	}
	if len(fields) == 0 {
		return command{}, usage("empty command")
	}

	name := strings.ToLower(strings.TrimPrefix(fields[0], "/"))
	rest := fields[1:]
	switch name {
	case "help", "?":
		return command{kind: kindHelp}, nil
	case "quit", "exit":
		return command{kind: kindQuit}, nil
	case "status":
		return command{kind: kindStatus}, nil
	case "policy":
		return parsePolicy(rest)
	case "clear":
		return idCommand(channel.MethodClearMessage, "clear <id>", rest)
	case "show":
		return idCommand(channel.MethodShowMessage, "show <id>", rest)
	case "dismiss":
		if len(rest) < 1 || len(rest) > 2 {
			return command{}, usage("dismiss <id> [suppressAutoTrack]")
		}
		suppress := false
		if len(rest) == 2 {
			if suppress, err = strconv.ParseBool(rest[1]); err != nil {
				return command{}, usage("suppressAutoTrack must be true or false")
			}
		}
		return remote(channel.MethodDismissMessage, map[string]any{"id": rest[0], "suppressAutoTrack": suppress}), nil
	case "autotrack":
		if len(rest) != 2 {
			return command{}, usage("autotrack <id> <true|false>")
		}
		enabled, err := strconv.ParseBool(rest[1])
		if err != nil {
			return command{}, usage("autoTrack must be true or false")
		}
		return remote(channel.MethodSetAutoTrack, map[string]any{"id": rest[0], "autoTrack": enabled}), nil
	case "track":
		if len(rest) != 3 {
			return command{}, usage("track <id> <interaction> <code>")
		}
		code, err := strconv.Atoi(rest[2])
		if err != nil {
			return command{}, usage("event type code must be an integer")
		}
		return remote(channel.MethodTrackMessage, map[string]any{"id": rest[0], "interaction": rest[1], "eventType": code}), nil
	case "cached":
		return remote(channel.MethodGetCachedMessages, nil), nil
	case "version":
		return remote(channel.MethodExtensionVersion, nil), nil
	case "refresh":
		return remote(channel.MethodRefreshInAppMessages, nil), nil
	case "call":
		if len(rest) < 1 {
			return command{}, usage("call <method> [key=value ...]")
		}
		args, err := parseKeyValues(rest[1:])
		if err != nil {
			return command{}, err
		}
		return remote(rest[0], args), nil
	default:
		return command{}, usage("unknown command %q (try help)", fields[0])
	}
}

func idCommand(method, form string, rest []string) (command, error) {
	if len(rest) != 1 {
		return command{}, usage(form)
	}
	return remote(method, map[string]any{"id": rest[0]}), nil
}

func remote(method string, args map[string]any) command {
	return command{kind: kindRemote, method: method, args: args}
}

func parsePolicy(rest []string) (command, error) {
	if len(rest) != 2 {
		return command{}, usage("policy <save|show> <policy>")
	}
	var question string
	switch strings.ToLower(rest[0]) {
	case "save":
		question = channel.MethodShouldSaveMessage
	case "show":
		question = channel.MethodShouldShowMessage
	default:
		return command{}, usage("policy target must be save or show")
	}
	policy, err := config.ParsePolicy(rest[1])
	if err != nil {
		return command{}, err
	}
	return command{kind: kindPolicy, question: question, policy: policy}, nil
}

func parseKeyValues(pairs []string) (map[string]any, error) {
	if len(pairs) == 0 {
		return nil, nil
	}
	out := make(map[string]any, len(pairs))
	for _, pair := range pairs {
		key, raw, ok := strings.Cut(pair, "=")
		if !ok || key == "" {
			return nil, usage("argument %q must be key=value", pair)
		}
		var value any
		if err := json.Unmarshal([]byte(raw), &value); err != nil {
			value = raw
		}
		out[key] = value
	}
	return out, nil
}
