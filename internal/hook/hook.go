// Package hook translates agent hook invocations into store operations.
// Each invocation reads one JSON object from stdin and writes at most one
// JSON object to stdout.
package hook

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"sort"
	"strings"
	"unicode/utf8"
)

// maxToolSummary bounds the tool input shown in an approval prompt.
const maxToolSummary = 1500

// Input is the invocation context an agent passes on stdin.
type Input struct {
	SessionID        string         `json:"session_id"`
	HookEventName    string         `json:"hook_event_name"`
	Cwd              string         `json:"cwd"`
	StopHookActive   bool           `json:"stop_hook_active"`
	ToolName         string         `json:"tool_name"`
	ToolInput        map[string]any `json:"tool_input"`
	SignalboxSession string         `json:"signalbox_session"` // explicit session code
}

// Output is the single JSON object a hook may emit.
type Output struct {
	Decision      string `json:"decision,omitempty"`
	Reason        string `json:"reason,omitempty"`
	Continue      *bool  `json:"continue,omitempty"`
	StopReason    string `json:"stopReason,omitempty"`
	SystemMessage string `json:"systemMessage,omitempty"`
}

// Hook decisions.
const (
	DecisionBlock   = "block"
	DecisionApprove = "approve"
)

// ReadInput decodes the invocation context. Empty input yields a zero Input
// so hooks still work when the agent passes nothing.
func ReadInput(r io.Reader) (*Input, error) {
	data, err := io.ReadAll(r)
	if err != nil {
		return nil, fmt.Errorf("hook: read input: %w", err)
	}
	in := &Input{}
	if len(bytes.TrimSpace(data)) == 0 {
		return in, nil
	}
	if err := json.Unmarshal(data, in); err != nil {
		return nil, fmt.Errorf("hook: parse input: %w", err)
	}
	return in, nil
}

// WriteOutput encodes out as one line of JSON. A nil out writes nothing.
func WriteOutput(w io.Writer, out *Output) error {
	if out == nil {
		return nil
	}
	data, err := json.Marshal(out)
	if err != nil {
		return fmt.Errorf("hook: encode output: %w", err)
	}
	data = append(data, '\n')
	if _, err := w.Write(data); err != nil {
		return fmt.Errorf("hook: write output: %w", err)
	}
	return nil
}

// Block is the output that feeds reason back to the agent.
func Block(reason string) *Output {
	return &Output{Decision: DecisionBlock, Reason: reason}
}

// Approve lets a tool call proceed without prompting.
func Approve(reason string) *Output {
	return &Output{Decision: DecisionApprove, Reason: reason}
}

// Stop ends the agent's turn for good.
func Stop(reason string) *Output {
	cont := false
	return &Output{Continue: &cont, StopReason: reason}
}

// SummarizeToolInput renders a tool call for an approval prompt. The
// "command" field, when present, is shown verbatim; other fields are listed
// as key: value lines in key order.
func SummarizeToolInput(input map[string]any) string {
	if len(input) == 0 {
		return ""
	}
	if cmd, ok := input["command"].(string); ok && cmd != "" {
		return clip(cmd)
	}

	keys := make([]string, 0, len(input))
	for k := range input {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	var b strings.Builder
	for _, k := range keys {
		v := input[k]
		s, ok := v.(string)
		if !ok {
			enc, err := json.Marshal(v)
			if err != nil {
				continue
			}
			s = string(enc)
		}
		fmt.Fprintf(&b, "%s: %s\n", k, s)
	}
	return clip(strings.TrimRight(b.String(), "\n"))
}

// clip cuts s to at most maxToolSummary bytes without splitting a rune.
func clip(s string) string {
	if len(s) <= maxToolSummary {
		return s
	}
	cut := maxToolSummary
	for cut > 0 && !utf8.RuneStart(s[cut]) {
		cut--
	}
	return s[:cut] + "..."
}
