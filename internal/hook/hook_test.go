package hook

import (
	"bytes"
	"strings"
	"testing"
	"unicode/utf8"
)

func TestReadInput(t *testing.T) {
	in, err := ReadInput(strings.NewReader(`{
		"session_id": "abc-123",
		"hook_event_name": "PreToolUse",
		"cwd": "/work/api",
		"stop_hook_active": true,
		"tool_name": "Bash",
		"tool_input": {"command": "rm -rf build"},
		"signalbox_session": "XYZ"
	}`))
	if err != nil {
		t.Fatalf("ReadInput: %v", err)
	}
	if in.HookEventName != "PreToolUse" || in.ToolName != "Bash" || in.SignalboxSession != "XYZ" {
		t.Errorf("input = %+v", in)
	}
	if !in.StopHookActive || in.Cwd != "/work/api" {
		t.Errorf("input = %+v", in)
	}
	if in.ToolInput["command"] != "rm -rf build" {
		t.Errorf("tool input = %v", in.ToolInput)
	}
}

func TestReadInput_Empty(t *testing.T) {
	in, err := ReadInput(strings.NewReader("  \n"))
	if err != nil {
		t.Fatalf("ReadInput: %v", err)
	}
	if in == nil || in.SignalboxSession != "" {
		t.Errorf("input = %+v, want zero value", in)
	}
}

func TestReadInput_Invalid(t *testing.T) {
	if _, err := ReadInput(strings.NewReader("{not json")); err == nil {
		t.Error("expected parse error")
	}
}

func TestWriteOutput(t *testing.T) {
	tests := []struct {
		name string
		out  *Output
		want string
	}{
		{"nil", nil, ""},
		{"block", Block("do the thing"), `{"decision":"block","reason":"do the thing"}` + "\n"},
		{"approve", Approve("ok"), `{"decision":"approve","reason":"ok"}` + "\n"},
		{"stop", Stop("aborted"), `{"continue":false,"stopReason":"aborted"}` + "\n"},
		{"system", &Output{SystemMessage: "signalbox session ABC"}, `{"systemMessage":"signalbox session ABC"}` + "\n"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var buf bytes.Buffer
			if err := WriteOutput(&buf, tt.out); err != nil {
				t.Fatalf("WriteOutput: %v", err)
			}
			if buf.String() != tt.want {
				t.Errorf("got %q, want %q", buf.String(), tt.want)
			}
		})
	}
}

func TestSummarizeToolInput(t *testing.T) {
	if got := SummarizeToolInput(nil); got != "" {
		t.Errorf("nil input = %q", got)
	}
	if got := SummarizeToolInput(map[string]any{"command": "make deploy", "timeout": 10}); got != "make deploy" {
		t.Errorf("command input = %q", got)
	}
	got := SummarizeToolInput(map[string]any{"file_path": "/etc/hosts", "replace_all": true})
	if got != "file_path: /etc/hosts\nreplace_all: true" {
		t.Errorf("fields input = %q", got)
	}
	long := SummarizeToolInput(map[string]any{"command": strings.Repeat("x", maxToolSummary+10)})
	if len(long) != maxToolSummary+3 || !strings.HasSuffix(long, "...") {
		t.Errorf("long command not clipped, len = %d", len(long))
	}
}

func TestSummarizeToolInput_ClipsOnRuneBoundary(t *testing.T) {
	// The leading byte puts a two-byte rune across the cut.
	cmd := "x" + strings.Repeat("é", maxToolSummary)
	got := SummarizeToolInput(map[string]any{"command": cmd})
	if !utf8.ValidString(got) {
		t.Fatalf("clipped summary is not valid UTF-8: %q", got[len(got)-8:])
	}
	if !strings.HasSuffix(got, "é...") {
		t.Errorf("summary tail = %q", got[len(got)-8:])
	}
	if len(got) > maxToolSummary+3 {
		t.Errorf("len = %d, want <= %d", len(got), maxToolSummary+3)
	}
}
