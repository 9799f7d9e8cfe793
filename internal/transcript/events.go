package transcript

import (
	"encoding/json"
	"regexp"
)

// Technical event types.
const (
	EventFileCreated      = "file_created"
	EventFileModified     = "file_modified"
	EventFileAccessed     = "file_accessed"
	EventCommandExecuted  = "command_executed"
	EventTestRun          = "test_run"
	EventCodeSearched     = "code_searched"
	EventDirectoryListed  = "directory_listed"
	EventTodoUpdated      = "todo_updated"
	EventWebAccessed      = "web_accessed"
	EventSubagentStarted  = "subagent_started"
	EventToolUse          = "tool_use"
	EventErrorEncountered = "error_encountered"
	EventErrorResolved    = "error_resolved"
)

// toolEventTypes maps tool names to event types. Bash is refined to
// test_run when the command invokes a test runner.
var toolEventTypes = map[string]string{
	"Write":        EventFileCreated,
	"Edit":         EventFileModified,
	"MultiEdit":    EventFileModified,
	"NotebookEdit": EventFileModified,
	"Read":         EventFileAccessed,
	"Bash":         EventCommandExecuted,
	"Grep":         EventCodeSearched,
	"Glob":         EventCodeSearched,
	"LS":           EventDirectoryListed,
	"TodoWrite":    EventTodoUpdated,
	"WebFetch":     EventWebAccessed,
	"WebSearch":    EventWebAccessed,
	"Task":         EventSubagentStarted,
}

var testCommandRe = regexp.MustCompile(`(^|[\s;&|(])(go test|pytest|python -m pytest|npm (run )?test|yarn test|pnpm (run )?test|cargo test|jest|vitest|make test|mvn test|gradle test|\./gradlew test)\b`)

// IsTestCommand reports whether a shell command runs a test suite.
func IsTestCommand(cmd string) bool {
	return testCommandRe.MatchString(cmd)
}

type toolInput struct {
	FilePath     string `json:"file_path"`
	NotebookPath string `json:"notebook_path"`
	Path         string `json:"path"`
	Command      string `json:"command"`
	Pattern      string `json:"pattern"`
	URL          string `json:"url"`
	Query        string `json:"query"`
	Description  string `json:"description"`
}

func (in toolInput) file() string {
	switch {
	case in.FilePath != "":
		return in.FilePath
	case in.NotebookPath != "":
		return in.NotebookPath
	default:
		return in.Path
	}
}

type toolResultPayload struct {
	Type            string          `json:"type"`
	FilePath        string          `json:"filePath"`
	FilePathSnake   string          `json:"file_path"`
	NewTodos        json.RawMessage `json:"newTodos"`
	OldTodos        json.RawMessage `json:"oldTodos"`
	StructuredPatch json.RawMessage `json:"structuredPatch"`
}

type pendingCall struct {
	name string
	key  string
}

type failure struct {
	messageUUID string
	toolUseID   string
}

// ExtractEvents derives technical events from the tool payloads of msgs,
// which must be in file order. The result depends only on msgs.
//
// Calls map through toolEventTypes. Failed results emit error_encountered,
// and a later successful call with the same tool and target emits
// error_resolved. A toolUseResult payload whose call is not in msgs is
// classified by its shape.
func ExtractEvents(msgs []Message) []Event {
	var events []Event
	calls := make(map[string]pendingCall) // tool_use id -> call
	failed := make(map[string]failure)    // call key -> most recent failure

	for _, m := range msgs {
		if m.ToolUse == nil {
			continue
		}
		emit := func(typ, file string, details map[string]any) {
			events = append(events, Event{
				MessageUUID: m.UUID,
				Type:        typ,
				FilePath:    file,
				Details:     details,
				Timestamp:   m.Timestamp,
			})
		}

		for _, c := range m.ToolUse.Calls {
			// Best effort: input that is not an object leaves the fields empty
			// and the call still yields an event.
			var in toolInput
			_ = json.Unmarshal(c.Input, &in)

			typ, ok := toolEventTypes[c.Name]
			if !ok {
				typ = EventToolUse
			}
			details := map[string]any{"tool": c.Name}
			if c.ID != "" {
				details["tool_use_id"] = c.ID
			}
			if in.Command != "" {
				details["command"] = in.Command
				if c.Name == "Bash" && IsTestCommand(in.Command) {
					typ = EventTestRun
				}
			}
			switch {
			case in.Pattern != "":
				details["pattern"] = in.Pattern
			case in.URL != "":
				details["url"] = in.URL
			case in.Query != "":
				details["query"] = in.Query
			case in.Description != "":
				details["description"] = in.Description
			}
			emit(typ, in.file(), details)

			if c.ID != "" {
				calls[c.ID] = pendingCall{name: c.Name, key: callKey(c.Name, in)}
			}
		}

		covered := false
		for _, r := range m.ToolUse.Results {
			call, known := calls[r.ToolUseID]
			covered = covered || known
			if r.IsError {
				details := map[string]any{"tool_use_id": r.ToolUseID}
				if known {
					details["tool"] = call.name
					failed[call.key] = failure{messageUUID: m.UUID, toolUseID: r.ToolUseID}
				}
				if r.Excerpt != "" {
					details["error"] = r.Excerpt
				}
				emit(EventErrorEncountered, "", details)
				continue
			}
			if !known {
				continue
			}
			if f, ok := failed[call.key]; ok {
				delete(failed, call.key)
				emit(EventErrorResolved, "", map[string]any{
					"tool":               call.name,
					"tool_use_id":        r.ToolUseID,
					"failed_message":     f.messageUUID,
					"failed_tool_use_id": f.toolUseID,
				})
			}
		}

		// a result whose call was seen is already represented by the call event
		if covered {
			continue
		}
		if typ, file, details, ok := resultEvent(m.ToolUse.Result); ok {
			emit(typ, file, details)
		}
	}
	return events
}

// resultEvent classifies a toolUseResult payload.
func resultEvent(raw json.RawMessage) (typ, file string, details map[string]any, ok bool) {
	if !hasPayload(raw) {
		return "", "", nil, false
	}
	var p toolResultPayload
	if err := json.Unmarshal(raw, &p); err != nil {
		// string payloads (plain tool output) carry no structure
		return "", "", nil, false
	}
	file = p.FilePath
	if file == "" {
		file = p.FilePathSnake
	}
	switch {
	case hasPayload(p.NewTodos) || hasPayload(p.OldTodos):
		return EventTodoUpdated, "", map[string]any{"source": "result"}, true
	case p.Type == "create":
		return EventFileCreated, file, map[string]any{"source": "result"}, true
	case p.Type == "update" || hasPayload(p.StructuredPatch):
		return EventFileModified, file, map[string]any{"source": "result"}, true
	}
	return "", "", nil, false
}

func callKey(name string, in toolInput) string {
	target := in.Command
	if target == "" {
		target = in.file()
	}
	return name + "\x00" + target
}
