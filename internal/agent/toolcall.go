package agent

import (
	"encoding/json"
	"fmt"
	"strings"
)

// ToolCall is one action the model can take per iteration. The variant set
// is closed: ExecuteSQLCall, SchemaCall, KnowledgeSearchCall and FinishCall
// are the only implementations, and the loop dispatches on the concrete
// type with a switch.
type ToolCall interface {
	// name returns the wire name of the call, for logging.
	name() string
}

// ExecuteSQLCall runs candidate SQL against the connection.
type ExecuteSQLCall struct {
	SQL string
}

// SchemaCall requests a snapshot of the connection's table layout.
type SchemaCall struct{}

// KnowledgeSearchCall filters the retrieved knowledge bundle.
type KnowledgeSearchCall struct {
	Query string
}

// FinishCall declares the final SQL answer.
type FinishCall struct {
	SQL string
}

func (*ExecuteSQLCall) name() string      { return "execute_sql" }
func (*SchemaCall) name() string          { return "get_schema" }
func (*KnowledgeSearchCall) name() string { return "search_knowledge" }
func (*FinishCall) name() string          { return "finish" }

// rawToolCall is the wire form the model emits.
type rawToolCall struct {
	Action string `json:"action"`
	SQL    string `json:"sql,omitempty"`
	Query  string `json:"query,omitempty"`
}

// parseToolCall extracts exactly one tool call from model output. Code
// fences around the JSON are tolerated; anything else is an error the loop
// feeds back to the model.
func parseToolCall(text string) (ToolCall, error) {
	payload := extractJSON(text)
	if payload == "" {
		return nil, fmt.Errorf("no JSON object found")
	}

	var raw rawToolCall
	if err := json.Unmarshal([]byte(payload), &raw); err != nil {
		return nil, fmt.Errorf("invalid JSON: %w", err)
	}

	switch raw.Action {
	case "execute_sql":
		if strings.TrimSpace(raw.SQL) == "" {
			return nil, fmt.Errorf("execute_sql requires a sql field")
		}
		return &ExecuteSQLCall{SQL: raw.SQL}, nil
	case "get_schema":
		return &SchemaCall{}, nil
	case "search_knowledge":
		if strings.TrimSpace(raw.Query) == "" {
			return nil, fmt.Errorf("search_knowledge requires a query field")
		}
		return &KnowledgeSearchCall{Query: raw.Query}, nil
	case "finish":
		return &FinishCall{SQL: raw.SQL}, nil
	case "":
		return nil, fmt.Errorf("missing action field")
	default:
		return nil, fmt.Errorf("unknown action %q", raw.Action)
	}
}

// extractJSON returns the first top-level JSON object in text, tolerating
// markdown code fences.
func extractJSON(text string) string {
	start := strings.IndexByte(text, '{')
	if start < 0 {
		return ""
	}

	depth := 0
	inString := false
	escaped := false
	for i := start; i < len(text); i++ {
		c := text[i]
		switch {
		case escaped:
			escaped = false
		case c == '\\' && inString:
			escaped = true
		case c == '"':
			inString = !inString
		case inString:
		case c == '{':
			depth++
		case c == '}':
			depth--
			if depth == 0 {
				return text[start : i+1]
			}
		}
	}
	return ""
}
