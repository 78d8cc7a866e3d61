package agent

import (
	"fmt"
	"strings"
	"unicode/utf8"

	"github.com/firebase/genkit/go/ai"

	"github.com/querysmith/querysmith/internal/connection"
	"github.com/querysmith/querysmith/internal/knowledge"
)

const systemPromptTemplate = `You are a SQL generation assistant for a %s database.
Turn the user's question into a correct, efficient, read-only SQL query.

You work in steps. Each response must be exactly one JSON object, nothing else:
  {"action": "get_schema"}                          - inspect the table layout
  {"action": "search_knowledge", "query": "..."}    - look up business terms and rules
  {"action": "execute_sql", "sql": "..."}           - run a candidate query
  {"action": "finish", "sql": "..."}                - declare the final, verified query

Rules:
- Only SELECT (or WITH ... SELECT) statements. Never modify data.
- Execute a query and confirm it works before finishing.
- When an execution error comes back, read it carefully and fix the query.
- Apply every instruction given below; they override your own judgment.`

// conversation accumulates the message history of one synthesis attempt.
// The system prompt carries the dialect and retrieved knowledge; tool
// observations are appended as user messages.
type conversation struct {
	system   string
	messages []*ai.Message
}

func newConversation(promptText, dialect string, bundle *knowledge.Bundle) *conversation {
	var sb strings.Builder
	fmt.Fprintf(&sb, systemPromptTemplate, dialect)

	if !bundle.Empty() {
		sb.WriteString("\n\n")
		sb.WriteString(renderBundle(bundle))
	}

	return &conversation{
		system: sb.String(),
		messages: []*ai.Message{
			ai.NewUserTextMessage("Question: " + promptText),
		},
	}
}

func (c *conversation) addAssistant(text string) {
	c.messages = append(c.messages, ai.NewModelTextMessage(text))
}

func (c *conversation) addObservation(text string) {
	c.messages = append(c.messages, ai.NewUserTextMessage(text))
}

func (c *conversation) options() []ai.GenerateOption {
	return []ai.GenerateOption{
		ai.WithSystem(c.system),
		ai.WithMessages(c.messages...),
	}
}

// renderBundle formats retrieved knowledge for the system prompt:
// instructions first (they are binding), then supporting assets.
func renderBundle(bundle *knowledge.Bundle) string {
	var sb strings.Builder

	if len(bundle.Instructions) > 0 {
		sb.WriteString("Instructions for this database:\n")
		for _, ins := range bundle.Instructions {
			if ins.IsDefault {
				fmt.Fprintf(&sb, "- (always) %s\n", ins.RulesText)
			} else {
				fmt.Fprintf(&sb, "- (when: %s) %s\n", ins.ConditionText, ins.RulesText)
			}
		}
	}

	if len(bundle.Assets) > 0 {
		if sb.Len() > 0 {
			sb.WriteString("\n")
		}
		sb.WriteString("Relevant context:\n")
		for _, hit := range bundle.Assets {
			fmt.Fprintf(&sb, "- [%s] %s: %s\n", hit.Type, hit.Name, hit.ContentText)
		}
	}
	return sb.String()
}

// formatSchema renders a schema snapshot as a compact table listing.
func formatSchema(schema *connection.Schema) string {
	if schema == nil || len(schema.Tables) == 0 {
		return "The database has no user tables."
	}

	var sb strings.Builder
	sb.WriteString("Database schema:\n")
	for _, table := range schema.Tables {
		fmt.Fprintf(&sb, "%s.%s:\n", table.Schema, table.Name)
		for _, col := range table.Columns {
			nullable := "not null"
			if col.Nullable {
				nullable = "nullable"
			}
			fmt.Fprintf(&sb, "  %s %s %s\n", col.Name, col.DataType, nullable)
		}
	}
	return sb.String()
}

// formatResultObservation renders an execution result for the model. Row
// values are capped per cell so a wide text column cannot blow the context
// window.
func formatResultObservation(result *connection.ResultSet) string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "Query succeeded: %d rows", result.RowCount())
	if result.Truncated {
		sb.WriteString(" (truncated)")
	}
	sb.WriteString("\n")

	if len(result.Columns) > 0 {
		sb.WriteString(strings.Join(result.Columns, " | "))
		sb.WriteString("\n")
	}
	for _, row := range result.Rows {
		cells := make([]string, len(row))
		for i, v := range row {
			cells[i] = truncateCell(fmt.Sprintf("%v", v))
		}
		sb.WriteString(strings.Join(cells, " | "))
		sb.WriteString("\n")
	}
	sb.WriteString("If this answers the question, finish with this query. Otherwise adjust it.")
	return sb.String()
}

const maxCellLen = 120

func truncateCell(s string) string {
	if len(s) <= maxCellLen {
		return s
	}
	// Back the cut off to a rune boundary so a multi-byte character is
	// never split into invalid UTF-8.
	cut := maxCellLen
	for cut > 0 && !utf8.RuneStart(s[cut]) {
		cut--
	}
	return s[:cut] + "..."
}

// formatKnowledge answers a knowledge search from the retrieved bundle by
// simple substring match over names, keys and content.
func formatKnowledge(bundle *knowledge.Bundle, query string) string {
	if bundle.Empty() {
		return "No knowledge is available for this database."
	}

	q := strings.ToLower(query)
	var sb strings.Builder
	found := 0
	for _, hit := range bundle.Assets {
		if strings.Contains(strings.ToLower(hit.Name), q) ||
			strings.Contains(strings.ToLower(hit.CanonicalKey), q) ||
			strings.Contains(strings.ToLower(hit.ContentText), q) {
			fmt.Fprintf(&sb, "- [%s] %s: %s\n", hit.Type, hit.Name, hit.ContentText)
			found++
		}
	}
	if found == 0 {
		return fmt.Sprintf("No knowledge matched %q. The retrieved context is already in your instructions.", query)
	}
	return "Matching knowledge:\n" + sb.String()
}
