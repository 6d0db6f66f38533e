package postgres

import (
	"encoding/json"
	"fmt"
	"regexp"
	"strings"

	v1 "github.com/statkit/statkit/internal/api/v1"
	"github.com/statkit/statkit/internal/core/query"
)

// identPattern matches the identifiers core/partition produces. A table name
// failing this check never reaches interpolated SQL.
var identPattern = regexp.MustCompile(`^[a-z0-9_]+$`)

func checkIdent(name string) error {
	if !identPattern.MatchString(name) {
		return fmt.Errorf("unsafe table identifier %q", name)
	}
	return nil
}

// eventColumns maps envelope fields addressable in query conditions to
// physical columns. Fields outside this map resolve into the JSONB payload.
var eventColumns = map[string]string{
	"id":             "id",
	"type":           "type",
	"schema_version": "schema_version",
	"occurred_at":    "occurred_at",
	"ingested_at":    "ingested_at",
	"visitor_id":     "visitor_id",
	"user_agent":     "user_agent",
	"unique_id":      "unique_id",
	"is_robot":       "is_robot",
}

// argList allocates bind placeholders in order of appearance.
type argList struct {
	args []interface{}
}

func (l *argList) add(v interface{}) string {
	l.args = append(l.args, v)
	return fmt.Sprintf("$%d", len(l.args))
}

// conditionSQL renders a query's time range and conditions as a WHERE
// fragment against the event columns, appending its parameters to l.
func conditionSQL(q query.Query, l *argList) string {
	var clauses []string
	if !q.From.IsZero() {
		clauses = append(clauses, "occurred_at >= "+l.add(q.From))
	}
	if !q.Through.IsZero() {
		clauses = append(clauses, "occurred_at < "+l.add(q.Through))
	}
	for _, c := range q.Conditions {
		if col, ok := eventColumns[c.Field]; ok {
			clauses = append(clauses, col+" = "+l.add(c.Value))
			continue
		}
		clauses = append(clauses, fmt.Sprintf("data->>%s = %s", l.add(c.Field), l.add(renderText(c.Value))))
	}
	if len(clauses) == 0 {
		return "TRUE"
	}
	return strings.Join(clauses, " AND ")
}

// renderText mirrors the ->> operator's text rendering of scalar JSON
// values, so a condition written as 100 matches a stored JSON number.
func renderText(v interface{}) string {
	if s, ok := v.(string); ok {
		return s
	}
	return fmt.Sprintf("%v", v)
}

// fromClause names one partition directly or unions several, so bucket scans
// spanning multiple periods run as a single statement.
func fromClause(tables []string) string {
	if len(tables) == 1 {
		return tables[0]
	}
	parts := make([]string, len(tables))
	for i, t := range tables {
		parts[i] = "SELECT * FROM " + t
	}
	return "(" + strings.Join(parts, " UNION ALL ") + ") AS events"
}

// marshalEventJSON marshals an event's data field to JSON.
// Nil data produces nil (SQL NULL) rather than the JSON "null" string.
func marshalEventJSON(event *v1.Event) ([]byte, error) {
	if len(event.Data) == 0 {
		return nil, nil
	}
	dataJSON, err := json.Marshal(event.Data)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal data: %w", err)
	}
	return dataJSON, nil
}

type scanner interface {
	Scan(dest ...interface{}) error
}

// scanEventRow scans a database row into an Event struct.
// Compatible with both sql.Row (single) and sql.Rows (multiple).
func scanEventRow(row scanner) (*v1.Event, error) {
	var evt v1.Event
	var dataJSON []byte

	err := row.Scan(
		&evt.ID,
		&evt.Type,
		&evt.SchemaVersion,
		&evt.OccurredAt,
		&evt.IngestedAt,
		&evt.VisitorID,
		&evt.UserAgent,
		&evt.UniqueID,
		&evt.IsRobot,
		&dataJSON,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to scan event row: %w", err)
	}

	if len(dataJSON) > 0 {
		if err := json.Unmarshal(dataJSON, &evt.Data); err != nil {
			return nil, fmt.Errorf("failed to unmarshal data: %w", err)
		}
	}

	evt.OccurredAt = evt.OccurredAt.UTC()
	evt.IngestedAt = evt.IngestedAt.UTC()
	return &evt, nil
}
