// Package normalize parses platform-specific PM-tool webhook payloads into a
// canonical task description. Each supported platform tag has one extraction
// rule; everything else goes through a fallback rule that probes common
// field-name variants. A payload that matches no rule normalizes to nil —
// that is an expected outcome, not an error.
package normalize

import (
	"encoding/json"
	"strconv"
	"strings"
	"time"
)

// TaskData is the canonical task description produced from a raw payload.
type TaskData struct {
	ExternalTaskID string
	ExternalUserID string
	Title          string
	Description    string
	Location       string
	DueDate        *time.Time
	Priority       string
	BoardID        string
}

// Normalize parses raw into a TaskData using the rule for the given platform
// tag. Unknown tags fall through to the generic rule. Returns nil when the
// payload yields no usable task (no identifier or no title).
func Normalize(platform string, raw []byte) *TaskData {
	var td *TaskData
	switch platform {
	case "monday":
		td = normalizeMonday(raw)
	case "asana":
		td = normalizeAsana(raw)
	case "planfix":
		td = normalizePlanfix(raw)
	case "trello":
		td = normalizeTrello(raw)
	case "github":
		td = normalizeGitHub(raw)
	default:
		td = normalizeGeneric(raw)
	}
	if td == nil {
		return nil
	}
	if td.ExternalTaskID == "" || td.Title == "" {
		return nil
	}
	if td.Priority == "" {
		td.Priority = "medium"
	}
	return td
}

// flexID unmarshals a JSON string or number into its string form. PM tools
// disagree on whether identifiers are quoted.
type flexID string

func (f *flexID) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err == nil {
		*f = flexID(s)
		return nil
	}
	var n json.Number
	if err := json.Unmarshal(data, &n); err == nil {
		*f = flexID(n.String())
		return nil
	}
	*f = ""
	return nil
}

// --- monday: event-wrapped pulse/item ---

type mondayColumn struct {
	Text  string `json:"text"`
	Label struct {
		Text string `json:"text"`
	} `json:"label"`
	Date string `json:"date"`
}

type mondayPayload struct {
	Event struct {
		PulseID      flexID                  `json:"pulseId"`
		ItemID       flexID                  `json:"itemId"`
		PulseName    string                  `json:"pulseName"`
		ItemName     string                  `json:"itemName"`
		UserID       flexID                  `json:"userId"`
		BoardID      flexID                  `json:"boardId"`
		TextBody     string                  `json:"textBody"`
		ColumnValues map[string]mondayColumn `json:"columnValues"`
	} `json:"event"`
}

func normalizeMonday(raw []byte) *TaskData {
	var p mondayPayload
	if err := json.Unmarshal(raw, &p); err != nil {
		return nil
	}
	ev := p.Event

	td := &TaskData{
		ExternalTaskID: firstNonEmpty(string(ev.PulseID), string(ev.ItemID)),
		ExternalUserID: string(ev.UserID),
		Title:          firstNonEmpty(ev.PulseName, ev.ItemName),
		Description:    ev.TextBody,
		BoardID:        string(ev.BoardID),
	}

	for key, col := range ev.ColumnValues {
		k := strings.ToLower(key)
		val := firstNonEmpty(col.Label.Text, col.Text)
		switch {
		case strings.Contains(k, "priority") || strings.Contains(k, "status"):
			if pr := textPriority(val); pr != "" {
				td.Priority = pr
			}
		case strings.Contains(k, "location") || strings.Contains(k, "address"):
			td.Location = val
		case strings.Contains(k, "date") || strings.Contains(k, "deadline"):
			td.DueDate = parseDue(firstNonEmpty(col.Date, col.Text))
		}
	}
	return td
}

// --- asana: event array with a resource object ---

type asanaPayload struct {
	Events []struct {
		Action   string `json:"action"`
		Resource struct {
			GID          flexID `json:"gid"`
			ResourceType string `json:"resource_type"`
			Name         string `json:"name"`
			Notes        string `json:"notes"`
			DueOn        string `json:"due_on"`
			Assignee     struct {
				GID flexID `json:"gid"`
			} `json:"assignee"`
		} `json:"resource"`
	} `json:"events"`
}

func normalizeAsana(raw []byte) *TaskData {
	var p asanaPayload
	if err := json.Unmarshal(raw, &p); err != nil {
		return nil
	}
	// First event carrying a named resource wins.
	for _, ev := range p.Events {
		r := ev.Resource
		if r.GID == "" || r.Name == "" {
			continue
		}
		return &TaskData{
			ExternalTaskID: string(r.GID),
			ExternalUserID: string(r.Assignee.GID),
			Title:          r.Name,
			Description:    r.Notes,
			DueDate:        parseDue(r.DueOn),
			Priority:       textPriority(r.Name),
		}
	}
	return nil
}

// --- planfix: flat task fields with a numeric priority code ---

type planfixPayload struct {
	TaskID      flexID `json:"task_id"`
	ID          flexID `json:"id"`
	Name        string `json:"name"`
	Title       string `json:"title"`
	Description string `json:"description"`
	AssigneeID  flexID `json:"assignee_id"`
	Location    string `json:"location"`
	Deadline    string `json:"deadline"`
	Priority    struct {
		ID flexID `json:"id"`
	} `json:"priority"`
	ProjectID flexID `json:"project_id"`
}

func normalizePlanfix(raw []byte) *TaskData {
	var p planfixPayload
	if err := json.Unmarshal(raw, &p); err != nil {
		// Priority may arrive as a bare number instead of {id: n}; retry
		// with the object field removed.
		return normalizePlanfixLoose(raw)
	}
	return &TaskData{
		ExternalTaskID: firstNonEmpty(string(p.TaskID), string(p.ID)),
		ExternalUserID: string(p.AssigneeID),
		Title:          firstNonEmpty(p.Name, p.Title),
		Description:    p.Description,
		Location:       p.Location,
		DueDate:        parseDue(p.Deadline),
		Priority:       codePriority(string(p.Priority.ID)),
		BoardID:        string(p.ProjectID),
	}
}

func normalizePlanfixLoose(raw []byte) *TaskData {
	var m map[string]interface{}
	if err := json.Unmarshal(raw, &m); err != nil {
		return nil
	}
	td := &TaskData{
		ExternalTaskID: asString(firstVal(m, "task_id", "id")),
		ExternalUserID: asString(m["assignee_id"]),
		Title:          asString(firstVal(m, "name", "title")),
		Description:    asString(m["description"]),
		Location:       asString(m["location"]),
		DueDate:        parseDue(asString(m["deadline"])),
		BoardID:        asString(m["project_id"]),
	}
	td.Priority = codePriority(asString(m["priority"]))
	return td
}

// --- trello: action-wrapped card object ---

type trelloPayload struct {
	Action struct {
		Type string `json:"type"`
		Data struct {
			Card struct {
				ID      string `json:"id"`
				Name    string `json:"name"`
				Desc    string `json:"desc"`
				Due     string `json:"due"`
				IDBoard string `json:"idBoard"`
				Labels  []struct {
					Name string `json:"name"`
				} `json:"labels"`
			} `json:"card"`
		} `json:"data"`
		MemberCreator struct {
			ID string `json:"id"`
		} `json:"memberCreator"`
	} `json:"action"`
}

func normalizeTrello(raw []byte) *TaskData {
	var p trelloPayload
	if err := json.Unmarshal(raw, &p); err != nil {
		return nil
	}
	card := p.Action.Data.Card
	if card.ID == "" {
		return nil
	}

	var labelText strings.Builder
	for _, l := range card.Labels {
		labelText.WriteString(l.Name)
		labelText.WriteString(" ")
	}

	return &TaskData{
		ExternalTaskID: card.ID,
		ExternalUserID: p.Action.MemberCreator.ID,
		Title:          card.Name,
		Description:    card.Desc,
		DueDate:        parseDue(card.Due),
		Priority:       textPriority(labelText.String()),
		BoardID:        card.IDBoard,
	}
}

// --- generic fallback: probe common field-name variants ---

var (
	idKeys       = []string{"task_id", "id", "item_id", "key"}
	titleKeys    = []string{"title", "name", "task_name", "subject"}
	descKeys     = []string{"description", "desc", "notes", "body"}
	userKeys     = []string{"assignee", "assigned_to", "user_id", "assignee_id"}
	locationKeys = []string{"location", "address", "place"}
	dueKeys      = []string{"due_date", "due", "deadline", "due_on"}
	boardKeys    = []string{"board_id", "project_id", "list_id"}
)

func normalizeGeneric(raw []byte) *TaskData {
	var m map[string]interface{}
	if err := json.Unmarshal(raw, &m); err != nil {
		return nil
	}

	td := &TaskData{
		ExternalTaskID: asString(firstVal(m, idKeys...)),
		Title:          asString(firstVal(m, titleKeys...)),
		Description:    asString(firstVal(m, descKeys...)),
		ExternalUserID: asString(firstVal(m, userKeys...)),
		Location:       asString(firstVal(m, locationKeys...)),
		DueDate:        parseDue(asString(firstVal(m, dueKeys...))),
		BoardID:        asString(firstVal(m, boardKeys...)),
	}

	switch pv := m["priority"].(type) {
	case string:
		td.Priority = textPriority(pv)
	case float64:
		td.Priority = codePriority(strconv.Itoa(int(pv)))
	case map[string]interface{}:
		td.Priority = codePriority(asString(pv["id"]))
	}
	return td
}

// firstVal returns the first present, non-nil value among keys.
func firstVal(m map[string]interface{}, keys ...string) interface{} {
	for _, k := range keys {
		if v, ok := m[k]; ok && v != nil {
			return v
		}
	}
	return nil
}

// asString renders a probed JSON value as a string. Numbers drop a trailing
// ".0" so numeric identifiers round-trip cleanly.
func asString(v interface{}) string {
	switch t := v.(type) {
	case string:
		return t
	case float64:
		if t == float64(int64(t)) {
			return strconv.FormatInt(int64(t), 10)
		}
		return strconv.FormatFloat(t, 'f', -1, 64)
	case json.Number:
		return t.String()
	case bool:
		return strconv.FormatBool(t)
	}
	return ""
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}

// dueFormats are tried in order when parsing a due date. Unparseable dates
// are dropped rather than failing the whole payload.
var dueFormats = []string{
	time.RFC3339,
	"2006-01-02T15:04:05",
	"2006-01-02 15:04",
	"2006-01-02",
}

func parseDue(s string) *time.Time {
	s = strings.TrimSpace(s)
	if s == "" {
		return nil
	}
	for _, layout := range dueFormats {
		if t, err := time.Parse(layout, s); err == nil {
			return &t
		}
	}
	return nil
}
