package normalize

import (
	"encoding/json"
	"strconv"
	"strings"

	"github.com/google/go-github/v68/github"
)

// normalizeGitHub decodes a GitHub issues webhook using go-github's typed
// event structs. The issue number is the external task identifier and the
// repository full name stands in for the board.
func normalizeGitHub(raw []byte) *TaskData {
	var ev github.IssuesEvent
	if err := json.Unmarshal(raw, &ev); err != nil {
		return nil
	}
	issue := ev.GetIssue()
	if issue == nil || issue.GetNumber() == 0 {
		return nil
	}

	var labelText strings.Builder
	for _, l := range issue.Labels {
		labelText.WriteString(l.GetName())
		labelText.WriteString(" ")
	}

	return &TaskData{
		ExternalTaskID: strconv.Itoa(issue.GetNumber()),
		ExternalUserID: issue.GetAssignee().GetLogin(),
		Title:          issue.GetTitle(),
		Description:    issue.GetBody(),
		Priority:       textPriority(labelText.String()),
		BoardID:        ev.GetRepo().GetFullName(),
	}
}
