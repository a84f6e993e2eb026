package review

import (
	"testing"

	"github.com/fuel-dev/fuel/internal/procmanager"
	"github.com/stretchr/testify/require"
)

func TestParseVerdictJSONLine(t *testing.T) {
	out := `some progress log line
{"passed": false, "issues": ["tests_failing"], "followup_task_ids": ["f-aaaaaa"]}
`
	v := parseVerdict(out)
	require.False(t, v.Passed)
	require.Equal(t, []string{"tests_failing"}, v.Issues)
	require.Equal(t, []string{"f-aaaaaa"}, v.FollowupTaskIDs)
}

func TestParseVerdictFallbackPlainText(t *testing.T) {
	v := parseVerdict("Review complete: PASS")
	require.True(t, v.Passed)

	v = parseVerdict("Review complete: FAIL, tests_failing")
	require.False(t, v.Passed)
	require.Contains(t, v.Issues, "tests_failing")
}

func TestPollReviewsUnknownChildErrors(t *testing.T) {
	m := &Manager{}
	err := m.PollReviews(procmanager.CompletionRecord{ChildID: "missing"})
	require.Error(t, err)
}
