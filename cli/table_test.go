package cli

import (
	"bytes"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"go.hackfix.me/docmig/migration"
)

func TestRenderViews(t *testing.T) {
	t.Parallel()

	now := time.Date(2024, time.March, 1, 12, 0, 0, 0, time.UTC)
	created := now.Add(-3 * time.Hour)
	longName := strings.Repeat("x", 120)

	views := []migration.View{
		{
			Definition: &migration.Definition{Name: "users", SequenceKey: created},
			Record: &migration.Record{
				Name: "users", SequenceKey: created, AppliedAt: now.Add(-2*time.Hour - 5*time.Minute),
			},
			Status: migration.StatusApplied,
		},
		{
			Record: &migration.Record{
				Name: "gone", SequenceKey: created.Add(time.Minute), AppliedAt: now.Add(-time.Hour),
			},
			Status: migration.StatusOrphaned,
		},
		{
			Definition: &migration.Definition{Name: longName, SequenceKey: created.Add(2 * time.Minute)},
			Status:     migration.StatusPending,
		},
	}

	var buf bytes.Buffer
	err := renderViews(&buf, views, now)
	require.NoError(t, err)

	var lines []string
	for _, l := range strings.Split(buf.String(), "\n") {
		if strings.TrimSpace(l) != "" {
			lines = append(lines, l)
		}
	}
	require.Len(t, lines, 4)
	assert.Regexp(t, `(?i)^\s*name\s+status\s+created\s+applied\s*$`, lines[0])
	assert.Regexp(t, `^\s*users\s+applied\s+`+created.Local().Format(time.DateTime)+`\s+2h5m ago\s*$`, lines[1])
	assert.Regexp(t, `^\s*gone\s+orphaned\s+.*1h ago\s*$`, lines[2])
	assert.Contains(t, lines[3], longName)
	assert.Regexp(t, `pending\s+\S+ \S+\s+-\s*$`, lines[3])
}
