package main

import (
	"bytes"
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/shiftly-ai/shiftly/libs/knowledge-engine/internal/storage"
	"github.com/shiftly-ai/shiftly/libs/knowledge-engine/internal/storage/storagetest"
)

func TestReadQuestions(t *testing.T) {
	path := filepath.Join(t.TempDir(), "questions.txt")
	content := "# replayed from last week\nWhen do I get paid?\n\n  Where is the site?  \n"
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))

	questions, err := readQuestions(path)
	require.NoError(t, err)
	assert.Equal(t, []string{"When do I get paid?", "Where is the site?"}, questions)

	_, err = readQuestions(filepath.Join(t.TempDir(), "missing.txt"))
	assert.Error(t, err)
}

func TestTruncate(t *testing.T) {
	assert.Equal(t, "short", Truncate("short", 10))
	assert.Equal(t, "a b c", Truncate("a\n b\tc", 10))
	assert.Equal(t, "abcd…", Truncate("abcdefgh", 5))
}

func TestExportTraining_WritesJSONLines(t *testing.T) {
	ui = NewUI(true, true)
	ctx := context.Background()
	repos := storagetest.NewRepositories(t)

	for i, q := range []string{"When do I get paid?", "Do I need boots?", "Is parking free?"} {
		require.NoError(t, repos.Training.Create(ctx, &storage.TrainingRecord{
			InputText:    q,
			OutputText:   "answer " + q,
			QualityScore: 0.7 + float64(i)*0.1,
			Source:       "approved",
		}))
	}

	var buf bytes.Buffer
	written, err := exportTraining(ctx, repos.Training, time.Time{}, 2, 3, &buf)
	require.NoError(t, err)
	assert.Equal(t, 3, written)

	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	require.Len(t, lines, 3)
	var first storage.TrainingRecord
	require.NoError(t, json.Unmarshal([]byte(lines[0]), &first))
	assert.NotEmpty(t, first.InputText)
	assert.NotEmpty(t, first.OutputText)
}

func TestRootCommand_RegistersSubcommands(t *testing.T) {
	names := map[string]bool{}
	for _, c := range rootCmd.Commands() {
		names[c.Name()] = true
	}
	for _, want := range []string{"migrate", "faq", "kb", "query", "reply", "learn", "logs", "feedback", "stats", "sweep", "export-training", "events", "version"} {
		assert.True(t, names[want], want)
	}
}
