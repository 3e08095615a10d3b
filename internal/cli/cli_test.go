package cli

import (
	"bytes"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/happyhackingspace/seqcrf/internal/corpus"
)

const trainData = `# group: a
w=the DET
w=dog NOUN
w=runs VERB

w=the DET
w=cat NOUN
w=sleeps VERB

# group: b
w=a DET
w=dog NOUN
w=sleeps VERB

w=the DET
w=cat NOUN
w=runs VERB

# group: c
w=a DET
w=cat NOUN
w=runs VERB

w=a DET
w=dog NOUN
w=runs VERB
`

func runCLI(t *testing.T, args ...string) string {
	t.Helper()
	c := New("test")
	var out bytes.Buffer
	c.rootCmd.SetOut(&out)
	c.SetArgs(append([]string{"-s"}, args...))
	require.NoError(t, c.Run())
	return out.String()
}

func trainModel(t *testing.T) (dir, model string) {
	t.Helper()
	dir = t.TempDir()
	data := filepath.Join(dir, "train.txt")
	require.NoError(t, os.WriteFile(data, []byte(trainData), 0644))
	model = filepath.Join(dir, "model.json")
	runCLI(t, "train", model, "--data", data, "--workers", "2")
	return dir, model
}

func TestTrainAndTag(t *testing.T) {
	dir, model := trainModel(t)
	input := filepath.Join(dir, "input.txt")
	require.NoError(t, os.WriteFile(input, []byte("w=the\nw=cat\nw=sleeps\n"), 0644))

	out := runCLI(t, "tag", input, "--model", model)
	require.Equal(t, "w=the\tDET\nw=cat\tNOUN\nw=sleeps\tVERB\n\n", out)
}

func TestTagJSON(t *testing.T) {
	dir, model := trainModel(t)
	input := filepath.Join(dir, "input.txt")
	require.NoError(t, os.WriteFile(input, []byte("w=a NOUN\nw=dog NOUN\n\nw=runs VERB\n"), 0644))

	out := runCLI(t, "tag", input, "--model", model, "--labeled", "--nbest", "2", "--marginals")
	var results []sequenceResult
	require.NoError(t, json.Unmarshal([]byte(out), &results))
	require.Len(t, results, 2)
	for _, r := range results {
		require.Empty(t, r.Error)
		require.Len(t, r.Predictions, 2)
		require.GreaterOrEqual(t, r.Predictions[0].Probability, r.Predictions[1].Probability)
		require.Len(t, r.Marginals, len(r.Predictions[0].Labels))
	}
	require.True(t, strings.HasSuffix(results[0].Name, "input.txt:1"))
}

func TestTrainInvalidConfig(t *testing.T) {
	dir := t.TempDir()
	data := filepath.Join(dir, "train.txt")
	require.NoError(t, os.WriteFile(data, []byte(trainData), 0644))

	c := New("test")
	c.rootCmd.SetOut(&bytes.Buffer{})
	c.rootCmd.SetErr(&bytes.Buffer{})
	c.SetArgs([]string{"-s", "train", filepath.Join(dir, "m.json"), "--data", data, "--topology", "ring"})
	require.Error(t, c.Run())

	c = New("test")
	c.rootCmd.SetOut(&bytes.Buffer{})
	c.rootCmd.SetErr(&bytes.Buffer{})
	c.SetArgs([]string{"-s", "train", filepath.Join(dir, "m.json"), "--data", filepath.Join(dir, "missing.txt")})
	require.Error(t, c.Run())
}

func TestLogFormat(t *testing.T) {
	c := New("test")
	c.rootCmd.SetOut(&bytes.Buffer{})
	c.rootCmd.SetErr(&bytes.Buffer{})
	c.SetArgs([]string{"--log-format", "xml", "tag"})
	require.ErrorContains(t, c.Run(), "unknown log format")

	dir, model := trainModel(t)
	input := filepath.Join(dir, "input.txt")
	require.NoError(t, os.WriteFile(input, []byte("w=a\nw=dog\n"), 0644))

	c = New("test")
	var out, logs bytes.Buffer
	c.rootCmd.SetOut(&out)
	c.rootCmd.SetErr(&logs)
	c.SetArgs([]string{"--log-format", "json", "-v", "tag", input, "--model", model})
	require.NoError(t, c.Run())
	require.Equal(t, "w=a\tDET\nw=dog\tNOUN\n\n", out.String())
	require.Contains(t, logs.String(), `"msg":"Model loaded"`)
}

func TestExpandWords(t *testing.T) {
	seqs, err := corpus.Read(strings.NewReader("The x=1 DET\ndog NOUN\n"), corpus.DefaultReadOptions())
	require.NoError(t, err)
	expandWords(seqs)
	require.Contains(t, seqs[0].Tokens[0], "w=the")
	require.Contains(t, seqs[0].Tokens[0], "w[+1]=dog")
	require.Contains(t, seqs[0].Tokens[0], "x=1")
	require.Contains(t, seqs[0].Tokens[1], "suffix=og")
	require.Equal(t, []string{"DET", "NOUN"}, seqs[0].Labels)
}

func TestTrainWords(t *testing.T) {
	dir := t.TempDir()
	data := filepath.Join(dir, "train.txt")
	text := strings.ReplaceAll(trainData, "w=", "")
	require.NoError(t, os.WriteFile(data, []byte(text), 0644))
	model := filepath.Join(dir, "model.json")
	runCLI(t, "train", model, "--data", data, "--words")

	input := filepath.Join(dir, "input.txt")
	require.NoError(t, os.WriteFile(input, []byte("a\ncat\nsleeps\n"), 0644))
	out := runCLI(t, "tag", input, "--model", model, "--words")
	require.Equal(t, "a\tDET\ncat\tNOUN\nsleeps\tVERB\n\n", out)
}
