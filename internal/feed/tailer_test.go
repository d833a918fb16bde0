package feed

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func appendFile(t *testing.T, path, data string) {
	t.Helper()
	f, err := os.OpenFile(path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0644)
	require.NoError(t, err)
	_, err = f.WriteString(data)
	require.NoError(t, err)
	require.NoError(t, f.Close())
}

const (
	sessionLine = `{"kind":"session","id":"s1","projectPath":"/src/chronicle","startTime":"2026-03-01T12:00:00Z"}` + "\n"
	eventLine1  = `{"kind":"event","id":"e1","sessionId":"s1","type":"pre_tool_use","toolName":"Read","timestamp":"2026-03-01T12:00:01Z"}` + "\n"
	eventLine2  = `{"kind":"event","id":"e2","sessionId":"s1","type":"post_tool_use","toolName":"Read","timestamp":"2026-03-01T12:00:02Z"}` + "\n"
)

func TestFileTailer_ReadNew(t *testing.T) {
	path := filepath.Join(t.TempDir(), "events.jsonl")
	sink := newRecordingSink()
	tl := NewFileTailer(path, sink, nil)

	res, err := tl.ReadNew()
	require.NoError(t, err, "missing file reads as empty")
	assert.Equal(t, SyncResult{}, res)

	appendFile(t, path, sessionLine+eventLine1)
	res, err = tl.ReadNew()
	require.NoError(t, err)
	assert.Equal(t, SyncResult{Sessions: 1, Events: 1, Admitted: 1}, res)
	assert.Equal(t, 1, sink.sessionCount())
	assert.Equal(t, []string{"e1"}, sink.eventIDs())

	// A partial line waits until it is complete.
	appendFile(t, path, eventLine2[:20])
	res, err = tl.ReadNew()
	require.NoError(t, err)
	assert.Zero(t, res.Events)

	appendFile(t, path, eventLine2[20:])
	res, err = tl.ReadNew()
	require.NoError(t, err)
	assert.Equal(t, 1, res.Events)
	assert.Equal(t, []string{"e1", "e2"}, sink.eventIDs())

	info, err := os.Stat(path)
	require.NoError(t, err)
	assert.Equal(t, info.Size(), tl.Stats().Offset)
}

func TestFileTailer_MalformedLinesSkipped(t *testing.T) {
	path := filepath.Join(t.TempDir(), "events.jsonl")
	sink := newRecordingSink()
	tl := NewFileTailer(path, sink, nil)

	appendFile(t, path, "not json\n"+`{"kind":"bogus"}`+"\n\n"+`{"kind":"event","id":"e9"}`+"\n"+eventLine1)
	res, err := tl.ReadNew()
	require.NoError(t, err)
	assert.Equal(t, 2, res.Events)
	assert.Equal(t, 1, res.Admitted, "event without session id is rejected by the sink")

	st := tl.Stats()
	assert.Equal(t, uint64(2), st.Malformed)
	assert.Equal(t, uint64(5), st.Lines)
}

func TestFileTailer_Truncation(t *testing.T) {
	path := filepath.Join(t.TempDir(), "events.jsonl")
	sink := newRecordingSink()
	tl := NewFileTailer(path, sink, nil)

	appendFile(t, path, eventLine1+eventLine2)
	_, err := tl.ReadNew()
	require.NoError(t, err)

	require.NoError(t, os.WriteFile(path, []byte(sessionLine), 0644))
	res, err := tl.ReadNew()
	require.NoError(t, err)
	assert.Equal(t, 1, res.Sessions)
}

func TestFileTailer_Ping(t *testing.T) {
	path := filepath.Join(t.TempDir(), "events.jsonl")
	tl := NewFileTailer(path, newRecordingSink(), nil)
	assert.Error(t, tl.Ping(context.Background()))

	appendFile(t, path, "")
	assert.NoError(t, tl.Ping(context.Background()))
}

func TestFileTailer_RunFollowsAppends(t *testing.T) {
	path := filepath.Join(t.TempDir(), "events.jsonl")
	appendFile(t, path, sessionLine)
	sink := newRecordingSink()
	tl := NewFileTailer(path, sink, nil)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- tl.Run(ctx) }()

	assert.Eventually(t, func() bool { return sink.sessionCount() == 1 }, 2*time.Second, 10*time.Millisecond)

	appendFile(t, path, eventLine1)
	assert.Eventually(t, func() bool { return len(sink.eventIDs()) == 1 }, 2*time.Second, 10*time.Millisecond)

	cancel()
	assert.NoError(t, <-done)
}

func TestImport(t *testing.T) {
	input := strings.Join([]string{
		`{"kind":"session","id":"S1","projectPath":"/src/chronicle"}`,
		`{"kind":"event","id":"e1","sessionId":"S1","type":"pre_tool_use","toolName":"Read"}`,
		``,
		`{"kind":"event","id":"e1","sessionId":"S1","type":"pre_tool_use","toolName":"Read"}`,
		`{"kind":"session"}`,
		`{"kind":"mystery"}`,
		`{"kind":"event","id":"e2","sessionId":"S1","type":"stop"}`,
	}, "\n")

	sink := newRecordingSink()
	res, malformed, err := Import(strings.NewReader(input), sink, nil)
	require.NoError(t, err)

	assert.Equal(t, SyncResult{Sessions: 2, Events: 3, Admitted: 2, Rejected: 1}, res)
	assert.Equal(t, uint64(1), malformed)
	assert.Equal(t, []string{"e1", "e2"}, sink.eventIDs(), "last line without newline is processed")
	assert.Equal(t, 1, sink.sessionCount())
}
