package logger

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// captureOutput redirects logger output to a buffer for testing. Returns
// the buffer and a cleanup function restoring the original output.
func captureOutput() (*bytes.Buffer, func()) {
	buf := new(bytes.Buffer)

	mu.Lock()
	originalOutput := output
	originalColor := useColor
	output = buf
	useColor = false
	mu.Unlock()

	reconfigure()

	cleanup := func() {
		mu.Lock()
		output = originalOutput
		useColor = originalColor
		mu.Unlock()
		reconfigure()
	}

	return buf, cleanup
}

func TestLevelFiltering(t *testing.T) {
	t.Run("DebugLevelShowsAllMessages", func(t *testing.T) {
		buf, cleanup := captureOutput()
		defer cleanup()

		SetLevel("DEBUG")

		Debug("debug message")
		Info("info message")
		Warn("warn message")
		Error("error message")

		out := buf.String()
		assert.Contains(t, out, "debug message")
		assert.Contains(t, out, "info message")
		assert.Contains(t, out, "warn message")
		assert.Contains(t, out, "error message")
	})

	t.Run("WarnLevelFiltersDebugAndInfo", func(t *testing.T) {
		buf, cleanup := captureOutput()
		defer cleanup()

		SetLevel("WARN")

		Debug("debug message")
		Info("info message")
		Warn("warn message")
		Error("error message")

		out := buf.String()
		assert.NotContains(t, out, "debug message")
		assert.NotContains(t, out, "info message")
		assert.Contains(t, out, "warn message")
		assert.Contains(t, out, "error message")
	})

	t.Run("InvalidLevelIgnored", func(t *testing.T) {
		buf, cleanup := captureOutput()
		defer cleanup()

		SetLevel("INFO")
		SetLevel("LOUD")
		reconfigure()

		Info("still here")
		assert.Contains(t, buf.String(), "still here")
	})
}

func TestJSONFormat(t *testing.T) {
	buf, cleanup := captureOutput()
	defer cleanup()

	SetLevel("INFO")
	SetFormat("json")
	defer SetFormat("text")

	Info("chunk stored",
		KeySessionID, "sess-1",
		KeyFileID, "file-1",
		KeyChunkIndex, 3)

	var entry map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &entry))
	assert.Equal(t, "chunk stored", entry["msg"])
	assert.Equal(t, "sess-1", entry[KeySessionID])
	assert.Equal(t, "file-1", entry[KeyFileID])
	assert.Equal(t, float64(3), entry[KeyChunkIndex])
}

func TestTextHandlerFormatting(t *testing.T) {
	buf, cleanup := captureOutput()
	defer cleanup()

	SetLevel("INFO")

	Info("chunk stored", KeyFileID, "file-1", "note", "two words")

	out := buf.String()
	assert.Contains(t, out, "[INFO]")
	assert.Contains(t, out, KeyFileID+"=file-1")
	assert.Contains(t, out, `note="two words"`)
}

func TestTextHandlerGroupPrefix(t *testing.T) {
	buf := new(bytes.Buffer)
	h := NewColorTextHandler(buf, nil, false)
	l := slog.New(h).WithGroup("transfer")

	l.Info("chunk stored", "index", 3)

	assert.Contains(t, buf.String(), "transfer.index=3")
}

func TestFieldConstructors(t *testing.T) {
	assert.Equal(t, KeySessionID, SessionID("s").Key)
	assert.Equal(t, "s", SessionID("s").Value.String())
	assert.Equal(t, KeyCommand, Command("LOGIN_REQUEST").Key)
	assert.Equal(t, KeyError, Err(errors.New("boom")).Key)
	assert.Equal(t, "boom", Err(errors.New("boom")).Value.String())
	assert.Empty(t, Err(nil).Key)
}

func TestContextFieldsInjected(t *testing.T) {
	buf, cleanup := captureOutput()
	defer cleanup()

	SetLevel("INFO")

	lc := NewLogContext("sess-42", "10.0.0.7")
	lc = lc.WithCommand("FILE_UPLOAD_CHUNK_REQUEST").WithUser("alice")
	ctx := WithContext(context.Background(), lc)

	InfoCtx(ctx, "chunk received")

	out := buf.String()
	assert.Contains(t, out, "sess-42")
	assert.Contains(t, out, "FILE_UPLOAD_CHUNK_REQUEST")
	assert.Contains(t, out, "10.0.0.7")
	assert.Contains(t, out, "alice")
}

func TestFromContextMissing(t *testing.T) {
	assert.Nil(t, FromContext(context.Background()))
	assert.Nil(t, FromContext(nil))

	// Logging with a bare context must not panic.
	buf, cleanup := captureOutput()
	defer cleanup()
	SetLevel("INFO")
	InfoCtx(context.Background(), "no context fields")
	assert.Contains(t, buf.String(), "no context fields")
}

func TestLogContextClone(t *testing.T) {
	lc := NewLogContext("sess-1", "127.0.0.1")
	derived := lc.WithCommand("LOGIN_REQUEST")

	assert.Empty(t, lc.Command, "original must not be mutated")
	assert.Equal(t, "LOGIN_REQUEST", derived.Command)
	assert.Equal(t, lc.SessionID, derived.SessionID)
}

func TestConcurrentLogging(t *testing.T) {
	buf, cleanup := captureOutput()
	defer cleanup()

	SetLevel("INFO")

	var wg sync.WaitGroup
	for i := 0; i < 16; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 25; j++ {
				Info("concurrent entry", KeyChunkIndex, j)
			}
		}()
	}
	wg.Wait()

	lines := strings.Count(buf.String(), "\n")
	assert.Equal(t, 16*25, lines)
}
