package logger

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestInitLogger(t *testing.T) {
	logFile := filepath.Join(t.TempDir(), "test.log")

	err := NewBuilder().
		AddLevelFile(INFO, logFile).
		SetMaxSize(10).
		SetMaxBackups(3).
		SetMaxAge(1).
		SetLevel(DEBUG).
		Build()
	require.NoError(t, err)
	defer Close()

	Info().Msg("init test")

	_, err = os.Stat(logFile)
	assert.NoError(t, err)
}

func TestInstanceField(t *testing.T) {
	logFile := filepath.Join(t.TempDir(), "instance.log")

	err := NewBuilder().
		AddLevelFile(INFO, logFile).
		SetLevel(DEBUG).
		SetInstance("engine-a").
		Build()
	require.NoError(t, err)
	defer Close()

	Info().Str("fingerprint", "abc").Msg("signal claimed")
	c := Component("dedup")
	c.Info().Msg("layer hit")

	content, err := os.ReadFile(logFile)
	require.NoError(t, err)
	assert.True(t, strings.Contains(string(content), "instance=engine-a"))
	assert.True(t, strings.Contains(string(content), "component=dedup"))
}

func TestErrorLoggingWithStack(t *testing.T) {
	tmpDir := t.TempDir()
	infoFile := filepath.Join(tmpDir, "info.log")
	errorFile := filepath.Join(tmpDir, "error.log")

	err := NewBuilder().
		AddLevelFile(INFO, infoFile).
		AddLevelFile(ERROR, errorFile).
		SetLevel(DEBUG).
		Build()
	require.NoError(t, err)
	defer Close()

	testErr := errors.New("version conflict")
	Error().Stack().Err(testErr).Msg("persist failed")
	Err(testErr).Msg("via Err")

	content, err := os.ReadFile(errorFile)
	require.NoError(t, err)
	assert.NotEmpty(t, content)
}

func TestCompatMethods(t *testing.T) {
	logFile := filepath.Join(t.TempDir(), "test.log")

	err := NewBuilder().
		AddLevelFile(INFO, logFile).
		SetLevel(DEBUG).
		Build()
	require.NoError(t, err)
	defer Close()

	Infof("infof message: %d", 123)
	Debugf("debugf message: %f", 3.14)
	Warnf("warnf message: %t", true)
	Errorf("errorf message: %v", errors.New("test"))
	Infof("no verbs", "a", 1)

	content, err := os.ReadFile(logFile)
	require.NoError(t, err)
	assert.NotEmpty(t, content)
}

func TestLevelFallback(t *testing.T) {
	tmpDir := t.TempDir()
	infoFile := filepath.Join(tmpDir, "info.log")
	errorFile := filepath.Join(tmpDir, "error.log")

	err := NewBuilder().
		AddLevelFile(INFO, infoFile).
		AddLevelFile(ERROR, errorFile).
		SetLevel(DEBUG).
		Build()
	require.NoError(t, err)
	defer Close()

	Warn().Msg("warn goes to info file")
	Error().Msg("error only")
	time.Sleep(10 * time.Millisecond)

	info, err := os.ReadFile(infoFile)
	require.NoError(t, err)
	assert.Contains(t, string(info), "warn goes to info file")
	assert.NotContains(t, string(info), "error only")
}

func TestDefaultConfig(t *testing.T) {
	config := DefaultConfig()

	assert.False(t, config.LevelFiles.IsEmpty())
	assert.Equal(t, 10, config.MaxSize)
	assert.Equal(t, 100, config.MaxBackups)
	assert.Equal(t, INFO, config.Level)
	assert.True(t, config.LevelFiles.HasLevel(ERROR))

	errorPath, ok := config.LevelFiles.GetPath(ERROR)
	assert.True(t, ok)
	assert.Equal(t, "logs/err.log", errorPath)
}

func TestAddLevelFileReplacesDefaults(t *testing.T) {
	b := NewBuilder().AddLevelFile(WARN, "x/warn.log")
	assert.Len(t, b.config.LevelFiles, 1)
	assert.False(t, b.config.LevelFiles.HasLevel(ERROR))
}
