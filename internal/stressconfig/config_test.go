package stressconfig

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/joeycumines/logiface"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "stress.toml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
	return path
}

func TestDefault_Valid(t *testing.T) {
	cfg := Default()
	require.NoError(t, cfg.Validate())
	assert.Equal(t, logiface.LevelInformational, cfg.Level())
}

func TestLoad_OverridesDefaults(t *testing.T) {
	path := writeConfig(t, `
threads = 3
duration = "750ms"
log_level = "DEBUG"

[manager]
worker = false
max_registrations = 32

[objects]
semaphores = 0

[mix]
suspend = 0
`)
	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, 3, cfg.Threads)
	assert.Equal(t, Duration(750*time.Millisecond), cfg.Duration)
	assert.Equal(t, logiface.LevelDebug, cfg.Level())
	assert.False(t, cfg.Manager.Worker)
	assert.Equal(t, 32, cfg.Manager.MaxRegistrations)
	assert.Equal(t, Duration(20*time.Millisecond), cfg.Manager.WorkerInterval, "unset keys keep their default")
	assert.Zero(t, cfg.Objects.Semaphores)
	assert.Equal(t, 4, cfg.Objects.Mutexes)
	assert.Zero(t, cfg.Mix.Suspend)
}

func TestLoad_Errors(t *testing.T) {
	for _, tc := range [...]struct {
		name    string
		content string
		invalid bool
	}{
		{name: "syntax", content: `threads = `},
		{name: "bad duration", content: `duration = "soon"`},
		{name: "unknown key", content: "[objects]\nmutex = 1\n", invalid: true},
		{name: "zero threads", content: `threads = 0`, invalid: true},
		{name: "batch too large", content: "[objects]\nmax_batch = 65\n", invalid: true},
		{name: "no objects", content: "[objects]\nmutexes = 0\nevents = 0\nsemaphores = 0\n", invalid: true},
		{name: "too few max threads", content: "threads = 4\n[manager]\nmax_threads = 2\n", invalid: true},
	} {
		t.Run(tc.name, func(t *testing.T) {
			_, err := Load(writeConfig(t, tc.content))
			require.Error(t, err)
			if tc.invalid {
				assert.ErrorIs(t, err, ErrInvalid)
			} else {
				assert.NotErrorIs(t, err, ErrInvalid)
			}
		})
	}

	_, err := Load(filepath.Join(t.TempDir(), "missing.toml"))
	assert.ErrorIs(t, err, os.ErrNotExist)
}

func TestValidate_JoinsErrors(t *testing.T) {
	cfg := Default()
	cfg.Threads = -1
	cfg.LogLevel = "loud"
	cfg.Mix = Mix{}
	err := cfg.Validate()
	require.ErrorIs(t, err, ErrInvalid)
	assert.Contains(t, err.Error(), "threads must be positive")
	assert.Contains(t, err.Error(), `unknown log_level "loud"`)
	assert.Contains(t, err.Error(), "at least one mix weight")
}

func TestMix_Pick(t *testing.T) {
	m := Mix{WaitAny: 1, WaitAll: 2, SignalAndWait: 0, AlertableSleep: 1, Suspend: 1}
	var got []Op
	for n := range m.Total() {
		got = append(got, m.Pick(n))
	}
	assert.Equal(t, []Op{OpWaitAny, OpWaitAll, OpWaitAll, OpAlertableSleep, OpSuspend}, got)
	assert.Equal(t, "signal_and_wait", OpSignalAndWait.String())
}
