// Package stressconfig loads and validates the configuration of the
// synchstress tool.
package stressconfig

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/joeycumines/logiface"
)

type (
	// Config is the full stress run configuration.
	Config struct {
		Threads  int      `toml:"threads"`
		Duration Duration `toml:"duration"`
		Seed     int64    `toml:"seed"`
		LogLevel string   `toml:"log_level"`
		// Timeout bounds every individual wait. Zero polls, negative is
		// rejected.
		Timeout Duration `toml:"timeout"`

		Manager Manager `toml:"manager"`
		Objects Objects `toml:"objects"`
		Mix     Mix     `toml:"mix"`
	}

	// Manager configures the synchronization manager under test.
	Manager struct {
		Worker           bool     `toml:"worker"`
		WorkerInterval   Duration `toml:"worker_interval"`
		MaxRegistrations int      `toml:"max_registrations"`
		MaxThreads       int      `toml:"max_threads"`
	}

	// Objects is the population of shared objects.
	Objects struct {
		Mutexes      int `toml:"mutexes"`
		Events       int `toml:"events"`
		Semaphores   int `toml:"semaphores"`
		SemaphoreMax int `toml:"semaphore_max"`
		// MaxBatch is the largest number of handles in a single wait.
		MaxBatch int `toml:"max_batch"`
	}

	// Mix holds the relative weights of each operation.
	Mix struct {
		WaitAny        int `toml:"wait_any"`
		WaitAll        int `toml:"wait_all"`
		SignalAndWait  int `toml:"signal_and_wait"`
		AlertableSleep int `toml:"alertable_sleep"`
		Suspend        int `toml:"suspend"`
	}

	// Duration is a time.Duration encoded as a Go duration string.
	Duration time.Duration
)

var (
	// ErrInvalid is wrapped by every validation failure.
	ErrInvalid = errors.New("stressconfig: invalid configuration")

	levels = map[string]logiface.Level{
		"disabled": logiface.LevelDisabled,
		"err":      logiface.LevelError,
		"error":    logiface.LevelError,
		"warning":  logiface.LevelWarning,
		"warn":     logiface.LevelWarning,
		"notice":   logiface.LevelNotice,
		"info":     logiface.LevelInformational,
		"debug":    logiface.LevelDebug,
		"trace":    logiface.LevelTrace,
	}
)

// Default returns the configuration used when nothing is specified.
func Default() Config {
	return Config{
		Threads:  8,
		Duration: Duration(2 * time.Second),
		Seed:     1,
		LogLevel: "info",
		Timeout:  Duration(50 * time.Millisecond),
		Manager: Manager{
			Worker:         true,
			WorkerInterval: Duration(20 * time.Millisecond),
		},
		Objects: Objects{
			Mutexes:      4,
			Events:       4,
			Semaphores:   2,
			SemaphoreMax: 4,
			MaxBatch:     4,
		},
		Mix: Mix{
			WaitAny:        40,
			WaitAll:        20,
			SignalAndWait:  20,
			AlertableSleep: 10,
			Suspend:        10,
		},
	}
}

// Load reads the TOML file at path over the defaults. Keys that do not map
// to a field are rejected.
func Load(path string) (Config, error) {
	cfg := Default()
	meta, err := toml.DecodeFile(path, &cfg)
	if err != nil {
		return Config{}, fmt.Errorf("%s: failed to parse TOML: %w", path, err)
	}
	if undecoded := meta.Undecoded(); len(undecoded) != 0 {
		keys := make([]string, len(undecoded))
		for i, k := range undecoded {
			keys[i] = k.String()
		}
		return Config{}, fmt.Errorf("%w: %s: unknown keys: %s", ErrInvalid, path, strings.Join(keys, ", "))
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, fmt.Errorf("%s: %w", path, err)
	}
	return cfg, nil
}

// Validate checks the configuration for consistency.
func (x Config) Validate() error {
	var errs []error
	check := func(ok bool, format string, args ...any) {
		if !ok {
			errs = append(errs, fmt.Errorf("%w: "+format, append([]any{ErrInvalid}, args...)...))
		}
	}

	check(x.Threads > 0, "threads must be positive, got %d", x.Threads)
	check(x.Duration > 0, "duration must be positive, got %s", x.Duration)
	check(x.Timeout >= 0, "timeout must not be negative, got %s", x.Timeout)
	_, ok := levels[strings.ToLower(x.LogLevel)]
	check(ok, "unknown log_level %q", x.LogLevel)

	check(x.Manager.WorkerInterval >= 0, "manager.worker_interval must not be negative, got %s", x.Manager.WorkerInterval)
	check(x.Manager.MaxRegistrations >= 0, "manager.max_registrations must not be negative, got %d", x.Manager.MaxRegistrations)
	check(x.Manager.MaxThreads == 0 || x.Manager.MaxThreads >= x.Threads,
		"manager.max_threads (%d) must be 0 or at least threads (%d)", x.Manager.MaxThreads, x.Threads)

	o := x.Objects
	check(o.Mutexes >= 0 && o.Events >= 0 && o.Semaphores >= 0, "object counts must not be negative")
	check(o.Total() > 0, "at least one object is required")
	check(o.Semaphores == 0 || o.SemaphoreMax > 0, "objects.semaphore_max must be positive, got %d", o.SemaphoreMax)
	check(o.MaxBatch > 0 && o.MaxBatch <= 64, "objects.max_batch must be within [1, 64], got %d", o.MaxBatch)

	m := x.Mix
	check(m.WaitAny >= 0 && m.WaitAll >= 0 && m.SignalAndWait >= 0 && m.AlertableSleep >= 0 && m.Suspend >= 0,
		"mix weights must not be negative")
	check(m.Total() > 0, "at least one mix weight must be positive")

	return errors.Join(errs...)
}

// Level returns the parsed log level. It returns LevelInformational for
// unrecognized values, which Validate rejects.
func (x Config) Level() logiface.Level {
	if level, ok := levels[strings.ToLower(x.LogLevel)]; ok {
		return level
	}
	return logiface.LevelInformational
}

func (x Objects) Total() int { return x.Mutexes + x.Events + x.Semaphores }

func (x Mix) Total() int {
	return x.WaitAny + x.WaitAll + x.SignalAndWait + x.AlertableSleep + x.Suspend
}

// Pick maps n, in [0, Total()), to the name of an operation.
func (x Mix) Pick(n int) Op {
	for _, w := range [...]struct {
		op     Op
		weight int
	}{
		{OpWaitAny, x.WaitAny},
		{OpWaitAll, x.WaitAll},
		{OpSignalAndWait, x.SignalAndWait},
		{OpAlertableSleep, x.AlertableSleep},
		{OpSuspend, x.Suspend},
	} {
		if n < w.weight {
			return w.op
		}
		n -= w.weight
	}
	return OpWaitAny
}

// Op is a stress operation.
type Op uint8

const (
	OpWaitAny Op = iota
	OpWaitAll
	OpSignalAndWait
	OpAlertableSleep
	OpSuspend
)

func (x Op) String() string {
	switch x {
	case OpWaitAny:
		return "wait_any"
	case OpWaitAll:
		return "wait_all"
	case OpSignalAndWait:
		return "signal_and_wait"
	case OpAlertableSleep:
		return "alertable_sleep"
	case OpSuspend:
		return "suspend"
	default:
		return fmt.Sprintf("Op(%d)", uint8(x))
	}
}

func (x Duration) String() string { return time.Duration(x).String() }

func (x Duration) MarshalText() ([]byte, error) { return []byte(x.String()), nil }

func (x *Duration) UnmarshalText(text []byte) error {
	d, err := time.ParseDuration(string(text))
	if err != nil {
		return err
	}
	*x = Duration(d)
	return nil
}
