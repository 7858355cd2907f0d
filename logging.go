package synchmgr

import (
	"time"

	catrate "github.com/joeycumines/go-catrate"
	"github.com/joeycumines/logiface"
)

// Log categories, also used as rate limit categories.
const (
	logCategoryWorker    = "worker"
	logCategoryShutdown  = "shutdown"
	logCategoryThread    = "thread"
	logCategoryAbandon   = "abandon"
	logCategoryOverflow  = "overflow"
	logCategoryExhausted = "exhausted"
)

// warningRates bounds the repetitive warnings, per category.
var warningRates = map[time.Duration]int{
	time.Second: 5,
	time.Minute: 60,
}

// managerLogger pairs the configured logger with a per-category limiter.
// A nil logger disables everything, at the cost of a nil check.
type managerLogger struct {
	logger  *logiface.Logger[logiface.Event]
	limiter *catrate.Limiter
}

func newManagerLogger(logger *logiface.Logger[logiface.Event]) managerLogger {
	l := managerLogger{logger: logger}
	if logger != nil {
		l.limiter = catrate.NewLimiter(warningRates)
	}
	return l
}

func (l managerLogger) info(category string) *logiface.Builder[logiface.Event] {
	return l.logger.Info().Str("category", category)
}

func (l managerLogger) debug(category string) *logiface.Builder[logiface.Event] {
	return l.logger.Debug().Str("category", category)
}

func (l managerLogger) err(category string, err error) *logiface.Builder[logiface.Event] {
	return l.logger.Err().Str("category", category).Err(err)
}

// limitedWarning returns nil (a disabled builder) if the category exceeded
// its rate.
func (l managerLogger) limitedWarning(category string) *logiface.Builder[logiface.Event] {
	if l.logger == nil {
		return nil
	}
	if _, ok := l.limiter.Allow(category); !ok {
		return nil
	}
	return l.logger.Warning().Str("category", category)
}
