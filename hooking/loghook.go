package hooking

import (
	"github.com/sirupsen/logrus"
)

// A LogHook writes every hook invocation of a domain to a logger.
type LogHook struct {
	logger *logrus.Logger
	level  logrus.Level
}

// NewLogHook creates a LogHook that logs at the given level.
func NewLogHook(logger *logrus.Logger, level logrus.Level) *LogHook {
	return &LogHook{logger: logger, level: level}
}

// Func logs the hook position and the item.
func (h *LogHook) Func(ctx HookCtx) {
	if !h.logger.IsLevelEnabled(h.level) {
		return
	}

	entry := h.logger.WithField("pos", ctx.Pos.Name)

	if named, ok := ctx.Domain.(interface{ Name() string }); ok {
		entry = entry.WithField("domain", named.Name())
	}

	if ctx.Detail != nil {
		entry = entry.WithField("detail", ctx.Detail)
	}

	entry.Logf(h.level, "%T %+v", ctx.Item, ctx.Item)
}
