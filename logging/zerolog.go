package logging

import "github.com/rs/zerolog"

// zerologAdapter wraps a zerolog.Logger to satisfy Logger, folding the
// alternating key/value pairs into zerolog's fluent event builder the
// way the teacher's own services attach fields via .With().Interface().
type zerologAdapter struct {
	log zerolog.Logger
}

// NewZerolog adapts an existing zerolog.Logger. Callers configure level,
// output, and formatting themselves (see the teacher's logger.Init
// pattern) and pass the result in here.
func NewZerolog(log zerolog.Logger) Logger {
	return zerologAdapter{log: log}
}

func (a zerologAdapter) Debug(msg string, kv ...any) { a.event(a.log.Debug(), kv).Msg(msg) }
func (a zerologAdapter) Info(msg string, kv ...any)  { a.event(a.log.Info(), kv).Msg(msg) }
func (a zerologAdapter) Warn(msg string, kv ...any)  { a.event(a.log.Warn(), kv).Msg(msg) }
func (a zerologAdapter) Error(msg string, kv ...any) { a.event(a.log.Error(), kv).Msg(msg) }

func (a zerologAdapter) event(e *zerolog.Event, kv []any) *zerolog.Event {
	for i := 0; i+1 < len(kv); i += 2 {
		key, ok := kv[i].(string)
		if !ok {
			continue
		}
		e = e.Interface(key, kv[i+1])
	}
	return e
}

var _ Logger = zerologAdapter{}
