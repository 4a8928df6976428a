package log

import "github.com/rs/zerolog"

// RaftLogger adapts a zerolog.Logger to raft.Logger (Log(level, message,
// kv...)) without pkg/log importing pkg/raft, so raftd can pass
// log.NewRaftLogger(...) to raft.WithLogger.
type RaftLogger struct {
	logger zerolog.Logger
}

func NewRaftLogger(logger zerolog.Logger) RaftLogger {
	return RaftLogger{logger: logger}
}

// Log implements raft.Logger. kv is an alternating key/value list, the
// same convention the teacher's zerolog.Event.Fields would consume.
func (l RaftLogger) Log(level, message string, kv ...interface{}) {
	var event *zerolog.Event
	switch level {
	case "debug":
		event = l.logger.Debug()
	case "warn":
		event = l.logger.Warn()
	case "error":
		event = l.logger.Error()
	default:
		event = l.logger.Info()
	}
	for i := 0; i+1 < len(kv); i += 2 {
		key, ok := kv[i].(string)
		if !ok {
			continue
		}
		event = event.Interface(key, kv[i+1])
	}
	event.Msg(message)
}
