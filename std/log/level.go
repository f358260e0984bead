package log

import (
	"fmt"
	"strings"
)

type Level int

const (
	LevelTrace Level = -8
	LevelDebug Level = -4
	LevelInfo  Level = 0
	LevelWarn  Level = 4
	LevelError Level = 8
	LevelFatal Level = 12
)

var levelNames = map[Level]string{
	LevelTrace: "TRACE",
	LevelDebug: "DEBUG",
	LevelInfo:  "INFO",
	LevelWarn:  "WARN",
	LevelError: "ERROR",
	LevelFatal: "FATAL",
}

// ParseLevel converts a level name (case-insensitive) to a Level.
// An empty string selects LevelInfo.
func ParseLevel(s string) (Level, error) {
	s = strings.ToUpper(strings.TrimSpace(s))
	if s == "" {
		return LevelInfo, nil
	}
	for level, name := range levelNames {
		if name == s {
			return level, nil
		}
	}
	return LevelInfo, fmt.Errorf("invalid log level: %q", s)
}

func (level Level) String() string {
	if name, ok := levelNames[level]; ok {
		return name
	}
	return "UNKNOWN"
}
