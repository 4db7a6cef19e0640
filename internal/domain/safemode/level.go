package safemode

import "fmt"

// Level is the execution safe-mode severity. The integer order is load-
// bearing: downgrades and upgrades compare levels directly.
type Level int

const (
	LevelNormal Level = iota
	LevelPreAlert
	LevelAlert
	LevelHighAlert
	LevelCritical
)

var levelNames = map[Level]string{
	LevelNormal:    "NORMAL",
	LevelPreAlert:  "PRE_ALERT",
	LevelAlert:     "ALERT",
	LevelHighAlert: "HIGH_ALERT",
	LevelCritical:  "CRITICAL",
}

func (l Level) String() string {
	if name, ok := levelNames[l]; ok {
		return name
	}
	return fmt.Sprintf("LEVEL_%d", int(l))
}

// ParseLevel maps the wire name back to a Level.
func ParseLevel(s string) (Level, error) {
	for l, name := range levelNames {
		if name == s {
			return l, nil
		}
	}
	return LevelNormal, fmt.Errorf("unknown safe-mode level %q", s)
}

// MarshalText/UnmarshalText keep persisted state human-readable.
func (l Level) MarshalText() ([]byte, error) {
	return []byte(l.String()), nil
}

func (l *Level) UnmarshalText(text []byte) error {
	parsed, err := ParseLevel(string(text))
	if err != nil {
		return err
	}
	*l = parsed
	return nil
}
