package hostlog

import (
	"bytes"
	"encoding/json"
	"log/slog"
)

// A Log is one line of JSON output from a simulation.
type Log struct {
	Level   slog.Level `json:"level"`
	Msg     string     `json:"msg"`
	Step    int        `json:"step"`
	Host    string     `json:"host"`
	PID     int        `json:"pid"`
	TID     int        `json:"tid"`
	Syscall string     `json:"syscall"`
	Result  string     `json:"result"`
	Args    []string   `json:"args"`
}

// ParseLog parses newline separated JSON logs. Lines that are not JSON
// objects are skipped.
func ParseLog(logs []byte) []*Log {
	var out []*Log

	for _, line := range bytes.Split(logs, []byte("\n")) {
		if len(bytes.TrimSpace(line)) == 0 {
			continue
		}
		var log Log
		if err := json.Unmarshal(line, &log); err != nil {
			continue
		}
		out = append(out, &log)
	}

	return out
}
