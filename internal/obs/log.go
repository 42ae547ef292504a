package obs

import (
	"encoding/json"
	"log"
	"os"
	"sync"
	"time"
)

var (
	loggerOnce sync.Once
	logger     *log.Logger
)

// Logger returns the shared logger. Output is one JSON object per line
// on stdout; tests swap the writer via SetOutput.
func Logger() *log.Logger {
	loggerOnce.Do(func() {
		logger = log.New(os.Stdout, "", 0)
	})
	return logger
}

// RequestEntry describes one completed HTTP request.
type RequestEntry struct {
	Method    string
	Path      string
	Status    int
	Duration  time.Duration
	RequestID string
}

// LogRequest emits the entry as a JSON line, stamping ts/level/msg so
// every request line carries the same envelope.
func LogRequest(e RequestEntry) {
	line := struct {
		TS         string `json:"ts"`
		Level      string `json:"level"`
		Msg        string `json:"msg"`
		Method     string `json:"method"`
		Path       string `json:"path"`
		Status     int    `json:"status"`
		DurationMS int64  `json:"duration_ms"`
		RequestID  string `json:"request_id"`
	}{
		TS:         time.Now().UTC().Format(time.RFC3339Nano),
		Level:      "info",
		Msg:        "request_complete",
		Method:     e.Method,
		Path:       e.Path,
		Status:     e.Status,
		DurationMS: e.Duration.Milliseconds(),
		RequestID:  e.RequestID,
	}
	data, err := json.Marshal(line)
	if err != nil {
		Logger().Println(`{"ts":"","level":"error","msg":"log marshal failed"}`)
		return
	}
	Logger().Println(string(data))
}
