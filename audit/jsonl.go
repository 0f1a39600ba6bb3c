package audit

import (
	"bufio"
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"sync"

	"go.uber.org/zap"

	"github.com/teranos/gnis/errors"
	"github.com/teranos/gnis/logger"
)

// JSONLSink appends one JSON object per event to a file.
type JSONLSink struct {
	path   string
	logger *zap.SugaredLogger

	mu sync.Mutex
	f  *os.File
}

// NewJSONLSink opens path for appending, creating it and its directory.
func NewJSONLSink(path string, l *zap.SugaredLogger) (*JSONLSink, error) {
	if path == "" {
		return nil, errors.NewInvalidRequestError("audit jsonl path is empty")
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, errors.Wrapf(err, "create audit directory for %s", path)
	}
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return nil, errors.Wrapf(err, "open audit log %s", path)
	}
	return &JSONLSink{path: path, f: f, logger: logger.OrNop(l)}, nil
}

// Log implements Sink.
func (s *JSONLSink) Log(ctx context.Context, event string, payload any) {
	data, err := json.Marshal(newEntry(ctx, event, payload))
	if err != nil {
		s.logger.Warnw("Dropping audit event", "event", event, logger.FieldError, err)
		return
	}
	data = append(data, '\n')

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.f == nil {
		s.logger.Warnw("Dropping audit event, sink closed", "event", event, logger.FieldPath, s.path)
		return
	}
	if _, err := s.f.Write(data); err != nil {
		s.logger.Warnw("Dropping audit event", "event", event, logger.FieldPath, s.path, logger.FieldError, err)
	}
}

// Close closes the underlying file. Later events are dropped.
func (s *JSONLSink) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.f == nil {
		return nil
	}
	err := s.f.Close()
	s.f = nil
	return errors.Wrapf(err, "close audit log %s", s.path)
}

// ReadJSONL reads every entry of an audit file. Payloads decode as generic
// JSON values.
func ReadJSONL(path string) ([]Entry, error) {
	f, err := os.Open(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, errors.Wrapf(err, "open audit log %s", path)
	}
	defer f.Close()

	var out []Entry
	sc := bufio.NewScanner(f)
	sc.Buffer(make([]byte, 0, 64*1024), 16*1024*1024)
	for line := 1; sc.Scan(); line++ {
		if len(sc.Bytes()) == 0 {
			continue
		}
		var e Entry
		if err := json.Unmarshal(sc.Bytes(), &e); err != nil {
			return nil, errors.Wrapf(err, "%s:%d", path, line)
		}
		out = append(out, e)
	}
	return out, errors.Wrapf(sc.Err(), "read audit log %s", path)
}
