// Package file reads canonical records from a local file: a JSON array, a
// {"data": [...]} envelope, or newline-delimited JSON.
package file

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"io"
	"os"

	"go.uber.org/zap"

	"github.com/teranos/gnis/connector"
	"github.com/teranos/gnis/errors"
	"github.com/teranos/gnis/logger"
	"github.com/teranos/gnis/record"
)

// Connector serves the records of one file. Params are ignored.
type Connector struct {
	path   string
	logger *zap.SugaredLogger
}

// New returns a Connector for path. The file is read on every fetch.
func New(path string, l *zap.SugaredLogger) *Connector {
	if l == nil {
		l = logger.ComponentLogger("connector.file")
	}
	return &Connector{path: path, logger: l}
}

// FetchGeographicData reads and decodes the file.
func (c *Connector) FetchGeographicData(ctx context.Context, _ connector.Params) (*connector.Response, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	data, err := os.ReadFile(c.path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, errors.NewNotFoundError("record file %s", c.path)
		}
		return nil, errors.Wrapf(err, "read record file %s", c.path)
	}

	recs, err := Decode(data)
	if err != nil {
		return nil, errors.Wrapf(err, "decode record file %s", c.path)
	}
	logger.FromContext(ctx, c.logger).Infow("Loaded records", logger.FieldPath, c.path, logger.FieldCount, len(recs))
	return connector.NewResponse(recs), nil
}

// Decode detects the layout of data and decodes every record in it.
func Decode(data []byte) ([]*record.Record, error) {
	trimmed := bytes.TrimSpace(data)
	if len(trimmed) == 0 {
		return nil, nil
	}

	switch trimmed[0] {
	case '[':
		return decodeArray(trimmed)
	case '{':
		var envelope struct {
			Data *[]json.RawMessage `json:"data"`
		}
		if err := json.Unmarshal(trimmed, &envelope); err == nil && envelope.Data != nil {
			return decodeRaw(*envelope.Data)
		}
		return decodeLines(trimmed)
	default:
		return nil, errors.New("expected a JSON array, a data envelope or NDJSON")
	}
}

func decodeArray(data []byte) ([]*record.Record, error) {
	var raw []json.RawMessage
	if err := json.Unmarshal(data, &raw); err != nil {
		return nil, errors.Wrap(err, "decode record array")
	}
	return decodeRaw(raw)
}

func decodeRaw(raw []json.RawMessage) ([]*record.Record, error) {
	recs := make([]*record.Record, 0, len(raw))
	for i, r := range raw {
		rec, err := record.Decode(r)
		if err != nil {
			return nil, errors.Wrapf(err, "record %d", i)
		}
		recs = append(recs, rec)
	}
	return recs, nil
}

func decodeLines(data []byte) ([]*record.Record, error) {
	var recs []*record.Record
	r := bufio.NewReader(bytes.NewReader(data))
	for line := 1; ; line++ {
		text, err := r.ReadBytes('\n')
		if len(bytes.TrimSpace(text)) > 0 {
			rec, decErr := record.Decode(bytes.TrimSpace(text))
			if decErr != nil {
				return nil, errors.Wrapf(decErr, "line %d", line)
			}
			recs = append(recs, rec)
		}
		if err == io.EOF {
			return recs, nil
		}
		if err != nil {
			return nil, errors.Wrapf(err, "line %d", line)
		}
	}
}
