// Package census fetches places from the US Census Bureau data API and
// transforms them into canonical records.
package census

import (
	"context"
	"encoding/json"
	"io"
	"math"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/teranos/gnis/connector"
	"github.com/teranos/gnis/errors"
	"github.com/teranos/gnis/internal/httpclient"
	"github.com/teranos/gnis/logger"
	"github.com/teranos/gnis/record"
)

const (
	DefaultAPIURL            = "https://api.census.gov/data"
	DefaultYear              = 2020
	DefaultTimeout           = 30 * time.Second
	DefaultMaxRetries        = 3
	DefaultRequestsPerSecond = 10.0

	Provider  = "US Census Bureau"
	License   = "Public Domain"
	UserAgent = "GNIS-Enterprise/1.0"

	healthcheckTimeout = 5 * time.Second
	maxBodyBytes       = 64 << 20
)

// Config configures a Connector. Zero values select the defaults.
type Config struct {
	APIURL            string
	APIKey            string
	Timeout           time.Duration
	MaxRetries        int
	RequestsPerSecond float64
	AllowPrivateHosts bool
}

// Connector talks to the Census data API. Requests from concurrent callers
// share one rate limiter.
type Connector struct {
	cfg     Config
	client  *httpclient.Client
	limiter *rate.Limiter
	retry   connector.RetryPolicy
	now     func() time.Time
	newID   func() string
	logger  *zap.SugaredLogger
}

// Option configures a Connector.
type Option func(*Connector)

// WithClock sets the clock used for record timestamps.
func WithClock(now func() time.Time) Option {
	return func(c *Connector) { c.now = now }
}

// WithIDs sets the record id generator.
func WithIDs(newID func() string) Option {
	return func(c *Connector) { c.newID = newID }
}

// WithLogger sets the connector's logger.
func WithLogger(l *zap.SugaredLogger) Option {
	return func(c *Connector) { c.logger = l }
}

// WithRetryDelay sets the base backoff between attempts.
func WithRetryDelay(d time.Duration) Option {
	return func(c *Connector) { c.retry.BaseDelay = d }
}

// New validates cfg and builds a Connector.
func New(cfg Config, opts ...Option) (*Connector, error) {
	if cfg.APIURL == "" {
		cfg.APIURL = DefaultAPIURL
	}
	cfg.APIURL = strings.TrimRight(cfg.APIURL, "/")
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultTimeout
	}
	if cfg.MaxRetries < 0 {
		return nil, errors.NewInvalidRequestError("census max retries must be >= 0, got %d", cfg.MaxRetries)
	}
	if cfg.RequestsPerSecond <= 0 {
		cfg.RequestsPerSecond = DefaultRequestsPerSecond
	}

	client := httpclient.New(httpclient.Options{
		Timeout:           cfg.Timeout,
		AllowPrivateHosts: cfg.AllowPrivateHosts,
	})
	if _, err := client.ValidateURL(cfg.APIURL); err != nil {
		return nil, errors.WithHint(errors.Wrap(err, "census api url"),
			"set census.allow_private_hosts to reach a local mirror")
	}

	c := &Connector{
		cfg:     cfg,
		client:  client,
		limiter: rate.NewLimiter(rate.Limit(cfg.RequestsPerSecond), 1),
		retry:   connector.RetryPolicy{MaxRetries: cfg.MaxRetries},
		now:     time.Now,
		newID:   uuid.NewString,
	}
	for _, opt := range opts {
		opt(c)
	}
	if c.logger == nil {
		c.logger = logger.ComponentLogger("connector.census")
	}
	return c, nil
}

// FetchGeographicData requests one dataset and returns it as canonical records.
// Failures that survive the retry budget are classified: 429 wraps
// errors.ErrRateLimitExceeded and 401 wraps errors.ErrAuthenticationFailed.
func (c *Connector) FetchGeographicData(ctx context.Context, params connector.Params) (*connector.Response, error) {
	if params.Dataset == "" {
		return nil, errors.NewInvalidRequestError("census dataset is required")
	}
	endpoint := c.buildURL(params)
	log := logger.FromContext(ctx, c.logger)

	var body []byte
	err := connector.Retry(ctx, c.retry, func(ctx context.Context, attempt int) error {
		if err := c.limiter.Wait(ctx); err != nil {
			return connector.Permanent(errors.Wrap(err, "rate limiter"))
		}
		var err error
		body, err = c.get(ctx, endpoint, "application/json")
		if err != nil && connector.Retryable(err) && attempt < c.retry.MaxRetries {
			log.Debugw("Retrying census request", logger.FieldAttempt, attempt+1, logger.FieldError, err)
		}
		return err
	})
	if err != nil {
		err = connector.Classified(err)
		log.Warnw("Census request failed",
			logger.FieldURL, redact(endpoint),
			logger.FieldErrorCode, connector.Classify(err),
			logger.FieldError, err)
		return nil, errors.Wrapf(err, "fetch census dataset %s", params.Dataset)
	}

	rows, err := decodeRows(body)
	if err != nil {
		return nil, errors.Wrapf(err, "decode census dataset %s", params.Dataset)
	}

	recs := make([]*record.Record, 0, len(rows))
	for _, row := range rows {
		recs = append(recs, c.transform(row, params))
	}
	log.Infow("Fetched census places", logger.FieldCount, len(recs), "dataset", params.Dataset)
	return connector.NewResponse(recs), nil
}

// TestConnection reports whether the API's healthcheck answers 200.
func (c *Connector) TestConnection(ctx context.Context) bool {
	ctx, cancel := context.WithTimeout(ctx, healthcheckTimeout)
	defer cancel()

	q := url.Values{}
	if c.cfg.APIKey != "" {
		q.Set("key", c.cfg.APIKey)
	}
	endpoint := c.cfg.APIURL + "/healthcheck"
	if len(q) > 0 {
		endpoint += "?" + q.Encode()
	}
	_, err := c.get(ctx, endpoint, "")
	if err != nil {
		c.logger.Debugw("Census healthcheck failed", logger.FieldError, err)
	}
	return err == nil
}

func (c *Connector) buildURL(p connector.Params) string {
	year := p.Year
	if year == 0 {
		year = DefaultYear
	}
	q := url.Values{}
	if len(p.Variables) > 0 {
		q.Set("get", strings.Join(p.Variables, ","))
	}
	if p.Geography != "" {
		q.Set("for", p.Geography)
	}
	if c.cfg.APIKey != "" {
		q.Set("key", c.cfg.APIKey)
	}

	u := c.cfg.APIURL + "/" + strconv.Itoa(year) + "/" + strings.Trim(p.Dataset, "/")
	if len(q) > 0 {
		u += "?" + q.Encode()
	}
	return u
}

func (c *Connector) get(ctx context.Context, endpoint, accept string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, connector.Permanent(errors.Wrap(err, "create request"))
	}
	req.Header.Set("User-Agent", UserAgent)
	if accept != "" {
		req.Header.Set("Accept", accept)
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, errors.Wrap(err, "census request")
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxBodyBytes))
	if err != nil {
		return nil, errors.Wrap(err, "read census response")
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, &connector.StatusError{StatusCode: resp.StatusCode, Body: snippet(body)}
	}
	return body, nil
}

func redact(endpoint string) string {
	u, err := url.Parse(endpoint)
	if err != nil {
		return endpoint
	}
	q := u.Query()
	if q.Has("key") {
		q.Set("key", "REDACTED")
		u.RawQuery = q.Encode()
	}
	return u.String()
}

func snippet(body []byte) string {
	s := strings.TrimSpace(string(body))
	if len(s) > 200 {
		s = s[:200] + "..."
	}
	return s
}

// decodeRows accepts the API's native header-row table
// ([["NAME","POP"],["Springfield","114394"]]) or an array of objects.
func decodeRows(body []byte) ([]map[string]any, error) {
	var raw []json.RawMessage
	if err := json.Unmarshal(body, &raw); err != nil {
		return nil, errors.Wrap(err, "census response is not a JSON array")
	}
	if len(raw) == 0 {
		return nil, nil
	}

	var header []string
	if err := json.Unmarshal(raw[0], &header); err == nil {
		rows := make([]map[string]any, 0, len(raw)-1)
		for i, r := range raw[1:] {
			var cells []any
			if err := json.Unmarshal(r, &cells); err != nil {
				return nil, errors.Wrapf(err, "row %d", i+1)
			}
			row := make(map[string]any, len(header))
			for j, name := range header {
				if j < len(cells) {
					row[name] = cells[j]
				}
			}
			rows = append(rows, row)
		}
		return rows, nil
	}

	rows := make([]map[string]any, 0, len(raw))
	for i, r := range raw {
		var row map[string]any
		if err := json.Unmarshal(r, &row); err != nil || row == nil {
			return nil, errors.Newf("row %d is neither a header-row table nor an object", i)
		}
		rows = append(rows, row)
	}
	return rows, nil
}

func (c *Connector) transform(row map[string]any, p connector.Params) *record.Record {
	now := c.now().UTC().Format(time.RFC3339Nano)

	dataset := text(row, "DATASET")
	if dataset == "" {
		dataset = p.Dataset
	}
	year := p.Year
	if y, ok := number(row, "YEAR"); ok {
		year = int(y)
	}

	rec := &record.Record{
		ID:   c.newID(),
		Type: "Feature",
		Name: &record.Name{Primary: text(row, "NAME")},
		Geometry: &record.Geometry{
			Type: "Point",
		},
		Properties: &record.Properties{
			Classification: &record.Classification{Category: "administrative", Subcategory: "census_place"},
			Location: &record.Location{
				Country:     "United States",
				CountryCode: "US",
				State:       text(row, "STATE"),
			},
			Demographics: &record.Demographics{PopulationYear: year},
		},
		Metadata: &record.Metadata{
			Created:  now,
			Modified: now,
			Version:  1,
			Source: &record.Source{
				Provider:      Provider,
				Dataset:       dataset,
				IngestionDate: now,
				License:       License,
				APIEndpoint:   c.cfg.APIURL,
			},
		},
	}

	lon, okLon := number(row, "INTPTLON")
	lat, okLat := number(row, "INTPTLAT")
	if okLon && okLat {
		rec.Geometry.Coordinates = []float64{lon, lat}
	}
	if pop, ok := number(row, "POP"); ok {
		pop = float64(int64(pop))
		rec.Properties.Demographics.Population = &pop
	}
	if geoid := text(row, "GEOID"); geoid != "" {
		rec.Properties.Identifiers = map[string]string{"fipsCode": geoid}
	}
	return rec
}

func text(row map[string]any, key string) string {
	switch v := row[key].(type) {
	case string:
		return v
	case float64:
		return strconv.FormatFloat(v, 'f', -1, 64)
	default:
		return ""
	}
}

func number(row map[string]any, key string) (float64, bool) {
	switch v := row[key].(type) {
	case float64:
		return v, true
	case string:
		f, err := strconv.ParseFloat(strings.TrimSpace(v), 64)
		return f, err == nil && !math.IsNaN(f) && !math.IsInf(f, 0)
	default:
		return 0, false
	}
}
