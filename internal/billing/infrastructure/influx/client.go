package influx

import (
	"context"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"
)

const defaultBucket = "home_assistant/autogen"

// Config holds connection details of a Flux query endpoint.
type Config struct {
	URL      string
	Bucket   string
	Username string
	Password string
	Token    string
	Timeout  time.Duration
}

// Client posts Flux queries and decodes annotated CSV responses.
type Client struct {
	url      string
	bucket   string
	username string
	password string
	token    string
	client   *http.Client
}

// Point is one decoded row.
type Point struct {
	Time  time.Time
	Value float64
}

// NewClient constructs a Flux client.
func NewClient(cfg Config) (*Client, error) {
	if cfg.URL == "" {
		return nil, errors.New("influx: empty url")
	}
	bucket := cfg.Bucket
	if bucket == "" {
		bucket = defaultBucket
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &Client{
		url:      strings.TrimRight(cfg.URL, "/"),
		bucket:   bucket,
		username: cfg.Username,
		password: cfg.Password,
		token:    cfg.Token,
		client:   &http.Client{Timeout: timeout},
	}, nil
}

// HourlyFirst returns the first value of every hour of a sensor in [start, stop).
// Each point is stamped with the start of its hour.
func (c *Client) HourlyFirst(ctx context.Context, sensor string, start, stop time.Time) ([]Point, error) {
	domain, entity := splitEntity(sensor)
	flux := fmt.Sprintf(`from(bucket: %q)
  |> range(start: %s, stop: %s)
  |> filter(fn: (r) => r["entity_id"] == %q)
  |> filter(fn: (r) => r["_field"] == "value")
  |> filter(fn: (r) => r["domain"] == %q)
  |> window(every: 1h)
  |> first()
  |> duplicate(column: "_start", as: "_time")
  |> window(every: inf)
  |> keep(columns: ["_time", "_value"])`,
		c.bucket, fluxTime(start), fluxTime(stop), entity, domain)
	return c.Query(ctx, flux)
}

// Edge returns the first (or last) strictly positive value of a sensor in
// [start, stop). ok is false when there is none.
func (c *Client) Edge(ctx context.Context, sensor string, start, stop time.Time, last bool) (Point, bool, error) {
	domain, entity := splitEntity(sensor)
	selector := "first()"
	if last {
		selector = "last()"
	}
	flux := fmt.Sprintf(`from(bucket: %q)
  |> range(start: %s, stop: %s)
  |> filter(fn: (r) => r["entity_id"] == %q)
  |> filter(fn: (r) => r["_field"] == "value")
  |> filter(fn: (r) => r["domain"] == %q)
  |> filter(fn: (r) => r["_value"] > 0.0)
  |> %s
  |> keep(columns: ["_time", "_value"])`,
		c.bucket, fluxTime(start), fluxTime(stop), entity, domain, selector)
	points, err := c.Query(ctx, flux)
	if err != nil || len(points) == 0 {
		return Point{}, false, err
	}
	return points[0], true, nil
}

// Query runs a Flux query.
func (c *Client) Query(ctx context.Context, flux string) ([]Point, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.url, strings.NewReader(flux))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/vnd.flux")
	req.Header.Set("Accept", "application/csv")
	switch {
	case c.token != "":
		req.Header.Set("Authorization", "Token "+c.token)
	case c.username != "":
		req.SetBasicAuth(c.username, c.password)
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		snippet, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return nil, fmt.Errorf("influx: http %d: %s", resp.StatusCode, strings.TrimSpace(string(snippet)))
	}
	return parseAnnotatedCSV(resp.Body)
}

// parseAnnotatedCSV decodes the _time and _value columns of every table in
// the response. Annotation rows start with '#' and each table repeats its
// header row.
func parseAnnotatedCSV(r io.Reader) ([]Point, error) {
	reader := csv.NewReader(r)
	reader.Comment = '#'
	reader.FieldsPerRecord = -1
	reader.ReuseRecord = true

	timeCol, valueCol := -1, -1
	var out []Point
	for {
		record, err := reader.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("influx: csv: %w", err)
		}
		if t, v := headerColumns(record); t >= 0 && v >= 0 {
			timeCol, valueCol = t, v
			continue
		}
		if timeCol < 0 || timeCol >= len(record) || valueCol >= len(record) {
			continue
		}
		raw := strings.TrimSpace(record[valueCol])
		if raw == "" {
			continue
		}
		ts, err := time.Parse(time.RFC3339Nano, strings.TrimSpace(record[timeCol]))
		if err != nil {
			return nil, fmt.Errorf("influx: time %q: %w", record[timeCol], err)
		}
		value, err := strconv.ParseFloat(raw, 64)
		if err != nil {
			continue
		}
		out = append(out, Point{Time: ts.UTC(), Value: value})
	}
	return out, nil
}

func headerColumns(record []string) (int, int) {
	timeCol, valueCol := -1, -1
	for i, name := range record {
		switch name {
		case "_time":
			timeCol = i
		case "_value":
			valueCol = i
		}
	}
	return timeCol, valueCol
}

// splitEntity maps "sensor.guest_energy" to its domain and entity id.
func splitEntity(sensor string) (string, string) {
	if domain, entity, ok := strings.Cut(sensor, "."); ok {
		return domain, entity
	}
	return "sensor", sensor
}

func fluxTime(t time.Time) string {
	return t.UTC().Format(time.RFC3339)
}
