// Package opsreport aggregates the per-operation metrics entries a server
// writes with LOG_FORMAT=json into a summary.
package opsreport

import (
	"bufio"
	"io"
	"math"
	"sort"
	"strconv"
	"strings"

	"github.com/bytedance/sonic"
)

// DefaultMessage is the log message carried by operation metrics entries.
const DefaultMessage = "board.operation.metrics"

const (
	fieldMsg       = "msg"
	fieldLevel     = "level"
	fieldEvent     = "event"
	fieldTransport = "transport"
	fieldOK        = "ok"
	fieldApplied   = "applied"
	fieldDuplicate = "duplicate"
	fieldErrorKind = "error_kind"
	fieldTotalMs   = "total_ms"
	fieldApplyMs   = "apply_ms"
)

type numericStats struct {
	Count int
	Sum   float64
	Min   float64
	Max   float64
}

// DurationSummary describes one millisecond field.
type DurationSummary struct {
	Count int     `json:"count"`
	Min   float64 `json:"min_ms"`
	Max   float64 `json:"max_ms"`
	Avg   float64 `json:"avg_ms"`
}

// Summary is the aggregate written by the report command.
type Summary struct {
	Message      string                     `json:"message"`
	Total        int                        `json:"total_operations"`
	Levels       map[string]int             `json:"levels"`
	Events       map[string]int             `json:"events"`
	Transports   map[string]int             `json:"transports"`
	Applied      int                        `json:"applied"`
	NoOps        int                        `json:"no_ops"`
	Rejected     int                        `json:"rejected"`
	Duplicates   int                        `json:"duplicates"`
	ErrorKinds   map[string]int             `json:"error_kinds,omitempty"`
	DurationMs   map[string]DurationSummary `json:"duration_ms"`
	SkippedLines int                        `json:"skipped_lines"`
}

// Collector accumulates metrics entries line by line.
type Collector struct {
	message    string
	total      int
	levels     map[string]int
	events     map[string]int
	transports map[string]int
	applied    int
	noOps      int
	rejected   int
	duplicates int
	errorKinds map[string]int
	durations  map[string]*numericStats
	skipped    int
}

// NewCollector returns a collector for entries logged with message.
func NewCollector(message string) *Collector {
	if message == "" {
		message = DefaultMessage
	}
	return &Collector{
		message:    message,
		levels:     make(map[string]int),
		events:     make(map[string]int),
		transports: make(map[string]int),
		errorKinds: make(map[string]int),
		durations:  make(map[string]*numericStats),
	}
}

// ReadFrom ingests every line of r.
func (c *Collector) ReadFrom(r io.Reader) (int64, error) {
	var n int64
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 64*1024), 1<<20)
	for scanner.Scan() {
		n += int64(len(scanner.Bytes())) + 1
		c.Ingest(scanner.Text())
	}
	return n, scanner.Err()
}

// Ingest adds one log line. Lines that are not JSON count as skipped; JSON
// entries with another message are ignored.
func (c *Collector) Ingest(line string) {
	trimmed := strings.TrimSpace(line)
	if trimmed == "" {
		return
	}
	// docker compose prefixes lines with "service | ".
	if pipe := strings.Index(trimmed, "|"); pipe >= 0 && !strings.HasPrefix(trimmed, "{") {
		trimmed = strings.TrimSpace(trimmed[pipe+1:])
	}
	var rec map[string]any
	if err := sonic.UnmarshalString(trimmed, &rec); err != nil {
		c.skipped++
		return
	}
	if msg, _ := rec[fieldMsg].(string); msg != c.message {
		return
	}
	c.add(rec)
}

func (c *Collector) add(rec map[string]any) {
	c.total++

	level, _ := rec[fieldLevel].(string)
	if level == "" {
		level = "unspecified"
	}
	c.levels[strings.ToLower(level)]++

	if event, ok := rec[fieldEvent].(string); ok && event != "" {
		c.events[event]++
	}
	if transport, ok := rec[fieldTransport].(string); ok && transport != "" {
		c.transports[transport]++
	}

	ok, _ := rec[fieldOK].(bool)
	applied, _ := rec[fieldApplied].(bool)
	duplicate, _ := rec[fieldDuplicate].(bool)
	switch {
	case duplicate:
		c.duplicates++
	case !ok:
		c.rejected++
	case applied:
		c.applied++
	default:
		c.noOps++
	}
	if kind, ok := rec[fieldErrorKind].(string); ok && kind != "" {
		c.errorKinds[kind]++
	}

	if v, ok := asFloat(rec[fieldTotalMs]); ok {
		c.addDuration("total", v)
	}
	if v, ok := asFloat(rec[fieldApplyMs]); ok {
		c.addDuration("apply", v)
	}
}

func (c *Collector) addDuration(key string, value float64) {
	stat, ok := c.durations[key]
	if !ok {
		stat = &numericStats{Min: math.MaxFloat64}
		c.durations[key] = stat
	}
	stat.Count++
	stat.Sum += value
	stat.Min = min(stat.Min, value)
	stat.Max = max(stat.Max, value)
}

func (n *numericStats) summary() DurationSummary {
	if n == nil || n.Count == 0 {
		return DurationSummary{}
	}
	return DurationSummary{Count: n.Count, Min: n.Min, Max: n.Max, Avg: n.Sum / float64(n.Count)}
}

// Summary returns a copy of the aggregate so far.
func (c *Collector) Summary() Summary {
	durations := make(map[string]DurationSummary, len(c.durations))
	for key, stat := range c.durations {
		durations[key] = stat.summary()
	}
	return Summary{
		Message:      c.message,
		Total:        c.total,
		Levels:       copyCounts(c.levels),
		Events:       copyCounts(c.events),
		Transports:   copyCounts(c.transports),
		Applied:      c.applied,
		NoOps:        c.noOps,
		Rejected:     c.rejected,
		Duplicates:   c.duplicates,
		ErrorKinds:   compactCounts(c.errorKinds),
		DurationMs:   durations,
		SkippedLines: c.skipped,
	}
}

func copyCounts(in map[string]int) map[string]int {
	out := make(map[string]int, len(in))
	for k, v := range in {
		out[k] = v
	}
	return out
}

func compactCounts(in map[string]int) map[string]int {
	if len(in) == 0 {
		return nil
	}
	return copyCounts(in)
}

// ShortString renders a one-line digest.
func (s Summary) ShortString() string {
	total := s.DurationMs["total"]
	parts := []string{
		"total=" + strconv.Itoa(s.Total),
		"applied=" + strconv.Itoa(s.Applied),
		"no_ops=" + strconv.Itoa(s.NoOps),
		"rejected=" + strconv.Itoa(s.Rejected),
		"duplicates=" + strconv.Itoa(s.Duplicates),
		"avg_total_ms=" + formatFloat(total.Avg),
		"max_total_ms=" + formatFloat(total.Max),
	}
	kinds := make([]string, 0, len(s.ErrorKinds))
	for k := range s.ErrorKinds {
		kinds = append(kinds, k)
	}
	sort.Strings(kinds)
	for _, k := range kinds {
		parts = append(parts, k+"="+strconv.Itoa(s.ErrorKinds[k]))
	}
	return strings.Join(parts, " ")
}

func formatFloat(v float64) string {
	if v == 0 {
		return "0"
	}
	return strconv.FormatFloat(v, 'f', 2, 64)
}

func asFloat(value any) (float64, bool) {
	switch v := value.(type) {
	case float64:
		return v, true
	case int64:
		return float64(v), true
	case string:
		f, err := strconv.ParseFloat(v, 64)
		return f, err == nil
	default:
		return 0, false
	}
}
