package report

import (
	"encoding/csv"
	"net/http"
	"os"
	"strconv"
	"strings"
	"sync"

	"ratecheck/internal/runner"
)

// CSVHeader is a JMeter-style column set plus the admission metadata.
var CSVHeader = []string{
	"timeStamp", "elapsed", "label", "responseCode", "responseMessage",
	"threadName", "iteration", "success", "failureMessage", "bytes", "URL",
	"remaining", "reset", "blockUntil",
}

// CSVSink streams one row per request. Safe for concurrent use.
type CSVSink struct {
	mu  sync.Mutex
	f   *os.File
	w   *csv.Writer
	url string
}

func NewCSVSink(path, url string) (*CSVSink, error) {
	f, err := os.Create(path)
	if err != nil {
		return nil, err
	}
	w := csv.NewWriter(f)
	if err := w.Write(CSVHeader); err != nil {
		f.Close()
		return nil, err
	}
	return &CSVSink{f: f, w: w, url: url}, nil
}

func (s *CSVSink) Write(r runner.Result) error {
	o := r.Outcome

	var failures []string
	for _, c := range o.Failures() {
		msg := c.Name
		if c.Detail != "" {
			msg += ": " + c.Detail
		}
		failures = append(failures, msg)
	}

	status := ""
	if o.Status != 0 {
		status = strconv.Itoa(o.Status)
	}

	record := []string{
		strconv.FormatInt(o.At.UnixMilli(), 10),
		strconv.FormatInt(o.Latency.Milliseconds(), 10),
		o.Kind.String(),
		status,
		http.StatusText(o.Status),
		"caller-" + strconv.Itoa(r.CallerID),
		strconv.Itoa(r.Iteration),
		strconv.FormatBool(len(failures) == 0),
		strings.Join(failures, "; "),
		strconv.FormatInt(o.Bytes, 10),
		s.url,
		o.Remaining,
		o.Reset,
		o.BlockUntil,
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.w.Write(record); err != nil {
		return err
	}
	return nil
}

// Close flushes buffered rows and closes the file.
func (s *CSVSink) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.w.Flush()
	if err := s.w.Error(); err != nil {
		s.f.Close()
		return err
	}
	return s.f.Close()
}
