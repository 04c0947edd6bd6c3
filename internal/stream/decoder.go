// Package stream decodes the verification record stream.
//
// The backend pushes newline-delimited records of the form
//
//	data: {"event": "test_result", "data": {...}}
//
// over a chunked response body. Chunk boundaries fall anywhere, including
// mid-JSON-token, so the decoder buffers bytes until a full line is
// available. One Decoder serves exactly one verification run; overlapping
// runs must each get their own instance or their buffers would interleave.
package stream

import (
	"encoding/json"
	"fmt"
	"io"
	"strings"

	"github.com/tidwall/gjson"
)

// marker prefixes every record line.
const marker = "data: "

// Kind identifies the record variant.
type Kind int

const (
	// KindStart announces the run; carries the test file path.
	KindStart Kind = iota
	// KindTestResult reports one finished test.
	KindTestResult
	// KindComplete carries the run's aggregate outcome. It is normally the
	// last record but is NOT a terminator; only transport end-of-stream
	// finishes a run.
	KindComplete
	// KindError reports a backend-side failure; the run is aborted.
	KindError
)

// String returns the wire name of the record kind.
func (k Kind) String() string {
	switch k {
	case KindStart:
		return "start"
	case KindTestResult:
		return "test_result"
	case KindComplete:
		return "complete"
	case KindError:
		return "error"
	default:
		return "unknown"
	}
}

// Event is one decoded record. Fields are populated per Kind.
type Event struct {
	Kind Kind

	// start
	TestFile string

	// test_result
	Name        string
	Status      string
	Passed      bool
	DisplayName string

	// complete
	Success    bool
	PassCount  int
	FailCount  int
	Total      int
	Duration   float64 // seconds
	VideoFiles []string
	LogFile    string
	ReportPath string

	// error
	Message string
}

// SkipFunc is invoked for each line that carried the marker but could not
// be decoded. Skips are never stream-fatal; decoding continues.
type SkipFunc func(line string, err error)

// Decoder reassembles records from arbitrarily-chunked bytes.
type Decoder struct {
	rem    string // trailing fragment of the last chunk, not yet terminated
	onSkip SkipFunc
}

// NewDecoder returns a Decoder for a single verification run.
// onSkip may be nil.
func NewDecoder(onSkip SkipFunc) *Decoder {
	return &Decoder{onSkip: onSkip}
}

// Feed appends a chunk to the buffer and returns all events whose lines are
// now fully terminated, in arrival order. The trailing unterminated fragment
// is retained for the next chunk.
func (d *Decoder) Feed(chunk []byte) []Event {
	d.rem += string(chunk)

	var events []Event
	for {
		idx := strings.IndexByte(d.rem, '\n')
		if idx < 0 {
			break
		}
		line := strings.TrimRight(d.rem[:idx], "\r")
		d.rem = d.rem[idx+1:]

		ev, ok, err := d.parseLine(line)
		if err != nil {
			if d.onSkip != nil {
				d.onSkip(line, err)
			}
			continue
		}
		if ok {
			events = append(events, ev)
		}
	}
	return events
}

// Drain reads r until end-of-stream, feeding the decoder and invoking fn for
// each event in order. fn may return an error to abort the drain early; that
// error is returned as-is. A transport read failure is returned wrapped.
// A normal end-of-stream returns nil regardless of which records were seen.
func (d *Decoder) Drain(r io.Reader, fn func(Event) error) error {
	buf := make([]byte, 4096)
	for {
		n, err := r.Read(buf)
		if n > 0 {
			for _, ev := range d.Feed(buf[:n]) {
				if ferr := fn(ev); ferr != nil {
					return ferr
				}
			}
		}
		if err == io.EOF {
			return nil
		}
		if err != nil {
			return fmt.Errorf("reading stream: %w", err)
		}
	}
}

// parseLine decodes one complete line. ok is false for lines that carry no
// record (blank lines, other SSE fields); err marks a marker line that could
// not be decoded and must be skipped.
func (d *Decoder) parseLine(line string) (Event, bool, error) {
	if !strings.HasPrefix(line, marker) {
		return Event{}, false, nil
	}
	payload := line[len(marker):]

	if !gjson.Valid(payload) {
		return Event{}, false, fmt.Errorf("invalid JSON payload")
	}
	name := gjson.Get(payload, "event").String()
	data := gjson.Get(payload, "data").Raw
	if data == "" {
		data = "{}"
	}

	switch name {
	case "start":
		var body struct {
			TestFile string `json:"test_file"`
		}
		if err := json.Unmarshal([]byte(data), &body); err != nil {
			return Event{}, false, fmt.Errorf("decoding start record: %w", err)
		}
		return Event{Kind: KindStart, TestFile: body.TestFile}, true, nil

	case "test_result":
		var body struct {
			Name        string `json:"name"`
			Status      string `json:"status"`
			Passed      bool   `json:"passed"`
			DisplayName string `json:"display_name"`
		}
		if err := json.Unmarshal([]byte(data), &body); err != nil {
			return Event{}, false, fmt.Errorf("decoding test_result record: %w", err)
		}
		return Event{
			Kind:        KindTestResult,
			Name:        body.Name,
			Status:      body.Status,
			Passed:      body.Passed,
			DisplayName: body.DisplayName,
		}, true, nil

	case "complete":
		var body struct {
			Success    bool     `json:"success"`
			Passed     int      `json:"passed"`
			Failed     int      `json:"failed"`
			Total      int      `json:"total"`
			Duration   float64  `json:"duration"`
			VideoFiles []string `json:"video_files"`
			LogFile    string   `json:"log_file"`
			ReportPath string   `json:"report_path"`
		}
		if err := json.Unmarshal([]byte(data), &body); err != nil {
			return Event{}, false, fmt.Errorf("decoding complete record: %w", err)
		}
		return Event{
			Kind:       KindComplete,
			Success:    body.Success,
			PassCount:  body.Passed,
			FailCount:  body.Failed,
			Total:      body.Total,
			Duration:   body.Duration,
			VideoFiles: body.VideoFiles,
			LogFile:    body.LogFile,
			ReportPath: body.ReportPath,
		}, true, nil

	case "error":
		var body struct {
			Error string `json:"error"`
		}
		if err := json.Unmarshal([]byte(data), &body); err != nil {
			return Event{}, false, fmt.Errorf("decoding error record: %w", err)
		}
		return Event{Kind: KindError, Message: body.Error}, true, nil

	default:
		return Event{}, false, fmt.Errorf("unknown event %q", name)
	}
}
