package outcome

import (
	"encoding/json"
	"fmt"
	"regexp"
	"strconv"
	"strings"
)

// ParseError reports a line that is not a routing outcome.
type ParseError struct {
	Line   string
	Reason string
}

func (e *ParseError) Error() string {
	line := e.Line
	if len(line) > 120 {
		line = line[:120]
	}
	return fmt.Sprintf("parse outcome: %s: %q", e.Reason, line)
}

var (
	kvPool           = regexp.MustCompile(`\bpool="([^"]*)"`)
	kvRelease        = regexp.MustCompile(`\brelease="([^"]*)"`)
	kvUpstreamStatus = regexp.MustCompile(`\bupstream_status=([0-9][0-9, :]*)`)
	kvStatus         = regexp.MustCompile(`(?:^|\s)status=(\d{3})`)
	kvRequestTime    = regexp.MustCompile(`\brequest_time=([0-9.]+)`)
)

// Parse decodes one outcome line. JSON lines come from Writer; anything else
// is read as an nginx key=value access line such as
//
//	pool="blue" release="blue-v1.0.0" upstream_status=502, 200 request_time=0.004
func Parse(line string) (Outcome, error) {
	line = strings.TrimSpace(line)
	if line == "" {
		return Outcome{}, &ParseError{Line: line, Reason: "empty line"}
	}

	if strings.HasPrefix(line, "{") {
		return parseJSON(line)
	}
	return parseKV(line)
}

func parseJSON(line string) (Outcome, error) {
	var o Outcome
	if err := json.Unmarshal([]byte(line), &o); err != nil {
		return Outcome{}, &ParseError{Line: line, Reason: err.Error()}
	}

	if o.Pool == "" || o.Pool == "-" {
		return Outcome{}, &ParseError{Line: line, Reason: "missing pool"}
	}

	if o.Class == "" {
		o.Class = ClassOf(o.Status)
	}

	return o, nil
}

func parseKV(line string) (Outcome, error) {
	var o Outcome

	if m := kvPool.FindStringSubmatch(line); m != nil {
		o.Pool = m[1]
	}
	if o.Pool == "" || o.Pool == "-" {
		return Outcome{}, &ParseError{Line: line, Reason: "missing pool"}
	}

	if m := kvRelease.FindStringSubmatch(line); m != nil {
		o.Release = m[1]
	}

	if m := kvUpstreamStatus.FindStringSubmatch(line); m != nil {
		o.UpstreamStatus = splitStatuses(m[1])
	}

	if m := kvStatus.FindStringSubmatch(line); m != nil {
		o.Status, _ = strconv.Atoi(m[1])
	} else if n := len(o.UpstreamStatus); n > 0 {
		o.Status = o.UpstreamStatus[n-1]
	}

	if o.Status == 0 {
		return Outcome{}, &ParseError{Line: line, Reason: "missing status"}
	}

	if m := kvRequestTime.FindStringSubmatch(line); m != nil {
		seconds, _ := strconv.ParseFloat(m[1], 64)
		o.LatencyMS = seconds * 1000
	}

	o.Attempts = len(o.UpstreamStatus)
	o.Class = ClassOf(o.Status)
	return o, nil
}

// splitStatuses reads nginx's "502, 200" or "502 : 200" upstream lists.
func splitStatuses(raw string) []int {
	fields := strings.FieldsFunc(raw, func(r rune) bool {
		return r == ',' || r == ':' || r == ' '
	})

	out := make([]int, 0, len(fields))
	for _, f := range fields {
		code, err := strconv.Atoi(f)
		if err != nil {
			continue
		}
		out = append(out, code)
	}
	return out
}
