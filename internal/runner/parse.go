package runner

import (
	"bufio"
	"encoding/json"
	"io"
	"strings"

	"goaccept/pkg/doctest"
)

// Event is one line of the test2json stream. Fields the collation does
// not need are left out.
type Event struct {
	Action string `json:"Action"`
	Test   string `json:"Test"`
	Output string `json:"Output"`
}

// parseStream decodes the newline-delimited JSON events emitted by
// "go test -json". Lines that are not valid events (a build failure
// prints plain text) are skipped.
func parseStream(r io.Reader) ([]Event, error) {
	var events []Event
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64*1024), 4*1024*1024)

	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		var ev Event
		if err := json.Unmarshal([]byte(line), &ev); err != nil {
			continue
		}
		events = append(events, ev)
	}
	return events, scanner.Err()
}

// collate folds the event stream into one result per known example. A
// passing example synthesizes a result equal to its recorded want; a
// failing one carries the "got:" section the testing package prints, or
// a structured failure when the run died before producing output.
func collate(events []Event, byName map[string]doctest.Example) []doctest.Result {
	outputs := make(map[string]*strings.Builder)
	verdicts := make(map[string]string)
	lastRun := ""

	for _, ev := range events {
		switch ev.Action {
		case "run":
			lastRun = ev.Test
		case "output":
			name := ev.Test
			if name == "" {
				// A panic can take down the whole binary; test2json then
				// reports the tail at package level. Attribute it to the
				// example that was running.
				name = lastRun
			}
			if name == "" {
				continue
			}
			if outputs[name] == nil {
				outputs[name] = &strings.Builder{}
			}
			outputs[name].WriteString(ev.Output)
		case "pass", "fail":
			if ev.Test != "" {
				verdicts[ev.Test] = ev.Action
			}
		}
	}

	var results []doctest.Result
	for name, ex := range byName {
		verdict, ran := verdicts[name]
		if !ran {
			// Never reached the runner (build failure, earlier crash);
			// nothing to synchronize.
			continue
		}
		res := doctest.Result{Example: ex.ID()}
		switch {
		case verdict == "pass":
			res.Output = ex.Want
		default:
			raw := ""
			if b := outputs[name]; b != nil {
				raw = b.String()
			}
			if got, ok := extractGot(raw); ok {
				res.Output = got
			} else {
				res.Err = classifyFailure(raw)
			}
		}
		results = append(results, res)
	}
	return results
}

// extractGot pulls the actual output out of the failure text the testing
// package prints for examples:
//
//	--- FAIL: ExampleAdd (0.00s)
//	got:
//	4
//	want:
//	3
func extractGot(output string) (string, bool) {
	lines := strings.Split(output, "\n")
	for i, l := range lines {
		if strings.TrimSpace(l) != "got:" {
			continue
		}
		for j := i + 1; j < len(lines); j++ {
			if strings.TrimSpace(lines[j]) == "want:" {
				return strings.Join(lines[i+1:j], "\n"), true
			}
		}
	}
	return "", false
}

// classifyFailure builds a structured failure from raw test output when
// no got/want section exists.
func classifyFailure(output string) *doctest.Failure {
	for _, l := range strings.Split(output, "\n") {
		if rest, ok := strings.CutPrefix(strings.TrimSpace(l), "panic: "); ok {
			return &doctest.Failure{Category: "panic", Message: rest}
		}
	}
	msg := strings.TrimSpace(output)
	if i := strings.IndexByte(msg, '\n'); i >= 0 {
		msg = msg[:i]
	}
	return &doctest.Failure{Category: "fail", Message: msg}
}
