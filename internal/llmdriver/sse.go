package llmdriver

import (
	"bufio"
	"io"
	"strings"
)

// scanSSE reads a server-sent-events stream from r, calling onEvent once
// per event (grouping "event:"/"data:" lines up to the blank-line
// delimiter). onEvent returns true to stop reading early.
func scanSSE(r io.Reader, onEvent func(event, data string) (stop bool)) error {
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 64*1024), 4*1024*1024)

	var eventName string
	var dataLines []string
	flush := func() bool {
		if len(dataLines) == 0 {
			eventName = ""
			return false
		}
		data := strings.Join(dataLines, "\n")
		dataLines = nil
		stop := onEvent(eventName, data)
		eventName = ""
		return stop
	}

	for scanner.Scan() {
		line := scanner.Text()
		if line == "" {
			if flush() {
				return nil
			}
			continue
		}
		switch {
		case strings.HasPrefix(line, "event:"):
			eventName = strings.TrimSpace(strings.TrimPrefix(line, "event:"))
		case strings.HasPrefix(line, "data:"):
			dataLines = append(dataLines, strings.TrimPrefix(strings.TrimPrefix(line, "data:"), " "))
		}
	}
	flush()
	return scanner.Err()
}
