package stream

import (
	"bufio"
	"io"
	"strings"
)

// scanner reads one server-push event at a time from the wire. Events are
// blank-line delimited; this protocol carries everything inside "data:"
// lines, so comments, ids and retry hints are skipped.
type scanner struct {
	r *bufio.Reader
}

func newScanner(r io.Reader) *scanner {
	return &scanner{r: bufio.NewReaderSize(r, 64*1024)}
}

// next returns the payload of the next event. The only error values are
// transport errors from the underlying reader (including io.EOF when the
// server goes away).
func (s *scanner) next() (string, error) {
	var data []string
	for {
		line, err := s.r.ReadString('\n')
		if err != nil {
			return "", err
		}
		line = strings.TrimRight(line, "\r\n")
		if line == "" {
			if len(data) > 0 {
				return strings.Join(data, "\n"), nil
			}
			continue
		}
		if strings.HasPrefix(line, ":") {
			continue
		}
		field, value, _ := strings.Cut(line, ":")
		if field != "data" {
			continue
		}
		data = append(data, strings.TrimPrefix(value, " "))
	}
}
