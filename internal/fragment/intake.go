package fragment

import (
	"bufio"
	"bytes"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"

	"fortio.org/safecast"
)

// recordHeader introduces one fragment in the extracted-fragments file.
// Fields are #-delimited; the code follows until the next header or EOF.
const recordHeader = "=>TANGLE:FRAG#"

// ReadFile loads the extracted-fragments file written by the document
// toolchain and returns the ordered fragment sequence.
func ReadFile(path string) ([]Fragment, error) {
	// #nosec G304 -- path is provided by the caller
	content, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	content = normalize(content)
	frags, err := Parse(bytes.NewReader(content))
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return frags, nil
}

// Parse decodes an ordered fragment sequence from r.
func Parse(r io.Reader) ([]Fragment, error) {
	var frags []Fragment
	var cur *Fragment
	var code []string

	flush := func() {
		if cur == nil {
			return
		}
		cur.Source = strings.Join(code, "\n")
		frags = append(frags, *cur)
		cur = nil
		code = nil
	}

	sc := bufio.NewScanner(r)
	sc.Buffer(make([]byte, 0, 64*1024), 16*1024*1024)
	lineno := 0
	for sc.Scan() {
		lineno++
		line := sc.Text()
		if !strings.HasPrefix(line, recordHeader) {
			if cur == nil {
				if strings.TrimSpace(line) == "" {
					continue
				}
				return nil, fmt.Errorf("line %d: code before first fragment header", lineno)
			}
			code = append(code, line)
			continue
		}
		flush()
		f, err := parseHeader(strings.TrimPrefix(line, recordHeader))
		if err != nil {
			return nil, fmt.Errorf("line %d: %w", lineno, err)
		}
		cur = f
	}
	if err := sc.Err(); err != nil {
		return nil, err
	}
	flush()
	return frags, nil
}

// parseHeader decodes "family#session#restart#instance#role#docfile#docline#".
func parseHeader(rest string) (*Fragment, error) {
	fields := strings.Split(rest, "#")
	if len(fields) < 7 {
		return nil, fmt.Errorf("malformed fragment header: want 7 fields, got %d", len(fields))
	}
	instance, err := strconv.Atoi(fields[3])
	if err != nil {
		return nil, fmt.Errorf("malformed instance %q: %w", fields[3], err)
	}
	if _, err := safecast.Conv[uint32](instance); err != nil {
		return nil, fmt.Errorf("instance out of range %q: %w", fields[3], err)
	}
	role, err := ParseRole(fields[4])
	if err != nil {
		return nil, err
	}
	docline, err := strconv.Atoi(fields[6])
	if err != nil {
		return nil, fmt.Errorf("malformed document line %q: %w", fields[6], err)
	}
	if _, err := safecast.Conv[uint32](docline); err != nil {
		return nil, fmt.Errorf("document line out of range %q: %w", fields[6], err)
	}
	return &Fragment{
		Family:   fields[0],
		Session:  fields[1],
		Restart:  fields[2],
		Instance: instance,
		Role:     role,
		DocFile:  fields[5],
		DocLine:  docline,
	}, nil
}

// normalize strips a BOM and converts CRLF to LF.
func normalize(content []byte) []byte {
	content = bytes.TrimPrefix(content, []byte{0xEF, 0xBB, 0xBF})
	return bytes.ReplaceAll(content, []byte("\r\n"), []byte("\n"))
}
