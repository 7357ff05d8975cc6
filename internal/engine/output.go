package engine

import (
	"strconv"
	"strings"

	"tangle/internal/family"
	"tangle/internal/fragment"
)

// stdoutBlocks splits a batch session's captured stdout on the per-fragment
// markers the assembled script emits. The leading block belongs to session
// glue and custom code.
func stdoutBlocks(stdout []byte) (lead string, blocks map[int]string) {
	blocks = make(map[int]string)
	text := string(stdout)
	var cur strings.Builder
	instance := -1

	flush := func() {
		if instance < 0 {
			lead = cur.String()
		} else {
			blocks[instance] = cur.String()
		}
		cur.Reset()
	}

	for _, line := range strings.SplitAfter(text, "\n") {
		trimmed := strings.TrimRight(line, "\n")
		if rest, ok := strings.CutPrefix(trimmed, family.StdoutMarker); ok {
			if n, err := strconv.Atoi(strings.TrimSuffix(rest, "#")); err == nil {
				flush()
				instance = n
				continue
			}
		}
		cur.WriteString(line)
	}
	flush()
	return lead, blocks
}

// collectOutputs assigns stdout blocks to fragments. Typeset fragments keep
// their output; output from execute-only fragments or session glue is an
// illegal print attempt.
func collectOutputs(sessionKey string, frags []*fragment.Fragment, lead string, blocks map[int]string) (outputs map[string]string, illegal []string) {
	outputs = make(map[string]string)
	if strings.TrimSpace(lead) != "" {
		illegal = append(illegal, sessionKey)
	}
	for _, f := range frags {
		content, ok := blocks[f.Instance]
		if !ok {
			continue
		}
		switch {
		case f.Role == fragment.RoleRunTypeset:
			outputs[f.ID()] = content
		case strings.TrimSpace(content) != "":
			illegal = append(illegal, f.ID())
		}
	}
	return outputs, illegal
}
