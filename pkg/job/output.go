package job

import (
	"regexp"
	"strconv"
	"strings"
	"time"
)

// Output holds the structured signals parsed from a remote process log.
type Output struct {
	// Progress is the last reported progress percentage ("0%".."100%"),
	// or empty if the log carried none.
	Progress string

	// Warnings and Errors collect tagged messages with their
	// continuation lines folded in.
	Warnings []string
	Errors   []string

	// Misc collects untagged non-blank lines.
	Misc []string

	// Done is the absolute completion time derived from the final timing
	// line, when the log carries one and the run start is known.
	Done *time.Time
}

// WarningsText returns the warnings joined for display.
func (o Output) WarningsText() string { return strings.Join(o.Warnings, "\n") }

// ErrorsText returns the errors joined for display.
func (o Output) ErrorsText() string { return strings.Join(o.Errors, "\n") }

// MiscText returns the untagged output joined for display.
func (o Output) MiscText() string { return strings.Join(o.Misc, "\n") }

// Log line grammar of the annotation tool: a timestamp or an 8-space indent,
// an uppercase tag and a message. Deeper-indented lines continue the last
// opened message. The trailing `time -p` block contributes real/user/sys.
var (
	tagLineRe  = regexp.MustCompile(`^(?:\d\d:\d\d:\d\d|\s{8}) ([A-Z]+)\s+(.+)$`)
	contLineRe = regexp.MustCompile(`^\s{8,}.+`)
	realLineRe = regexp.MustCompile(`^real \d.+`)
	timeLineRe = regexp.MustCompile(`^(?:user|sys) \d.+`)
)

// ParseOutput classifies the cumulative captured output of a remote process.
// It is pure: parsing the same text twice yields identical results. The
// caller supplies the run's start time so the final timing line can be
// converted to an absolute completion timestamp.
func ParseOutput(raw string, started *time.Time) Output {
	var out Output
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return out
	}

	// latest tracks which category an indented continuation line extends.
	latest := &out.Misc
	for _, line := range strings.Split(raw, "\n") {
		if m := tagLineRe.FindStringSubmatch(line); m != nil {
			msg := strings.TrimSpace(m[2])
			switch m[1] {
			case "PROGRESS":
				out.Progress = msg
			case "WARNING":
				out.Warnings = append(out.Warnings, m[1]+" "+msg)
				latest = &out.Warnings
			case "ERROR":
				out.Errors = append(out.Errors, m[1]+" "+msg)
				latest = &out.Errors
			}
			continue
		}
		if contLineRe.MatchString(line) {
			*latest = append(*latest, strings.TrimSpace(line))
			continue
		}
		if realLineRe.MatchString(line) {
			if seconds, err := strconv.ParseFloat(strings.TrimSpace(line[5:]), 64); err == nil {
				if started != nil && !started.IsZero() {
					done := started.Add(time.Duration(seconds * float64(time.Second)))
					out.Done = &done
				}
			}
			continue
		}
		if timeLineRe.MatchString(line) {
			continue
		}
		if trimmed := strings.TrimSpace(line); trimmed != "" {
			out.Misc = append(out.Misc, trimmed)
		}
	}

	// The tool emits no progress output on a no-op run.
	if len(out.Misc) > 0 && strings.HasPrefix(out.Misc[0], "Nothing to be done.") {
		out.Progress = "100%"
	}
	return out
}
