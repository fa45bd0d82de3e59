package job

import (
	"context"
	"fmt"
	"path"
	"regexp"
	"strings"

	"github.com/google/uuid"

	"github.com/nordtext/annod/pkg/remote"
)

// Catalog answers generic questions about the annotation tool (supported
// languages, available export formats) by running it in a scratch corpus
// dir on the annotation host. Catalog runs are not part of the job queue.
type Catalog struct {
	exec remote.Executor
	cfg  Config
}

// NewCatalog creates a catalog client for the annotation host.
func NewCatalog(exec remote.Executor, cfg Config) *Catalog {
	return &Catalog{exec: exec, cfg: cfg}
}

// Language is one language variety the annotation tool supports.
type Language struct {
	Name string `json:"name"`
	Code string `json:"code"`
}

// Export is one output format the annotation tool can produce.
type Export struct {
	Export      string `json:"export"`
	Description string `json:"description"`
}

// scratchDir creates a throwaway corpus dir with a minimal config for the
// given language and returns its path. The uuid suffix keeps concurrent
// catalog calls from clobbering each other.
func (c *Catalog) scratchDir(ctx context.Context, language string) (string, error) {
	dir := path.Join(c.cfg.RemoteCorporaDir, ".catalog-"+uuid.NewString())
	res, err := c.exec.Run(ctx, remote.Command{Argv: []string{"mkdir", "-p", dir}})
	if err != nil || res.ExitCode != 0 {
		return "", fmt.Errorf("create scratch corpus dir: %s: %w", res.Stderr, err)
	}
	config := fmt.Sprintf("metadata:\n  language: %s\n", language)
	res, err = c.exec.Run(ctx, remote.Command{
		Dir:   dir,
		Argv:  []string{"tee", c.cfg.Paths.ConfigFileName()},
		Stdin: config,
	})
	if err != nil || res.ExitCode != 0 {
		return "", fmt.Errorf("write scratch corpus config: %s: %w", res.Stderr, err)
	}
	return dir, nil
}

func (c *Catalog) cleanup(ctx context.Context, dir string) {
	_, _ = c.exec.Run(ctx, remote.Command{Argv: []string{"rm", "-rf", dir}})
}

func (c *Catalog) runTool(ctx context.Context, dir string, args ...string) (string, error) {
	argv := append(append([]string{}, c.cfg.Command...), args...)
	res, err := c.exec.Run(ctx, remote.Command{Dir: dir, Env: c.cfg.Environ, Argv: argv})
	if err != nil {
		return "", err
	}
	if res.ExitCode != 0 {
		return "", &Error{Kind: ErrJob, Message: "failed to run the annotation tool", Stderr: res.Stderr}
	}
	return res.Stdout, nil
}

var languageLineRe = regexp.MustCompile(`^(.+?)\s+(\S+)$`)

// ListLanguages lists the languages the annotation tool supports.
func (c *Catalog) ListLanguages(ctx context.Context) ([]Language, error) {
	dir, err := c.scratchDir(ctx, "swe")
	if err != nil {
		return nil, err
	}
	defer c.cleanup(ctx, dir)

	stdout, err := c.runTool(ctx, dir, "languages")
	if err != nil {
		return nil, err
	}
	return parseLanguages(stdout), nil
}

func parseLanguages(stdout string) []Language {
	var languages []Language
	var lines []string
	for _, line := range strings.Split(stdout, "\n") {
		if strings.TrimSpace(line) != "" {
			lines = append(lines, strings.TrimSpace(line))
		}
	}
	if len(lines) > 0 {
		lines = lines[1:] // header
	}
	for _, line := range lines {
		if strings.HasPrefix(line, "Supported language varieties") {
			break
		}
		if m := languageLineRe.FindStringSubmatch(line); m != nil {
			languages = append(languages, Language{Name: strings.TrimSpace(m[1]), Code: m[2]})
		}
	}
	return languages
}

var exportLineRe = regexp.MustCompile(`^(\S+)\s+(.+)$`)

// ListExports lists the export formats available for a language.
func (c *Catalog) ListExports(ctx context.Context, language string) ([]Export, error) {
	if language == "" {
		language = "swe"
	}
	dir, err := c.scratchDir(ctx, language)
	if err != nil {
		return nil, err
	}
	defer c.cleanup(ctx, dir)

	stdout, err := c.runTool(ctx, dir, "run", "-l")
	if err != nil {
		return nil, err
	}
	return parseExports(stdout), nil
}

func parseExports(stdout string) []Export {
	var exports []Export
	var lines []string
	for _, line := range strings.Split(stdout, "\n") {
		if strings.TrimSpace(line) != "" {
			lines = append(lines, line)
		}
	}
	// Drop the header and the trailing usage hint.
	if len(lines) > 2 {
		lines = lines[1 : len(lines)-1]
	} else {
		lines = nil
	}
	for _, line := range lines {
		if strings.HasPrefix(line, "    ") && len(exports) > 0 {
			exports[len(exports)-1].Description += " " + strings.TrimSpace(line)
			continue
		}
		if m := exportLineRe.FindStringSubmatch(strings.TrimSpace(line)); m != nil {
			switch m[1] {
			case "Other", "Note:", "what", "'export.default'":
				continue
			}
			exports = append(exports, Export{Export: m[1], Description: strings.TrimSpace(m[2])})
		}
	}
	return exports
}
