package validate

import (
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strings"
)

// Validator checks one aspect of a markdown document.
type Validator interface {
	Name() string
	Check(path string, content string) []Issue
}

// DefaultValidators returns the baseline validator set run over every file.
func DefaultValidators() []Validator {
	return []Validator{
		&frontmatterValidator{},
		&headingValidator{},
		&linkValidator{},
		&fenceValidator{},
		&styleValidator{},
	}
}

// frontmatterValidator checks that a YAML frontmatter block, when present, is
// terminated. Frontmatter is optional; only a malformed block is an issue.
type frontmatterValidator struct{}

func (v *frontmatterValidator) Name() string { return "frontmatter" }

func (v *frontmatterValidator) Check(_ string, content string) []Issue {
	lines := strings.Split(content, "\n")
	if len(lines) == 0 || strings.TrimRight(lines[0], " \t") != "---" {
		return nil
	}
	for _, line := range lines[1:] {
		trimmed := strings.TrimRight(line, " \t")
		if trimmed == "---" || trimmed == "..." {
			return nil
		}
	}
	return []Issue{{
		Code:     "unclosed-frontmatter",
		Message:  "frontmatter block opened at line 1 is never closed",
		Line:     1,
		Severity: SeverityError,
	}}
}

// headingValidator checks that a document opens with a level-one heading and
// that heading levels never jump by more than one.
type headingValidator struct{}

func (v *headingValidator) Name() string { return "headings" }

var headingRe = regexp.MustCompile(`^(#{1,6})\s+\S`)

func (v *headingValidator) Check(_ string, content string) []Issue {
	var issues []Issue

	lines := strings.Split(content, "\n")
	sawHeading := false
	prevLevel := 0
	inFence := false

	for i, line := range lines {
		if strings.HasPrefix(strings.TrimSpace(line), "```") {
			inFence = !inFence
			continue
		}
		if inFence {
			continue
		}
		m := headingRe.FindStringSubmatch(line)
		if m == nil {
			continue
		}
		level := len(m[1])
		if !sawHeading {
			sawHeading = true
			if level != 1 {
				issues = append(issues, Issue{
					Code:     "first-heading-level",
					Message:  fmt.Sprintf("first heading is level %d, expected a level-1 title", level),
					Line:     i + 1,
					Severity: SeverityWarning,
				})
			}
		} else if level > prevLevel+1 {
			issues = append(issues, Issue{
				Code:     "heading-skip",
				Message:  fmt.Sprintf("heading level jumps from %d to %d", prevLevel, level),
				Line:     i + 1,
				Severity: SeverityWarning,
			})
		}
		prevLevel = level
	}

	if !sawHeading {
		issues = append(issues, Issue{
			Code:     "no-heading",
			Message:  "document has no headings",
			Severity: SeverityError,
		})
	}
	return issues
}

// linkValidator checks that relative link targets exist on disk. External
// links (scheme or anchor) are not checked.
type linkValidator struct{}

func (v *linkValidator) Name() string { return "links" }

var linkRe = regexp.MustCompile(`\[[^\]]*\]\(([^)\s]+)\)`)

func (v *linkValidator) Check(path string, content string) []Issue {
	var issues []Issue

	dir := filepath.Dir(path)
	for i, line := range strings.Split(content, "\n") {
		for _, m := range linkRe.FindAllStringSubmatch(line, -1) {
			target := m[1]
			if strings.Contains(target, "://") || strings.HasPrefix(target, "#") || strings.HasPrefix(target, "mailto:") {
				continue
			}
			// Strip any fragment before resolving.
			if idx := strings.IndexByte(target, '#'); idx >= 0 {
				target = target[:idx]
			}
			if target == "" {
				continue
			}
			resolved := target
			if !filepath.IsAbs(target) {
				resolved = filepath.Join(dir, target)
			}
			if _, err := os.Stat(resolved); err != nil {
				issues = append(issues, Issue{
					Code:     "broken-link",
					Message:  fmt.Sprintf("link target %q does not exist", m[1]),
					Line:     i + 1,
					Severity: SeverityError,
				})
			}
		}
	}
	return issues
}

// fenceValidator checks that code fences are balanced.
type fenceValidator struct{}

func (v *fenceValidator) Name() string { return "code-fences" }

func (v *fenceValidator) Check(_ string, content string) []Issue {
	open := false
	openLine := 0
	for i, line := range strings.Split(content, "\n") {
		if strings.HasPrefix(strings.TrimSpace(line), "```") {
			open = !open
			if open {
				openLine = i + 1
			}
		}
	}
	if open {
		return []Issue{{
			Code:     "unclosed-fence",
			Message:  fmt.Sprintf("code fence opened at line %d is never closed", openLine),
			Line:     openLine,
			Severity: SeverityError,
		}}
	}
	return nil
}

// styleValidator flags trailing whitespace and a missing final newline, both
// of which have automatic fixes.
type styleValidator struct{}

func (v *styleValidator) Name() string { return "style" }

func (v *styleValidator) Check(_ string, content string) []Issue {
	var issues []Issue

	for i, line := range strings.Split(content, "\n") {
		if line != strings.TrimRight(line, " \t") {
			issues = append(issues, Issue{
				Code:     "trailing-whitespace",
				Message:  "line has trailing whitespace",
				Line:     i + 1,
				Severity: SeverityWarning,
				Fixable:  true,
			})
		}
	}
	if content != "" && !strings.HasSuffix(content, "\n") {
		issues = append(issues, Issue{
			Code:     "missing-final-newline",
			Message:  "file does not end with a newline",
			Severity: SeverityWarning,
			Fixable:  true,
		})
	}
	return issues
}

// applyFix rewrites content for an issue code with an automatic fix. It
// returns the fixed content and whether the code was fixable.
func applyFix(code, content string) (string, bool) {
	switch code {
	case "trailing-whitespace":
		lines := strings.Split(content, "\n")
		for i, line := range lines {
			lines[i] = strings.TrimRight(line, " \t")
		}
		return strings.Join(lines, "\n"), true
	case "missing-final-newline":
		if content != "" && !strings.HasSuffix(content, "\n") {
			return content + "\n", true
		}
		return content, true
	default:
		return content, false
	}
}
