package fetch

import (
	"fmt"
	"strings"

	"github.com/google/shlex"
)

// Placeholders substituted into a fetch command template before execution.
const (
	URLPlaceholder    = "${URL}"
	OutputPlaceholder = "${OUTPUT}"
)

// SplitCommand securely splits a command template into arguments. No shell
// is involved, so shell injection is not possible.
func SplitCommand(command string) ([]string, error) {
	args, err := shlex.Split(command)
	if err != nil {
		return nil, fmt.Errorf("invalid command syntax: %w", err)
	}
	return args, nil
}

// ValidateCommandTemplate checks a split template: it must name a binary,
// reference both placeholders, and carry no shell metacharacters.
func ValidateCommandTemplate(args []string) error {
	if len(args) == 0 {
		return fmt.Errorf("fetch command is empty")
	}

	hasURL, hasOutput := false, false
	for _, arg := range args {
		if strings.Contains(arg, URLPlaceholder) {
			hasURL = true
			continue
		}
		if strings.Contains(arg, OutputPlaceholder) {
			hasOutput = true
			continue
		}
		// exec.Command never invokes a shell, but metacharacters in a
		// template are a sign the caller expected one.
		if strings.ContainsAny(arg, "|&;`$()<>") {
			return fmt.Errorf("disallowed character found in argument: %s", arg)
		}
	}

	if !hasURL {
		return fmt.Errorf("command must include the placeholder '%s'", URLPlaceholder)
	}
	if !hasOutput {
		return fmt.Errorf("command must include the placeholder '%s'", OutputPlaceholder)
	}
	return nil
}
