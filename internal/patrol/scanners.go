package patrol

import (
	"bufio"
	"context"
	"fmt"
	"os/exec"
	"strings"
)

// TodoScanner finds unresolved TODO/FIXME markers left in tracked source,
// the cheapest signal a quiet-period patrol can surface without an AI
// analyzer configured (§4.14 "unimported"/"docs" finding kinds). dir is the
// repository root to scan; empty runs in the caller's working directory.
func TodoScanner(dir string) ScannerFunc {
	return func(ctx context.Context) ([]Finding, error) {
		cmd := exec.CommandContext(ctx, "git", "grep", "-n", "-E", "TODO|FIXME")
		if dir != "" {
			cmd.Dir = dir
		}
		out, err := cmd.Output()
		if err != nil {
			// grep exits non-zero on no matches; treat any failure as "nothing found"
			return nil, nil
		}

		var findings []Finding
		scanner := bufio.NewScanner(strings.NewReader(string(out)))
		for scanner.Scan() {
			line := scanner.Text()
			parts := strings.SplitN(line, ":", 3)
			if len(parts) != 3 {
				continue
			}
			file, lineNo, text := parts[0], parts[1], strings.TrimSpace(parts[2])
			findings = append(findings, Finding{
				Kind:     "docs",
				Title:    fmt.Sprintf("Unresolved marker in %s:%s", file, lineNo),
				Body:     text,
				Severity: "low",
			})
		}
		return findings, nil
	}
}
