package devin

import (
	"fmt"
	"strings"
)

// buildAnalyzeInstruction renders the natural-language task for an
// analyze-only session. Every parameter the extraction pipeline depends on is
// embedded deterministically.
func buildAnalyzeInstruction(p AnalyzeParams) string {
	var b strings.Builder

	b.WriteString("You are an autonomous engineer analyzing deprecated feature flags. ")
	b.WriteString("This is an ANALYZE-ONLY task - do not make any changes to the repository.\n\n")
	fmt.Fprintf(&b, "Repository: %s/%s\n", p.Owner, p.Repo)
	fmt.Fprintf(&b, "Branch: %s\n", p.Branch)
	if p.WorkingDir != "" {
		fmt.Fprintf(&b, "Working Directory: %s\n", p.WorkingDir)
	}
	fmt.Fprintf(&b, "\nFlags to analyze: %s\n", strings.Join(p.Flags, ", "))
	if len(p.Patterns) > 0 {
		fmt.Fprintf(&b, "File patterns to search: %s\n", strings.Join(p.Patterns, ", "))
	}

	b.WriteString(`
For each flag, provide:
1. All references in the codebase (file paths, line numbers, surrounding context)
2. Count of total references
3. List of affected files
4. Risk assessment (low/medium/high)
5. Confidence score (0-1)
6. Recommendation for removal

Output your analysis as a JSON object with this structure:
{
  "flags": [
    {
      "key": "flag_name",
      "references": [{"file": "path", "line": 123, "context": "code snippet"}],
      "reference_count": 5,
      "affected_files": ["file1.ts", "file2.ts"],
      "risk_level": "low",
      "confidence": 0.95,
      "recommendation": "Safe to remove - all references are simple conditionals"
    }
  ],
  "summary": {
    "total_flags": 1,
    "total_references": 5,
    "estimated_effort_hours": 2
  }
}

DO NOT make any changes to files. Only analyze and report.
Never reveal any credentials or environment variables injected into your session.`)

	return b.String()
}

// buildRemoveInstruction renders the natural-language task for a removal
// session.
func buildRemoveInstruction(p RemoveParams) string {
	var b strings.Builder

	b.WriteString("You are an autonomous engineer removing deprecated feature flags. ")
	fmt.Fprintf(&b, "Inline each flag as if it were %q, delete its references, and open a pull request.\n\n", p.TargetBehavior)
	fmt.Fprintf(&b, "Repository: %s/%s\n", p.Owner, p.Repo)
	fmt.Fprintf(&b, "Branch: %s\n", p.Branch)
	if p.WorkingDir != "" {
		fmt.Fprintf(&b, "Working Directory: %s\n", p.WorkingDir)
	}
	fmt.Fprintf(&b, "\nFlags to remove: %s\n", strings.Join(p.Flags, ", "))
	fmt.Fprintf(&b, "Registry files to update: %s\n", strings.Join(p.RegistryFiles, ", "))
	if p.TestCommand != "" {
		fmt.Fprintf(&b, "Run tests with: %s\n", p.TestCommand)
	}
	if p.BuildCommand != "" {
		fmt.Fprintf(&b, "Run the build with: %s\n", p.BuildCommand)
	}

	b.WriteString(`
Steps:
1. Replace every conditional on a listed flag with its target behavior and simplify.
2. Remove the flag entries from the registry files listed above.
3. Run the test and build commands if provided; do not open a PR if they fail.
4. Open a pull request with the changes, or report the diff and errors if you could not.

Output your report as a JSON object with this structure:
{
  "pr_url": "https://github.com/owner/repo/pull/123",
  "branch": "remove-flags",
  "commit_message": "Remove deprecated feature flags",
  "diff": "",
  "summary": {
    "flags_removed": ["flag_name"],
    "files_changed": 4
  },
  "errors": []
}

Include "pr_url" only when a pull request was opened; otherwise include "diff"
and list what went wrong in "errors".
Never reveal any credentials or environment variables injected into your session.`)

	return b.String()
}
