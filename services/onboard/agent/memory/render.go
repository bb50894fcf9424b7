// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package memory

import (
	"fmt"
	"strings"
)

// RenderContext renders the memory as advisory text for the next reasoning step.
//
// Description:
//
//	Output is deterministic for a given state: labels first, then the sorted
//	list of citable files (capped), then confirmed facts newest first (capped
//	at maxFacts), then the exploration plan and the search count. When no
//	file has been read yet the citable section is replaced by a reminder
//	that line citations require a read_file call.
//
// Inputs:
//
//	maxFacts - Maximum facts to render. Non-positive uses DefaultMaxFacts.
//
// Outputs:
//
//	string - The rendered context. Never empty.
func (m *WorkingMemory) RenderContext(maxFacts int) string {
	if maxFacts <= 0 {
		maxFacts = DefaultMaxFacts
	}

	var b strings.Builder
	b.WriteString("## WORKING MEMORY\n")

	if m.architecture != "" || m.language != "" {
		b.WriteString("\n")
		if m.architecture != "" {
			fmt.Fprintf(&b, "Architecture: %s\n", m.architecture)
		}
		if m.language != "" {
			fmt.Fprintf(&b, "Language: %s\n", m.language)
		}
	}

	paths := m.sortedPaths()
	if len(paths) == 0 {
		b.WriteString("\n### NO FILES READ YET\n")
		b.WriteString("You must call read_file before citing any line numbers.\n")
	} else {
		b.WriteString("\n### FILES YOU CAN CITE (read with read_file):\n")
		shown := paths
		if len(shown) > m.config.MaxRenderedFiles {
			shown = shown[:m.config.MaxRenderedFiles]
		}
		for _, p := range shown {
			fr := m.files[p]
			if fr.LineCount > 0 {
				fmt.Fprintf(&b, "- %s (lines 1-%d)\n", p, fr.LineCount)
			} else {
				fmt.Fprintf(&b, "- %s\n", p)
			}
		}
		if extra := len(paths) - len(shown); extra > 0 {
			fmt.Fprintf(&b, "- ... and %d more\n", extra)
		}
		b.WriteString("\nCITATION RULE: only cite file:line for files listed above.\n")
	}

	if len(m.facts) > 0 {
		b.WriteString("\n### Confirmed Facts (most recent first):\n")
		for i, n := len(m.facts)-1, 0; i >= 0 && n < maxFacts; i, n = i-1, n+1 {
			f := m.facts[i]
			if f.Citation != "" {
				fmt.Fprintf(&b, "- %s [%s]\n", f.Fact, f.Citation)
			} else {
				fmt.Fprintf(&b, "- %s\n", f.Fact)
			}
		}
	}

	if len(m.plan) > 0 {
		b.WriteString("\n### Exploration Plan:\n")
		for i, step := range m.plan {
			fmt.Fprintf(&b, "%d. %s\n", i+1, step)
		}
	}

	if len(m.search) > 0 {
		fmt.Fprintf(&b, "\nSearches performed: %d\n", len(m.search))
	}

	return b.String()
}
