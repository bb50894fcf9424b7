// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package grounding

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestExtract_OrderPreserved(t *testing.T) {
	got := Extract("See app.py:42 and notes.md:3")
	assert.Equal(t, []Citation{{"app.py", 42}, {"notes.md", 3}}, got)
}

func TestExtract_Forms(t *testing.T) {
	tests := []struct {
		name string
		text string
		want []Citation
	}{
		{"backticks", "defined in `src/app.py:10`.", []Citation{{"src/app.py", 10}}},
		{"brackets", "handler [api/routes.go:7]", []Citation{{"api/routes.go", 7}}},
		{"parens", "(pkg/server.ts:120)", []Citation{{"pkg/server.ts", 120}}},
		{"range keeps start", "lines main.go:10-20 hold it", []Citation{{"main.go", 10}}},
		{"line and column", "main.go:12:5", []Citation{{"main.go", 12}}},
		{"dot slash", "./cmd/run.py:3", []Citation{{"./cmd/run.py", 3}}},
		{"extensionless with slash", "scripts/deploy:4", []Citation{{"scripts/deploy", 4}}},
		{"bare Makefile", "Makefile:2", []Citation{{"Makefile", 2}}},
		{"end of sentence", "It lives in app.py:42.", []Citation{{"app.py", 42}}},
		{"duplicates kept", "a.go:1 a.go:1", []Citation{{"a.go", 1}, {"a.go", 1}}},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.want, Extract(tc.text))
		})
	}
}

func TestExtract_RejectsAdversarialTokens(t *testing.T) {
	tests := []struct {
		name string
		text string
	}{
		{"ipv4 with port", "connect to 192.168.1.10:8080"},
		{"host and port", "listens on localhost:8080"},
		{"url with port", "open http://example.com:8080/app.py"},
		{"https url path", "see https://github.com/org/repo/blob/main/app.py:12"},
		{"ipv6", "bind to fe80::1:2 or 2001:db8:85a3::8a2e:370:7334"},
		{"version", "requires node v18.2.0:1 and python3.11:2"},
		{"semver after slash", "release/1.2.3:4"},
		{"time of day", "meeting at 10:30"},
		{"markdown anchor", "[setup](#install.md:3)"},
		{"email like", "mail dev@host.py:3"},
		{"zero line", "app.py:0"},
		{"overflow line", "app.py:99999999999999999999"},
		{"decimal suffix", "app.py:1.5"},
		{"word suffix", "app.py:12abc"},
		{"no letter", "./1/2:3"},
		{"label without suffix", "Step1:2 then Note:3"},
		{"empty", ""},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			assert.Empty(t, Extract(tc.text))
		})
	}
}

func TestExtractMatches_Offsets(t *testing.T) {
	text := "x `a/b.go:3-9` y"
	ms := ExtractMatches(text)
	require.Len(t, ms, 1)
	assert.Equal(t, "a/b.go:3-9", ms[0].Raw)
	assert.Equal(t, ms[0].Raw, text[ms[0].Start:ms[0].End])
	assert.Equal(t, "a/b.go:3", ms[0].Citation.String())
}

func TestExtract_NeverNil(t *testing.T) {
	assert.NotNil(t, Extract("nothing here"))
	assert.NotNil(t, ExtractMatches(""))
}
