// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package tools defines the closed set of exploration tool kinds the
// control plane understands, along with the input schema each kind carries.
//
// The tool implementations themselves live outside this module. This package
// only names them so routing rules and thrashing detection can switch on a
// typed value instead of comparing free-form strings.
package tools

import (
	"errors"
	"fmt"
	"strings"
)

// ErrUnknownKind indicates a tool name outside the known set.
var ErrUnknownKind = errors.New("unknown tool kind")

// Kind identifies an exploration tool.
type Kind string

const (
	// KindListDirectory renders the repository tree.
	KindListDirectory Kind = "list_directory_structure"

	// KindFindFiles finds files by glob pattern.
	KindFindFiles Kind = "find_files_by_pattern"

	// KindSearchCode runs a regex search over file contents.
	KindSearchCode Kind = "search_code"

	// KindReadFile returns file content as "<line> | <content>" rows.
	KindReadFile Kind = "read_file"

	// KindImportantFiles ranks the most relevant files in the repository.
	KindImportantFiles Kind = "get_important_files"

	// KindFunctionSignatures lists function signatures of one file.
	KindFunctionSignatures Kind = "get_function_signatures"

	// KindImports lists the imports of one file.
	KindImports Kind = "get_imports"

	// KindEntryPoints finds program entry points.
	KindEntryPoints Kind = "find_entry_points"

	// KindDependencies summarizes declared package dependencies.
	KindDependencies Kind = "analyze_dependencies"
)

// Category groups kinds by what they contribute to exploration.
type Category string

const (
	// CategoryDiscovery covers structure and ranking tools.
	CategoryDiscovery Category = "discovery"

	// CategorySearch covers content and name searches.
	CategorySearch Category = "search"

	// CategoryRead covers tools that return numbered file content.
	CategoryRead Category = "read"

	// CategoryAnalysis covers parsed views of a file or manifest.
	CategoryAnalysis Category = "analysis"
)

// allKinds is ordered for stable iteration in reports and tests.
var allKinds = []Kind{
	KindListDirectory,
	KindFindFiles,
	KindSearchCode,
	KindReadFile,
	KindImportantFiles,
	KindFunctionSignatures,
	KindImports,
	KindEntryPoints,
	KindDependencies,
}

// AllKinds returns every known kind in a stable order.
func AllKinds() []Kind {
	out := make([]Kind, len(allKinds))
	copy(out, allKinds)
	return out
}

// ParseKind converts a tool name into a Kind.
//
// Description:
//
//	Matching is case-insensitive and ignores surrounding whitespace.
//	Names outside the known set return ErrUnknownKind.
//
// Inputs:
//
//	name - The tool name as reported by the tool layer.
//
// Outputs:
//
//	Kind - The parsed kind.
//	error - ErrUnknownKind (wrapped) if the name is not recognized.
func ParseKind(name string) (Kind, error) {
	k := Kind(strings.ToLower(strings.TrimSpace(name)))
	if k.Valid() {
		return k, nil
	}
	return "", fmt.Errorf("%w: %q", ErrUnknownKind, name)
}

// Valid reports whether k is one of the known kinds.
func (k Kind) Valid() bool {
	switch k {
	case KindListDirectory, KindFindFiles, KindSearchCode, KindReadFile,
		KindImportantFiles, KindFunctionSignatures, KindImports,
		KindEntryPoints, KindDependencies:
		return true
	default:
		return false
	}
}

// String implements fmt.Stringer.
func (k Kind) String() string {
	return string(k)
}

// Category returns the category of the kind. Unknown kinds report "".
func (k Kind) Category() Category {
	switch k {
	case KindListDirectory, KindImportantFiles, KindEntryPoints:
		return CategoryDiscovery
	case KindFindFiles, KindSearchCode:
		return CategorySearch
	case KindReadFile:
		return CategoryRead
	case KindFunctionSignatures, KindImports, KindDependencies:
		return CategoryAnalysis
	default:
		return ""
	}
}

// RequiredFields returns the input fields the kind must carry.
func (k Kind) RequiredFields() []string {
	switch k {
	case KindListDirectory, KindImportantFiles, KindEntryPoints, KindDependencies:
		return []string{FieldRepoPath}
	case KindFindFiles, KindSearchCode:
		return []string{FieldRepoPath, FieldPattern}
	case KindReadFile, KindFunctionSignatures, KindImports:
		return []string{FieldFilePath}
	default:
		return nil
	}
}

// ProducesNumberedRows reports whether the kind's output is rendered as
// "<line> | <content>" rows and can therefore back a line citation.
func (k Kind) ProducesNumberedRows() bool {
	return k == KindReadFile
}
