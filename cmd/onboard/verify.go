// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package main

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"

	"github.com/AleutianAI/onboard/services/onboard/agent/grounding"
)

// errUnverified is returned by --strict when a citation fails.
var errUnverified = errors.New("unverified citations")

type verifyOptions struct {
	answer  string
	outputs []string
	mode    string
	jsonOut bool
	strict  bool
}

func newVerifyCmd(st *cliState) *cobra.Command {
	opts := &verifyOptions{}

	cmd := &cobra.Command{
		Use:   "verify",
		Short: "Verify the file:line citations of an answer against tool outputs",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if opts.mode == "" {
				opts.mode = st.config.Agent.FilterMode
			}
			return runVerify(cmd.InOrStdin(), cmd.OutOrStdout(), opts)
		},
	}
	cmd.Flags().StringVar(&opts.answer, "answer", "", `answer file, or "-" for stdin (required)`)
	cmd.Flags().StringArrayVar(&opts.outputs, "output", nil, "captured tool output file (repeatable)")
	cmd.Flags().StringVar(&opts.mode, "mode", "", "post-processing: strip, flag or keep (default agent.filter_mode)")
	cmd.Flags().BoolVar(&opts.jsonOut, "json", false, "print the report as JSON")
	cmd.Flags().BoolVar(&opts.strict, "strict", false, "exit non-zero when any citation fails")
	_ = cmd.MarkFlagRequired("answer")
	return cmd
}

func runVerify(stdin io.Reader, out io.Writer, opts *verifyOptions) error {
	mode, err := grounding.ParseFilterMode(opts.mode)
	if err != nil {
		return err
	}

	var answer []byte
	if opts.answer == "-" {
		answer, err = io.ReadAll(stdin)
	} else {
		answer, err = os.ReadFile(opts.answer)
	}
	if err != nil {
		return fmt.Errorf("read answer: %w", err)
	}

	outputs := make([]string, 0, len(opts.outputs))
	for _, path := range opts.outputs {
		data, err := os.ReadFile(path)
		if err != nil {
			return fmt.Errorf("read output: %w", err)
		}
		outputs = append(outputs, string(data))
	}

	text := string(answer)
	rep := grounding.VerifyAll(text, outputs)
	final, rewritten := grounding.FilterUngrounded(text, outputs, mode)

	if opts.jsonOut {
		enc := json.NewEncoder(out)
		enc.SetIndent("", "  ")
		if err := enc.Encode(struct {
			Report      grounding.Report       `json:"report"`
			Claims      grounding.ClaimMetrics `json:"claims"`
			FinalAnswer string                 `json:"final_answer"`
			Rewritten   int                    `json:"rewritten"`
		}{rep, grounding.ComputeClaimMetrics(text, outputs), final, rewritten}); err != nil {
			return err
		}
	} else {
		newReport(out).RenderVerification(rep, final, rewritten)
	}

	if opts.strict && rep.Unverified > 0 {
		return fmt.Errorf("%w: %d of %d", errUnverified, rep.Unverified, rep.Total)
	}
	return nil
}
