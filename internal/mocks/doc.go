// Package mocks provides shared mock implementations for testing.
//
// Each mock has a function field per interface method and records its
// calls, so tests can both script behavior and verify interactions:
//
//	summarizer := &mocks.MockSummarizer{
//	    SummarizeFn: func(ctx context.Context, text string) (string, error) {
//	        return "# Notes", nil
//	    },
//	}
//
// A mock without a function field returns its default values.
package mocks
