// Package strategy holds the Analyze phase artifacts: user hypotheses, selected
// reference scripts, the LLM-authored analysis strategy, and the plot selection
// used by the Summarize phase.
//
// Strategy generation is gated on an approved experiment understanding. Reference
// scripts are analysed for intent and parameters only; they are never rewritten.
package strategy
