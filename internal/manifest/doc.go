// Package manifest manages the per-run record of user intake and scan results.
//
// A manifest is created from an intake submission (optionally scanning the
// target directory), edited in place, rescanned wholesale, and deleted with its
// whole run directory. ToLLMContext renders it as the markdown context that
// every LLM-backed step starts from.
package manifest
