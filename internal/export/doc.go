// Package export publishes a run's generated artifacts (notebook, report,
// script plan, and script sources) to an S3-compatible bucket.
package export
