// Package report generates the final QC report of a run: a summary, narrative
// sections, insights, prioritized follow-up hypotheses, and the pass or fail
// status of each strategy gate. Reports render to HTML, markdown, or JSON.
package report
