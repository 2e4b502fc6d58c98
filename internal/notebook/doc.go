// Package notebook generates the Summarize phase analysis notebook from a
// run's understanding, strategy, plot selection, and script results, and
// exports it as a Jupyter notebook or an R Markdown document.
package notebook
