// Package understanding derives a structured interpretation of an experiment
// from its manifest and gates later phases on the user's approval of it.
package understanding
