// Package domain contains the analysis request model, task ID derivation and
// the error taxonomy shared by the task engine and the HTTP layer. It has no
// dependencies on infrastructure or delivery mechanisms.
package domain
