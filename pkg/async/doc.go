// Package async provides a safe wrapper for fire-and-forget goroutines with
// panic recovery and timeout enforcement.
package async
