// Package resource enforces the memory budgets and IO throughput limits of
// dataset generation and index builds.
package resource
