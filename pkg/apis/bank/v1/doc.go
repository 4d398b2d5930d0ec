// Package v1 holds the JSON encoding of the bank control protocol: one command per
// request, exactly one response per command.
package v1
