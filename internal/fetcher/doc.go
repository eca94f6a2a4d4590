// Package fetcher streams a remote file to nowhere at a bounded average rate.
//
// The body is read in fixed 16 KiB chunks; after each chunk the fetcher sleeps
// for whatever part of the chunk's time budget (chunk / ceiling) has not
// already elapsed. It only ever slows a transfer down. Failures are folded into
// a Result with the 500 sentinel status and are never retried here.
package fetcher
