// Package ir provides the canonical value types shared by every threadsync
// package.
//
// This package contains type definitions, the operation schema and the
// canonical encoding only. All other internal packages import ir; ir imports
// nothing internal.
//
// Key design constraints:
//   - Identifiers are Lamport stamps (seq, replica), never wall-clock time
//   - Operations are a tagged variant with an explicit schema (Op.Validate)
//   - All JSON tags use snake_case
//   - Content-addressed batch ids use canonical JSON and SHA-256 with
//     domain separation
package ir
