// Package storage keeps a history of task runs.
//
// Drivers:
//   - file:   JSON Lines appended to a single file
//   - sqlite: a local SQLite database (pure Go driver)
//   - mysql:  a shared MySQL database through gorm
//
// History is operator convenience only; a failing store never affects runs.
package storage
