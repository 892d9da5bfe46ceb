// Package stores persists installed chutes and the history of updates in a
// local SQLite database. Schema changes ship as embedded migrations.
package stores
