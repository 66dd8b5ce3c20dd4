// Package store persists campaigns, sequences, the compliance log and the
// optimizer Q-table in SQLite (modernc.org/sqlite, no cgo).
//
// Schema changes are embedded SQL files applied once each on Open. The
// compliance_log table rejects UPDATE and DELETE with triggers.
package store
