package sql

import _ "embed"

// Schema is the full idempotent database schema.
//
//go:embed schema.sql
var Schema string
