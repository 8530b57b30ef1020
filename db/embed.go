// Package db provides the embedded database schema.
package db

import _ "embed"

// Schema contains the idempotent DDL for campaigns, usage history, products
// and orders.
//
//go:embed migrations/001_schema.sql
var Schema string
