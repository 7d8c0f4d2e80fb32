// Package models defines the persistent record types shared across the
// worker: jobs, request logs, provisioned databases, source repositories,
// deployments, activity and cost ledgers, blueprints, and credentials.
package models

import (
	"strings"

	"github.com/google/uuid"
)

// NewID returns an opaque short identifier suitable for any record's
// primary key ("nano-id" per the data model). uuid is used as the id
// source throughout (as the teacher's services package does), with
// dashes stripped and the hex string truncated to 22 characters to keep
// ids short while still carrying enough entropy to be effectively unique.
func NewID() string {
	return strings.ReplaceAll(uuid.New().String(), "-", "")[:22]
}
