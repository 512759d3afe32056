// Package repository implements MySQL persistence for the ticket ledger and
// the reconciliation journal.  The sentinel errors below let the engine
// tell capacity and idempotency outcomes apart from storage failures.
package repository

import (
	"errors"

	"github.com/go-sql-driver/mysql"
)

// ErrCapacityExceeded is returned by AppendTickets when committing the
// batch would push the lot past its capacity.  Nothing was written.
var ErrCapacityExceeded = errors.New("lot capacity exceeded")

// ErrInvalidBatch is returned when a ticket batch is empty or mixes lots
// or payment references.
var ErrInvalidBatch = errors.New("invalid ticket batch")

// mysqlDuplicateEntry is ER_DUP_ENTRY.
const mysqlDuplicateEntry = 1062

func isDuplicateKey(err error) bool {
	var me *mysql.MySQLError
	return errors.As(err, &me) && me.Number == mysqlDuplicateEntry
}
