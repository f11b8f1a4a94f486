// Package txtext renders the fixed transaction command text the
// surrounding Connection issues as a plain text-query exchange (spec §6,
// §1: "transaction commands... reduce to a simple text-query exchange").
// The core engine never special-cases these strings; this package only
// supplies the text, for completeness of the external interface spec
// describes.
package txtext

import (
	"fmt"

	"github.com/joao-brasil/mssql-cursor-exchange/pkg/identifier"
)

// IsolationLevel names a SQL Server transaction isolation level for
// BeginTransaction's SET TRANSACTION ISOLATION LEVEL clause.
type IsolationLevel string

const (
	ReadCommitted  IsolationLevel = "READ COMMITTED"
	ReadUncommitted IsolationLevel = "READ UNCOMMITTED"
	RepeatableRead IsolationLevel = "REPEATABLE READ"
	Serializable   IsolationLevel = "SERIALIZABLE"
	Snapshot       IsolationLevel = "SNAPSHOT"
)

// BeginTransaction renders the BEGIN TRANSACTION command text. name and
// mark are optional; lockWaitMillis < 0 means infinite lock wait.
func BeginTransaction(name, mark string, isolation IsolationLevel, lockWaitMillis int) string {
	text := "BEGIN TRANSACTION"
	if name != "" {
		text += " " + name
		if mark != "" {
			text += fmt.Sprintf(" WITH MARK '%s'", mark)
		}
	}
	text += fmt.Sprintf("; SET TRANSACTION ISOLATION LEVEL %s;", isolation)

	if lockWaitMillis < 0 {
		text += " SET LOCK_TIMEOUT -1;"
	} else {
		text += fmt.Sprintf(" SET LOCK_TIMEOUT %d;", lockWaitMillis)
	}

	return text
}

// CommitTransaction renders the guarded COMMIT TRANSACTION text. No
// cleanup statement is appended.
func CommitTransaction() string {
	return "IF @@TRANCOUNT > 0 COMMIT TRANSACTION"
}

// RollbackTransaction renders the guarded ROLLBACK TRANSACTION text. No
// cleanup statement is appended, and no post-success side effect is
// installed here; that belongs to the connection issuing the text.
func RollbackTransaction() string {
	return "IF @@TRANCOUNT > 0 ROLLBACK TRANSACTION"
}

// Savepoint renders the SAVE TRANSACTION text for name, after
// sanitizing and validating it as a SQL identifier.
func Savepoint(name string, maxLength int) (string, error) {
	safe, err := identifier.Check(name, maxLength)
	if err != nil {
		return "", fmt.Errorf("txtext: savepoint name: %w", err)
	}
	return fmt.Sprintf(
		"SET IMPLICIT_TRANSACTIONS ON; IF @@TRANCOUNT = 0 BEGIN BEGIN TRAN IF @@TRANCOUNT = 2 COMMIT TRAN END SAVE TRAN %s;",
		safe,
	), nil
}

// RollbackToSavepoint renders the ROLLBACK TRANSACTION <name> text.
func RollbackToSavepoint(name string, maxLength int) (string, error) {
	safe, err := identifier.Check(name, maxLength)
	if err != nil {
		return "", fmt.Errorf("txtext: savepoint name: %w", err)
	}
	return fmt.Sprintf("ROLLBACK TRANSACTION %s", safe), nil
}
