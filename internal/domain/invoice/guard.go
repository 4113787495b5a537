package invoice

import (
	"context"

	"facturas/internal/core/apperror"
	"facturas/internal/core/id"
	"facturas/internal/core/version"
)

// CheckVersion compares the caller's expected token with the current one.
// A nil expectation skips the check. Any mismatch is a conflict.
func CheckVersion(invoiceID id.ID, expected *version.Token, current version.Token) error {
	if expected == nil {
		return nil
	}
	if !expected.Equal(current) {
		return apperror.NewConcurrentModification(EntityName, invoiceID.String()).
			WithDetail("expectedToken", expected.String()).
			WithDetail("currentToken", current.String())
	}
	return nil
}

// explainMissedWrite turns a conditional write that touched no rows into the
// precise error. The write alone cannot tell a missing row from a finalized
// one from a stale token, so the row is read again.
func explainMissedWrite(ctx context.Context, repo Repository, invoiceID id.ID, expected *version.Token) error {
	current, err := repo.GetHeader(ctx, invoiceID)
	if err != nil {
		return err
	}
	if current.IsFinal() {
		return apperror.NewReadOnly(EntityName, invoiceID.String())
	}
	if expected != nil {
		if err := CheckVersion(invoiceID, expected, current.VersionToken); err != nil {
			return err
		}
	}
	// The row moved again between the write and this read.
	return apperror.NewConcurrentModification(EntityName, invoiceID.String())
}
