package audit

import (
	"errors"
	"regexp"
	"testing"

	sqlmock "github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/require"

	"github.com/loglinehq/ubl/pkg/ubltypes"
)

// This exercises the insert statement Mirror.Record issues. The Mirror is
// built directly around the sqlmock handle, since sqlmock intercepts a
// *sql.DB rather than a DSN passed to Open.
func TestRecordInsertStatementShape(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	record := ubltypes.EffectRecord{
		ID:               "tx-1",
		ResultingVersion: 2,
		ProgramHash:      "ph",
		ProofHash:        "pf",
		RecordHash:       "rh",
		Timestamp:        "2026-01-01T00:00:00Z",
	}

	mock.ExpectExec(regexp.QuoteMeta("INSERT INTO ubl_effect_records")).
		WithArgs(record.ID, record.ResultingVersion, record.ProgramHash, record.ProofHash, record.RecordHash, record.Timestamp, sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(1, 1))

	err = (&Mirror{db: db}).Record(record)
	require.NoError(t, err)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestDuplicateKeyDetection(t *testing.T) {
	cases := []struct {
		msg  string
		want bool
	}{
		{"pq: duplicate key value violates unique constraint", true},
		{"UNIQUE constraint failed: ubl_effect_records.id", true},
		{"connection refused", false},
	}
	for _, c := range cases {
		got := isDuplicateKey(errors.New(c.msg))
		require.Equal(t, c.want, got, c.msg)
	}
}
