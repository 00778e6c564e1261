// Package sqlite holds the persistent account directory: signer and
// smart-account records consulted on resolver cache miss.
package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"strings"
	"time"

	"github.com/thirdweb-dev/engine-sub003/internal/domain"

	_ "modernc.org/sqlite"
)

type AccountDirectory struct {
	db *sql.DB
}

func NewAccountDirectory(dbPath string) (*AccountDirectory, error) {
	if dbPath == "" {
		return nil, errors.New("db path is required")
	}
	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, err
	}
	if err := createSchema(db); err != nil {
		return nil, err
	}
	return &AccountDirectory{db: db}, nil
}

func createSchema(db *sql.DB) error {
	schema := []string{
		`CREATE TABLE IF NOT EXISTS accounts (
			address TEXT NOT NULL,
			kind TEXT NOT NULL,
			signer TEXT NOT NULL DEFAULT '',
			factory TEXT NOT NULL DEFAULT '',
			entrypoint TEXT NOT NULL DEFAULT '',
			salt TEXT NOT NULL DEFAULT '',
			sponsor_gas INTEGER NOT NULL DEFAULT 0,
			PRIMARY KEY (address, signer)
		)`,
		`CREATE INDEX IF NOT EXISTS idx_accounts_signer ON accounts (signer)`,
	}
	for _, stmt := range schema {
		if _, err := db.Exec(stmt); err != nil {
			return err
		}
	}
	return nil
}

// GetAccount looks an address up regardless of kind. An address appearing
// under several signers is ambiguous and reported as such.
func (d *AccountDirectory) GetAccount(ctx context.Context, address string) (domain.AccountRecord, bool, error) {
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	rows, err := d.db.QueryContext(ctx,
		`SELECT address, kind, signer, factory, entrypoint, salt, sponsor_gas
		 FROM accounts WHERE address = ? LIMIT 2`,
		strings.ToLower(address))
	if err != nil {
		return domain.AccountRecord{}, false, err
	}
	defer rows.Close()

	var records []domain.AccountRecord
	for rows.Next() {
		record, err := scanAccount(rows)
		if err != nil {
			return domain.AccountRecord{}, false, err
		}
		records = append(records, record)
	}
	if err := rows.Err(); err != nil {
		return domain.AccountRecord{}, false, err
	}
	switch len(records) {
	case 0:
		return domain.AccountRecord{}, false, nil
	case 1:
		return records[0], true, nil
	default:
		return domain.AccountRecord{}, false, domain.NewError(
			domain.ErrorKindAccount, domain.CodeAccountAmbiguous,
			"address "+address+" is registered under multiple signers", nil)
	}
}

func (d *AccountDirectory) GetSmartAccount(ctx context.Context, signer, address string) (domain.AccountRecord, bool, error) {
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	row := d.db.QueryRowContext(ctx,
		`SELECT address, kind, signer, factory, entrypoint, salt, sponsor_gas
		 FROM accounts WHERE address = ? AND signer = ? AND kind = ?`,
		strings.ToLower(address), strings.ToLower(signer), string(domain.AccountKindSmartAccount))
	record, err := scanAccount(row)
	if errors.Is(err, sql.ErrNoRows) {
		return domain.AccountRecord{}, false, nil
	}
	if err != nil {
		return domain.AccountRecord{}, false, err
	}
	return record, true, nil
}

// PutAccount registers or updates a directory record.
func (d *AccountDirectory) PutAccount(ctx context.Context, record domain.AccountRecord) error {
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	sponsorGas := 0
	if record.SponsorGas {
		sponsorGas = 1
	}
	_, err := d.db.ExecContext(ctx,
		`INSERT INTO accounts (address, kind, signer, factory, entrypoint, salt, sponsor_gas)
		 VALUES (?, ?, ?, ?, ?, ?, ?)
		 ON CONFLICT(address, signer) DO UPDATE SET
			kind = excluded.kind,
			factory = excluded.factory,
			entrypoint = excluded.entrypoint,
			salt = excluded.salt,
			sponsor_gas = excluded.sponsor_gas`,
		strings.ToLower(record.Address), string(record.Kind), strings.ToLower(record.Signer),
		strings.ToLower(record.Factory), strings.ToLower(record.Entrypoint), record.Salt, sponsorGas)
	return err
}

func (d *AccountDirectory) Ping(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()
	return d.db.PingContext(ctx)
}

func (d *AccountDirectory) Close() error {
	return d.db.Close()
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanAccount(row rowScanner) (domain.AccountRecord, error) {
	var record domain.AccountRecord
	var kind string
	var sponsorGas int
	if err := row.Scan(&record.Address, &kind, &record.Signer, &record.Factory,
		&record.Entrypoint, &record.Salt, &sponsorGas); err != nil {
		return domain.AccountRecord{}, err
	}
	record.Kind = domain.AccountKind(kind)
	record.SponsorGas = sponsorGas != 0
	return record, nil
}
