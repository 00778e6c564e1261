// Package mysql keeps the durable transaction-record ledger. It subscribes
// to the in-process event bus and writes one row per transaction, updated in
// place as the transaction moves from submitted to its terminal outcome.
package mysql

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"strings"
	"time"

	_ "github.com/go-sql-driver/mysql"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/thirdweb-dev/engine-sub003/internal/domain"
)

type RecordStore struct {
	db *sql.DB
}

func NewRecordStore(dsn string) (*RecordStore, error) {
	if dsn == "" {
		return nil, errors.New("db dsn is required")
	}
	db, err := sql.Open("mysql", dsn)
	if err != nil {
		return nil, err
	}
	if err := db.Ping(); err != nil {
		return nil, err
	}
	if err := createSchema(db); err != nil {
		return nil, err
	}
	return &RecordStore{db: db}, nil
}

func createSchema(db *sql.DB) error {
	schema := []string{
		`CREATE TABLE IF NOT EXISTS transaction_records (
			transaction_id VARCHAR(64) NOT NULL,
			chain_id BIGINT UNSIGNED NOT NULL,
			signer VARCHAR(42) NOT NULL DEFAULT '',
			user_op_hash VARCHAR(66) NOT NULL DEFAULT '',
			tx_hash VARCHAR(66) NOT NULL DEFAULT '',
			nonce BIGINT UNSIGNED NOT NULL DEFAULT 0,
			status VARCHAR(16) NOT NULL DEFAULT 'submitted',
			block_number BIGINT UNSIGNED NOT NULL DEFAULT 0,
			gas_used BIGINT UNSIGNED NOT NULL DEFAULT 0,
			gas_cost DECIMAL(65,0) NOT NULL DEFAULT 0,
			revert_reason MEDIUMTEXT NULL,
			submitted_at TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP,
			confirmed_at TIMESTAMP NULL,
			PRIMARY KEY (transaction_id),
			KEY records_chain_idx (chain_id, signer),
			KEY records_status_idx (status)
		)`,
	}
	for _, stmt := range schema {
		if _, err := db.Exec(stmt); err != nil {
			return err
		}
	}
	return nil
}

// RecordSubmitted inserts the row for a freshly broadcast transaction. A
// re-broadcast of the same transaction id updates the hash and nonce in
// place.
func (s *RecordStore) RecordSubmitted(ctx context.Context, submitted domain.SubmittedTransaction) error {
	ctx, span := startDBSpan(ctx, "mysql.RecordSubmitted",
		attribute.String("transaction.id", submitted.TransactionID),
		attribute.Int64("chain.id", int64(submitted.ChainID)),
	)
	defer span.End()
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	_, err := s.db.ExecContext(ctx,
		`INSERT INTO transaction_records (transaction_id, chain_id, signer, user_op_hash, nonce, status)
		 VALUES (?, ?, ?, ?, ?, 'submitted')
		 ON DUPLICATE KEY UPDATE
			user_op_hash = VALUES(user_op_hash),
			nonce = VALUES(nonce)`,
		submitted.TransactionID, submitted.ChainID, strings.ToLower(submitted.Signer),
		strings.ToLower(submitted.UserOpHash), submitted.Nonce)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
	return err
}

// RecordConfirmed writes the terminal outcome onto the row.
func (s *RecordStore) RecordConfirmed(ctx context.Context, confirmed domain.ConfirmedTransaction) error {
	ctx, span := startDBSpan(ctx, "mysql.RecordConfirmed",
		attribute.String("transaction.id", confirmed.TransactionID),
		attribute.String("status", string(confirmed.Status)),
	)
	defer span.End()
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	var revertReason any
	if confirmed.Revert != nil {
		encoded, err := json.Marshal(confirmed.Revert)
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
			return err
		}
		revertReason = string(encoded)
	}
	gasCost := "0"
	if confirmed.GasCost != nil {
		gasCost = confirmed.GasCost.String()
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO transaction_records (transaction_id, chain_id, user_op_hash, tx_hash, nonce, status, block_number, gas_used, gas_cost, revert_reason, confirmed_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, NOW())
		 ON DUPLICATE KEY UPDATE
			tx_hash = VALUES(tx_hash),
			nonce = VALUES(nonce),
			status = VALUES(status),
			block_number = VALUES(block_number),
			gas_used = VALUES(gas_used),
			gas_cost = VALUES(gas_cost),
			revert_reason = VALUES(revert_reason),
			confirmed_at = NOW()`,
		confirmed.TransactionID, confirmed.ChainID, strings.ToLower(confirmed.UserOpHash),
		strings.ToLower(confirmed.TransactionHash), confirmed.Nonce, string(confirmed.Status),
		confirmed.BlockNumber, confirmed.GasUsed, gasCost, revertReason)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
	return err
}

func (s *RecordStore) GetRecord(ctx context.Context, transactionID string) (domain.TransactionRecord, bool, error) {
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	var record domain.TransactionRecord
	var revertReason sql.NullString
	err := s.db.QueryRowContext(ctx,
		`SELECT transaction_id, chain_id, signer, user_op_hash, tx_hash, nonce, status, block_number, gas_used, gas_cost, revert_reason
		 FROM transaction_records WHERE transaction_id = ?`,
		transactionID).Scan(
		&record.TransactionID, &record.ChainID, &record.Signer, &record.UserOpHash,
		&record.TransactionHash, &record.Nonce, &record.Status, &record.BlockNumber,
		&record.GasUsed, &record.GasCost, &revertReason)
	if errors.Is(err, sql.ErrNoRows) {
		return domain.TransactionRecord{}, false, nil
	}
	if err != nil {
		return domain.TransactionRecord{}, false, err
	}
	if revertReason.Valid {
		record.RevertReason = revertReason.String
	}
	return record, true, nil
}

func (s *RecordStore) Ping(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()
	return s.db.PingContext(ctx)
}

func (s *RecordStore) Close() error {
	return s.db.Close()
}

func startDBSpan(ctx context.Context, name string, attrs ...attribute.KeyValue) (context.Context, trace.Span) {
	attrs = append(attrs, attribute.String("db.system", "mysql"))
	return otel.Tracer("engine/mysql").Start(ctx, name, trace.WithSpanKind(trace.SpanKindClient), trace.WithAttributes(attrs...))
}
