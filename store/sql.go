package store

import (
	"context"
	"database/sql"
	"errors"

	"github.com/go-sql-driver/mysql"
	"github.com/golang/glog"
)

// CREATE TABLE kv (
//   k VARCHAR(191) NOT NULL PRIMARY KEY,
//   v MEDIUMBLOB NOT NULL,
//   update_time DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP ON UPDATE CURRENT_TIMESTAMP
// );
const (
	getValueSQL    = "SELECT v FROM kv WHERE k=?"
	insertValueSQL = "INSERT INTO kv (k, v) VALUES (?, ?)"
	updateValueSQL = "UPDATE kv SET v=? WHERE k=?"
)

// SQLKV implements KV on a MySQL table, for headless deployments sharing state.
type SQLKV struct {
	*sql.DB
}

func NewSQLKV(db *sql.DB) *SQLKV {
	return &SQLKV{db}
}

func (s *SQLKV) withTx(ctx context.Context, exec func(ctx context.Context, tx *sql.Tx) error, opts ...*sql.TxOptions) error {
	var txOpts *sql.TxOptions
	if len(opts) == 0 {
		txOpts = &sql.TxOptions{
			Isolation: sql.LevelRepeatableRead,
			ReadOnly:  false,
		}
	} else {
		txOpts = opts[0]
	}
	tx, err := s.BeginTx(ctx, txOpts)
	if err != nil {
		return err
	}

	if err := exec(ctx, tx); err != nil {
		if err2 := tx.Rollback(); err2 != nil {
			glog.Errorf("failed to rollback: %v", err2)
		}
		return err
	}

	return tx.Commit()
}

func (s *SQLKV) Get(ctx context.Context, key string) ([]byte, bool, error) {
	var out []byte
	row := s.QueryRowContext(ctx, getValueSQL, key)
	if err := row.Scan(&out); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, false, nil
		}
		glog.Errorf("kv get scan err: %v", err)
		return nil, false, err
	}
	return out, true, nil
}

// Set inserts the value, falling back to an update when the key exists.
func (s *SQLKV) Set(ctx context.Context, key string, value []byte) error {
	return s.withTx(ctx, func(ctx context.Context, tx *sql.Tx) error {
		_, err := tx.ExecContext(ctx, insertValueSQL, key, value)
		if err == nil {
			return nil
		}
		if !s.IsDupKeyError(err) {
			glog.Errorf("kv insert exec err: %v", err)
			return err
		}
		if _, err := tx.ExecContext(ctx, updateValueSQL, value, key); err != nil {
			glog.Errorf("kv update exec err: %v", err)
			return err
		}
		return nil
	})
}

func (s *SQLKV) IsDupKeyError(err error) bool {
	var val *mysql.MySQLError
	if errors.As(err, &val) {
		return val.Number == 1062
	}
	return false
}
