package journal

import (
	"database/sql"

	_ "github.com/mattn/go-sqlite3"
)

type SQLite struct {
	db *sql.DB
}

func NewSQLite(path string) (*SQLite, error) {
	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, err
	}

	if _, err := db.Exec(Schema); err != nil {
		return nil, err
	}

	return &SQLite{db: db}, nil
}

func (j *SQLite) RecordFill(f FillRecord) error {
	_, err := j.db.Exec(`
		INSERT INTO fills
		(order_id, symbol, side, quantity, price, commission, time)
		VALUES (?, ?, ?, ?, ?, ?, ?)`,
		f.OrderID, f.Symbol, f.Side, f.Quantity, f.Price, f.Commission, f.Time,
	)
	return err
}

func (j *SQLite) RecordExecution(e ExecutionRecord) error {
	_, err := j.db.Exec(`
		INSERT INTO executions
		(order_id, symbol, side, strategy, quantity, success, reason, time)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		e.OrderID, e.Symbol, e.Side, e.Strategy, e.Quantity, e.Success, e.Reason, e.Time,
	)
	return err
}

func (j *SQLite) RecordEquity(e EquitySnapshot) error {
	_, err := j.db.Exec(`
		INSERT INTO equity
		(time, cash, equity)
		VALUES (?, ?, ?)`,
		e.Time, e.Cash, e.Equity,
	)
	return err
}

func (j *SQLite) Close() error {
	return j.db.Close()
}
