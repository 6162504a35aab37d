package journal

import (
	"encoding/csv"
	"os"
	"strconv"
	"time"
)

type CSV struct {
	fills      *csv.Writer
	executions *csv.Writer
	equity     *csv.Writer
	ff, xf, ef *os.File
}

func NewCSV(fillsPath, executionsPath, equityPath string) (*CSV, error) {
	ff, err := os.Create(fillsPath)
	if err != nil {
		return nil, err
	}
	xf, err := os.Create(executionsPath)
	if err != nil {
		return nil, err
	}
	ef, err := os.Create(equityPath)
	if err != nil {
		return nil, err
	}

	fw := csv.NewWriter(ff)
	xw := csv.NewWriter(xf)
	ew := csv.NewWriter(ef)

	if err := fw.Write([]string{"order_id", "symbol", "side", "quantity", "price", "commission", "time"}); err != nil {
		return nil, err
	}
	if err := xw.Write([]string{"order_id", "symbol", "side", "strategy", "quantity", "success", "reason", "time"}); err != nil {
		return nil, err
	}
	if err := ew.Write([]string{"time", "cash", "equity"}); err != nil {
		return nil, err
	}

	for _, w := range []*csv.Writer{fw, xw, ew} {
		w.Flush()
		if err := w.Error(); err != nil {
			return nil, err
		}
	}

	return &CSV{fills: fw, executions: xw, equity: ew, ff: ff, xf: xf, ef: ef}, nil
}

func (j *CSV) RecordFill(r FillRecord) error {
	err := j.fills.Write([]string{
		r.OrderID,
		r.Symbol,
		r.Side,
		f(r.Quantity),
		f(r.Price),
		f(r.Commission),
		r.Time.Format(time.RFC3339),
	})
	if err != nil {
		return err
	}
	j.fills.Flush()
	return j.fills.Error()
}

func (j *CSV) RecordExecution(r ExecutionRecord) error {
	err := j.executions.Write([]string{
		r.OrderID,
		r.Symbol,
		r.Side,
		r.Strategy,
		f(r.Quantity),
		strconv.FormatBool(r.Success),
		r.Reason,
		r.Time.Format(time.RFC3339),
	})
	if err != nil {
		return err
	}
	j.executions.Flush()
	return j.executions.Error()
}

func (j *CSV) RecordEquity(r EquitySnapshot) error {
	err := j.equity.Write([]string{
		r.Time.Format(time.RFC3339),
		f(r.Cash),
		f(r.Equity),
	})
	if err != nil {
		return err
	}
	j.equity.Flush()
	return j.equity.Error()
}

func (j *CSV) Close() error {
	for _, w := range []*csv.Writer{j.fills, j.executions, j.equity} {
		w.Flush()
		if err := w.Error(); err != nil {
			return err
		}
	}

	if err := j.ff.Close(); err != nil {
		return err
	}
	if err := j.xf.Close(); err != nil {
		return err
	}
	return j.ef.Close()
}

func f(v float64) string {
	return strconv.FormatFloat(v, 'f', -1, 64)
}
