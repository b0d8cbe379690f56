package export

import (
	"bytes"
	"encoding/csv"
	"fmt"

	"github.com/xuri/excelize/v2"
)

const (
	SheetMonitorees  = "Monitorees"
	SheetAssessments = "Assessments"
	SheetHistories   = "Histories"
)

// format describes how one export type renders a batch.
type format struct {
	Ext         string
	ContentType string
	Write       func(b *Batch) ([]byte, error)
	// FullHistory also loads assessments and histories for each batch.
	FullHistory bool
}

var formats = map[string]format{
	TypeCSVLinelist: {
		Ext:         "csv",
		ContentType: "text/csv",
		Write:       func(b *Batch) ([]byte, error) { return writeCSV(linelistColumns, b) },
	},
	TypeXLSXComprehensive: {
		Ext:         "xlsx",
		ContentType: "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet",
		Write:       func(b *Batch) ([]byte, error) { return writeXLSX(comprehensiveColumns, b, false) },
	},
	TypeXLSXFullHistory: {
		Ext:         "xlsx",
		ContentType: "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet",
		Write:       func(b *Batch) ([]byte, error) { return writeXLSX(comprehensiveColumns, b, true) },
		FullHistory: true,
	},
}

func writeCSV(cols []column, b *Batch) ([]byte, error) {
	var buf bytes.Buffer
	w := csv.NewWriter(&buf)
	if err := w.Write(headers(cols)); err != nil {
		return nil, err
	}
	for _, p := range b.Patients {
		if err := w.Write(patientRow(cols, p, b)); err != nil {
			return nil, err
		}
	}
	w.Flush()
	if err := w.Error(); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func writeXLSX(cols []column, b *Batch, full bool) ([]byte, error) {
	f := excelize.NewFile()
	defer f.Close()

	if err := f.SetSheetName("Sheet1", SheetMonitorees); err != nil {
		return nil, err
	}
	rows := make([][]string, 0, len(b.Patients))
	for _, p := range b.Patients {
		rows = append(rows, patientRow(cols, p, b))
	}
	if err := writeSheet(f, SheetMonitorees, headers(cols), rows); err != nil {
		return nil, err
	}

	if full {
		rows = nil
		for _, a := range b.Assessments {
			rows = append(rows, assessmentRow(a))
		}
		if err := writeSheet(f, SheetAssessments, assessmentHeaders, rows); err != nil {
			return nil, err
		}
		rows = nil
		for _, h := range b.Histories {
			rows = append(rows, historyRow(h))
		}
		if err := writeSheet(f, SheetHistories, historyHeaders, rows); err != nil {
			return nil, err
		}
	}

	buf, err := f.WriteToBuffer()
	if err != nil {
		return nil, fmt.Errorf("write workbook: %w", err)
	}
	return buf.Bytes(), nil
}

// writeSheet streams a header row and rows into sheet, creating it when
// missing.
func writeSheet(f *excelize.File, sheet string, header []string, rows [][]string) error {
	if idx, _ := f.GetSheetIndex(sheet); idx < 0 {
		if _, err := f.NewSheet(sheet); err != nil {
			return err
		}
	}
	sw, err := f.NewStreamWriter(sheet)
	if err != nil {
		return err
	}
	for i, r := range append([][]string{header}, rows...) {
		cell, err := excelize.CoordinatesToCellName(1, i+1)
		if err != nil {
			return err
		}
		values := make([]interface{}, len(r))
		for j, v := range r {
			values[j] = v
		}
		if err := sw.SetRow(cell, values); err != nil {
			return fmt.Errorf("sheet %s row %d: %w", sheet, i+1, err)
		}
	}
	return sw.Flush()
}
