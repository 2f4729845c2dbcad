package service

import (
	"github.com/pkg/errors"
	"github.com/xuri/excelize/v2"

	"github.com/noah-isme/upskill-api/internal/dto"
)

const leaderboardSheet = "Leaderboard"

var leaderboardHeaders = []string{"Rank", "User ID", "Name", "Team", "Points"}

func renderLeaderboardXLSX(board dto.LeaderboardResponse) ([]byte, error) {
	f := excelize.NewFile()
	defer func() { _ = f.Close() }()

	if err := f.SetSheetName("Sheet1", leaderboardSheet); err != nil {
		return nil, errors.Wrap(err, "rename sheet")
	}

	row, err := writeHeader(f, leaderboardSheet, 0, leaderboardHeaders)
	if err != nil {
		return nil, errors.Wrap(err, "write header")
	}

	if len(board.Entries) > 0 {
		if err := applyDataCellStyle(f, leaderboardSheet, 1, row+1, len(leaderboardHeaders), row+len(board.Entries)); err != nil {
			return nil, errors.Wrap(err, "style rows")
		}
	}

	for _, entry := range board.Entries {
		row++
		team := ""
		if entry.TeamID != nil {
			team = *entry.TeamID
		}
		values := []interface{}{entry.Rank, entry.UserID, entry.DisplayName, team, entry.Points}
		for col, value := range values {
			if err := writeColumn(f, leaderboardSheet, col+1, row, value); err != nil {
				return nil, errors.Wrapf(err, "write row %d", row)
			}
		}
	}

	buf, err := f.WriteToBuffer()
	if err != nil {
		return nil, errors.Wrap(err, "encode workbook")
	}

	return buf.Bytes(), nil
}

func writeColumn(f *excelize.File, sheet string, col, row int, value interface{}) error {
	cell, err := excelize.CoordinatesToCellName(col, row)
	if err != nil {
		return err
	}
	return f.SetCellValue(sheet, cell, value)
}

func writeHeader(f *excelize.File, sheet string, row int, headers []string) (int, error) {
	row++
	style, err := f.NewStyle(&excelize.Style{
		Alignment: &excelize.Alignment{Horizontal: "center"},
		Font:      &excelize.Font{Bold: true, Size: 11},
	})
	if err != nil {
		return row, err
	}

	first, err := excelize.CoordinatesToCellName(1, row)
	if err != nil {
		return row, err
	}
	last, err := excelize.CoordinatesToCellName(len(headers), row)
	if err != nil {
		return row, err
	}
	if err := f.SetCellStyle(sheet, first, last, style); err != nil {
		return row, err
	}

	lastCol, err := excelize.ColumnNumberToName(len(headers))
	if err != nil {
		return row, err
	}
	if err := f.SetColWidth(sheet, "A", lastCol, 22); err != nil {
		return row, err
	}

	for idx, value := range headers {
		if err := writeColumn(f, sheet, idx+1, row, value); err != nil {
			return row, err
		}
	}
	return row, nil
}

func applyDataCellStyle(f *excelize.File, sheet string, colFrom, rowFrom, colTo, rowTo int) error {
	style, err := f.NewStyle(&excelize.Style{
		Alignment: &excelize.Alignment{Horizontal: "left", Vertical: "center"},
		Font:      &excelize.Font{Size: 11},
	})
	if err != nil {
		return err
	}

	first, err := excelize.CoordinatesToCellName(colFrom, rowFrom)
	if err != nil {
		return err
	}
	last, err := excelize.CoordinatesToCellName(colTo, rowTo)
	if err != nil {
		return err
	}
	return f.SetCellStyle(sheet, first, last, style)
}
