package statsservice

import (
	"fmt"
	"time"

	"github.com/xuri/excelize/v2"
)

const standingsSheet = "Standings"

var standingsHeader = []interface{}{
	"Rank", "Player", "Rating", "Season high", "Provisional",
	"Matches", "Wins", "Podiums", "Total score", "Last match",
}

func writeStandingsWorkbook(seasonID string, standings []Standing) ([]byte, error) {
	f := excelize.NewFile()
	defer f.Close()

	if err := f.SetSheetName("Sheet1", standingsSheet); err != nil {
		return nil, fmt.Errorf("failed to name sheet: %w", err)
	}
	if err := f.SetDocProps(&excelize.DocProperties{Title: "Season " + seasonID + " standings"}); err != nil {
		return nil, fmt.Errorf("failed to set properties: %w", err)
	}

	if err := f.SetSheetRow(standingsSheet, "A1", &standingsHeader); err != nil {
		return nil, fmt.Errorf("failed to write header: %w", err)
	}
	bold, err := f.NewStyle(&excelize.Style{Font: &excelize.Font{Bold: true}})
	if err != nil {
		return nil, fmt.Errorf("failed to create header style: %w", err)
	}
	lastCol, _ := excelize.CoordinatesToCellName(len(standingsHeader), 1)
	if err := f.SetCellStyle(standingsSheet, "A1", lastCol, bold); err != nil {
		return nil, fmt.Errorf("failed to style header: %w", err)
	}

	for i, s := range standings {
		lastMatch := ""
		if s.LastMatchAt != nil {
			lastMatch = s.LastMatchAt.UTC().Format(time.DateOnly)
		}
		row := []interface{}{
			s.Rank, s.UserID, s.DisplayRating, s.SeasonHigh, s.Provisional,
			s.Matches, s.Wins, s.Podiums, s.TotalScore, lastMatch,
		}
		cell, _ := excelize.CoordinatesToCellName(1, i+2)
		if err := f.SetSheetRow(standingsSheet, cell, &row); err != nil {
			return nil, fmt.Errorf("failed to write row %d: %w", i+2, err)
		}
	}

	if err := f.SetColWidth(standingsSheet, "B", "B", 24); err != nil {
		return nil, err
	}
	if err := f.SetPanes(standingsSheet, &excelize.Panes{
		Freeze:      true,
		YSplit:      1,
		TopLeftCell: "A2",
		ActivePane:  "bottomLeft",
	}); err != nil {
		return nil, fmt.Errorf("failed to freeze header: %w", err)
	}

	buf, err := f.WriteToBuffer()
	if err != nil {
		return nil, fmt.Errorf("failed to write workbook: %w", err)
	}
	return buf.Bytes(), nil
}
