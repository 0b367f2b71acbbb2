package repositories

import (
	"context"
	"driver-cost-service/internal/domain"
	"fmt"
	"math"
	"strconv"
	"strings"

	"github.com/xuri/excelize/v2"
)

// Header aliases accepted by the Excel stop reader, keyed by field.
var excelColumns = map[string][]string{
	"driver_id":   {"driver_id", "driver", "driver id"},
	"date":        {"date", "stop_date"},
	"timestamp":   {"timestamp", "time", "check_in", "check-in time"},
	"store_id":    {"store_id", "store_code", "store id"},
	"store_name":  {"store_name", "store", "store name"},
	"address":     {"address"},
	"branch_name": {"branch_name", "branch"},
	"lat":         {"lat", "latitude"},
	"lng":         {"lng", "lon", "longitude"},
}

func parseCoord(val string) (float64, error) {
	// Some exports use a decimal comma.
	val = strings.TrimSpace(strings.ReplaceAll(val, ",", "."))
	if val == "" {
		return 0, fmt.Errorf("empty")
	}
	return strconv.ParseFloat(val, 64)
}

// ExcelStopSource reads stops from one sheet of a workbook. The first row is
// a header; columns are matched by name so their order does not matter.
type ExcelStopSource struct {
	Path  string
	Sheet string
}

func (s ExcelStopSource) ListStops(ctx context.Context) ([]domain.Stop, error) {
	f, err := excelize.OpenFile(s.Path)
	if err != nil {
		return nil, fmt.Errorf("read stops: open %q: %w", s.Path, err)
	}
	defer f.Close()

	// An absent sheet name falls back to the active sheet.
	sheet := s.Sheet
	if idx, err := f.GetSheetIndex(sheet); sheet == "" || err != nil || idx < 0 {
		sheet = f.GetSheetName(f.GetActiveSheetIndex())
	}
	return ReadStopsSheet(f, sheet)
}

// ReadStopsSheet converts sheet rows to stops in row order. Rows with
// unparseable coordinates keep NaN so they are reported downstream.
func ReadStopsSheet(f *excelize.File, sheet string) ([]domain.Stop, error) {
	rows, err := f.GetRows(sheet)
	if err != nil {
		return nil, fmt.Errorf("read stops: sheet %q: %w", sheet, err)
	}
	if len(rows) == 0 {
		return nil, nil
	}

	idx := headerIndex(rows[0])
	for _, required := range []string{"driver_id", "timestamp", "lat", "lng"} {
		if _, ok := idx[required]; !ok {
			return nil, fmt.Errorf("read stops: sheet %q: missing column %q", sheet, required)
		}
	}

	cell := func(row []string, field string) string {
		i, ok := idx[field]
		if !ok || i >= len(row) {
			return ""
		}
		return strings.TrimSpace(row[i])
	}

	stops := make([]domain.Stop, 0, len(rows)-1)
	for i, row := range rows[1:] {
		if len(strings.Join(row, "")) == 0 {
			continue
		}

		seed := StopSeed{
			DriverID:   cell(row, "driver_id"),
			Date:       cell(row, "date"),
			Timestamp:  cell(row, "timestamp"),
			StoreID:    cell(row, "store_id"),
			StoreName:  cell(row, "store_name"),
			Address:    cell(row, "address"),
			BranchName: cell(row, "branch_name"),
		}
		if lat, err := parseCoord(cell(row, "lat")); err == nil {
			seed.Lat = &lat
		}
		if lng, err := parseCoord(cell(row, "lng")); err == nil {
			seed.Lng = &lng
		}

		stop, err := seed.Stop()
		if err != nil {
			return nil, fmt.Errorf("read stops: sheet %q row %d: %w", sheet, i+2, err)
		}
		if math.IsNaN(stop.Location.Lat) || math.IsNaN(stop.Location.Lon) {
			stop.Location = domain.Coordinates{Lat: math.NaN(), Lon: math.NaN()}
		}
		stops = append(stops, stop)
	}
	return stops, nil
}

func headerIndex(header []string) map[string]int {
	idx := make(map[string]int, len(excelColumns))
	for col, name := range header {
		name = strings.ToLower(strings.TrimSpace(name))
		for field, aliases := range excelColumns {
			if _, seen := idx[field]; seen {
				continue
			}
			for _, a := range aliases {
				if name == a {
					idx[field] = col
				}
			}
		}
	}
	return idx
}
