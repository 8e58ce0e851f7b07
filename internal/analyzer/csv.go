package analyzer

import (
	"encoding/csv"
	"fmt"
	"io"
	"strconv"

	"github.com/JakeFAU/vision2struct/internal/scrape"
)

// CSVHeader is the column order of the analysis report.
var CSVHeader = []string{"image", "avg_color", "brightness", "category", "color", "material", "vibe", "season"}

// ReportName returns the report file name for a keyword slug.
func ReportName(slug string) string {
	return "analysis_" + slug + ".csv"
}

// WriteCSV writes one row per record under CSVHeader.
func WriteCSV(w io.Writer, records []scrape.ImageRecord) error {
	cw := csv.NewWriter(w)
	if err := cw.Write(CSVHeader); err != nil {
		return fmt.Errorf("write csv header: %w", err)
	}
	for _, rec := range records {
		row := []string{
			rec.Name,
			fmt.Sprintf("[%d, %d, %d]", rec.AvgColorRGB[0], rec.AvgColorRGB[1], rec.AvgColorRGB[2]),
			strconv.FormatFloat(rec.Brightness, 'f', -1, 64),
			rec.Labels.Category,
			rec.Labels.Color,
			rec.Labels.Material,
			rec.Labels.Vibe,
			rec.Labels.Season,
		}
		if err := cw.Write(row); err != nil {
			return fmt.Errorf("write csv row %s: %w", rec.Name, err)
		}
	}
	cw.Flush()
	if err := cw.Error(); err != nil {
		return fmt.Errorf("flush csv: %w", err)
	}
	return nil
}
