package surface

import (
	"encoding/csv"
	"encoding/json"
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/chenqi92/poi-collector/internal/store"
)

// utf8BOM is prefixed to every exported file per spec.md §6: all three
// formats are UTF-8 with a leading byte-order mark, matching the original's
// accommodation for Excel's locale-dependent UTF-8 sniffing.
var utf8BOM = []byte{0xEF, 0xBB, 0xBF}

func writeJSONExport(path string, pois []store.POI) error {
	views := make([]POIView, 0, len(pois))
	for _, p := range pois {
		views = append(views, poiToView(p))
	}
	body, err := json.MarshalIndent(views, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal poi export: %w", err)
	}
	return writeWithBOM(path, body)
}

// writeCSVExport implements the "excel" format: CSV with embedded-quote
// doubling, which is exactly encoding/csv's default quoting behavior.
func writeCSVExport(path string, pois []store.POI) error {
	var b strings.Builder
	w := csv.NewWriter(&b)

	header := []string{"id", "platform", "name", "lon", "lat", "original_lon", "original_lat", "address", "phone", "category", "category_id", "region_code", "created_at"}
	if err := w.Write(header); err != nil {
		return fmt.Errorf("write csv header: %w", err)
	}
	for _, p := range pois {
		row := []string{
			strconv.FormatInt(p.ID, 10), p.Platform, p.Name,
			strconv.FormatFloat(p.Lon, 'f', -1, 64), strconv.FormatFloat(p.Lat, 'f', -1, 64),
			strconv.FormatFloat(p.OriginalLon, 'f', -1, 64), strconv.FormatFloat(p.OriginalLat, 'f', -1, 64),
			p.Address, p.Phone, p.Category, p.CategoryID, p.RegionCode, p.CreatedAt,
		}
		if err := w.Write(row); err != nil {
			return fmt.Errorf("write csv row for poi %d: %w", p.ID, err)
		}
	}
	w.Flush()
	if err := w.Error(); err != nil {
		return fmt.Errorf("flush csv: %w", err)
	}
	return writeWithBOM(path, []byte(b.String()))
}

// writeMySQLExport implements the "mysql" format: a CREATE TABLE under
// utf8mb4 followed by one INSERT per row, matching the literal wording of
// spec.md §6. No dump precedent exists in original_source (the export
// command is implemented client-side there); the statement shape follows
// the poi_data schema this module itself defines in internal/store.
func writeMySQLExport(path string, pois []store.POI) error {
	var b strings.Builder
	b.WriteString("CREATE TABLE IF NOT EXISTS `poi_data` (\n")
	b.WriteString("  `id` BIGINT NOT NULL,\n")
	b.WriteString("  `platform` VARCHAR(32) NOT NULL,\n")
	b.WriteString("  `name` VARCHAR(255) NOT NULL,\n")
	b.WriteString("  `lon` DOUBLE NOT NULL,\n")
	b.WriteString("  `lat` DOUBLE NOT NULL,\n")
	b.WriteString("  `original_lon` DOUBLE,\n")
	b.WriteString("  `original_lat` DOUBLE,\n")
	b.WriteString("  `address` VARCHAR(512),\n")
	b.WriteString("  `phone` VARCHAR(64),\n")
	b.WriteString("  `category` VARCHAR(64),\n")
	b.WriteString("  `category_id` VARCHAR(64),\n")
	b.WriteString("  `region_code` VARCHAR(16),\n")
	b.WriteString("  `created_at` VARCHAR(32),\n")
	b.WriteString("  PRIMARY KEY (`id`)\n")
	b.WriteString(") ENGINE=InnoDB DEFAULT CHARSET=utf8mb4;\n\n")

	for _, p := range pois {
		fmt.Fprintf(&b, "INSERT INTO `poi_data` (`id`,`platform`,`name`,`lon`,`lat`,`original_lon`,`original_lat`,`address`,`phone`,`category`,`category_id`,`region_code`,`created_at`) VALUES (%d,%s,%s,%s,%s,%s,%s,%s,%s,%s,%s,%s,%s);\n",
			p.ID, sqlQuote(p.Platform), sqlQuote(p.Name), strconv.FormatFloat(p.Lon, 'f', -1, 64),
			strconv.FormatFloat(p.Lat, 'f', -1, 64), strconv.FormatFloat(p.OriginalLon, 'f', -1, 64),
			strconv.FormatFloat(p.OriginalLat, 'f', -1, 64), sqlQuote(p.Address), sqlQuote(p.Phone),
			sqlQuote(p.Category), sqlQuote(p.CategoryID), sqlQuote(p.RegionCode), sqlQuote(p.CreatedAt))
	}
	return writeWithBOM(path, []byte(b.String()))
}

// sqlQuote escapes a string literal for the mysql dump: backslash and single
// quote are the two characters MySQL's default sql_mode requires escaped.
func sqlQuote(s string) string {
	s = strings.ReplaceAll(s, `\`, `\\`)
	s = strings.ReplaceAll(s, `'`, `\'`)
	return "'" + s + "'"
}

func writeWithBOM(path string, body []byte) error {
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("create export file %s: %w", path, err)
	}
	defer f.Close()
	if _, err := f.Write(utf8BOM); err != nil {
		return fmt.Errorf("write bom to %s: %w", path, err)
	}
	if _, err := f.Write(body); err != nil {
		return fmt.Errorf("write export body to %s: %w", path, err)
	}
	return nil
}
