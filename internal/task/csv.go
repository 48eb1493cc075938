package task

import (
	"bufio"
	"fmt"
	"io"
	"strconv"
	"strings"
	"time"
)

// CSVHeader is the informational first line of the secondary format.
const CSVHeader = "id,text,importance,deadline,isDone,createdAt,changesAt"

const csvFields = 8

// EncodeCSV writes items in the secondary format.
func EncodeCSV(w io.Writer, items []Item) error {
	bw := bufio.NewWriter(w)
	if _, err := bw.WriteString(CSVHeader + "\n"); err != nil {
		return fmt.Errorf("failed to write header: %w", err)
	}
	for _, it := range items {
		if _, err := bw.WriteString(csvLine(it) + "\n"); err != nil {
			return fmt.Errorf("failed to write item %s: %w", it.ID, err)
		}
	}
	if err := bw.Flush(); err != nil {
		return fmt.Errorf("failed to flush items: %w", err)
	}
	return nil
}

func csvLine(it Item) string {
	importance := ""
	if it.Importance != ImportanceNormal {
		importance = it.Importance.WireName()
	}
	color := it.Color
	if color == "" {
		color = DefaultColor
	}
	fields := []string{
		escapeText(it.ID),
		escapeText(it.Text),
		importance,
		formatUnix(it.Deadline),
		strconv.FormatBool(it.Done),
		strconv.FormatInt(it.CreatedAt.Unix(), 10),
		formatUnix(it.ChangedAt),
		escapeText(color),
	}
	return strings.Join(fields, ",")
}

// DecodeCSV reads the secondary format. It returns the parsed items and the
// number of record lines that were skipped because they did not parse.
func DecodeCSV(r io.Reader) ([]Item, int, error) {
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64*1024), 4*1024*1024)

	items := []Item{}
	skipped := 0
	first := true
	for scanner.Scan() {
		line := strings.TrimRight(scanner.Text(), "\r")
		if first {
			first = false
			continue
		}
		if strings.TrimSpace(line) == "" {
			continue
		}
		it, err := parseCSVLine(line)
		if err != nil {
			skipped++
			continue
		}
		items = append(items, it)
	}
	if err := scanner.Err(); err != nil {
		return nil, skipped, fmt.Errorf("failed to read items: %w", err)
	}
	return items, skipped, nil
}

func parseCSVLine(line string) (Item, error) {
	fields := strings.Split(line, ",")
	if len(fields) != csvFields {
		return Item{}, fmt.Errorf("expected %d fields, got %d", csvFields, len(fields))
	}
	if fields[0] == "" {
		return Item{}, fmt.Errorf("id is required")
	}

	done := fields[4] == "true"
	if !done && fields[4] != "false" {
		return Item{}, fmt.Errorf("invalid isDone %q", fields[4])
	}
	created, err := strconv.ParseInt(fields[5], 10, 64)
	if err != nil {
		return Item{}, fmt.Errorf("invalid createdAt %q: %w", fields[5], err)
	}
	deadline, err := parseOptionalUnix(fields[3])
	if err != nil {
		return Item{}, fmt.Errorf("invalid deadline %q: %w", fields[3], err)
	}
	changed, err := parseOptionalUnix(fields[6])
	if err != nil {
		return Item{}, fmt.Errorf("invalid changesAt %q: %w", fields[6], err)
	}

	it := Item{
		ID:         unescapeText(fields[0]),
		Text:       unescapeText(fields[1]),
		Importance: ParseImportance(fields[2]),
		Deadline:   timePtr(deadline),
		Done:       done,
		CreatedAt:  *timePtr(&created),
		ChangedAt:  timePtr(changed),
		Color:      unescapeText(fields[7]),
	}
	if it.Color == "" {
		it.Color = DefaultColor
	}
	return it, nil
}

func escapeText(s string) string {
	s = strings.ReplaceAll(s, ",", "|")
	// A raw newline would split the record.
	return strings.ReplaceAll(s, "\n", " ")
}

func unescapeText(s string) string {
	return strings.ReplaceAll(s, "|", ",")
}

func formatUnix(t *time.Time) string {
	if t == nil {
		return ""
	}
	return strconv.FormatInt(t.Unix(), 10)
}

func parseOptionalUnix(s string) (*int64, error) {
	if s == "" {
		return nil, nil
	}
	v, err := strconv.ParseInt(s, 10, 64)
	if err != nil {
		return nil, err
	}
	return &v, nil
}
