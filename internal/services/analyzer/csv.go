package analyzer

import (
	"strconv"
	"strings"
)

// fileKind is the schema classification of a tabular file
type fileKind string

const (
	kindInvoices     fileKind = "invoices"
	kindReceipts     fileKind = "receipts"
	kindTransactions fileKind = "transactions"
	kindLedger       fileKind = "ledger"
	kindUnknown      fileKind = "unknown"
)

// csvTable is one parsed tabular file
type csvTable struct {
	FileName string
	Kind     fileKind
	Header   []string
	Rows     [][]string
}

// parseCSV splits on commas, enough for the table shapes this pipeline
// ingests. Quoted fields are not handled.
func parseCSV(text string) ([]string, [][]string) {
	var lines []string
	for _, line := range strings.Split(strings.ReplaceAll(text, "\r\n", "\n"), "\n") {
		if strings.TrimSpace(line) != "" {
			lines = append(lines, line)
		}
	}
	if len(lines) == 0 {
		return nil, nil
	}

	splitRow := func(line string) []string {
		cells := strings.Split(line, ",")
		for i := range cells {
			cells[i] = strings.TrimSpace(cells[i])
		}
		return cells
	}

	header := splitRow(lines[0])
	rows := make([][]string, 0, len(lines)-1)
	for _, line := range lines[1:] {
		rows = append(rows, splitRow(line))
	}
	return header, rows
}

// classify maps a header signature to a file kind using case-insensitive
// membership checks
func classify(header []string) fileKind {
	lower := make(map[string]bool, len(header))
	for _, h := range header {
		lower[strings.ToLower(h)] = true
	}

	switch {
	case lower["invoiceid"] && lower["duedate"] && lower["amount"]:
		return kindInvoices
	case lower["vendor"] && lower["description"] && lower["amount"]:
		return kindReceipts
	case lower["category"] && lower["amount"] && lower["currency"]:
		return kindTransactions
	case lower["account"] && lower["amount"]:
		return kindLedger
	default:
		return kindUnknown
	}
}

// parseAmount strips currency symbols and thousand separators, then parses
// the remainder as a float. Returns false when nothing numeric is left.
func parseAmount(raw string) (float64, bool) {
	var b strings.Builder
	for _, r := range raw {
		if (r >= '0' && r <= '9') || r == '-' || r == '.' {
			b.WriteRune(r)
		}
	}
	cleaned := b.String()
	if cleaned == "" || cleaned == "-" || cleaned == "." {
		return 0, false
	}
	n, err := strconv.ParseFloat(cleaned, 64)
	if err != nil {
		return 0, false
	}
	return n, true
}

// columnIndex returns the index of the named column, case-insensitive,
// or -1 when absent
func columnIndex(header []string, name string) int {
	for i, h := range header {
		if strings.EqualFold(strings.TrimSpace(h), name) {
			return i
		}
	}
	return -1
}

// cashColumns returns indexes of columns whose name suggests a cash or
// balance figure
func cashColumns(header []string) []int {
	var idx []int
	for i, h := range header {
		lower := strings.ToLower(h)
		if strings.Contains(lower, "cash") || strings.Contains(lower, "balance") {
			idx = append(idx, i)
		}
	}
	return idx
}
