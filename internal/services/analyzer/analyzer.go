package analyzer

import (
	"crypto/sha1"
	"encoding/hex"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/ternarybob/arbor"
	"github.com/ternarybob/scrutor/internal/models"
)

// Result is the output of a local analysis pass: deterministic KPIs plus
// heuristic red flags. It is a pure function of the file contents.
type Result struct {
	KPIs     map[string]interface{}
	RedFlags []models.RedFlag
}

// Service computes KPIs and red flags from uploaded tabular files without
// any provider involvement
type Service struct {
	uploadsDir string
	logger     arbor.ILogger
}

// NewService creates a new analyzer service reading from the given uploads directory
func NewService(uploadsDir string, logger arbor.ILogger) *Service {
	return &Service{
		uploadsDir: uploadsDir,
		logger:     logger,
	}
}

// valueOrigin ties an aggregated numeric value back to its source file for
// outlier evidence
type valueOrigin struct {
	value float64
	file  string
}

// Analyze parses the job's CSV files, classifies them by header signature
// and accumulates revenue, expenses, AR and cash figures. Exact duplicate
// files are excluded from aggregation and reported as a red flag.
func (s *Service) Analyze(files []string) *Result {
	seenHashes := map[string]string{}
	var duplicates []string
	var readErrors []string
	var tables []csvTable

	for _, fname := range files {
		if !strings.EqualFold(filepath.Ext(fname), ".csv") {
			continue
		}
		data, err := os.ReadFile(filepath.Join(s.uploadsDir, fname))
		if err != nil {
			s.logger.Warn().Err(err).Str("file", fname).Msg("Failed to read file for analysis")
			readErrors = append(readErrors, fname)
			continue
		}

		sum := sha1.Sum(data)
		hash := hex.EncodeToString(sum[:])
		if _, dup := seenHashes[hash]; dup {
			duplicates = append(duplicates, fname)
			continue
		}
		seenHashes[hash] = fname

		header, rows := parseCSV(string(data))
		if len(header) == 0 {
			continue
		}
		tables = append(tables, csvTable{
			FileName: fname,
			Kind:     classify(header),
			Header:   header,
			Rows:     rows,
		})
	}

	haveTransactions := false
	for _, t := range tables {
		if t.Kind == kindTransactions {
			haveTransactions = true
			break
		}
	}

	var revenue, expenses, arTotal float64
	var cashOnHand *float64
	negativesByFile := map[string]int{}
	negativeSamples := map[string][]float64{}
	var origins []valueOrigin

	noteNegative := func(file string, n float64) {
		if n >= 0 {
			return
		}
		negativesByFile[file]++
		if len(negativeSamples[file]) < 5 {
			negativeSamples[file] = append(negativeSamples[file], n)
		}
	}

	// Latest value wins: scan rows in reverse, first parseable cell per column
	scanCash := func(t csvTable, candidates []int) {
		for _, ci := range candidates {
			for i := len(t.Rows) - 1; i >= 0; i-- {
				if ci >= len(t.Rows[i]) {
					continue
				}
				if n, ok := parseAmount(t.Rows[i][ci]); ok {
					cashOnHand = &n
					return
				}
			}
		}
	}

	for _, t := range tables {
		idxAmount := columnIndex(t.Header, "amount")
		cashIdx := cashColumns(t.Header)
		if idxAmount == -1 && len(cashIdx) == 0 {
			continue
		}

		switch t.Kind {
		case kindInvoices:
			// Invoices feed accounts receivable only, never revenue or expenses
			if idxAmount != -1 {
				for _, row := range t.Rows {
					if idxAmount >= len(row) {
						continue
					}
					if n, ok := parseAmount(row[idxAmount]); ok {
						arTotal += n
					}
				}
			}
			scanCash(t, cashIdx)
			continue

		case kindReceipts:
			// Receipts represent spend: every amount accumulates into
			// expenses by absolute value
			if idxAmount != -1 {
				for _, row := range t.Rows {
					if idxAmount >= len(row) {
						continue
					}
					n, ok := parseAmount(row[idxAmount])
					if !ok {
						continue
					}
					expenses += math.Abs(n)
					origins = append(origins, valueOrigin{value: n, file: t.FileName})
					noteNegative(t.FileName, n)
				}
			}
			scanCash(t, cashIdx)
			continue
		}

		countsForTotals := t.Kind == kindTransactions || t.Kind == kindLedger
		if idxAmount != -1 && countsForTotals {
			for _, row := range t.Rows {
				if idxAmount >= len(row) {
					continue
				}
				n, ok := parseAmount(row[idxAmount])
				if !ok {
					continue
				}
				if t.Kind == kindLedger && haveTransactions {
					// Transactions already capture revenue; only negative
					// ledger entries count, as expenses
					if n < 0 {
						expenses += math.Abs(n)
					}
				} else {
					if n > 0 {
						revenue += n
					} else if n < 0 {
						expenses += math.Abs(n)
					}
				}
				origins = append(origins, valueOrigin{value: n, file: t.FileName})
				noteNegative(t.FileName, n)
			}
		}

		scanCash(t, cashIdx)
	}

	kpis := map[string]interface{}{}
	if revenue != 0 || expenses != 0 {
		kpis["revenue_total"] = round2(revenue)
		kpis["expenses_total"] = round2(expenses)
		kpis["ebitda_total"] = round2(revenue - expenses)
		if revenue > 0 {
			kpis["gross_margin_pct"] = round1((revenue - expenses) / revenue * 100)
		}
	}
	if arTotal != 0 {
		kpis["ar_total"] = round2(arTotal)
	}
	if cashOnHand != nil {
		kpis["cash_on_hand"] = round2(*cashOnHand)
	}

	var flags []models.RedFlag
	if len(duplicates) > 0 {
		flags = append(flags, s.duplicateFlag(duplicates, seenHashes))
	}
	if flag, ok := negativeFlag(negativesByFile, negativeSamples); ok {
		flags = append(flags, flag)
	}
	if flag, ok := outlierFlag(origins); ok {
		flags = append(flags, flag)
	}
	for _, fname := range readErrors {
		flags = append(flags, models.RedFlag{
			ID:          "file_read_error_" + fname,
			Title:       "File read error",
			Severity:    models.SeverityMedium,
			Description: fmt.Sprintf("Could not read %s; it was excluded from analysis.", fname),
			Evidence:    []models.Evidence{{Doc: fname, Snippet: "unreadable file"}},
		})
	}

	return &Result{KPIs: kpis, RedFlags: flags}
}

func (s *Service) duplicateFlag(duplicates []string, seenHashes map[string]string) models.RedFlag {
	evidence := make([]models.Evidence, 0, len(duplicates))
	for _, dup := range duplicates {
		original := "original-unknown"
		if data, err := os.ReadFile(filepath.Join(s.uploadsDir, dup)); err == nil {
			sum := sha1.Sum(data)
			if orig, ok := seenHashes[hex.EncodeToString(sum[:])]; ok {
				original = orig
			}
		}
		evidence = append(evidence, models.Evidence{Doc: dup, Snippet: "Duplicate of " + original})
	}
	return models.RedFlag{
		ID:          "duplicate_files",
		Title:       "Duplicate Data Files",
		Severity:    models.SeverityHigh,
		Description: fmt.Sprintf("Detected %d duplicate CSV file(s). Exact duplicates were excluded from aggregation.", len(duplicates)),
		Evidence:    evidence,
	}
}

func negativeFlag(counts map[string]int, samples map[string][]float64) (models.RedFlag, bool) {
	if len(counts) == 0 {
		return models.RedFlag{}, false
	}

	total := 0
	var evidence []models.Evidence
	for _, file := range sortedKeys(counts) {
		total += counts[file]
		snippet := fmt.Sprintf("Negative values: %d", counts[file])
		if vals := samples[file]; len(vals) > 0 {
			parts := make([]string, len(vals))
			for i, v := range vals {
				parts[i] = fmt.Sprintf("%.2f", v)
			}
			snippet += " | samples: " + strings.Join(parts, ", ")
		}
		evidence = append(evidence, models.Evidence{Doc: file, Snippet: snippet})
	}

	return models.RedFlag{
		ID:          "negative_amounts",
		Title:       "Negative amounts found",
		Severity:    models.SeverityHigh,
		Description: fmt.Sprintf("Found %d negative numeric value(s) across %d CSV file(s).", total, len(counts)),
		Evidence:    evidence,
	}, true
}

// outlierFlag flags values deviating more than three standard deviations
// from the population mean. Requires at least 3 values.
func outlierFlag(origins []valueOrigin) (models.RedFlag, bool) {
	if len(origins) < 3 {
		return models.RedFlag{}, false
	}

	var sum float64
	for _, o := range origins {
		sum += o.value
	}
	mean := sum / float64(len(origins))

	var variance float64
	for _, o := range origins {
		variance += (o.value - mean) * (o.value - mean)
	}
	variance /= float64(len(origins))
	std := math.Sqrt(variance)
	threshold := 3 * std

	count := 0
	var evidence []models.Evidence
	for _, o := range origins {
		if math.Abs(o.value-mean) > threshold {
			count++
			if len(evidence) < 8 {
				evidence = append(evidence, models.Evidence{
					Doc:     o.file,
					Snippet: fmt.Sprintf("Value %.2f deviates >3σ (mean %.2f, σ %.2f)", o.value, mean, std),
				})
			}
		}
	}
	if count == 0 {
		return models.RedFlag{}, false
	}

	return models.RedFlag{
		ID:          "outliers",
		Title:       "Outlier values detected",
		Severity:    models.SeverityLow,
		Description: fmt.Sprintf("Found %d value(s) that are statistical outliers.", count),
		Evidence:    evidence,
	}, true
}

func sortedKeys(m map[string]int) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

func round2(v float64) float64 {
	return math.Round(v*100) / 100
}

func round1(v float64) float64 {
	return math.Round(v*10) / 10
}
