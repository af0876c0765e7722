package cmd

import (
	"encoding/csv"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"

	"github.com/spf13/cobra"

	"github.com/dhcgn/dsar-redact/model"
	"github.com/dhcgn/dsar-redact/stats"
)

var (
	reportDir string
	topN      int
)

// AuditStatsCmd summarises an audit log produced by a redaction run.
var AuditStatsCmd = &cobra.Command{
	Use:   "audit-stats [audit file]",
	Short: "Analyse an audit log and show redaction statistics",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		auditPath := args[0]

		fmt.Println("Analyzing audit log:", auditPath)

		audit, err := loadAuditLog(auditPath)
		if err != nil {
			return fmt.Errorf("error reading audit log: %w", err)
		}

		counter := countRedactions(audit)
		categories := sortedCategories(counter)

		fmt.Printf("Run %s for subject %s <%s>\n", audit.RunID, audit.Subject.Name, audit.Subject.Email)
		fmt.Printf("Messages: %d total, %d with redactions, %d redactions\n\n",
			audit.TotalMessages, audit.MessagesWithRedactions, audit.TotalRedactions)

		for _, category := range categories {
			fmt.Printf("Top %d %s:\n", topN, category)
			stats.PrettyPrintTop(counter[category], topN)
			fmt.Println()
		}

		if err := saveCSVReports(counter, categories, reportDir, 1000); err != nil {
			return fmt.Errorf("error saving CSV reports: %w", err)
		}

		fmt.Printf("\nReports saved to directory: %s\n", reportDir)

		return nil
	},
}

func init() {
	AuditStatsCmd.Flags().StringVarP(&reportDir, "output", "o", ".", "Output directory for CSV reports")
	AuditStatsCmd.Flags().IntVarP(&topN, "top", "t", 10, "Number of top items to display in statistics")
}

func loadAuditLog(path string) (model.AuditLog, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return model.AuditLog{}, err
	}

	var audit model.AuditLog
	if err := json.Unmarshal(data, &audit); err != nil {
		return model.AuditLog{}, err
	}
	return audit, nil
}

// countRedactions buckets the audited items three ways: by redaction
// type, by detection source, and by original value within each type.
func countRedactions(audit model.AuditLog) map[string]map[string]int {
	counter := map[string]map[string]int{
		"type":   make(map[string]int),
		"source": make(map[string]int),
	}

	for _, entry := range audit.Entries {
		for _, item := range entry.Items {
			counter["type"][string(item.Type)]++
			counter["source"][string(item.Source)]++

			category := "values_" + string(item.Type)
			if counter[category] == nil {
				counter[category] = make(map[string]int)
			}
			counter[category][item.Original]++
		}
	}

	return counter
}

func sortedCategories(counter map[string]map[string]int) []string {
	categories := make([]string, 0, len(counter))
	for category := range counter {
		categories = append(categories, category)
	}
	sort.Strings(categories)
	return categories
}

func saveCSVReports(counter map[string]map[string]int, categories []string, dir string, limit int) error {
	// Create directory if it doesn't exist
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return err
	}

	// Write data for each category to a separate file
	for _, category := range categories {
		counts := counter[category]

		filename := fmt.Sprintf("report_%s.csv", normalizeCategoryName(category))
		filePath := filepath.Join(dir, filename)

		file, err := os.Create(filePath)
		if err != nil {
			return err
		}

		writer := csv.NewWriter(file)

		if err := writer.Write([]string{"Value", "Count"}); err != nil {
			file.Close()
			return err
		}

		// Sort by count descending
		type pair struct {
			Key   string
			Value int
		}
		var pairs []pair
		for k, v := range counts {
			pairs = append(pairs, pair{k, v})
		}
		sort.Slice(pairs, func(i, j int) bool {
			return pairs[i].Value > pairs[j].Value
		})

		for i := 0; i < limit && i < len(pairs); i++ {
			record := []string{
				pairs[i].Key,
				strconv.Itoa(pairs[i].Value),
			}
			if err := writer.Write(record); err != nil {
				file.Close()
				return err
			}
		}

		writer.Flush()
		file.Close()

		if err := writer.Error(); err != nil {
			return err
		}
	}

	return nil
}

func normalizeCategoryName(category string) string {
	// Convert to lowercase and replace invalid filename chars
	name := strings.ToLower(category)
	name = strings.ReplaceAll(name, "-", "_")
	name = strings.ReplaceAll(name, " ", "_")
	return name
}
