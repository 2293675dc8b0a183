package cmd

import (
	"context"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/kozaktomas/class-attendance/internal/attendance"
	"github.com/kozaktomas/class-attendance/internal/config"
	"github.com/schollz/progressbar/v3"
	"github.com/spf13/cobra"
)

var enrollCmd = &cobra.Command{
	Use:   "enroll <manifest.csv>",
	Short: "Enroll students from a CSV manifest of reference photos",
	Long: `Enroll or re-enroll students in bulk.

The manifest is a CSV file with the columns uid,name,photo. Photo paths are
resolved relative to the manifest. A header row starting with "uid" is
skipped. Each photo must contain a face; when it contains several, the most
confident detection is used. Re-enrolling a uid replaces its name, section
and embedding.

Examples:
  attendance enroll --section CSE-3A students.csv
  attendance enroll --section CSE-3A --concurrency 8 --json students.csv`,
	Args: cobra.ExactArgs(1),
	RunE: runEnroll,
}

func init() {
	rootCmd.AddCommand(enrollCmd)

	enrollCmd.Flags().String("section", "", "Section (group tag) for every student in the manifest")
	enrollCmd.Flags().Int("concurrency", 4, "Number of photos processed in parallel")
	enrollCmd.Flags().Bool("json", false, "Output as JSON")
	_ = enrollCmd.MarkFlagRequired("section")
}

// manifestRow is one student in an enrollment manifest.
type manifestRow struct {
	Line  int
	UID   string
	Name  string
	Photo string
}

// EnrollFailure describes a row that could not be enrolled.
type EnrollFailure struct {
	Line  int    `json:"line"`
	UID   string `json:"uid"`
	Error string `json:"error"`
}

// EnrollResult summarizes a bulk enrollment.
type EnrollResult struct {
	Success       bool            `json:"success"`
	Section       string          `json:"section"`
	Total         int             `json:"total"`
	Enrolled      int             `json:"enrolled"`
	Failures      []EnrollFailure `json:"failures"`
	DurationMs    int64           `json:"duration_ms"`
	DurationHuman string          `json:"duration_human,omitempty"`
}

// readManifest parses uid,name,photo rows. Relative photo paths are resolved
// against baseDir.
func readManifest(r io.Reader, baseDir string) ([]manifestRow, error) {
	reader := csv.NewReader(r)
	reader.FieldsPerRecord = 3
	reader.TrimLeadingSpace = true
	reader.Comment = '#'

	var rows []manifestRow
	for {
		record, err := reader.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("invalid manifest: %w", err)
		}
		line, _ := reader.FieldPos(0)
		if len(rows) == 0 && strings.EqualFold(strings.TrimSpace(record[0]), "uid") {
			continue
		}
		photo := strings.TrimSpace(record[2])
		if photo != "" && !filepath.IsAbs(photo) {
			photo = filepath.Join(baseDir, photo)
		}
		rows = append(rows, manifestRow{
			Line:  line,
			UID:   strings.TrimSpace(record[0]),
			Name:  strings.TrimSpace(record[1]),
			Photo: photo,
		})
	}
	return rows, nil
}

func loadManifest(path string) ([]manifestRow, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open manifest: %w", err)
	}
	defer f.Close()
	return readManifest(f, filepath.Dir(path))
}

func runEnroll(cmd *cobra.Command, args []string) error {
	section := mustGetString(cmd, "section")
	concurrency := mustGetInt(cmd, "concurrency")
	jsonOutput := mustGetBool(cmd, "json")
	if concurrency < 1 {
		concurrency = 1
	}

	rows, err := loadManifest(args[0])
	if err != nil {
		return err
	}
	if len(rows) == 0 {
		return errors.New("manifest has no students")
	}

	cfg := config.Load()
	logger, err := newLogger(cfg.LogLevel)
	if err != nil {
		return err
	}
	defer logger.Sync()

	ctx := context.Background()
	startTime := time.Now()

	b, err := openBackend(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer b.Close()

	if err := b.detector.Health(ctx); err != nil {
		return fmt.Errorf("detector is not ready: %w", err)
	}

	var bar *progressbar.ProgressBar
	if !jsonOutput {
		fmt.Printf("Enrolling %d students into %s\n\n", len(rows), section)
		bar = progressbar.NewOptions(len(rows),
			progressbar.OptionSetDescription("Enrolling"),
			progressbar.OptionShowCount(),
			progressbar.OptionShowIts(),
			progressbar.OptionSetItsString("students"),
			progressbar.OptionShowElapsedTimeOnFinish(),
			progressbar.OptionSetPredictTime(true),
			progressbar.OptionFullWidth(),
		)
	}

	result := EnrollResult{Section: section, Total: len(rows), Failures: []EnrollFailure{}}
	var mu sync.Mutex
	sem := make(chan struct{}, concurrency)
	var wg sync.WaitGroup

	for _, row := range rows {
		wg.Add(1)
		go func(row manifestRow) {
			defer wg.Done()
			sem <- struct{}{}
			defer func() { <-sem }()

			err := enrollRow(ctx, b.service, section, row)

			mu.Lock()
			if err != nil {
				result.Failures = append(result.Failures, EnrollFailure{Line: row.Line, UID: row.UID, Error: err.Error()})
			} else {
				result.Enrolled++
			}
			mu.Unlock()
			if bar != nil {
				bar.Add(1)
			}
		}(row)
	}
	wg.Wait()

	duration := time.Since(startTime)
	result.Success = len(result.Failures) == 0
	result.DurationMs = duration.Milliseconds()
	result.DurationHuman = duration.Round(time.Millisecond).String()

	if jsonOutput {
		return outputJSON(result)
	}

	fmt.Printf("\n\nEnrolled %d of %d students in %s\n", result.Enrolled, result.Total, result.DurationHuman)
	for _, f := range result.Failures {
		fmt.Printf("  line %d (%s): %s\n", f.Line, f.UID, f.Error)
	}
	return nil
}

func enrollRow(ctx context.Context, svc *attendance.Service, section string, row manifestRow) error {
	if row.Photo == "" {
		return errors.New("photo path is empty")
	}
	data, err := os.ReadFile(row.Photo)
	if err != nil {
		return fmt.Errorf("failed to read photo: %w", err)
	}
	_, err = svc.Enroll(ctx, attendance.EnrollRequest{
		ExternalUID: row.UID,
		Name:        row.Name,
		GroupTag:    section,
		Image:       data,
	})
	return err
}
