package cmd

import (
	"encoding/json"
	"fmt"
	"maps"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"sync"
	"sync/atomic"

	"github.com/schollz/progressbar/v3"
	"github.com/spf13/cobra"

	"github.com/kozaktomas/rollcall/internal/constants"
	"github.com/kozaktomas/rollcall/internal/logger"
)

var facesCmd = &cobra.Command{
	Use:   "faces",
	Short: "Manage stored face samples",
}

var facesImportCmd = &cobra.Command{
	Use:   "import <dir>",
	Short: "Import face samples from a directory tree",
	Long: `Import face samples from a directory containing one sub-directory per person ID:

  faces/
    alice/  front.jpg side.jpg
    bob/    bob.png

Each image must contain one detectable face. By default samples are appended up to the
per-person limit; with --replace each person's samples are replaced by the images found.`,
	Args: cobra.ExactArgs(1),
	RunE: runFacesImport,
}

func init() {
	rootCmd.AddCommand(facesCmd)
	facesCmd.AddCommand(facesImportCmd)

	facesImportCmd.Flags().Bool("replace", false, "Replace existing samples instead of appending")
	facesImportCmd.Flags().Int("concurrency", constants.WorkerPoolSize, "Number of persons processed in parallel")
	facesImportCmd.Flags().Bool("json", false, "Output the result as JSON")
}

var imageExtensions = []string{".jpg", ".jpeg", ".png", ".webp"}

// personImages maps a person ID to the image files of its sub-directory.
type personImages struct {
	PersonID string
	Files    []string
}

// collectFaceImages scans root for per-person sub-directories. Persons are returned in
// ID order, files in name order; directories without images are skipped.
func collectFaceImages(root string) ([]personImages, error) {
	entries, err := os.ReadDir(root)
	if err != nil {
		return nil, fmt.Errorf("failed to read %s: %w", root, err)
	}
	var out []personImages
	for _, e := range entries {
		if !e.IsDir() || strings.HasPrefix(e.Name(), ".") {
			continue
		}
		files, err := os.ReadDir(filepath.Join(root, e.Name()))
		if err != nil {
			return nil, fmt.Errorf("failed to read %s: %w", e.Name(), err)
		}
		p := personImages{PersonID: e.Name()}
		for _, f := range files {
			if f.IsDir() {
				continue
			}
			if slices.Contains(imageExtensions, strings.ToLower(filepath.Ext(f.Name()))) {
				p.Files = append(p.Files, filepath.Join(root, e.Name(), f.Name()))
			}
		}
		if len(p.Files) > 0 {
			slices.Sort(p.Files)
			out = append(out, p)
		}
	}
	slices.SortFunc(out, func(a, b personImages) int { return strings.Compare(a.PersonID, b.PersonID) })
	return out, nil
}

// FaceImportResult summarizes an import run
type FaceImportResult struct {
	Persons int               `json:"persons"`
	Samples int64             `json:"samples"`
	Failed  map[string]string `json:"failed,omitempty"`
}

func runFacesImport(cmd *cobra.Command, args []string) error {
	replace := mustGetBool(cmd, "replace")
	concurrency := max(mustGetInt(cmd, "concurrency"), 1)
	jsonOutput := mustGetBool(cmd, "json")

	persons, err := collectFaceImages(args[0])
	if err != nil {
		return err
	}
	if len(persons) == 0 {
		return fmt.Errorf("no person directories with images found in %s", args[0])
	}

	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	ctx := cmd.Context()
	a, err := openApp(ctx, cfg)
	if err != nil {
		return err
	}
	defer a.Close()
	a.enableLookalikeIndex(ctx)
	defer a.saveLookalikeIndex(ctx)

	var bar *progressbar.ProgressBar
	if !jsonOutput {
		bar = progressbar.NewOptions(len(persons),
			progressbar.OptionSetDescription("Importing faces"),
			progressbar.OptionShowCount(),
			progressbar.OptionShowIts(),
			progressbar.OptionSetItsString("persons"),
			progressbar.OptionShowElapsedTimeOnFinish(),
			progressbar.OptionSetPredictTime(true),
			progressbar.OptionFullWidth(),
		)
	}

	result := FaceImportResult{Persons: len(persons), Failed: map[string]string{}}
	var samples atomic.Int64
	var mu sync.Mutex
	sem := make(chan struct{}, concurrency)
	var wg sync.WaitGroup

	for _, p := range persons {
		wg.Add(1)
		go func(p personImages) {
			defer wg.Done()
			sem <- struct{}{}
			defer func() { <-sem }()
			defer func() {
				if bar != nil {
					bar.Add(1)
				}
			}()

			n, err := importPerson(cmd, a, p, replace)
			samples.Add(int64(n))
			if err != nil {
				mu.Lock()
				result.Failed[p.PersonID] = err.Error()
				mu.Unlock()
			}
		}(p)
	}
	wg.Wait()
	if bar != nil {
		bar.Finish()
	}
	result.Samples = samples.Load()

	if jsonOutput {
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(result)
	}
	fmt.Printf("\nImported %d samples for %d persons\n", result.Samples, result.Persons-len(result.Failed))
	for _, id := range slices.Sorted(maps.Keys(result.Failed)) {
		fmt.Printf("  %s: %s\n", id, result.Failed[id])
	}
	if len(result.Failed) > 0 {
		return fmt.Errorf("%d persons failed", len(result.Failed))
	}
	return nil
}

// importPerson stores the samples of one person and returns how many were stored.
func importPerson(cmd *cobra.Command, a *app, p personImages, replace bool) (int, error) {
	ctx := cmd.Context()
	images := make([][]byte, 0, len(p.Files))
	for _, f := range p.Files {
		data, err := os.ReadFile(f)
		if err != nil {
			return 0, fmt.Errorf("read %s: %w", filepath.Base(f), err)
		}
		images = append(images, data)
	}

	if replace {
		if len(images) > a.cfg.Match.MaxSamples {
			images = images[:a.cfg.Match.MaxSamples]
		}
		stored, err := a.service.ReplaceFaces(ctx, p.PersonID, images)
		if err != nil {
			return 0, err
		}
		return len(stored), nil
	}

	stored := 0
	for i, img := range images {
		if _, err := a.service.EnrollFace(ctx, p.PersonID, img); err != nil {
			logger.GetInstance().Debugf("faces import %s: %v", p.Files[i], err)
			return stored, fmt.Errorf("%s: %w", filepath.Base(p.Files[i]), err)
		}
		stored++
	}
	return stored, nil
}
