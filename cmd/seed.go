package cmd

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/kozaktomas/rollcall/internal/roster"
)

var seedCmd = &cobra.Command{
	Use:   "seed <roster.yaml>",
	Short: "Load courses, persons and enrollments from a YAML file",
	Long: `Load a roster from a YAML file. Existing persons and courses are skipped,
so the same file can be applied repeatedly.

Example:
  courses:
    - id: cs101
      name: Computer Science
  persons:
    - id: alice
      name: Alice Nováková
      role: student
      courses: [cs101]`,
	Args: cobra.ExactArgs(1),
	RunE: runSeed,
}

func init() {
	rootCmd.AddCommand(seedCmd)
	seedCmd.Flags().Bool("json", false, "Output the result as JSON")
}

func runSeed(cmd *cobra.Command, args []string) error {
	sf, err := roster.LoadSeed(args[0])
	if err != nil {
		return err
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

	res, err := a.engine.ApplySeed(ctx, sf)
	if err != nil {
		return err
	}

	if mustGetBool(cmd, "json") {
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(res)
	}
	fmt.Printf("Created %d courses, %d persons, %d enrollments (%d skipped)\n",
		res.Courses, res.Persons, res.Enrollments, res.Skipped)
	return nil
}
