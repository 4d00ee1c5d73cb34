package cmd

import (
	"encoding/json"
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/kozaktomas/rollcall/internal/apperr"
	"github.com/kozaktomas/rollcall/internal/roster"
)

var attendCmd = &cobra.Command{
	Use:   "attend <image>",
	Short: "Mark attendance from a photo",
	Long: `Recognize the face in an image among the students of a course and mark that student
present in the given session.

The course may be given by ID or name, the session by name ("Lecture 3") or ID.
With --dry-run the face is only identified and nothing is recorded.`,
	Args: cobra.ExactArgs(1),
	RunE: runAttend,
}

func init() {
	rootCmd.AddCommand(attendCmd)

	attendCmd.Flags().String("course", "", "Course ID or name (required)")
	attendCmd.Flags().String("session", "", "Session name or ID (required)")
	attendCmd.Flags().Bool("dry-run", false, "Identify the face without marking attendance")
	attendCmd.Flags().Bool("json", false, "Output the result as JSON")
	_ = attendCmd.MarkFlagRequired("course")
	_ = attendCmd.MarkFlagRequired("session")
}

// AttendResult is the outcome of one attend invocation
type AttendResult struct {
	Course   string     `json:"course"`
	Session  string     `json:"session"`
	PersonID string     `json:"person_id"`
	Name     string     `json:"name"`
	Distance float64    `json:"distance"`
	MarkedAt *time.Time `json:"marked_at,omitempty"`
	DryRun   bool       `json:"dry_run,omitempty"`
}

func runAttend(cmd *cobra.Command, args []string) error {
	courseRef := mustGetString(cmd, "course")
	sessionRef := mustGetString(cmd, "session")
	dryRun := mustGetBool(cmd, "dry-run")
	jsonOutput := mustGetBool(cmd, "json")

	image, err := os.ReadFile(args[0])
	if err != nil {
		return fmt.Errorf("failed to read image: %w", err)
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

	graph := a.engine.Graph()
	course, err := graph.ResolveCourse(courseRef)
	if err != nil {
		return err
	}
	session, err := findSession(graph, course.ID, sessionRef)
	if err != nil {
		return err
	}

	result := AttendResult{Course: course.Name, Session: session.Name, DryRun: dryRun}
	if dryRun {
		id, err := a.service.Identify(ctx, course.ID, image)
		if err != nil {
			return err
		}
		result.PersonID = id.Person.ID
		result.Name = id.Person.Name
		result.Distance = id.Match.Distance
	} else {
		mark, err := a.service.TakeAttendance(ctx, session.ID, image)
		if err != nil {
			return err
		}
		result.PersonID = mark.Entry.PersonID
		result.Name = mark.Entry.PersonName
		result.Distance = mark.Match.Distance
		result.MarkedAt = &mark.Entry.MarkedAt
	}

	if jsonOutput {
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(result)
	}
	if dryRun {
		fmt.Printf("Identified %s (%s), distance %.3f\n", result.Name, result.PersonID, result.Distance)
		return nil
	}
	fmt.Printf("Marked %s (%s) present in %s / %s, distance %.3f\n",
		result.Name, result.PersonID, result.Course, result.Session, result.Distance)
	return nil
}

// findSession resolves a session of courseID by display name first, then by ID.
func findSession(g *roster.Graph, courseID, ref string) (roster.Session, error) {
	if s, err := g.SessionByName(courseID, ref); err == nil {
		return s, nil
	}
	s, err := g.SessionByID(ref)
	if err != nil {
		return roster.Session{}, err
	}
	if s.CourseID != courseID {
		return roster.Session{}, apperr.E(apperr.NotFound, "cmd.findSession", "session %s does not belong to course %s", ref, courseID)
	}
	return s, nil
}
