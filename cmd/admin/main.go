package main

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"os"
	"text/tabwriter"
	"time"

	"github.com/joho/godotenv"
	"github.com/tendant/simple-lessons/pkg/simplelessons"
	"github.com/tendant/simple-lessons/pkg/simplelessons/config"
	"github.com/tendant/simple-lessons/pkg/simplelessons/sweep"
)

const usage = `Simple Lessons Admin CLI

Maintenance tool for the lessons database and blob store.

USAGE:
  admin <command> [options]

COMMANDS:
  migrate   Apply the database schema (postgres only)
  sweep     Find blobs no template or lesson references and delete them
  lessons   List lessons with their module, course and template
  env       Describe the environment variables

  Configuration is read from the environment and from a .env file in the
  current directory. Command line environment variables override .env
  file values.

EXAMPLES:
  # Report orphaned blobs without deleting them
  admin sweep --dry-run

  # Delete orphans, re-checking after 5 minutes instead of 1
  admin sweep --grace=5m

  # Only scan the lessons folder
  admin sweep --folder=lessons

  # Lessons of one author, as JSON
  admin lessons --nick=alice --json

OPTIONS:
  --dry-run            Report orphans only (sweep)
  --grace=<duration>   Wait and re-check references before deleting (sweep, default: 1m,
                       0 skips the re-check and is only safe with no writers)
  --folder=<name>      Folder to scan, repeatable (sweep)
  --concurrency=<n>    Parallel deletes (sweep, default: 4)
  --nick=<nick>        Filter by author nick (lessons)
  --json               Output as JSON
`

type options struct {
	dryRun      bool
	grace       time.Duration
	folders     []string
	concurrency int
	nick        string
	json        bool
}

func main() {
	// Load .env file if it exists (silently ignore if not found)
	_ = godotenv.Load()

	if len(os.Args) < 2 {
		fmt.Print(usage + "\n")
		os.Exit(1)
	}

	command := os.Args[1]

	switch command {
	case "help", "--help", "-h":
		fmt.Print(usage + "\n")
		return
	case "env":
		config.EnvUsage(os.Stdout)
		return
	}

	opts, err := parseOptions(os.Args[2:])
	if err != nil {
		fmt.Printf("%v\n\n", err)
		fmt.Print(usage + "\n")
		os.Exit(1)
	}

	cfg, err := config.Load(config.WithEnv())
	if err != nil {
		log.Fatalf("Failed to read configuration: %v", err)
	}
	logger := cfg.NewLogger()

	ctx := context.Background()
	svc, backends, err := cfg.BuildService(ctx, logger)
	if err != nil {
		log.Fatalf("Failed to build service: %v", err)
	}
	defer backends.Close()

	switch command {
	case "migrate":
		handleMigrate(ctx, backends)
	case "sweep":
		handleSweep(ctx, sweep.New(backends.BlobStore, backends.Repository, logger), opts)
	case "lessons":
		handleLessons(ctx, svc, opts)
	default:
		fmt.Printf("Unknown command: %s\n\n", command)
		fmt.Print(usage + "\n")
		os.Exit(1)
	}
}

func parseOptions(args []string) (options, error) {
	opts := options{grace: sweep.DefaultGrace}
	for _, arg := range args {
		key, value := parseFlag(arg)
		switch key {
		case "dry-run":
			opts.dryRun = true
		case "json":
			opts.json = true
		case "grace":
			d, err := time.ParseDuration(value)
			if err != nil {
				return opts, fmt.Errorf("invalid --grace: %w", err)
			}
			if d <= 0 {
				d = -1
			}
			opts.grace = d
		case "folder":
			opts.folders = append(opts.folders, value)
		case "concurrency":
			var n int
			if _, err := fmt.Sscanf(value, "%d", &n); err != nil || n < 1 {
				return opts, fmt.Errorf("invalid --concurrency: %s", value)
			}
			opts.concurrency = n
		case "nick":
			opts.nick = value
		default:
			return opts, fmt.Errorf("unknown option: %s", arg)
		}
	}
	return opts, nil
}

func parseFlag(arg string) (string, string) {
	if len(arg) > 2 && arg[:2] == "--" {
		arg = arg[2:]
		for i, c := range arg {
			if c == '=' {
				return arg[:i], arg[i+1:]
			}
		}
		return arg, "true"
	}
	return arg, ""
}

func handleMigrate(ctx context.Context, backends *config.Backends) {
	if backends.Pool == nil {
		fmt.Println("Memory database, nothing to migrate")
		return
	}
	if err := backends.Migrate(ctx); err != nil {
		log.Fatalf("Failed to migrate: %v", err)
	}
	fmt.Println("Schema is up to date")
}

func handleSweep(ctx context.Context, sweeper *sweep.Sweeper, opts options) {
	result, err := sweeper.Sweep(ctx, sweep.Options{
		Folders:     opts.folders,
		DryRun:      opts.dryRun,
		Grace:       opts.grace,
		Concurrency: opts.concurrency,
	})
	if err != nil {
		log.Fatalf("Failed to sweep: %v", err)
	}

	if opts.json {
		failures := make(map[string]string, len(result.Failures))
		for _, f := range result.Failures {
			failures[f.Key] = f.Err.Error()
		}
		printJSON(map[string]any{
			"dry_run":         opts.dryRun,
			"total_scanned":   result.TotalScanned,
			"referenced":      result.Referenced,
			"orphans":         result.Orphans,
			"total_processed": result.TotalProcessed,
			"failures":        failures,
		})
		return
	}

	fmt.Printf("Scanned:    %d\n", result.TotalScanned)
	fmt.Printf("Referenced: %d\n", result.Referenced)
	fmt.Printf("Orphans:    %d\n", len(result.Orphans))
	for _, key := range result.Orphans {
		fmt.Printf("  %s\n", key)
	}
	if opts.dryRun {
		fmt.Println("\nDry run, nothing deleted")
		return
	}
	fmt.Printf("Deleted:    %d\n", result.TotalProcessed)
	if len(result.Failures) > 0 {
		fmt.Println("\nFailures:")
		for _, f := range result.Failures {
			fmt.Printf("  %s: %v\n", f.Key, f.Err)
		}
		os.Exit(1)
	}
}

func handleLessons(ctx context.Context, svc simplelessons.Service, opts options) {
	details, err := svc.ListLessonDetails(ctx, simplelessons.LessonDetailFilter{AuthorNick: opts.nick})
	if err != nil {
		log.Fatalf("Failed to list lessons: %v", err)
	}

	if opts.json {
		printJSON(details)
		return
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintf(w, "ID\tTITLE\tAUTHOR\tCOURSE\tMODULE\tTEMPLATE\tCREATED\n")
	for _, d := range details {
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\t%s\t%s\n",
			d.LessonID.String()[:8]+"...",
			truncate(d.LessonTitle, 30),
			d.AuthorNick,
			truncate(d.CourseTitle, 20),
			truncate(d.ModuleTitle, 20),
			truncate(d.TemplateTitle, 20),
			d.CreatedAt.Format("2006-01-02 15:04:05"),
		)
	}
	w.Flush()

	fmt.Printf("\nTotal: %d\n", len(details))
}

func printJSON(v any) {
	data, _ := json.MarshalIndent(v, "", "  ")
	fmt.Println(string(data))
}

func truncate(s string, maxLen int) string {
	r := []rune(s)
	if len(r) <= maxLen {
		return s
	}
	return string(r[:maxLen-3]) + "..."
}
