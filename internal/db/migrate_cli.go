package db

import (
	"fmt"
	"io"
	"strconv"
)

// RunMigrateCommand handles the sweeper's "migrate" subcommand against the
// vault at dbPath. Output goes to out.
func RunMigrateCommand(args []string, dbPath string, out io.Writer) error {
	if len(args) < 1 || args[0] == "help" {
		PrintMigrateHelp(out)
		if len(args) < 1 {
			return fmt.Errorf("missing migrate action")
		}
		return nil
	}

	// Migrations manage the schema, so open without migrating.
	database, err := OpenDB(dbPath)
	if err != nil {
		return fmt.Errorf("failed to connect to database: %w", err)
	}
	defer database.Close()

	switch action := args[0]; action {
	case "up":
		if err := database.MigrateUp(nil); err != nil {
			return err
		}
	case "down":
		if err := database.MigrateDown(nil); err != nil {
			return err
		}
	case "status":
	case "force", "version":
		if len(args) < 2 {
			return fmt.Errorf("usage: sweeper migrate %s <version>", action)
		}
		v, err := strconv.Atoi(args[1])
		if err != nil || v < 0 {
			return fmt.Errorf("invalid version number: %s", args[1])
		}
		if action == "force" {
			err = database.MigrateForce(nil, v)
		} else {
			err = database.MigrateTo(nil, uint(v))
		}
		if err != nil {
			return err
		}
	default:
		PrintMigrateHelp(out)
		return fmt.Errorf("unknown migrate action: %s", action)
	}

	version, dirty, err := database.MigrateVersion(nil)
	if err != nil {
		return err
	}
	fmt.Fprintf(out, "Current version: %d (dirty: %v)\n", version, dirty)
	if dirty {
		fmt.Fprintln(out, "WARNING: a migration failed mid-execution; inspect the vault and run: sweeper migrate force <version>")
	}
	return nil
}

// PrintMigrateHelp prints usage for the migrate subcommand.
func PrintMigrateHelp(out io.Writer) {
	fmt.Fprint(out, `Usage: sweeper migrate <action> [args]

Actions:
  up                 apply all pending migrations
  down               roll back the most recent migration
  status             show the current schema version
  version <n>        migrate up or down to version n
  force <n>          force the version (recovery from a dirty state only)
  help               show this help
`)
}
