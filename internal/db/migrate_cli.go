package db

import (
	"errors"
	"fmt"
	"io"
	"io/fs"
	"strconv"
)

// ErrUsage is returned by RunMigrateCommand for a malformed invocation. The
// help text has already been written when it is returned.
var ErrUsage = errors.New("invalid migrate usage")

// RunMigrateCommand handles the 'migrate' subcommand. Output goes to out.
func RunMigrateCommand(args []string, dbPath string, out io.Writer) error {
	if len(args) < 1 {
		PrintMigrateHelp(out)
		return ErrUsage
	}
	action := args[0]
	if action == "help" {
		PrintMigrateHelp(out)
		return nil
	}

	// Open without migrating; the subcommand manages the schema itself.
	database, err := OpenDB(dbPath)
	if err != nil {
		return fmt.Errorf("failed to connect to database: %w", err)
	}
	defer database.Close()
	migrationsFS := MigrationsFS()

	switch action {
	case "up":
		if err := database.MigrateUp(migrationsFS); err != nil {
			return err
		}
		fmt.Fprintln(out, "all migrations applied")
		return printVersion(out, database, migrationsFS)

	case "down":
		if err := database.MigrateDown(migrationsFS); err != nil {
			return err
		}
		fmt.Fprintln(out, "rolled back one migration")
		return printVersion(out, database, migrationsFS)

	case "status":
		status, err := database.GetMigrationStatus(migrationsFS)
		if err != nil {
			return err
		}
		fmt.Fprintf(out, "current version: %d\n", status.CurrentVersion)
		fmt.Fprintf(out, "latest available: %d\n", status.LatestVersion)
		fmt.Fprintf(out, "dirty: %v\n", status.Dirty)
		switch {
		case status.Dirty:
			fmt.Fprintln(out, "a migration failed part way; inspect the database, then run: stewart migrate force <version>")
		case status.Pending():
			fmt.Fprintf(out, "%d migration(s) pending; run: stewart migrate up\n", status.LatestVersion-status.CurrentVersion)
		default:
			fmt.Fprintln(out, "up to date")
		}
		return nil

	case "version":
		v, err := versionArg(args, out)
		if err != nil {
			return err
		}
		if err := database.MigrateTo(migrationsFS, uint(v)); err != nil {
			return err
		}
		fmt.Fprintf(out, "migrated to version %d\n", v)
		return nil

	case "force":
		v, err := versionArg(args, out)
		if err != nil {
			return err
		}
		if err := database.MigrateForce(migrationsFS, v); err != nil {
			return err
		}
		fmt.Fprintf(out, "migration version forced to %d\n", v)
		return nil

	default:
		fmt.Fprintf(out, "unknown migrate action: %s\n\n", action)
		PrintMigrateHelp(out)
		return ErrUsage
	}
}

func versionArg(args []string, out io.Writer) (int, error) {
	if len(args) < 2 {
		fmt.Fprintf(out, "usage: stewart migrate %s <version_number>\n", args[0])
		return 0, ErrUsage
	}
	v, err := strconv.Atoi(args[1])
	if err != nil || v < 0 {
		return 0, fmt.Errorf("%w: invalid version number %q", ErrUsage, args[1])
	}
	return v, nil
}

func printVersion(out io.Writer, database *DB, migrationsFS fs.FS) error {
	version, dirty, err := database.MigrateVersion(migrationsFS)
	if err != nil {
		return err
	}
	fmt.Fprintf(out, "current version: %d (dirty: %v)\n", version, dirty)
	return nil
}

// PrintMigrateHelp writes the help text for the migrate subcommand.
func PrintMigrateHelp(out io.Writer) {
	fmt.Fprint(out, `Settings database migrations

Usage: stewart migrate <command> [options]

Commands:
  up              Apply all pending migrations
  down            Roll back one migration
  status          Show the current and latest migration versions
  version <N>     Migrate up or down to version N
  force <N>       Record version N without running migrations (recovery only)
  help            Show this help message

Options:
  -db-path <path>    Path to the settings database (default: stewart.db)
`)
}
