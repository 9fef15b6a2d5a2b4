package main

import (
	"database/sql"
	"fmt"
	"os"

	"github.com/joho/godotenv"
	_ "github.com/lib/pq"

	"broadcaster/internal/config"
)

// ANSI color codes for terminal output
const (
	colorReset  = "\033[0m"
	colorRed    = "\033[31m"
	colorGreen  = "\033[32m"
	colorYellow = "\033[33m"
	colorCyan   = "\033[36m"
	colorBold   = "\033[1m"
)

const migrationsDir = "migrations"

func main() {
	// Load .env file (ignore error if not present)
	_ = godotenv.Load()

	command := "help"
	if len(os.Args) > 1 {
		command = os.Args[1]
	}

	switch command {
	case "up", "down", "status", "reset":
	default:
		printUsage()
		if command != "help" {
			os.Exit(1)
		}
		os.Exit(0)
	}

	cfg, err := config.Load()
	if err != nil {
		printError(fmt.Sprintf("Failed to load configuration: %v", err))
		os.Exit(1)
	}

	db, err := sql.Open("postgres", cfg.GetDatabaseDSN())
	if err != nil {
		printError(fmt.Sprintf("Failed to open database connection: %v", err))
		os.Exit(1)
	}
	defer db.Close()

	if err := db.Ping(); err != nil {
		printError(fmt.Sprintf("Failed to ping database: %v", err))
		os.Exit(1)
	}

	m := &Migrator{db: db, dir: migrationsDir}
	if err := m.ensureTable(); err != nil {
		printError(fmt.Sprintf("Failed to create migration table: %v", err))
		os.Exit(1)
	}

	switch command {
	case "up":
		err = m.Up()
	case "down":
		err = m.Down()
	case "status":
		err = m.Status()
	case "reset":
		err = m.Reset()
	}
	if err != nil {
		printError(fmt.Sprintf("%s failed: %v", command, err))
		os.Exit(1)
	}
}

func printSuccess(msg string) {
	fmt.Printf("%s%s%s\n", colorGreen, msg, colorReset)
}

func printError(msg string) {
	fmt.Fprintf(os.Stderr, "%s%s%s\n", colorRed, msg, colorReset)
}

func printInfo(msg string) {
	fmt.Printf("%s%s%s\n", colorCyan, msg, colorReset)
}

func printWarning(msg string) {
	fmt.Printf("%s%s%s\n", colorYellow, msg, colorReset)
}

func printUsage() {
	printInfo("Broadcaster migration runner\n")
	fmt.Println("Usage: migrate [command]")
	fmt.Println("\nCommands:")
	fmt.Println("  up       - Apply all pending migrations")
	fmt.Println("  down     - Roll back the last applied migration using its .down.sql file")
	fmt.Println("  status   - Show current migration status")
	fmt.Println("  reset    - Roll back every migration and reapply them")
	fmt.Println("  help     - Show this help message")
	fmt.Println("\nMigration files live in " + migrationsDir + "/ as NNN_name.sql with an NNN_name.down.sql pair.")
}
