package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"satsledger/cmd"
	"satsledger/database"

	log "github.com/sirupsen/logrus"
)

func main() {
	command := "serve"
	if len(os.Args) > 1 {
		command = os.Args[1]
	}

	switch {
	case command == "migrate":
		if err := handleMigrationCommand(); err != nil {
			log.WithError(err).Fatal("Migration error")
		}
		return

	case command == "help" || command == "-h" || command == "--help":
		fmt.Print(usage())
		return

	case cmd.IsOperatorCommand(command):
		if err := cmd.RunOperatorCommand(context.Background(), command, os.Args[2:]); err != nil {
			log.WithError(err).Fatal("Command failed")
		}
		return

	case command != "serve":
		fmt.Fprint(os.Stderr, usage())
		os.Exit(2)
	}

	// Normal ledger operation
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Handle graceful shutdown
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	go func() {
		<-sigChan
		log.Info("Received shutdown signal, shutting down gracefully...")
		cancel()
	}()

	if err := cmd.Run(ctx); err != nil {
		log.WithError(err).Fatal("Application error")
	}
}

func handleMigrationCommand() error {
	if len(os.Args) < 3 {
		return fmt.Errorf("usage: satsledger migrate [up|down|status] [args...]")
	}

	command := os.Args[2]
	switch command {
	case "up":
		return database.MigrateUp()
	case "down":
		steps := "1"
		if len(os.Args) > 3 {
			steps = os.Args[3]
		}
		return database.MigrateDown(steps)
	case "status":
		return database.MigrateStatus()
	default:
		return fmt.Errorf("unknown migration command: %s", command)
	}
}

func usage() string {
	return "usage: satsledger [command] [args...]\n\n" +
		"  serve                                                (default) run the ledger and its event sinks\n" +
		"  migrate up|down [steps]|status                       manage the database schema\n" +
		cmd.OperatorUsage()
}
