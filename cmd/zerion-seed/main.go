// Command zerion-seed creates the demo account and its character and
// prints a fresh connection ticket for it.
//
// Usage:
//
//	go run ./cmd/zerion-seed [-email demo@zerion.local] [-password demo]
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"os"

	"golang.org/x/crypto/bcrypt"

	"github.com/leozinhoszg/zerion/internal/config"
	"github.com/leozinhoszg/zerion/internal/db"
	"github.com/leozinhoszg/zerion/internal/tilemap"
)

func main() {
	email := flag.String("email", "demo@zerion.local", "account email")
	password := flag.String("password", "demo", "account password")
	flag.Parse()

	if err := run(context.Background(), *email, *password); err != nil {
		slog.Error("seed failed", "error", err)
		os.Exit(1)
	}
}

func run(ctx context.Context, email, password string) error {
	cfg, err := config.LoadGameServer(config.Path())
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}

	database, err := db.New(ctx, cfg.Database.DSN())
	if err != nil {
		return err
	}
	defer database.Close()

	if err := db.RunMigrations(ctx, cfg.Database.DSN()); err != nil {
		return fmt.Errorf("running migrations: %w", err)
	}

	users := db.NewUserRepository(database.Pool())
	user, err := users.GetByEmail(ctx, email)
	switch {
	case errors.Is(err, db.ErrNotFound):
		hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
		if err != nil {
			return fmt.Errorf("hashing password: %w", err)
		}
		id, err := users.Create(ctx, email, string(hash))
		if err != nil {
			return err
		}
		user = db.User{ID: id, Email: email, PasswordHash: string(hash)}
		slog.Info("user created", "id", id, "email", email)
	case err != nil:
		return err
	default:
		if bcrypt.CompareHashAndPassword([]byte(user.PasswordHash), []byte(password)) != nil {
			return fmt.Errorf("user %s exists with a different password", email)
		}
		slog.Info("user exists", "id", user.ID, "email", email)
	}

	spawn := tilemap.Point{}
	if m, err := tilemap.LoadFile(cfg.MapPath, cfg.MapID); err == nil {
		spawn = m.Spawn
	} else {
		slog.Warn("map not loaded, spawning at origin", "path", cfg.MapPath, "error", err)
	}

	char, err := db.NewCharacterRepository(database.Pool()).LookupOrCreate(ctx, user.ID, spawn.X, spawn.Y)
	if err != nil {
		return err
	}
	slog.Info("character ready", "id", char.ID, "name", char.Name, "x", char.X, "y", char.Y)

	ticket, err := db.NewTicketRepository(database.Pool(), cfg.TicketTTL).Issue(ctx, user.ID)
	if err != nil {
		return err
	}
	fmt.Println(ticket)
	return nil
}
