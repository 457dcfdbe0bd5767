package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"strings"
	"time"

	_ "github.com/joho/godotenv/autoload"
	"go.uber.org/zap"

	"colegio.org/internal/apperr"
	"colegio.org/internal/auth"
	"colegio.org/internal/config"
	"colegio.org/internal/ids"
	"colegio.org/internal/obs"
	"colegio.org/internal/store/pg"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "config: %v\n", err)
		os.Exit(1)
	}
	dsn := flag.String("dsn", cfg.Database.URL, "PostgreSQL DSN (defaults to DATABASE_URL)")
	flag.Parse()

	logger, err := obs.InitLogger(cfg.Server.Environment)
	if err != nil {
		fmt.Fprintf(os.Stderr, "logger: %v\n", err)
		os.Exit(1)
	}
	defer obs.Sync()

	if *dsn == "" {
		logger.Fatal("missing DSN: provide via -dsn or DATABASE_URL")
	}
	if flag.NArg() == 0 {
		logger.Fatal("usage: migrate [up|down|status|seed]")
	}

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Minute)
	defer cancel()

	store, err := pg.Open(*dsn, 2)
	if err != nil {
		logger.Fatal("open db", zap.Error(err))
	}
	defer store.Close()

	cmd := flag.Arg(0)
	switch cmd {
	case "up":
		err = store.Migrate(ctx)
	case "down":
		err = store.MigrateDown(ctx)
	case "status":
		err = store.MigrateStatus(ctx)
	case "seed":
		err = seed(ctx, store, cfg.Seed, logger)
	default:
		logger.Fatal("unknown command", zap.String("command", cmd))
	}
	if err != nil {
		logger.Fatal("migrate failed", zap.String("command", cmd), zap.Error(err))
	}
	logger.Info("migrate done", zap.String("command", cmd))
}

// seed provisions the built-in permissions and roles, the root organization
// and, when SEED_ADMIN_DNI and SEED_ADMIN_PASSWORD are set, a SystemAdmin.
// Running it twice is harmless.
func seed(ctx context.Context, store *pg.Store, sc config.SeedConfig, logger *zap.Logger) error {
	rbac, err := auth.NewRBACService(store, nil, nil, logger.Named("rbac"))
	if err != nil {
		return err
	}
	if err := rbac.EnsureBuiltins(ctx); err != nil {
		return fmt.Errorf("builtins: %w", err)
	}
	chapterID, err := store.SeedOrganization(ctx, sc.AssociationName, sc.BranchName, sc.ChapterName)
	if err != nil {
		return fmt.Errorf("organization: %w", err)
	}
	logger.Info("organization ready",
		zap.String("association", sc.AssociationName),
		zap.String("branch", sc.BranchName),
		zap.String("chapter", sc.ChapterName),
	)

	dni := strings.TrimSpace(sc.AdminDNI)
	if dni == "" || sc.AdminPassword == "" {
		logger.Info("admin seed skipped, SEED_ADMIN_DNI or SEED_ADMIN_PASSWORD not set")
		return nil
	}
	existing, err := store.UserByDNI(ctx, dni)
	switch {
	case err == nil:
		logger.Info("admin already present", zap.String("user_id", existing.ID))
		return store.ReplaceUserRoles(ctx, existing.ID, []string{auth.RoleSystemAdmin, auth.RoleMember})
	case !errors.Is(err, apperr.ErrNotFound):
		return err
	}

	hash, err := auth.HashPassword(sc.AdminPassword)
	if err != nil {
		return err
	}
	now := time.Now().UTC()
	admin := auth.User{
		ID:           ids.New(),
		DNI:          dni,
		PasswordHash: hash,
		FirstName:    "Administrador",
		LastName:     "Sistema",
		Email:        strings.TrimSpace(sc.AdminEmail),
		ChapterID:    chapterID,
		IsActive:     true,
		CreatedAt:    now,
		UpdatedAt:    now,
	}
	if err := store.CreateMember(ctx, admin, auth.RoleMember); err != nil {
		return fmt.Errorf("create admin: %w", err)
	}
	if err := store.ReplaceUserRoles(ctx, admin.ID, []string{auth.RoleSystemAdmin, auth.RoleMember}); err != nil {
		return err
	}
	logger.Info("admin created", zap.String("user_id", admin.ID))
	return nil
}
