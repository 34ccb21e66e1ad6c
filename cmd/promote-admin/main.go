// Command promote-admin changes the role of an existing account.
//
//	promote-admin --email someone@example.com [--role admin]
package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/spf13/pflag"

	"github.com/dmehra2102/sweet-shop/internal/account/application"
	"github.com/dmehra2102/sweet-shop/internal/account/domain"
	accountpg "github.com/dmehra2102/sweet-shop/internal/account/infrastructure/postgres"
	"github.com/dmehra2102/sweet-shop/pkg/config"
	"github.com/dmehra2102/sweet-shop/pkg/logging"
	"github.com/dmehra2102/sweet-shop/pkg/password"
	"github.com/dmehra2102/sweet-shop/pkg/pgstore"
	"github.com/dmehra2102/sweet-shop/pkg/token"
)

func main() {
	email := pflag.String("email", "", "email of the account to change")
	role := pflag.String("role", string(domain.RoleAdmin), "role to assign (customer|admin)")
	pflag.Parse()

	cfg, err := config.Load()
	if err != nil {
		slog.Error("config load failed", "err", err)
		os.Exit(1)
	}
	log := logging.New(cfg.LogLevel)

	if err := run(cfg, log, *email, *role); err != nil {
		log.Error("promote failed", "email", *email, "err", err)
		os.Exit(1)
	}
}

func run(cfg *config.Config, log *slog.Logger, email, rawRole string) error {
	if email == "" {
		return fmt.Errorf("--email is required")
	}
	role, err := domain.ParseRole(rawRole)
	if err != nil {
		return err
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	db, err := pgstore.Open(ctx, cfg.PGURL, pgstore.Options{MaxConns: 1, Timeout: cfg.StoreTimeout})
	if err != nil {
		return err
	}
	defer db.Close()

	// Promote touches neither the hasher nor the token makers.
	svc := application.NewService(log, accountpg.NewRepository(log, db),
		password.NewHasher(cfg.BcryptCost),
		token.NewMaker(cfg.AccessTokenSecret, cfg.TokenIssuer, cfg.TokenAudience, cfg.AccessTokenTTL),
		token.NewMaker(cfg.RefreshTokenSecret, cfg.TokenIssuer, cfg.TokenAudience, cfg.RefreshTokenTTL),
	)
	p, err := svc.Promote(ctx, email, role)
	if err != nil {
		return err
	}
	fmt.Printf("%s is now %s\n", p.Email, p.Role)
	return nil
}
