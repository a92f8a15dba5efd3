package main

import (
	"flag"
	"fmt"
	"io"
	"time"

	"github.com/mroshb/szludo_wallet/internal/security"
)

const maxTokenTTL = 7 * 24 * time.Hour

// mintToken implements `walletd token`, which signs an access token for an
// operator, typically an admin for the review panel.
func mintToken(args []string, secret string, out io.Writer) error {
	fs := flag.NewFlagSet("token", flag.ContinueOnError)
	fs.SetOutput(out)
	userID := fs.Uint("user", 0, "user id carried in the token")
	role := fs.String("role", security.RoleAdmin, "user or admin")
	ttl := fs.Duration("ttl", 12*time.Hour, "token lifetime")
	if err := fs.Parse(args); err != nil {
		return err
	}

	if *userID == 0 {
		return fmt.Errorf("-user is required")
	}
	if *role != security.RoleUser && *role != security.RoleAdmin {
		return fmt.Errorf("unknown role %q", *role)
	}
	if *ttl <= 0 || *ttl > maxTokenTTL {
		return fmt.Errorf("-ttl must be between 0 and %s", maxTokenTTL)
	}

	token, err := security.GenerateJWT(*userID, *role, secret, *ttl)
	if err != nil {
		return fmt.Errorf("failed to sign token: %w", err)
	}
	_, err = fmt.Fprintln(out, token)
	return err
}
