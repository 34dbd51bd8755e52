// Command sessionctl writes a session into a local bbolt session store for
// development. It reads a JSON user description from stdin and prints the
// minted token as JSON to stdout. With -revoke it deactivates a token and
// with -sweep it removes expired sessions instead. A gateway running with the
// bolt sessions driver only opens the file during a lookup, so it can stay
// up.
package main

import (
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/callpulse/callpulse/gateway/internal/auth"
	"github.com/callpulse/callpulse/gateway/internal/config"
	"github.com/callpulse/callpulse/gateway/internal/store"
)

type input struct {
	TenantID    string   `json:"tenantId"`
	UserID      string   `json:"userId"`
	Name        string   `json:"name"`
	Role        string   `json:"role"`
	Permissions []string `json:"permissions"`
	// TTL is a Go duration string; defaults to 24h.
	TTL string `json:"ttl"`
}

type output struct {
	Token     string    `json:"token"`
	ExpiresAt time.Time `json:"expiresAt"`
}

func main() {
	dbPath := flag.String("db", config.DefaultSessionsPath, "path to the session store")
	revoke := flag.String("revoke", "", "token to revoke")
	sweep := flag.Bool("sweep", false, "remove expired sessions")
	flag.Parse()

	if err := run(*dbPath, *revoke, *sweep, os.Stdin, os.Stdout); err != nil {
		fmt.Fprintf(os.Stderr, "sessionctl: %v\n", err)
		os.Exit(1)
	}
}

func run(dbPath, revoke string, sweep bool, stdin io.Reader, stdout io.Writer) error {
	db, err := store.OpenDB(dbPath)
	if err != nil {
		return fmt.Errorf("open session store: %w", err)
	}
	defer db.Close()

	sessions, err := store.NewSessionStore(db)
	if err != nil {
		return fmt.Errorf("init session store: %w", err)
	}

	switch {
	case revoke != "":
		if err := sessions.RevokeSession(revoke); err != nil {
			return fmt.Errorf("revoke: %w", err)
		}
		return nil
	case sweep:
		n, err := sessions.SweepExpired(time.Now())
		if err != nil {
			return fmt.Errorf("sweep: %w", err)
		}
		fmt.Fprintf(stdout, "removed %d expired sessions\n", n)
		return nil
	}

	var in input
	if err := json.NewDecoder(stdin).Decode(&in); err != nil {
		return fmt.Errorf("decode input: %w", err)
	}
	if in.TenantID == "" || in.UserID == "" {
		return errors.New("tenantId and userId are required")
	}
	ttl := 24 * time.Hour
	if in.TTL != "" {
		if ttl, err = time.ParseDuration(in.TTL); err != nil || ttl <= 0 {
			return fmt.Errorf("invalid ttl %q", in.TTL)
		}
	}

	token, err := auth.NewToken()
	if err != nil {
		return fmt.Errorf("mint token: %w", err)
	}
	now := time.Now().UTC()
	rec := auth.SessionRecord{
		Token:     token,
		IsActive:  true,
		ExpiresAt: now.Add(ttl),
		User: auth.SessionUser{
			ID:          in.UserID,
			TenantID:    in.TenantID,
			Name:        in.Name,
			Role:        in.Role,
			Permissions: in.Permissions,
			LastLogin:   now,
		},
	}
	if err := sessions.PutSession(rec); err != nil {
		return fmt.Errorf("store session: %w", err)
	}

	if err := json.NewEncoder(stdout).Encode(output{Token: token, ExpiresAt: rec.ExpiresAt}); err != nil {
		return fmt.Errorf("encode output: %w", err)
	}
	return nil
}
