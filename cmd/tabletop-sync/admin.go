package main

import (
	"flag"
	"fmt"
	"os"
	"time"

	"github.com/jake-wickstrom/tabletop-tracker/internal/api"
	"github.com/jake-wickstrom/tabletop-tracker/internal/serverdb"
)

func runAdmin(args []string) {
	if len(args) == 0 {
		printAdminUsage()
		os.Exit(1)
	}

	switch args[0] {
	case "create-user":
		runAdminCreateUser(args[1:])
	case "create-key":
		runAdminCreateKey(args[1:])
	case "list-users":
		runAdminListUsers(args[1:])
	case "revoke-key":
		runAdminRevokeKey(args[1:])
	default:
		fmt.Fprintf(os.Stderr, "unknown admin command: %s\n", args[0])
		printAdminUsage()
		os.Exit(1)
	}
}

func printAdminUsage() {
	fmt.Fprintln(os.Stderr, `Usage: tabletop-sync admin <command> [flags]

Commands:
  create-user  Create a user with its own dataset
  create-key   Issue an API key for a user
  list-users   List users and their sync activity
  revoke-key   Revoke one of a user's API keys`)
}

func openDB(dbPath string) *serverdb.ServerDB {
	if dbPath == "" {
		cfg := api.LoadConfig()
		dbPath = cfg.ServerDBPath
	}
	store, err := serverdb.Open(dbPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "error: open database: %v\n", err)
		os.Exit(1)
	}
	return store
}

const dbFlagUsage = "path to server.db (default: from SYNC_SERVER_DB_PATH or ./data/server.db)"

func fail(err error) {
	fmt.Fprintf(os.Stderr, "error: %v\n", err)
	os.Exit(1)
}

func lookupUser(store *serverdb.ServerDB, ref string) *serverdb.User {
	user, err := store.ResolveUser(ref)
	if err != nil {
		fail(err)
	}
	if user == nil {
		fail(fmt.Errorf("user not found: %s", ref))
	}
	return user
}

func runAdminCreateUser(args []string) {
	fs := flag.NewFlagSet("admin create-user", flag.ExitOnError)
	email := fs.String("email", "", "user email address")
	dbPath := fs.String("db", "", dbFlagUsage)
	fs.Parse(args)

	if *email == "" {
		fmt.Fprintln(os.Stderr, "error: --email is required")
		fs.Usage()
		os.Exit(1)
	}

	store := openDB(*dbPath)
	defer store.Close()

	user, err := store.CreateUser(*email)
	if err != nil {
		fail(err)
	}
	fmt.Printf("created user %s (%s)\n", user.Email, user.ID)
}

func runAdminCreateKey(args []string) {
	fs := flag.NewFlagSet("admin create-key", flag.ExitOnError)
	ref := fs.String("user", "", "user email or id")
	name := fs.String("name", "", "key name (e.g. phone)")
	ttl := fs.Duration("ttl", 0, "key lifetime, 0 for no expiry")
	dbPath := fs.String("db", "", dbFlagUsage)
	fs.Parse(args)

	if *ref == "" || *name == "" {
		fmt.Fprintln(os.Stderr, "error: --user and --name are required")
		fs.Usage()
		os.Exit(1)
	}

	store := openDB(*dbPath)
	defer store.Close()

	user := lookupUser(store, *ref)

	var expiresAt *time.Time
	if *ttl > 0 {
		t := time.Now().Add(*ttl).UTC()
		expiresAt = &t
	}

	plaintext, ak, err := store.GenerateAPIKey(user.ID, *name, expiresAt)
	if err != nil {
		fail(err)
	}

	fmt.Printf("created API key for %s\n", user.Email)
	fmt.Printf("  id:   %s\n", ak.ID)
	fmt.Printf("  name: %s\n", ak.Name)
	if ak.ExpiresAt != nil {
		fmt.Printf("  expires: %s\n", ak.ExpiresAt.Format(time.RFC3339))
	}
	fmt.Printf("  key:  %s\n", plaintext)
	fmt.Println("\nSave this key now -- it will not be shown again.")
}

func runAdminListUsers(args []string) {
	fs := flag.NewFlagSet("admin list-users", flag.ExitOnError)
	dbPath := fs.String("db", "", dbFlagUsage)
	fs.Parse(args)

	store := openDB(*dbPath)
	defer store.Close()

	users, err := store.ListUsers()
	if err != nil {
		fail(err)
	}
	for _, u := range users {
		keys, err := store.ListAPIKeys(u.ID)
		if err != nil {
			fail(err)
		}
		state, err := store.GetSyncState(u.ID)
		if err != nil {
			fail(err)
		}
		lastPush := "never"
		if state != nil && state.LastPushAt != nil {
			lastPush = state.LastPushAt.Format(time.RFC3339)
		}
		fmt.Printf("%s  %-30s keys=%d last_push=%s\n", u.ID, u.Email, len(keys), lastPush)
	}
}

func runAdminRevokeKey(args []string) {
	fs := flag.NewFlagSet("admin revoke-key", flag.ExitOnError)
	ref := fs.String("user", "", "user email or id")
	keyID := fs.String("key", "", "API key id")
	dbPath := fs.String("db", "", dbFlagUsage)
	fs.Parse(args)

	if *ref == "" || *keyID == "" {
		fmt.Fprintln(os.Stderr, "error: --user and --key are required")
		fs.Usage()
		os.Exit(1)
	}

	store := openDB(*dbPath)
	defer store.Close()

	user := lookupUser(store, *ref)
	if err := store.RevokeAPIKey(*keyID, user.ID); err != nil {
		fail(err)
	}
	fmt.Printf("revoked key %s for %s\n", *keyID, user.Email)
}
