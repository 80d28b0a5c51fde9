package main

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/oarkflow/squealx"
	_ "modernc.org/sqlite"

	"github.com/oarkflow/authkit"
	"github.com/oarkflow/authkit/logger"
	"github.com/oarkflow/authkit/stores"
)

func main() {
	if len(os.Args) < 2 {
		printUsage()
		os.Exit(1)
	}

	cmd := os.Args[1]
	switch cmd {
	case "convert":
		handleConvert()
	case "validate":
		handleValidate()
	case "stats":
		handleStats()
	case "apply":
		handleApply()
	case "mint":
		handleMint()
	case "rotate":
		handleRotate()
	default:
		fmt.Printf("Unknown command: %s\n", cmd)
		printUsage()
		os.Exit(1)
	}
}

func printUsage() {
	fmt.Println("authkit-config - Configuration tool for authkit")
	fmt.Println()
	fmt.Println("Usage:")
	fmt.Println("  authkit-config convert <input> <output>        - Convert between formats")
	fmt.Println("  authkit-config validate <file>                 - Validate configuration")
	fmt.Println("  authkit-config stats <file>                    - Show configuration statistics")
	fmt.Println("  authkit-config apply <file> [db]               - Apply configuration (sqlite db, or in-memory dry run)")
	fmt.Println("  authkit-config mint <db> <owner> [description] - Mint a credential against a sqlite db")
	fmt.Println("  authkit-config rotate <db> <id> <caller>       - Rotate a credential against a sqlite db")
	fmt.Println()
	fmt.Println("Supported config formats: .yaml, .yml, .json")
}

func handleConvert() {
	if len(os.Args) < 4 {
		fmt.Println("Usage: authkit-config convert <input> <output>")
		os.Exit(1)
	}

	cfg, err := loadConfig(os.Args[2])
	if err != nil {
		fmt.Printf("Error loading config: %v\n", err)
		os.Exit(1)
	}
	if err := saveConfig(cfg, os.Args[3]); err != nil {
		fmt.Printf("Error saving config: %v\n", err)
		os.Exit(1)
	}
	fmt.Printf("Converted %s -> %s\n", os.Args[2], os.Args[3])
}

func handleValidate() {
	if len(os.Args) < 3 {
		fmt.Println("Usage: authkit-config validate <file>")
		os.Exit(1)
	}

	cfg, err := loadConfig(os.Args[2])
	if err != nil {
		fmt.Printf("Invalid configuration: %v\n", err)
		os.Exit(1)
	}
	if err := cfg.Validate(); err != nil {
		fmt.Printf("Invalid configuration: %v\n", err)
		os.Exit(1)
	}

	fmt.Printf("Configuration is valid\n")
	fmt.Printf("  Groups:      %d\n", len(cfg.Groups))
	fmt.Printf("  Permissions: %d\n", len(cfg.Permissions))
	fmt.Printf("  Roles:       %d\n", len(cfg.Roles))
	fmt.Printf("  Assignments: %d\n", len(cfg.Assignments))
	fmt.Printf("  Policies:    %d\n", len(cfg.Policies))
}

func handleStats() {
	if len(os.Args) < 3 {
		fmt.Println("Usage: authkit-config stats <file>")
		os.Exit(1)
	}

	filename := os.Args[2]
	cfg, err := loadConfig(filename)
	if err != nil {
		fmt.Printf("Error loading config: %v\n", err)
		os.Exit(1)
	}

	stat, _ := os.Stat(filename)

	fmt.Println("Configuration Statistics")
	fmt.Println("========================")
	if stat != nil {
		fmt.Printf("File size: %d bytes\n", stat.Size())
	}
	fmt.Println()

	fmt.Println("Components:")
	fmt.Printf("  Groups:      %d\n", len(cfg.Groups))
	fmt.Printf("  Permissions: %d\n", len(cfg.Permissions))
	fmt.Printf("  Roles:       %d\n", len(cfg.Roles))
	fmt.Printf("  Assignments: %d\n", len(cfg.Assignments))
	fmt.Printf("  Policies:    %d\n", len(cfg.Policies))
	fmt.Printf("  Attribute bags: %d\n", len(cfg.Attributes))
	fmt.Println()

	if len(cfg.Roles) > 0 {
		totalGrants := 0
		withParent := 0
		for _, r := range cfg.Roles {
			totalGrants += len(r.Permissions)
			if r.Parent != "" {
				withParent++
			}
		}
		fmt.Println("Role Details:")
		fmt.Printf("  Total grants:      %d\n", totalGrants)
		fmt.Printf("  Avg per role:      %.1f\n", float64(totalGrants)/float64(len(cfg.Roles)))
		fmt.Printf("  Roles with parent: %d\n", withParent)
		fmt.Println()
	}

	fmt.Println("Engine Configuration:")
	fmt.Printf("  Credential TTL:     %dms\n", cfg.Engine.CredentialTTL)
	fmt.Printf("  Last-used interval: %dms\n", cfg.Engine.LastUsedInterval)
}

func handleApply() {
	if len(os.Args) < 3 {
		fmt.Println("Usage: authkit-config apply <file> [db]")
		os.Exit(1)
	}

	cfg, err := loadConfig(os.Args[2])
	if err != nil {
		fmt.Printf("Error loading config: %v\n", err)
		os.Exit(1)
	}

	var engine *authkit.Engine
	if len(os.Args) >= 4 {
		engine, err = openSQLEngine(os.Args[3])
	} else {
		engine, err = openMemoryEngine()
	}
	if err != nil {
		fmt.Printf("Error opening engine: %v\n", err)
		os.Exit(1)
	}
	defer engine.Close()

	if err := engine.ApplyConfig(context.Background(), cfg); err != nil {
		fmt.Printf("Error applying config: %v\n", err)
		os.Exit(1)
	}

	fmt.Printf("Configuration applied successfully\n")
	fmt.Printf("  Roles loaded:       %d\n", len(cfg.Roles))
	fmt.Printf("  Assignments loaded: %d\n", len(cfg.Assignments))
	fmt.Printf("  Policies loaded:    %d\n", len(cfg.Policies))
}

func handleMint() {
	if len(os.Args) < 4 {
		fmt.Println("Usage: authkit-config mint <db> <owner> [description]")
		os.Exit(1)
	}

	engine, err := openSQLEngine(os.Args[2])
	if err != nil {
		fmt.Printf("Error opening engine: %v\n", err)
		os.Exit(1)
	}
	defer engine.Close()

	description := ""
	if len(os.Args) >= 5 {
		description = os.Args[4]
	}

	secret, cred, err := engine.CreateCredential(context.Background(), os.Args[3], description)
	if err != nil {
		fmt.Printf("Error minting credential: %v\n", err)
		os.Exit(1)
	}

	fmt.Printf("Credential minted for %s\n", cred.OwnerID)
	fmt.Printf("  ID:     %s\n", cred.ID)
	fmt.Printf("  Prefix: %s\n", cred.Prefix)
	fmt.Printf("  Secret: %s\n", secret)
	fmt.Println("The secret is shown once and cannot be recovered.")
}

func handleRotate() {
	if len(os.Args) < 5 {
		fmt.Println("Usage: authkit-config rotate <db> <credential-id> <caller>")
		os.Exit(1)
	}

	engine, err := openSQLEngine(os.Args[2])
	if err != nil {
		fmt.Printf("Error opening engine: %v\n", err)
		os.Exit(1)
	}
	defer engine.Close()

	caller := authkit.Actor{PrincipalID: os.Args[4]}
	secret, next, err := engine.RotateCredential(context.Background(), os.Args[3], caller)
	if err != nil {
		fmt.Printf("Error rotating credential: %v\n", err)
		os.Exit(1)
	}

	fmt.Printf("Credential rotated\n")
	fmt.Printf("  New ID: %s\n", next.ID)
	fmt.Printf("  Secret: %s\n", secret)
	fmt.Println("The secret is shown once and cannot be recovered.")
}

func openSQLEngine(path string) (*authkit.Engine, error) {
	sqlDB, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	db := squealx.NewDb(sqlDB, "sqlite", "authkit")
	if err := stores.Migrate(db); err != nil {
		return nil, err
	}
	return authkit.NewEngine(
		stores.NewSQLCredentialStore(db),
		stores.NewSQLRoleStore(db),
		stores.NewSQLAssignmentStore(db),
		stores.NewSQLAttributeStore(db),
		stores.NewSQLPolicyStore(db),
		stores.NewSQLAuditStore(db),
		authkit.WithLogger(logger.NewPhusluLogger()),
	)
}

func openMemoryEngine() (*authkit.Engine, error) {
	return authkit.NewEngine(
		authkit.NewMemoryCredentialStore(),
		authkit.NewMemoryRoleStore(),
		authkit.NewMemoryAssignmentStore(),
		authkit.NewMemoryAttributeStore(),
		authkit.NewMemoryPolicyStore(),
		authkit.NewMemoryAuditStore(),
		authkit.WithLogger(logger.NewPhusluLogger()),
	)
}

func loadConfig(filename string) (*authkit.Config, error) {
	data, err := os.ReadFile(filename)
	if err != nil {
		return nil, err
	}

	loader := authkit.NewConfigLoader()
	switch strings.ToLower(filepath.Ext(filename)) {
	case ".yaml", ".yml":
		return loader.LoadYAML(data)
	case ".json":
		return loader.LoadJSON(data)
	default:
		return nil, fmt.Errorf("unsupported file format: %s", filepath.Ext(filename))
	}
}

func saveConfig(cfg *authkit.Config, filename string) error {
	var data []byte
	var err error

	switch strings.ToLower(filepath.Ext(filename)) {
	case ".yaml", ".yml":
		data, err = cfg.ToYAML()
	case ".json":
		data, err = cfg.ToJSON()
	default:
		return fmt.Errorf("unsupported file format: %s", filepath.Ext(filename))
	}
	if err != nil {
		return err
	}
	return os.WriteFile(filename, data, 0644)
}
