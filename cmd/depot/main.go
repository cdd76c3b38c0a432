package main

import (
	"fmt"
	"mime"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"depot-go/internal/app"
	"depot-go/internal/config"
	"depot-go/internal/core"
	"depot-go/internal/model"

	"github.com/spf13/cobra"
)

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

// newApp reads the config and creates an App. The caller must defer a.Close().
// operation identifies the CLI command being run (e.g. "Put", "Rollback").
func newApp(operation string) (*app.App, error) {
	defaults, err := app.GetDefaults()
	if err != nil {
		return nil, fmt.Errorf("getting defaults: %w", err)
	}

	cfg, err := config.ReadFromFile(defaults["config_path"])
	if err != nil {
		return nil, fmt.Errorf("reading config: %w", err)
	}

	a, err := app.NewApp(cfg, operation)
	if err != nil {
		return nil, fmt.Errorf("initializing app: %w", err)
	}

	return a, nil
}

// caller resolves the --user flag to a user ID.
func caller(a *app.App, cmd *cobra.Command) (string, error) {
	ref, _ := cmd.Flags().GetString("user")
	if ref == "" {
		return "", fmt.Errorf("--user is required")
	}
	id, err := a.ResolveUser(ref)
	if err != nil {
		return "", fmt.Errorf("resolving user %s: %w", ref, err)
	}
	return id, nil
}

// parseGrant parses a --grant value of the form IDENTITY:FLAGS, where
// FLAGS is any combination of r, w and d (e.g. "bob@example.com:rw").
func parseGrant(s string) (core.GrantRequest, error) {
	idx := strings.LastIndex(s, ":")
	if idx <= 0 {
		return core.GrantRequest{}, fmt.Errorf("invalid grant %q, expected IDENTITY:FLAGS", s)
	}
	g := core.GrantRequest{Identity: s[:idx]}
	for _, c := range s[idx+1:] {
		switch c {
		case 'r':
			g.Read = true
		case 'w':
			g.Write = true
		case 'd':
			g.Delete = true
		default:
			return core.GrantRequest{}, fmt.Errorf("invalid grant flag %q in %q", string(c), s)
		}
	}
	return g, nil
}

var rootCmd = &cobra.Command{
	Use:   "depot",
	Short: "Versioned, access-controlled file store",
}

// config command
var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Manage configuration",
}

var configInitCmd = &cobra.Command{
	Use:   "init",
	Short: "Initialize configuration",
	RunE: func(cmd *cobra.Command, args []string) error {
		defaults, err := app.GetDefaults()
		if err != nil {
			return fmt.Errorf("failed to get defaults: %w", err)
		}

		cfg := config.NewConfig(defaults["base_dir"])

		if err := config.Init(defaults["config_path"], cfg); err != nil {
			return fmt.Errorf("failed to initialize config: %w", err)
		}

		fmt.Printf("Configuration initialized at %s\n", defaults["config_path"])
		fmt.Printf("Base Dir: %s\n", defaults["base_dir"])
		return nil
	},
}

var configListCmd = &cobra.Command{
	Use:   "list",
	Short: "View configuration",
	RunE: func(cmd *cobra.Command, args []string) error {
		defaults, err := app.GetDefaults()
		if err != nil {
			return fmt.Errorf("failed to get defaults: %w", err)
		}

		cfg, err := config.ReadFromFile(defaults["config_path"])
		if err != nil {
			return fmt.Errorf("failed to read config: %w", err)
		}

		fmt.Printf("Configuration from %s:\n\n", defaults["config_path"])
		fmt.Printf("Base Dir:  %s\n", cfg.BaseDir)
		fmt.Printf("Log Dir:   %s\n", cfg.LogDir)
		fmt.Printf("Database:  %s\n", cfg.Database.Type)
		fmt.Printf("Blob:      %s\n", cfg.Blob.Type)
		return nil
	},
}

// user command
var userCmd = &cobra.Command{
	Use:   "user",
	Short: "Manage users",
}

var userAddCmd = &cobra.Command{
	Use:   "add EMAIL [NAME]",
	Short: "Register a user",
	Args:  cobra.RangeArgs(1, 2),
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := newApp("AddUser")
		if err != nil {
			return err
		}
		defer a.Close()

		name := ""
		if len(args) > 1 {
			name = args[1]
		}

		user, err := a.AddUser(args[0], name)
		if err != nil {
			return fmt.Errorf("adding user: %w", err)
		}

		fmt.Printf("User added: %s (%s)\n", user.Email, user.ID)
		return nil
	},
}

var userListCmd = &cobra.Command{
	Use:   "list",
	Short: "List registered users",
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := newApp("Users")
		if err != nil {
			return err
		}
		defer a.Close()

		users, err := a.Users()
		if err != nil {
			return err
		}

		if len(users) == 0 {
			fmt.Println("No users registered.")
			return nil
		}

		for _, u := range users {
			fmt.Printf("%s  %-30s  %s\n", u.ID, u.Email, u.Name)
		}
		return nil
	},
}

// put command
var putCmd = &cobra.Command{
	Use:   "put LOCAL_FILE PATH",
	Short: "Store a file as a new version at PATH",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := newApp("Put")
		if err != nil {
			return err
		}
		defer a.Close()

		userID, err := caller(a, cmd)
		if err != nil {
			return err
		}

		f, err := os.Open(args[0])
		if err != nil {
			return fmt.Errorf("opening %s: %w", args[0], err)
		}
		defer f.Close()

		info, err := f.Stat()
		if err != nil {
			return fmt.Errorf("stating %s: %w", args[0], err)
		}

		mimeType, _ := cmd.Flags().GetString("mime")
		if mimeType == "" {
			mimeType = mime.TypeByExtension(filepath.Ext(args[0]))
		}
		if mimeType == "" {
			mimeType = "application/octet-stream"
		}

		file, version, err := a.Put(args[1], f, info.Size(), mimeType, userID)
		if err != nil {
			return fmt.Errorf("storing: %w", err)
		}

		fmt.Printf("Stored %s version %d (%d bytes)\n", file.Path, version, file.Size)
		return nil
	},
}

// get command
var getCmd = &cobra.Command{
	Use:   "get PATH [LOCAL_FILE]",
	Short: "Retrieve the current version of PATH",
	Args:  cobra.RangeArgs(1, 2),
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := newApp("Get")
		if err != nil {
			return err
		}
		defer a.Close()

		userID, err := caller(a, cmd)
		if err != nil {
			return err
		}

		out := os.Stdout
		if len(args) > 1 {
			f, err := os.Create(args[1])
			if err != nil {
				return fmt.Errorf("creating %s: %w", args[1], err)
			}
			defer f.Close()
			out = f
		}

		if _, err := a.Get(args[0], out, userID); err != nil {
			return fmt.Errorf("retrieving: %w", err)
		}
		return nil
	},
}

// ls command
var lsCmd = &cobra.Command{
	Use:   "ls",
	Short: "List your files",
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := newApp("List")
		if err != nil {
			return err
		}
		defer a.Close()

		userID, err := caller(a, cmd)
		if err != nil {
			return err
		}

		files, err := a.List(userID)
		if err != nil {
			return err
		}

		if len(files) == 0 {
			fmt.Println("No files found.")
			return nil
		}

		for _, f := range files {
			fmt.Printf("v%-4d  %8d  %-24s  %s\n", f.CurrentVersion, f.Size,
				f.UpdatedAt.Format("2006-01-02 15:04:05"), f.Path)
		}
		return nil
	},
}

// rm command
var rmCmd = &cobra.Command{
	Use:   "rm PATH",
	Short: "Delete a file and all its versions",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := newApp("Remove")
		if err != nil {
			return err
		}
		defer a.Close()

		userID, err := caller(a, cmd)
		if err != nil {
			return err
		}

		if err := a.Remove(args[0], userID); err != nil {
			return fmt.Errorf("removing: %w", err)
		}

		fmt.Printf("Removed %s\n", args[0])
		return nil
	},
}

// versions command
var versionsCmd = &cobra.Command{
	Use:   "versions PATH",
	Short: "List all versions of PATH",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := newApp("Versions")
		if err != nil {
			return err
		}
		defer a.Close()

		userID, err := caller(a, cmd)
		if err != nil {
			return err
		}

		versions, err := a.Versions(args[0], userID)
		if err != nil {
			return err
		}

		file, err := a.Stat(args[0], userID)
		if err != nil {
			return err
		}

		for _, v := range versions {
			current := ""
			if v.Version == file.CurrentVersion {
				current = "  [current]"
			}
			fmt.Printf("v%-4d  %8d  %s%s\n", v.Version, v.Size,
				v.CreatedAt.Format("2006-01-02 15:04:05"), current)
		}
		return nil
	},
}

// version command
var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Operate on a single version",
}

var versionGetCmd = &cobra.Command{
	Use:   "get PATH N [LOCAL_FILE]",
	Short: "Retrieve version N of PATH",
	Args:  cobra.RangeArgs(2, 3),
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := newApp("GetVersion")
		if err != nil {
			return err
		}
		defer a.Close()

		userID, err := caller(a, cmd)
		if err != nil {
			return err
		}

		version, err := strconv.ParseInt(args[1], 10, 64)
		if err != nil {
			return fmt.Errorf("invalid version %q", args[1])
		}

		out := os.Stdout
		if len(args) > 2 {
			f, err := os.Create(args[2])
			if err != nil {
				return fmt.Errorf("creating %s: %w", args[2], err)
			}
			defer f.Close()
			out = f
		}

		if _, err := a.GetVersion(args[0], version, out, userID); err != nil {
			return fmt.Errorf("retrieving: %w", err)
		}
		return nil
	},
}

var versionRmCmd = &cobra.Command{
	Use:   "rm PATH N",
	Short: "Delete version N of PATH",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := newApp("RemoveVersion")
		if err != nil {
			return err
		}
		defer a.Close()

		userID, err := caller(a, cmd)
		if err != nil {
			return err
		}

		version, err := strconv.ParseInt(args[1], 10, 64)
		if err != nil {
			return fmt.Errorf("invalid version %q", args[1])
		}

		if err := a.RemoveVersion(args[0], version, userID); err != nil {
			return fmt.Errorf("removing version: %w", err)
		}

		fmt.Printf("Removed %s version %d\n", args[0], version)
		return nil
	},
}

// rollback command
var rollbackCmd = &cobra.Command{
	Use:   "rollback PATH N",
	Short: "Make version N the current version of PATH",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := newApp("Rollback")
		if err != nil {
			return err
		}
		defer a.Close()

		userID, err := caller(a, cmd)
		if err != nil {
			return err
		}

		version, err := strconv.ParseInt(args[1], 10, 64)
		if err != nil {
			return fmt.Errorf("invalid version %q", args[1])
		}

		file, err := a.Rollback(args[0], version, userID)
		if err != nil {
			return fmt.Errorf("rolling back: %w", err)
		}

		fmt.Printf("%s is now at version %d\n", file.Path, file.CurrentVersion)
		return nil
	},
}

// meta command
var metaCmd = &cobra.Command{
	Use:   "meta",
	Short: "Manage file metadata",
}

var metaSetCmd = &cobra.Command{
	Use:   "set PATH KEY=VALUE...",
	Short: "Replace the metadata of PATH",
	Args:  cobra.MinimumNArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := newApp("SetMetadata")
		if err != nil {
			return err
		}
		defer a.Close()

		userID, err := caller(a, cmd)
		if err != nil {
			return err
		}

		metadata, err := parsePairs(args[1:])
		if err != nil {
			return err
		}

		if _, err := a.SetMetadata(args[0], metadata, userID); err != nil {
			return fmt.Errorf("setting metadata: %w", err)
		}

		fmt.Printf("Metadata updated for %s\n", args[0])
		return nil
	},
}

var metaGetCmd = &cobra.Command{
	Use:   "get PATH",
	Short: "View the metadata of PATH",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := newApp("GetMetadata")
		if err != nil {
			return err
		}
		defer a.Close()

		userID, err := caller(a, cmd)
		if err != nil {
			return err
		}

		file, err := a.Stat(args[0], userID)
		if err != nil {
			return err
		}

		if len(file.Metadata) == 0 {
			fmt.Println("No metadata.")
			return nil
		}

		for k, v := range file.Metadata {
			fmt.Printf("%s=%v\n", k, v)
		}
		return nil
	},
}

var metaFindCmd = &cobra.Command{
	Use:   "find KEY=VALUE...",
	Short: "Find your files by metadata",
	Args:  cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := newApp("FindByMetadata")
		if err != nil {
			return err
		}
		defer a.Close()

		userID, err := caller(a, cmd)
		if err != nil {
			return err
		}

		filter, err := parsePairs(args)
		if err != nil {
			return err
		}

		files, err := a.FindByMetadata(userID, filter)
		if err != nil {
			return err
		}

		if len(files) == 0 {
			fmt.Println("No files found.")
			return nil
		}

		for _, f := range files {
			fmt.Printf("v%-4d  %8d  %s\n", f.CurrentVersion, f.Size, f.Path)
		}
		return nil
	},
}

// share command
var shareCmd = &cobra.Command{
	Use:   "share",
	Short: "Manage path access",
}

var shareSetCmd = &cobra.Command{
	Use:   "set PATH TYPE",
	Short: "Set access for PATH (TYPE: private, public, shared)",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := newApp("SetAccess")
		if err != nil {
			return err
		}
		defer a.Close()

		userID, err := caller(a, cmd)
		if err != nil {
			return err
		}

		grantArgs, _ := cmd.Flags().GetStringArray("grant")
		grants := make([]core.GrantRequest, 0, len(grantArgs))
		for _, g := range grantArgs {
			parsed, err := parseGrant(g)
			if err != nil {
				return err
			}
			grants = append(grants, parsed)
		}

		perm, err := a.SetAccess(userID, args[0], model.AccessType(args[1]), grants)
		if err != nil {
			return fmt.Errorf("setting access: %w", err)
		}

		fmt.Printf("%s is now %s (%d grant(s))\n", perm.Path, perm.AccessType, len(perm.SharedWith))
		return nil
	},
}

var shareShowCmd = &cobra.Command{
	Use:   "show PATH",
	Short: "View access for PATH",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := newApp("GetPermissions")
		if err != nil {
			return err
		}
		defer a.Close()

		userID, err := caller(a, cmd)
		if err != nil {
			return err
		}

		perm, err := a.GetPermissions(userID, args[0])
		if err != nil {
			return err
		}

		fmt.Printf("Path:  %s\n", perm.Path)
		fmt.Printf("Owner: %s\n", perm.OwnerID)
		fmt.Printf("Type:  %s\n", perm.AccessType)
		for _, g := range perm.SharedWith {
			fmt.Printf("  %s  %s\n", g.UserID, grantFlags(g))
		}
		return nil
	},
}

var shareRevokeCmd = &cobra.Command{
	Use:   "revoke PATH IDENTITY",
	Short: "Remove a grant from PATH",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := newApp("Revoke")
		if err != nil {
			return err
		}
		defer a.Close()

		userID, err := caller(a, cmd)
		if err != nil {
			return err
		}

		if _, err := a.Revoke(userID, args[0], args[1]); err != nil {
			return fmt.Errorf("revoking: %w", err)
		}

		fmt.Printf("Revoked %s from %s\n", args[1], args[0])
		return nil
	},
}

var shareListCmd = &cobra.Command{
	Use:   "list",
	Short: "List paths shared with you",
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := newApp("SharedWithMe")
		if err != nil {
			return err
		}
		defer a.Close()

		userID, err := caller(a, cmd)
		if err != nil {
			return err
		}

		perms, err := a.SharedWithMe(userID)
		if err != nil {
			return err
		}

		if len(perms) == 0 {
			fmt.Println("Nothing shared with you.")
			return nil
		}

		for _, p := range perms {
			flags := ""
			if g := p.Grant(userID); g != nil {
				flags = grantFlags(*g)
			}
			fmt.Printf("%s  %s\n", flags, p.Path)
		}
		return nil
	},
}

// reconcile command
var reconcileCmd = &cobra.Command{
	Use:   "reconcile",
	Short: "Purge records whose blobs are gone",
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := newApp("Reconcile")
		if err != nil {
			return err
		}
		defer a.Close()

		userID, err := caller(a, cmd)
		if err != nil {
			return err
		}

		purged, err := a.Reconcile(userID)
		if err != nil {
			return fmt.Errorf("reconciling: %w", err)
		}

		fmt.Printf("Purged %d stale record(s)\n", purged)
		return nil
	},
}

// admin command
var adminCmd = &cobra.Command{
	Use:   "admin",
	Short: "Administrative operations",
}

var adminPurgeCmd = &cobra.Command{
	Use:   "purge PATH",
	Short: "Forcibly remove a path, bypassing access control",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		yes, _ := cmd.Flags().GetBool("yes")
		if !yes {
			return fmt.Errorf("purge bypasses access control; re-run with --yes to confirm")
		}

		a, err := newApp("AdminPurge")
		if err != nil {
			return err
		}
		defer a.Close()

		if err := a.AdminPurge(args[0]); err != nil {
			return fmt.Errorf("purging: %w", err)
		}

		fmt.Printf("Purged %s\n", args[0])
		return nil
	},
}

// parsePairs parses KEY=VALUE arguments into a metadata map.
func parsePairs(args []string) (model.Metadata, error) {
	m := make(model.Metadata, len(args))
	for _, arg := range args {
		k, v, ok := strings.Cut(arg, "=")
		if !ok || k == "" {
			return nil, fmt.Errorf("invalid pair %q, expected KEY=VALUE", arg)
		}
		m[k] = v
	}
	return m, nil
}

func grantFlags(g model.SharedGrant) string {
	flags := []byte("---")
	if g.Read {
		flags[0] = 'r'
	}
	if g.Write {
		flags[1] = 'w'
	}
	if g.Delete {
		flags[2] = 'd'
	}
	return string(flags)
}

func init() {
	rootCmd.PersistentFlags().StringP("user", "u", "", "Acting user (email or ID)")

	// config subcommands
	configCmd.AddCommand(configInitCmd)
	configCmd.AddCommand(configListCmd)

	// user subcommands
	userCmd.AddCommand(userAddCmd)
	userCmd.AddCommand(userListCmd)

	// version subcommands
	versionCmd.AddCommand(versionGetCmd)
	versionCmd.AddCommand(versionRmCmd)

	// meta subcommands
	metaCmd.AddCommand(metaSetCmd)
	metaCmd.AddCommand(metaGetCmd)
	metaCmd.AddCommand(metaFindCmd)

	// share subcommands
	shareCmd.AddCommand(shareSetCmd)
	shareSetCmd.Flags().StringArray("grant", nil, "Grant as IDENTITY:FLAGS (flags: rwd); repeatable")
	shareCmd.AddCommand(shareShowCmd)
	shareCmd.AddCommand(shareRevokeCmd)
	shareCmd.AddCommand(shareListCmd)

	// admin subcommands
	adminCmd.AddCommand(adminPurgeCmd)
	adminPurgeCmd.Flags().Bool("yes", false, "Confirm the purge")

	// root commands
	rootCmd.AddCommand(configCmd)
	rootCmd.AddCommand(userCmd)
	rootCmd.AddCommand(putCmd)
	putCmd.Flags().String("mime", "", "MIME type (default: by file extension)")
	rootCmd.AddCommand(getCmd)
	rootCmd.AddCommand(lsCmd)
	rootCmd.AddCommand(rmCmd)
	rootCmd.AddCommand(versionsCmd)
	rootCmd.AddCommand(versionCmd)
	rootCmd.AddCommand(rollbackCmd)
	rootCmd.AddCommand(metaCmd)
	rootCmd.AddCommand(shareCmd)
	rootCmd.AddCommand(reconcileCmd)
	rootCmd.AddCommand(adminCmd)
}
