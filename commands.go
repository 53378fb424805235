package main

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/schollz/progressbar/v3"
	"github.com/spf13/cobra"

	"github.com/hazyhaar/seafoodmarket/internal/db"
	"github.com/hazyhaar/seafoodmarket/internal/github"
)

var importFlags struct {
	assetType string
	category  string
	file      string
	dryRun    bool
	update    bool
}

var importCmd = &cobra.Command{
	Use:   "import-github [owner/repo ...]",
	Short: "Import GitHub repositories as assets",
	Long: `Import one or more GitHub repositories as marketplace assets. Repos can be
given as owner/repo or full URLs, as arguments or one per line in --file.
Existing imports are skipped unless --update is set.`,
	RunE: runImport,
}

var inviteCreateFlags struct {
	code     string
	maxUses  int
	kind     string
	validFor time.Duration
}

var inviteCmd = &cobra.Command{
	Use:   "invite",
	Short: "Manage invite codes",
}

var inviteCreateCmd = &cobra.Command{
	Use:   "create",
	Short: "Create an invite code",
	RunE:  runInviteCreate,
}

func init() {
	f := importCmd.Flags()
	f.StringVar(&importFlags.assetType, "type", "", "asset type (default: detect from the repo)")
	f.StringVar(&importFlags.category, "category", "", "category for imported assets")
	f.StringVar(&importFlags.file, "file", "", "read repos from this file, one per line (- for stdin)")
	f.BoolVar(&importFlags.dryRun, "dry-run", false, "fetch and classify without writing")
	f.BoolVar(&importFlags.update, "update", false, "refresh repos that were already imported")

	c := inviteCreateCmd.Flags()
	c.StringVar(&inviteCreateFlags.code, "code", "", "code to create (default: random)")
	c.IntVar(&inviteCreateFlags.maxUses, "max-uses", 1, "how many activations the code allows")
	c.StringVar(&inviteCreateFlags.kind, "type", db.InviteSuper, "normal, super or system")
	c.DurationVar(&inviteCreateFlags.validFor, "valid-for", 0, "expire after this long (0 = never)")
	inviteCmd.AddCommand(inviteCreateCmd)

	rootCmd.AddCommand(importCmd, inviteCmd)
}

func readRepoList(r io.Reader) ([]string, error) {
	var repos []string
	sc := bufio.NewScanner(r)
	for sc.Scan() {
		line := strings.TrimSpace(sc.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		repos = append(repos, line)
	}
	return repos, sc.Err()
}

func runImport(cmd *cobra.Command, args []string) error {
	repos := append([]string(nil), args...)
	if importFlags.file != "" {
		var r io.Reader = os.Stdin
		if importFlags.file != "-" {
			fh, err := os.Open(importFlags.file)
			if err != nil {
				return err
			}
			defer fh.Close()
			r = fh
		}
		more, err := readRepoList(r)
		if err != nil {
			return fmt.Errorf("reading %s: %w", importFlags.file, err)
		}
		repos = append(repos, more...)
	}
	if len(repos) == 0 {
		return fmt.Errorf("no repositories given (pass owner/repo or --file)")
	}
	if importFlags.assetType != "" && !db.IsValidAssetType(importFlags.assetType) {
		return fmt.Errorf("invalid --type %q (allowed: %s)", importFlags.assetType, strings.Join(db.AssetTypes, ", "))
	}

	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	database, err := db.OpenContext(cmd.Context(), cfg.Database.Path)
	if err != nil {
		return err
	}
	defer database.Close()

	client := github.NewClient(cfg.GitHub.APIBase, cfg.GitHub.Token)
	importer := github.NewImporter(database, client)

	bar := progressbar.NewOptions(len(repos),
		progressbar.OptionSetDescription("Importing"),
		progressbar.OptionSetWriter(cmd.ErrOrStderr()),
		progressbar.OptionSetWidth(40),
		progressbar.OptionShowCount(),
		progressbar.OptionThrottle(100*time.Millisecond),
		progressbar.OptionClearOnFinish(),
	)
	start := time.Now()
	results := importer.ImportAll(cmd.Context(), repos, github.ImportOptions{
		Type:     importFlags.assetType,
		Category: importFlags.category,
		DryRun:   importFlags.dryRun,
		Update:   importFlags.update,
	}, cfg.GitHub.Concurrency, func(github.Result) { bar.Add(1) })
	bar.Finish()

	out := cmd.OutOrStdout()
	counts := map[string]int{}
	stars := 0
	for _, r := range results {
		counts[r.Status]++
		stars += r.Stars
		switch r.Status {
		case github.StatusFailed:
			fmt.Fprintf(out, "  ✗ %s: %s\n", r.Repo, client.Redact(fmt.Sprint(r.Err)))
		case github.StatusSkipped:
			fmt.Fprintf(out, "  - %s (already imported as %s)\n", r.Repo, r.AssetID)
		default:
			fmt.Fprintf(out, "  ✓ %s → %s [%s, %s stars]\n", r.Repo, r.AssetID, r.Type, humanize.Comma(int64(r.Stars)))
		}
	}
	fmt.Fprintf(out, "\n%s repos in %s: %d created, %d updated, %d skipped, %d dry-run, %d failed (%s stars total)\n",
		humanize.Comma(int64(len(results))), time.Since(start).Round(time.Millisecond),
		counts[github.StatusCreated], counts[github.StatusUpdated], counts[github.StatusSkipped],
		counts[github.StatusDryRun], counts[github.StatusFailed], humanize.Comma(int64(stars)))

	if counts[github.StatusFailed] == len(results) {
		return fmt.Errorf("all imports failed")
	}
	return nil
}

func runInviteCreate(cmd *cobra.Command, _ []string) error {
	if inviteCreateFlags.maxUses < 1 {
		return fmt.Errorf("--max-uses must be at least 1")
	}
	switch inviteCreateFlags.kind {
	case db.InviteNormal, db.InviteSuper, db.InviteSystem:
	default:
		return fmt.Errorf("invalid --type %q", inviteCreateFlags.kind)
	}

	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	database, err := db.OpenContext(cmd.Context(), cfg.Database.Path)
	if err != nil {
		return err
	}
	defer database.Close()

	in := db.CreateInviteInput{
		Code:      inviteCreateFlags.code,
		CreatedBy: "cli",
		MaxUses:   inviteCreateFlags.maxUses,
		Type:      inviteCreateFlags.kind,
	}
	if d := inviteCreateFlags.validFor; d > 0 {
		exp := time.Now().Add(d)
		in.ExpiresAt = &exp
	}
	code, err := database.CreateInviteCode(cmd.Context(), in)
	if err != nil {
		return err
	}
	expiry := "never expires"
	if in.ExpiresAt != nil {
		expiry = "expires " + humanize.Time(*in.ExpiresAt)
	}
	fmt.Fprintf(cmd.OutOrStdout(), "%s (%s, %d uses, %s)\n", code.Code, code.Type, code.MaxUses, expiry)
	return nil
}
