// CLAUDE:SUMMARY GitHub repo import — owner user provisioning, asset creation/update, star reputation sync, bounded bulk fan-out
package github

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"regexp"
	"sort"
	"strconv"
	"strings"

	"github.com/sourcegraph/conc/pool"

	"github.com/hazyhaar/seafoodmarket/internal/db"
)

// ImportInviteCode marks users provisioned by the importer as activated.
const ImportInviteCode = "ADMIN_IMPORT"

// StarsPerReward is how many GitHub stars earn one github_star_synced reward.
const StarsPerReward = 10

const (
	StatusCreated = "created"
	StatusUpdated = "updated"
	StatusSkipped = "skipped"
	StatusDryRun  = "dry-run"
	StatusFailed  = "failed"
)

type ImportOptions struct {
	Type       string // empty means detect
	Category   string
	AuthorID   string // override the provisioned owner
	AuthorName string
	DryRun     bool
	Update     bool // refresh already imported repos instead of skipping
}

type Result struct {
	Index       int    `json:"-"`
	Repo        string `json:"repo"`
	Status      string `json:"status"`
	AssetID     string `json:"assetId,omitempty"`
	Type        string `json:"type,omitempty"`
	Stars       int    `json:"stars"`
	UserID      string `json:"userId,omitempty"`
	UserCreated bool   `json:"userCreated,omitempty"`
	Err         error  `json:"-"`
}

type Importer struct {
	db     *db.DB
	client *Client
}

func NewImporter(database *db.DB, client *Client) *Importer {
	return &Importer{db: database, client: client}
}

// Import fetches one repository and stores it as an asset.
func (im *Importer) Import(ctx context.Context, repoRef string, opts ImportOptions) (*Result, error) {
	repo, err := ParseRepo(repoRef)
	if err != nil {
		return nil, err
	}
	res := &Result{Repo: repo}
	url := "https://github.com/" + repo

	var existing *db.Asset
	if !opts.DryRun {
		existing, err = im.db.FindAssetByGitHubURL(ctx, url)
		if err != nil && !errors.Is(err, db.ErrNotFound) {
			return nil, fmt.Errorf("looking up %s: %w", repo, err)
		}
		if existing != nil && !opts.Update {
			res.Status = StatusSkipped
			res.AssetID = existing.ID
			res.Type = existing.Type
			res.Stars = existing.GitHubStars
			return res, nil
		}
	}

	info, err := im.client.FetchRepo(ctx, repo)
	if err != nil {
		return nil, err
	}
	readme, err := im.client.FetchReadme(ctx, repo)
	if err != nil {
		return nil, err
	}
	if info.FullName == "" {
		info.FullName = repo
	}
	if info.Name == "" {
		info.Name = repo[strings.IndexByte(repo, '/')+1:]
	}
	res.Stars = info.Stars
	res.Type = opts.Type
	if res.Type == "" {
		res.Type = DetectAssetType(info.Description, info.Topics, readme)
	}
	if !db.IsValidAssetType(res.Type) {
		return nil, fmt.Errorf("invalid asset type %q", res.Type)
	}
	if opts.DryRun {
		res.Status = StatusDryRun
		return res, nil
	}

	if existing != nil {
		a, err := im.refresh(ctx, existing, info, readme)
		if err != nil {
			return nil, err
		}
		res.Status = StatusUpdated
		res.AssetID = a.ID
		res.UserID = a.Author.ID
		return res, nil
	}

	authorID, authorName := opts.AuthorID, opts.AuthorName
	avatar := info.Owner.AvatarURL
	if authorID == "" {
		u, created, err := im.ownerUser(ctx, info.Owner)
		if err != nil {
			return nil, err
		}
		authorID, authorName, res.UserCreated = u.ID, u.Name, created
	}
	if authorName == "" {
		authorName = info.Owner.Login
	}

	a, err := im.db.CreateAsset(ctx, assetInput(info, readme, res.Type, opts.Category, authorID, authorName, avatar))
	if err != nil {
		return nil, err
	}
	if err := im.SyncStars(ctx, a, info.Stars); err != nil {
		return nil, err
	}
	res.Status = StatusCreated
	res.AssetID = a.ID
	res.UserID = authorID
	slog.Info("github repo imported", "repo", repo, "asset_id", a.ID, "type", res.Type, "stars", info.Stars)
	return res, nil
}

// ImportAll imports repos with at most concurrency in flight. progress, when
// set, is called once per finished repo. Results keep the input order.
func (im *Importer) ImportAll(ctx context.Context, repos []string, opts ImportOptions, concurrency int, progress func(Result)) []Result {
	if concurrency < 1 {
		concurrency = 1
	}
	p := pool.NewWithResults[Result]().WithMaxGoroutines(concurrency)
	for i, repo := range repos {
		p.Go(func() Result {
			r, err := im.Import(ctx, repo, opts)
			if err != nil {
				r = &Result{Repo: repo, Status: StatusFailed, Err: err}
				slog.Warn("github import failed", "repo", repo, "error", im.client.Redact(err.Error()))
			}
			r.Index = i
			if progress != nil {
				progress(*r)
			}
			return *r
		})
	}
	results := p.Wait()
	sort.Slice(results, func(i, j int) bool { return results[i].Index < results[j].Index })
	return results
}

// SyncStars awards the author github_star_synced for every StarsPerReward
// stars not yet rewarded and records the new watermark.
func (im *Importer) SyncStars(ctx context.Context, a *db.Asset, stars int) error {
	tiers := stars / StarsPerReward
	patch := db.AssetPatch{GitHubStars: &stars}
	if tiers > a.StarRepSynced {
		if _, err := im.db.GetUserByID(ctx, a.Author.ID); err == nil {
			delta := (tiers - a.StarRepSynced) * db.RepEvents["github_star_synced"]
			if _, err := im.db.AddReputation(ctx, a.Author.ID, delta, "github_star_synced", a.ID); err != nil {
				return fmt.Errorf("syncing stars for %s: %w", a.ID, err)
			}
		} else if !errors.Is(err, db.ErrNotFound) {
			return err
		}
		patch.StarRepSynced = &tiers
	}
	_, err := im.db.UpdateAsset(ctx, a.ID, patch)
	return err
}

func (im *Importer) refresh(ctx context.Context, a *db.Asset, info *Repo, readme string) (*db.Asset, error) {
	forks := info.Forks
	lang := info.Language
	license := info.LicenseID()
	patch := db.AssetPatch{
		GitHubForks:    &forks,
		GitHubLanguage: &lang,
		GitHubLicense:  &license,
	}
	if readme != "" {
		patch.Readme = &readme
	}
	if info.Description != "" {
		patch.Description = &info.Description
	}
	if _, err := im.db.UpdateAsset(ctx, a.ID, patch); err != nil {
		return nil, err
	}
	if err := im.SyncStars(ctx, a, info.Stars); err != nil {
		return nil, err
	}
	return im.db.GetAssetByID(ctx, a.ID)
}

// ownerUser finds the marketplace user linked to a GitHub account, creating
// an activated one on first import.
func (im *Importer) ownerUser(ctx context.Context, o Owner) (*db.User, bool, error) {
	ids := []string{o.Login}
	if o.ID != 0 {
		ids = append([]string{strconv.FormatInt(o.ID, 10)}, ids...)
	}
	for _, pid := range ids {
		u, err := im.db.FindUserByProvider(ctx, "github", pid)
		if err == nil {
			return u, false, nil
		}
		if !errors.Is(err, db.ErrNotFound) {
			return nil, false, err
		}
	}
	avatar := o.AvatarURL
	if avatar == "" {
		avatar = "🐙"
	}
	u, err := im.db.CreateUser(ctx, db.CreateUserInput{
		Name:       o.Login,
		Avatar:     avatar,
		Provider:   "github",
		ProviderID: ids[0],
		InviteCode: ImportInviteCode,
	})
	if errors.Is(err, db.ErrConflict) {
		// created concurrently by another import of the same owner
		u, err = im.db.FindUserByProvider(ctx, "github", ids[0])
		return u, false, err
	}
	if err != nil {
		return nil, false, fmt.Errorf("creating github owner %s: %w", o.Login, err)
	}
	return u, true, nil
}

var nameSanitizer = regexp.MustCompile(`[^a-z0-9-]`)

func assetInput(info *Repo, readme, assetType, category, authorID, authorName, avatar string) db.CreateAssetInput {
	tags := append([]string{}, info.Topics...)
	if len(tags) > 5 {
		tags = tags[:5]
	}
	if lang := strings.ToLower(info.Language); lang != "" && !contains(tags, lang) {
		tags = append(tags, lang)
	}
	tags = append(tags, "github-import")

	description := info.Description
	if description == "" {
		for _, line := range strings.Split(readme, "\n") {
			if t := strings.TrimSpace(line); t != "" && !strings.HasPrefix(t, "#") {
				description = t
				break
			}
		}
	}
	if description == "" {
		description = info.FullName + " - imported from GitHub"
	}

	long := []string{fmt.Sprintf("⭐ %d stars | 🍴 %d forks | 📝 %s", info.Stars, info.Forks, orNA(info.Language))}
	if l := info.LicenseID(); l != "" {
		long = append(long, "📜 License: "+l)
	}
	long = append(long, fmt.Sprintf("\nImported from [%s](https://github.com/%s)", info.FullName, info.FullName))

	if category == "" {
		category = info.Language
	}
	return db.CreateAssetInput{
		Name:            nameSanitizer.ReplaceAllString(strings.ToLower(info.Name), "-"),
		DisplayName:     displayName(info.Name),
		Type:            assetType,
		Description:     description,
		LongDescription: strings.Join(long, "\n"),
		AuthorID:        authorID,
		AuthorName:      authorName,
		AuthorAvatar:    avatar,
		Tags:            tags,
		Category:        category,
		Readme:          readme,
		Changelog:       "Initial import from GitHub",
		GitHubURL:       "https://github.com/" + info.FullName,
		GitHubStars:     info.Stars,
		GitHubForks:     info.Forks,
		GitHubLanguage:  info.Language,
		GitHubLicense:   info.LicenseID(),
		SkipCoinReward:  true,
	}
}

// displayName turns "my-cool_repo" into "My Cool Repo".
func displayName(repo string) string {
	words := strings.FieldsFunc(repo, func(r rune) bool { return r == '-' || r == '_' })
	for i, w := range words {
		words[i] = strings.ToUpper(w[:1]) + w[1:]
	}
	return strings.Join(words, " ")
}

func orNA(s string) string {
	if s == "" {
		return "N/A"
	}
	return s
}

func contains(list []string, s string) bool {
	for _, v := range list {
		if v == s {
			return true
		}
	}
	return false
}
