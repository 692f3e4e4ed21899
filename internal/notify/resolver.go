package notify

import (
	"context"
	"regexp"
	"strings"
	"time"

	"github.com/uplinq/uplinq/internal/cache"
	"github.com/uplinq/uplinq/internal/logger"
	"github.com/uplinq/uplinq/internal/models"
	"go.uber.org/zap"
)

// ProfileLookup resolves a profile by username for avatar resolution
type ProfileLookup interface {
	ProfileByUsername(ctx context.Context, username string) (*models.Profile, error)
}

// SlugLookup resolves canonical slugs embedded-title lookups need
type SlugLookup interface {
	ClassifiedSlugByTitle(ctx context.Context, title string) (string, error)
	BlogSlugByTitle(ctx context.Context, title string) (string, error)
	CompanySlugByName(ctx context.Context, name string) (string, error)
}

// Deep-link fallback targets, most generic last
const (
	targetDashboard = "/dashboard"
	targetMessages  = "/messages"
	targetContacts  = "/contact-requests"
	targetRewards   = "/rewards"
	targetIncome    = "/profile/income-verification"
)

// fromUserPattern matches the server-generated contact-request phrasing,
// e.g. "New contact request from alice regarding your classified: Top Tips".
// The phrasing is owned by the server triggers; do not widen it here.
var fromUserPattern = regexp.MustCompile(`\bfrom ([A-Za-z0-9_.-]+)`)

// afterColonPattern captures an embedded content title, the text after the
// last ": " in the message
var afterColonPattern = regexp.MustCompile(`:\s*(.+)\s*$`)

// avatarResult is the cached per-notification avatar resolution, including
// explicit "no avatar" outcomes so misses are not retried every render
type avatarResult struct {
	URL   string `json:"url"`
	Found bool   `json:"found"`
}

// avatarCacheTTL bounds how long a per-notification resolution is reused
const avatarCacheTTL = time.Hour

// Resolver turns a notification into a navigation target and an avatar.
// Every lookup is best-effort: failures fall back one level at a time,
// terminating at the dashboard. Target never returns an error.
type Resolver struct {
	profiles ProfileLookup
	slugs    SlugLookup
	cache    *cache.Cache
}

// NewResolver creates a resolver over the given lookups and cache
func NewResolver(profiles ProfileLookup, slugs SlugLookup, c *cache.Cache) *Resolver {
	return &Resolver{profiles: profiles, slugs: slugs, cache: c}
}

// Avatar resolves a profile image for notifications whose message embeds a
// username. The result, found or not, is cached per notification id so a
// re-render issues no second lookup.
func (r *Resolver) Avatar(ctx context.Context, n models.Notification) (string, bool) {
	key := "notif_avatar_" + n.ID
	if v, ok := r.cache.Get(key); ok {
		if res, ok := v.(avatarResult); ok {
			return res.URL, res.Found
		}
	}

	res := r.lookupAvatar(ctx, n)
	r.cache.Set(key, res, avatarCacheTTL)
	return res.URL, res.Found
}

func (r *Resolver) lookupAvatar(ctx context.Context, n models.Notification) avatarResult {
	m := fromUserPattern.FindStringSubmatch(n.Message)
	if m == nil {
		return avatarResult{}
	}
	username := m[1]

	p, err := r.profiles.ProfileByUsername(ctx, username)
	if err != nil || p == nil || p.AvatarURL == "" {
		if err != nil {
			logger.Debug("avatar lookup failed", zap.String("username", username), zap.Error(err))
		}
		return avatarResult{}
	}
	return avatarResult{URL: p.AvatarURL, Found: true}
}

// Target classifies a notification by keywords in its title and message and
// resolves the navigation path, issuing best-effort slug lookups where the
// target needs one
func (r *Resolver) Target(ctx context.Context, n models.Notification) string {
	text := strings.ToLower(n.Title + " " + n.Message)

	switch {
	case n.Type == models.NotificationTypeIncomeVerification ||
		strings.Contains(text, "income verification"):
		return targetIncome

	case n.Type == models.NotificationTypeContactRequest ||
		strings.Contains(text, "contact request"):
		return targetContacts

	case n.Type == models.NotificationTypePoints ||
		strings.Contains(text, "points"):
		return targetRewards

	case n.Type == models.NotificationTypeClassifiedPosted ||
		strings.Contains(text, "classified"):
		if slug := r.lookupSlug(ctx, n, r.slugs.ClassifiedSlugByTitle); slug != "" {
			return "/classifieds/" + slug
		}
		return "/classifieds"

	case n.Type == models.NotificationTypeBlogCreated ||
		strings.Contains(text, "blog"):
		if slug := r.lookupSlug(ctx, n, r.slugs.BlogSlugByTitle); slug != "" {
			return "/blogs/" + slug
		}
		return "/blogs"

	case n.Type == models.NotificationTypeCompanySubmitted ||
		strings.Contains(text, "company"):
		if slug := r.lookupSlug(ctx, n, r.slugs.CompanySlugByName); slug != "" {
			return "/companies/" + slug
		}
		return "/companies"

	case n.Type == models.NotificationTypeApproved || n.Type == models.NotificationTypeRejected ||
		strings.Contains(text, "approved") || strings.Contains(text, "rejected"):
		return r.approvalTarget(n)

	case n.Type == models.NotificationTypeMessage ||
		strings.Contains(text, "message"):
		return targetMessages
	}

	return targetDashboard
}

// lookupSlug extracts the embedded title from the message and resolves its
// slug; any failure returns "" so the caller falls back to the list page
func (r *Resolver) lookupSlug(ctx context.Context, n models.Notification, fn func(context.Context, string) (string, error)) string {
	m := afterColonPattern.FindStringSubmatch(n.Message)
	if m == nil {
		return ""
	}
	title := strings.TrimSpace(m[1])
	if title == "" {
		return ""
	}
	slug, err := fn(ctx, title)
	if err != nil {
		logger.Debug("slug lookup failed", zap.String("title", title), zap.Error(err))
		return ""
	}
	return slug
}

// approvalTarget routes approval/rejection notices by their related entity
func (r *Resolver) approvalTarget(n models.Notification) string {
	if n.RelatedType == nil {
		return targetDashboard
	}
	switch *n.RelatedType {
	case "classified":
		return "/classifieds"
	case "blog":
		return "/blogs"
	case "company":
		return "/companies"
	default:
		return targetDashboard
	}
}
