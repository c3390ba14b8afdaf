// Package taxonomy holds the static theme taxonomy the label processor
// embeds into its classification prompt and uses to validate model
// output; themes outside this table fall back per
// internal/model.Label.Clamp.
package taxonomy

import "github.com/reviewharvest/pipeline/internal/model"

// Theme is one entry in the taxonomy shown to the classifier.
type Theme struct {
	Name        string
	Description string
}

// Default is the built-in taxonomy. It is intentionally small and
// editorial rather than exhaustive: the label processor falls back to
// model.FallbackTheme for anything that doesn't fit.
var Default = []Theme{
	{Name: "Bugs & Crashes", Description: "App crashes, freezes, error messages, or broken functionality."},
	{Name: "Performance", Description: "Slowness, lag, battery drain, or excessive resource usage."},
	{Name: "UI/UX", Description: "Layout, navigation, discoverability, or visual design complaints or praise."},
	{Name: "Pricing & Billing", Description: "Subscription cost, in-app purchases, refunds, or billing errors."},
	{Name: "Customer Support", Description: "Experiences with support responsiveness or helpfulness."},
	{Name: "Feature Request", Description: "Explicit asks for new functionality or improvements."},
	{Name: "Account & Login", Description: "Sign-in, authentication, account recovery, or sync problems."},
	{Name: "Privacy & Security", Description: "Data handling, permissions, or security concerns."},
	{Name: model.FallbackTheme, Description: "Reviews that do not fit any other theme."},
}

// Names returns just the theme names, the shape Label.Clamp needs for
// its validThemes set.
func Names() map[string]struct{} {
	out := make(map[string]struct{}, len(Default))
	for _, t := range Default {
		out[t.Name] = struct{}{}
	}
	return out
}
