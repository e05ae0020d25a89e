package ingest

import "github.com/dgallion1/arxivmd/internal/doctree"

// Options control one ingest run. The zero value keeps everything: no
// filtering, references and ToC included, HTML preferred with bundle
// fallback.
type Options struct {
	RemoveReferences      bool
	RemoveTOC             bool
	RemoveInlineCitations bool

	// FilterMode is doctree.ModeInclude or doctree.ModeExclude; empty
	// means exclude.
	FilterMode       string
	SelectedSections []string

	// ForceSourceBundle skips HTML entirely. DisableFallback surfaces the
	// HTML miss instead of converting the bundle.
	ForceSourceBundle bool
	DisableFallback   bool
}

// abstractIncluded decides whether the abstract belongs in the content view.
// Exclude mode keeps it unless "abstract" was selected for exclusion;
// include mode keeps it only for an empty selection or an explicit pick.
func abstractIncluded(opts Options) bool {
	selected := false
	for _, title := range opts.SelectedSections {
		if doctree.NormalizeTitle(title) == doctree.AbstractTitle {
			selected = true
			break
		}
	}
	if opts.FilterMode == doctree.ModeInclude {
		return len(opts.SelectedSections) == 0 || selected
	}
	return !selected
}
