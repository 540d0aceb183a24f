// Package router resolves typed launcher input into results.
//
// Sources are consulted in a fixed order: an extension bound to the leading
// keyword, a search engine bound to it, the app matcher on the full input,
// and finally the default search engine.
package router

import (
	"context"
	"path/filepath"
	"strings"

	"go.uber.org/zap"

	"github.com/chess10kp/whiskers/internal/apperrors"
	"github.com/chess10kp/whiskers/internal/apps"
	"github.com/chess10kp/whiskers/internal/config"
	"github.com/chess10kp/whiskers/internal/protocol"
)

// ExtensionRunner is the part of extension.Runner the router needs.
type ExtensionRunner interface {
	GetResults(ctx context.Context, id, searchText string) ([]protocol.ResultItem, error)
}

// AppMatcher is the part of apps.Matcher the router needs.
type AppMatcher interface {
	Match(typed string, apps []apps.IndexedApp, blacklist map[string]struct{}) []protocol.ResultItem
}

type Router struct {
	extensions  ExtensionRunner
	matcher     AppMatcher
	defaultIcon string
	logger      *zap.Logger
}

// New creates a router. iconsDir holds search.svg, the icon used for search
// engines without one of their own.
func New(extensions ExtensionRunner, matcher AppMatcher, iconsDir string, logger *zap.Logger) *Router {
	if logger == nil {
		logger = zap.NewNop()
	}
	defaultIcon := ""
	if iconsDir != "" {
		defaultIcon = filepath.Join(iconsDir, "search.svg")
	}
	return &Router{
		extensions:  extensions,
		matcher:     matcher,
		defaultIcon: defaultIcon,
		logger:      logger.Named("router"),
	}
}

// ParseKeyword splits typed at the first space. With no space the whole
// input is the keyword, searchText is empty and ok is false.
func ParseKeyword(typed string) (keyword, searchText string, ok bool) {
	keyword, rest, found := strings.Cut(typed, " ")
	if !found {
		return typed, "", false
	}
	return keyword, strings.TrimSpace(rest), true
}

// Resolve returns the results for typed. Results are never nil. When the
// keyword selects an extension and that extension fails, Resolve returns an
// empty list together with the error and consults no further sources.
func (r *Router) Resolve(ctx context.Context, typed string, settings *config.Settings, source apps.Source) ([]protocol.ResultItem, error) {
	if typed == "" {
		return []protocol.ResultItem{}, nil
	}
	if settings == nil {
		return []protocol.ResultItem{}, apperrors.ErrSettingsUnavailable
	}

	if keyword, searchText, ok := ParseKeyword(typed); ok {
		if ext, found := settings.FindExtension(keyword); found {
			results, err := r.extensions.GetResults(ctx, ext.ID, searchText)
			if err != nil {
				r.logger.Warn("extension failed",
					zap.String("extension_id", ext.ID),
					zap.String("keyword", keyword),
					zap.Error(err))
				return []protocol.ResultItem{}, err
			}
			r.logger.Debug("resolved by extension", zap.String("extension_id", ext.ID), zap.Int("results", len(results)))
			return results, nil
		}

		if engine, found := settings.FindSearchEngine(keyword); found {
			r.logger.Debug("resolved by search engine", zap.String("keyword", keyword))
			return []protocol.ResultItem{r.searchResult(engine, typed, searchText)}, nil
		}
	}

	results := r.matchApps(typed, settings, source)
	if len(results) > 0 {
		return results, nil
	}

	if engine, found := settings.DefaultSearchEngine(); found {
		r.logger.Debug("falling back to default search engine", zap.String("keyword", engine.Keyword))
		return []protocol.ResultItem{r.searchResult(engine, typed, typed)}, nil
	}
	return []protocol.ResultItem{}, nil
}

// matchApps treats an unavailable app source as an empty one.
func (r *Router) matchApps(typed string, settings *config.Settings, source apps.Source) []protocol.ResultItem {
	if source == nil {
		return nil
	}
	list, err := source.Apps()
	if err != nil {
		r.logger.Warn("app source unavailable", zap.Error(err))
		return nil
	}
	return r.matcher.Match(typed, list, settings.BlacklistSet())
}

// searchResult substitutes searchText for every %s in the engine query,
// without escaping.
func (r *Router) searchResult(engine config.SearchEngine, typed, searchText string) protocol.ResultItem {
	icon := engine.IconPath
	if icon == "" {
		icon = r.defaultIcon
	}
	url := strings.ReplaceAll(engine.Query, "%s", searchText)
	return protocol.NewText("Search for "+typed, protocol.OpenURL(url)).
		WithIcon(icon).
		WithTint(engine.TintIcon)
}
