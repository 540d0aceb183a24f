package config

// Settings is the read-only snapshot a single query resolves against.
// Callers must not mutate the slices; Snapshot hands out fresh copies.
type Settings struct {
	Extensions    []ExtensionEntry
	SearchEngines []SearchEngine
	Blacklist     []string
}

// Snapshot copies the settings values out of c.
func (c *Config) Snapshot() *Settings {
	s := &Settings{
		Extensions:    make([]ExtensionEntry, len(c.Extensions)),
		SearchEngines: make([]SearchEngine, len(c.SearchEngines)),
		Blacklist:     make([]string, len(c.Blacklist)),
	}
	copy(s.Extensions, c.Extensions)
	copy(s.SearchEngines, c.SearchEngines)
	copy(s.Blacklist, c.Blacklist)
	return s
}

// FindExtension returns the first extension bound to keyword.
func (s *Settings) FindExtension(keyword string) (ExtensionEntry, bool) {
	for _, ext := range s.Extensions {
		if ext.Keyword == keyword {
			return ext, true
		}
	}
	return ExtensionEntry{}, false
}

// FindSearchEngine returns the first search engine bound to keyword.
func (s *Settings) FindSearchEngine(keyword string) (SearchEngine, bool) {
	for _, engine := range s.SearchEngines {
		if engine.Keyword == keyword {
			return engine, true
		}
	}
	return SearchEngine{}, false
}

// DefaultSearchEngine returns the first engine flagged as default.
func (s *Settings) DefaultSearchEngine() (SearchEngine, bool) {
	for _, engine := range s.SearchEngines {
		if engine.Default {
			return engine, true
		}
	}
	return SearchEngine{}, false
}

func (s *Settings) BlacklistSet() map[string]struct{} {
	set := make(map[string]struct{}, len(s.Blacklist))
	for _, path := range s.Blacklist {
		set[path] = struct{}{}
	}
	return set
}
