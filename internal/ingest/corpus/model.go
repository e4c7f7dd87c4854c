package corpus

import "time"

// Author is the git author of the commit a corpus was read at.
type Author struct {
	Name  string    `json:"name"`
	Email string    `json:"email"`
	When  time.Time `json:"when"`
}

// Source records where a story came from.
type Source struct {
	URL    string `json:"url,omitempty"`
	Commit string `json:"commit,omitempty"` // empty for plain directories
	Path   string `json:"path"`
	Author Author `json:"author"`
}

// Story is one seed story as written in a corpus YAML file.
type Story struct {
	Title    string `yaml:"title" json:"title"`
	Culture  string `yaml:"culture" json:"culture"`
	Theme    string `yaml:"theme" json:"theme,omitempty"`
	Language string `yaml:"language" json:"language,omitempty"`
	Tone     string `yaml:"tone" json:"tone,omitempty"`
	Text     string `yaml:"text" json:"text"`

	Source Source `yaml:"-" json:"source"`
}

// Skipped is a corpus file, or an entry in one, that was not loaded.
type Skipped struct {
	Path   string `json:"path"`
	Reason string `json:"reason"`
}

// Corpus is the parsed content of a story repository or directory.
type Corpus struct {
	URL        string    `json:"url"`
	HeadHash   string    `json:"head_hash,omitempty"`
	HeadBranch string    `json:"head_branch,omitempty"`
	Stories    []Story   `json:"stories"`
	Skipped    []Skipped `json:"skipped,omitempty"`
}
