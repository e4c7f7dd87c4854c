// Package corpus loads seed stories from a git repository or a directory of
// YAML files and indexes them into the story vector store.
package corpus

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path"
	"path/filepath"
	"strings"

	"github.com/go-git/go-git/v6"
	"github.com/go-git/go-git/v6/plumbing/object"
	"github.com/go-git/go-git/v6/storage/memory"
	"gopkg.in/yaml.v3"
)

// maxFileBytes bounds a single story file.
const maxFileBytes = 1 << 20

// OpenRepository opens a Git repository from a local path
func OpenRepository(path string) (*git.Repository, error) {
	return git.PlainOpen(path)
}

// CloneRepository clones a Git repository to memory
func CloneRepository(url string) (*git.Repository, error) {
	return git.Clone(memory.NewStorage(), nil, &git.CloneOptions{
		URL: url,
	})
}

// IsRemote reports whether source names a repository to clone rather than a
// local path.
func IsRemote(source string) bool {
	for _, prefix := range []string{"https://", "http://", "ssh://", "git://", "git@"} {
		if strings.HasPrefix(source, prefix) {
			return true
		}
	}
	return false
}

// Load reads stories from source. Remote URLs are cloned into memory, local
// git repositories are read at HEAD, and any other directory is walked on
// disk.
func Load(source string) (*Corpus, error) {
	if IsRemote(source) {
		repo, err := CloneRepository(source)
		if err != nil {
			return nil, fmt.Errorf("failed to clone %s: %w", source, err)
		}
		return LoadRepository(repo, source)
	}

	repo, err := OpenRepository(source)
	switch {
	case err == nil:
		return LoadRepository(repo, source)
	case errors.Is(err, git.ErrRepositoryNotExists):
		return LoadDirectory(source)
	default:
		return nil, fmt.Errorf("failed to open %s: %w", source, err)
	}
}

// LoadRepository reads every story file in the HEAD commit of repo.
func LoadRepository(repo *git.Repository, url string) (*Corpus, error) {
	head, err := repo.Head()
	if err != nil {
		return nil, fmt.Errorf("failed to get HEAD: %w", err)
	}
	commit, err := repo.CommitObject(head.Hash())
	if err != nil {
		return nil, fmt.Errorf("failed to get HEAD commit: %w", err)
	}
	tree, err := commit.Tree()
	if err != nil {
		return nil, fmt.Errorf("failed to get tree: %w", err)
	}

	c := &Corpus{
		URL:        url,
		HeadHash:   head.Hash().String(),
		HeadBranch: head.Name().Short(),
	}
	author := ParseAuthor(commit.Author)

	err = tree.Files().ForEach(func(file *object.File) error {
		if !IsStoryFile(file.Name) {
			return nil
		}
		if binary, _ := file.IsBinary(); binary {
			c.skip(file.Name, "binary file")
			return nil
		}
		if file.Size > maxFileBytes {
			c.skip(file.Name, "file too large")
			return nil
		}
		content, err := file.Contents()
		if err != nil {
			return fmt.Errorf("failed to read %s: %w", file.Name, err)
		}
		c.add([]byte(content), Source{
			URL:    url,
			Commit: c.HeadHash,
			Path:   file.Name,
			Author: author,
		})
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("failed to walk tree: %w", err)
	}
	return c, nil
}

// LoadDirectory reads every story file below root.
func LoadDirectory(root string) (*Corpus, error) {
	info, err := os.Stat(root)
	if err != nil {
		return nil, err
	}
	if !info.IsDir() {
		return nil, fmt.Errorf("%s is not a directory", root)
	}

	c := &Corpus{URL: root}
	err = filepath.WalkDir(root, func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			if p != root && strings.HasPrefix(d.Name(), ".") {
				return filepath.SkipDir
			}
			return nil
		}
		rel, err := filepath.Rel(root, p)
		if err != nil {
			return err
		}
		rel = filepath.ToSlash(rel)
		if !IsStoryFile(rel) {
			return nil
		}

		f, err := os.Open(p)
		if err != nil {
			return err
		}
		defer f.Close()
		data, err := io.ReadAll(io.LimitReader(f, maxFileBytes+1))
		if err != nil {
			return fmt.Errorf("failed to read %s: %w", rel, err)
		}
		if len(data) > maxFileBytes {
			c.skip(rel, "file too large")
			return nil
		}
		c.add(data, Source{URL: root, Path: rel})
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("failed to walk %s: %w", root, err)
	}
	return c, nil
}

// IsStoryFile reports whether name is a YAML file outside hidden directories.
func IsStoryFile(name string) bool {
	for _, part := range strings.Split(path.Dir(name), "/") {
		if strings.HasPrefix(part, ".") && part != "." {
			return false
		}
	}
	switch strings.ToLower(path.Ext(name)) {
	case ".yaml", ".yml":
		return true
	}
	return false
}

// ParseStories decodes a story file holding either one story mapping or a
// sequence of them.
func ParseStories(data []byte) ([]Story, error) {
	var doc yaml.Node
	if err := yaml.NewDecoder(bytes.NewReader(data)).Decode(&doc); err != nil {
		if errors.Is(err, io.EOF) {
			return nil, nil
		}
		return nil, err
	}
	if doc.Kind != yaml.DocumentNode || len(doc.Content) == 0 {
		return nil, nil
	}

	root := doc.Content[0]
	switch root.Kind {
	case yaml.MappingNode:
		var s Story
		if err := root.Decode(&s); err != nil {
			return nil, err
		}
		return []Story{s}, nil
	case yaml.SequenceNode:
		var stories []Story
		if err := root.Decode(&stories); err != nil {
			return nil, err
		}
		return stories, nil
	default:
		return nil, fmt.Errorf("line %d: expected a story or a list of stories", root.Line)
	}
}

// Validate reports why s cannot be indexed, or nil.
func (s Story) Validate() error {
	if len([]rune(strings.TrimSpace(s.Culture))) < 2 {
		return errors.New("culture must be at least 2 characters")
	}
	if strings.TrimSpace(s.Text) == "" {
		return errors.New("text is empty")
	}
	return nil
}

// ParseAuthor converts go-git Signature to Author
func ParseAuthor(sig object.Signature) Author {
	return Author{
		Name:  sig.Name,
		Email: sig.Email,
		When:  sig.When,
	}
}

func (c *Corpus) add(data []byte, src Source) {
	stories, err := ParseStories(data)
	if err != nil {
		c.skip(src.Path, fmt.Sprintf("invalid yaml: %v", err))
		return
	}
	if len(stories) == 0 {
		c.skip(src.Path, "no stories")
		return
	}
	for i, s := range stories {
		if err := s.Validate(); err != nil {
			c.skip(fmt.Sprintf("%s#%d", src.Path, i), err.Error())
			continue
		}
		s.Culture = strings.TrimSpace(s.Culture)
		s.Text = strings.TrimSpace(s.Text)
		s.Source = src
		c.Stories = append(c.Stories, s)
	}
}

func (c *Corpus) skip(path, reason string) {
	c.Skipped = append(c.Skipped, Skipped{Path: path, Reason: reason})
}
