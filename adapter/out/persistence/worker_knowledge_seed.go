package persistence

import (
	"bytes"
	_ "embed"
	"fmt"
	"io"
	"os"
	"strings"

	"inbox_worker/core/domain"

	"gopkg.in/yaml.v3"
)

//go:embed knowledge_seed.yaml
var defaultKnowledgeSeed []byte

type knowledgeSeedFile struct {
	Entries []*domain.KnowledgeEntry `yaml:"entries"`
}

// DefaultKnowledge returns the built-in corpus.
func DefaultKnowledge() ([]*domain.KnowledgeEntry, error) {
	return ParseKnowledge(bytes.NewReader(defaultKnowledgeSeed))
}

// LoadKnowledgeFile reads a YAML corpus from disk.
func LoadKnowledgeFile(path string) ([]*domain.KnowledgeEntry, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open knowledge file: %w", err)
	}
	defer f.Close()
	return ParseKnowledge(f)
}

// ParseKnowledge decodes a corpus and rejects entries without a title or content.
func ParseKnowledge(r io.Reader) ([]*domain.KnowledgeEntry, error) {
	var seed knowledgeSeedFile
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(&seed); err != nil {
		if err == io.EOF {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to decode knowledge file: %w", err)
	}

	entries := make([]*domain.KnowledgeEntry, 0, len(seed.Entries))
	for i, e := range seed.Entries {
		if e == nil {
			continue
		}
		e.Title = strings.TrimSpace(e.Title)
		e.Content = strings.TrimSpace(e.Content)
		if e.Title == "" || e.Content == "" {
			return nil, fmt.Errorf("knowledge entry %d: title and content are required", i)
		}
		entries = append(entries, e)
	}
	return entries, nil
}
