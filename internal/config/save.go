package config

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"
	"strconv"

	"gopkg.in/yaml.v3"
)

// SaveRepositories replaces the repositories list in the config file.
// Comments and formatting in other sections are kept by editing the
// yaml.Node tree.
func SaveRepositories(configPath string, repos []RepositoryConfig) error {
	data, err := os.ReadFile(configPath)
	if err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("reading config: %w", err)
	}

	var doc yaml.Node
	if len(data) > 0 {
		if err := yaml.Unmarshal(data, &doc); err != nil {
			return fmt.Errorf("parsing config: %w", err)
		}
	}

	reposNode := buildRepositoriesNode(repos)

	switch {
	case doc.Kind == 0:
		doc = yaml.Node{
			Kind: yaml.DocumentNode,
			Content: []*yaml.Node{
				{
					Kind: yaml.MappingNode,
					Content: []*yaml.Node{
						{Kind: yaml.ScalarNode, Value: "repositories"},
						reposNode,
					},
				},
			},
		}
	case doc.Kind == yaml.DocumentNode && len(doc.Content) > 0:
		root := doc.Content[0]
		if root.Kind != yaml.MappingNode {
			return fmt.Errorf("parsing config: top level is not a mapping")
		}
		found := false
		for i := 0; i < len(root.Content)-1; i += 2 {
			if root.Content[i].Value == "repositories" {
				root.Content[i+1] = reposNode
				found = true
				break
			}
		}
		if !found {
			root.Content = append(root.Content,
				&yaml.Node{Kind: yaml.ScalarNode, Value: "repositories"},
				reposNode,
			)
		}
	}

	var buf bytes.Buffer
	encoder := yaml.NewEncoder(&buf)
	encoder.SetIndent(2)
	if err := encoder.Encode(&doc); err != nil {
		return fmt.Errorf("marshaling config: %w", err)
	}
	_ = encoder.Close()

	return writeAtomic(configPath, buf.Bytes())
}

// AddRepository appends repo to existing and saves the result.
func AddRepository(configPath string, repo RepositoryConfig, existing []RepositoryConfig) error {
	repos := append(append([]RepositoryConfig(nil), existing...), repo)
	if err := ValidateRepositories(repos); err != nil {
		return err
	}
	return SaveRepositories(configPath, repos)
}

// RemoveRepository drops the repository named name and saves the result.
func RemoveRepository(configPath, name string, existing []RepositoryConfig) error {
	repos := make([]RepositoryConfig, 0, len(existing))
	for _, r := range existing {
		if r.Name != name {
			repos = append(repos, r)
		}
	}
	if len(repos) == len(existing) {
		return fmt.Errorf("repository %q not found", name)
	}
	return SaveRepositories(configPath, repos)
}

// buildRepositoriesNode writes name and url always and the other fields
// only when set.
func buildRepositoriesNode(repos []RepositoryConfig) *yaml.Node {
	node := &yaml.Node{
		Kind:    yaml.SequenceNode,
		Content: make([]*yaml.Node, 0, len(repos)),
	}

	for _, r := range repos {
		m := &yaml.Node{Kind: yaml.MappingNode}
		add := func(key, value string, tag string) {
			m.Content = append(m.Content,
				&yaml.Node{Kind: yaml.ScalarNode, Value: key},
				&yaml.Node{Kind: yaml.ScalarNode, Value: value, Tag: tag},
			)
		}

		add("name", r.Name, "")
		add("url", r.URL, "")
		if r.Expiration > 0 {
			add("expiration", r.Expiration.String(), "")
		}
		if r.RefreshInterval > 0 {
			add("refresh_interval", r.RefreshInterval.String(), "")
		}
		if r.Tolerant {
			add("tolerant", "true", "!!bool")
		}
		if r.Watch {
			add("watch", "true", "!!bool")
		}
		if r.ReferralDepth > 0 {
			add("referral_depth", strconv.Itoa(r.ReferralDepth), "!!int")
		}
		node.Content = append(node.Content, m)
	}

	return node
}

// writeAtomic writes to a temp file in the same directory, then renames.
func writeAtomic(path string, data []byte) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o750); err != nil {
		return fmt.Errorf("creating config directory: %w", err)
	}

	temp, err := os.CreateTemp(dir, ".obr.yaml.tmp.*")
	if err != nil {
		return fmt.Errorf("creating temp file: %w", err)
	}
	tempPath := temp.Name()

	if _, err := temp.Write(data); err != nil {
		_ = temp.Close()
		_ = os.Remove(tempPath)
		return fmt.Errorf("writing temp file: %w", err)
	}
	if err := temp.Close(); err != nil {
		_ = os.Remove(tempPath)
		return fmt.Errorf("closing temp file: %w", err)
	}

	if err := os.Rename(tempPath, path); err != nil {
		_ = os.Remove(tempPath)
		return fmt.Errorf("renaming temp file: %w", err)
	}
	return nil
}
