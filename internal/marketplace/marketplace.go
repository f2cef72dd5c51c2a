// Package marketplace parses a marketplace manifest and discovers the
// agents, skills, and commands referenced by its plugins on disk.
package marketplace

import (
	"bufio"
	"encoding/json"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"github.com/leeoohoo/subagent-router/internal/ids"
	"github.com/leeoohoo/subagent-router/internal/model"
)

var logger = slog.Default().With("component", "marketplace")

// manifestDoc is the on-disk shape of a marketplace manifest file.
type manifestDoc struct {
	Plugins []pluginEntry `json:"plugins"`
}

type pluginEntry struct {
	Source string        `json:"source"`
	Name   string        `json:"name"`
	Skills []string      `json:"skills"`
	Agents []agentEntry  `json:"agents"`
}

type agentEntry struct {
	ID               string          `json:"id,omitempty"`
	Path             string          `json:"path"`
	Name             string          `json:"name,omitempty"`
	Description      string          `json:"description,omitempty"`
	Category         string          `json:"category,omitempty"`
	Skills           []string        `json:"skills,omitempty"`
	DefaultSkills    []string        `json:"defaultSkills,omitempty"`
	Commands         []model.Command `json:"commands,omitempty"`
	DefaultCommand   string          `json:"defaultCommand,omitempty"`
	SystemPromptPath string          `json:"systemPromptPath,omitempty"`
}

// Load parses the manifest at manifestPath and resolves every plugin's
// referenced agent/skill markdown files against pluginsRoot (or the
// manifest's own directory if pluginsRoot is empty). An unreadable or
// invalid manifest yields an empty result, never an error — the catalog
// always has *something* to merge against a possibly-missing manifest.
func Load(manifestPath, pluginsRoot string) (agents []model.Agent, skills []model.Skill) {
	raw, err := os.ReadFile(manifestPath)
	if err != nil {
		logger.Debug("manifest unreadable", "path", manifestPath, "error", err)
		return nil, nil
	}
	var doc manifestDoc
	if err := json.Unmarshal(raw, &doc); err != nil {
		logger.Warn("manifest invalid json", "path", manifestPath, "error", err)
		return nil, nil
	}

	manifestDir := filepath.Dir(manifestPath)
	seenSkills := map[string]bool{}

	for _, plugin := range doc.Plugins {
		root := pluginsRoot
		if root == "" {
			root = manifestDir
		}
		pluginDir := plugin.Source
		if pluginDir == "" {
			continue
		}
		if !filepath.IsAbs(pluginDir) {
			pluginDir = filepath.Join(root, pluginDir)
		}
		if info, err := os.Stat(pluginDir); err != nil || !info.IsDir() {
			logger.Debug("skip plugin with missing source dir", "source", pluginDir)
			continue
		}

		pluginSkillIDs := make([]string, 0, len(plugin.Skills))
		for _, rel := range plugin.Skills {
			path, ok := resolveMarkdown(pluginDir, rel)
			if !ok {
				continue
			}
			id := deriveID(path)
			pluginSkillIDs = append(pluginSkillIDs, id)
			if seenSkills[id] {
				continue
			}
			seenSkills[id] = true
			title, desc := parseMarkdownHeader(path)
			name := title
			if name == "" {
				name = id
			}
			skills = append(skills, model.Skill{
				ID:          id,
				Name:        name,
				Description: desc,
				Path:        path,
				Plugin:      plugin.Name,
			})
		}

		for _, ae := range plugin.Agents {
			path, ok := resolveMarkdown(pluginDir, ae.Path)
			if !ok {
				continue
			}
			title, desc := parseMarkdownHeader(path)
			id := ae.ID
			if id == "" {
				id = deriveID(path)
			}
			name := ae.Name
			if name == "" {
				name = title
			}
			if name == "" {
				name = id
			}
			description := ae.Description
			if description == "" {
				description = desc
			}
			agents = append(agents, model.Agent{
				ID:               id,
				Name:             name,
				Description:      description,
				Category:         ae.Category,
				Skills:           unionSkillIDs(pluginSkillIDs, ae.Skills),
				DefaultSkills:    ae.DefaultSkills,
				Commands:         ae.Commands,
				DefaultCommand:   ae.DefaultCommand,
				SystemPromptPath: ae.SystemPromptPath,
				Plugin:           plugin.Name,
			})
		}
	}
	return agents, skills
}

// unionSkillIDs merges a plugin's declared skill ids with an agent's own
// skills field, preserving order and dropping duplicates. An agent with no
// skills of its own inherits the full plugin set.
func unionSkillIDs(pluginSkills, agentSkills []string) []string {
	if len(pluginSkills) == 0 {
		return agentSkills
	}
	seen := make(map[string]bool, len(pluginSkills)+len(agentSkills))
	out := make([]string, 0, len(pluginSkills)+len(agentSkills))
	for _, id := range pluginSkills {
		if seen[id] {
			continue
		}
		seen[id] = true
		out = append(out, id)
	}
	for _, id := range agentSkills {
		if seen[id] {
			continue
		}
		seen[id] = true
		out = append(out, id)
	}
	return out
}

// resolveMarkdown tries rel as-is, then with .md, then /SKILL.md, then
// /index.md, relative to dir. Returns ("", false) if none exist.
func resolveMarkdown(dir, rel string) (string, bool) {
	if rel == "" {
		return "", false
	}
	candidates := []string{
		rel,
		rel + ".md",
		filepath.Join(rel, "SKILL.md"),
		filepath.Join(rel, "index.md"),
	}
	for _, c := range candidates {
		full := c
		if !filepath.IsAbs(full) {
			full = filepath.Join(dir, c)
		}
		if info, err := os.Stat(full); err == nil && !info.IsDir() {
			return full, true
		}
	}
	return "", false
}

// deriveID slugifies the basename of path; for SKILL.md/index.md it uses
// the parent directory name instead so multiple plugins' "SKILL.md" don't collide.
func deriveID(path string) string {
	base := filepath.Base(path)
	if strings.EqualFold(base, "SKILL.md") || strings.EqualFold(base, "index.md") {
		base = filepath.Base(filepath.Dir(path))
	} else {
		base = strings.TrimSuffix(base, filepath.Ext(base))
	}
	return ids.Slug(base)
}

// parseMarkdownHeader extracts the title from the first "# " line and the
// description from the first non-heading, non-blank line after it.
func parseMarkdownHeader(path string) (title, description string) {
	f, err := os.Open(path)
	if err != nil {
		return "", ""
	}
	defer f.Close()

	scanner := bufio.NewScanner(f)
	sawTitle := false
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if !sawTitle {
			if strings.HasPrefix(line, "# ") {
				title = strings.TrimSpace(strings.TrimPrefix(line, "#"))
				sawTitle = true
			}
			continue
		}
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		description = line
		break
	}
	return title, description
}
