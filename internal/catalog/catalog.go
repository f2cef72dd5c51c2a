// Package catalog merges the marketplace manifest with the local agent
// registry into the in-memory agent/skill lookup the router queries.
package catalog

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"strings"
	"sync"

	"github.com/leeoohoo/subagent-router/internal/marketplace"
	"github.com/leeoohoo/subagent-router/internal/model"
)

var logger = slog.Default().With("component", "catalog")

// registryDoc is the on-disk shape of the local agent registry file.
type registryDoc struct {
	Agents []model.Agent `json:"agents"`
}

// Catalog is the merged, in-memory view of agents and skills.
type Catalog struct {
	manifestPath string
	registryPath string

	mu          sync.RWMutex
	pluginsRoot string
	agents      map[string]model.Agent
	agentOrder  []string
	skills      map[string]model.Skill

	contentMu    sync.Mutex
	contentCache map[string]string
}

// New builds a Catalog and performs its initial load.
func New(manifestPath, pluginsRoot, registryPath string) (*Catalog, error) {
	c := &Catalog{
		manifestPath: manifestPath,
		registryPath: registryPath,
		pluginsRoot:  pluginsRoot,
		contentCache: map[string]string{},
	}
	if err := c.Reload(); err != nil {
		return nil, err
	}
	return c, nil
}

// SetPluginsRoot updates the plugins root and reloads the catalog.
func (c *Catalog) SetPluginsRoot(root string) error {
	c.mu.Lock()
	c.pluginsRoot = root
	c.mu.Unlock()
	return c.Reload()
}

// Reload rebuilds both the agent and skill mappings from their sources.
func (c *Catalog) Reload() error {
	c.mu.RLock()
	pluginsRoot := c.pluginsRoot
	c.mu.RUnlock()

	marketAgents, marketSkills := marketplace.Load(c.manifestPath, pluginsRoot)

	registryAgents, err := loadRegistry(c.registryPath)
	if err != nil {
		return fmt.Errorf("load agent registry: %w", err)
	}

	agents := make(map[string]model.Agent, len(marketAgents)+len(registryAgents))
	order := make([]string, 0, len(marketAgents)+len(registryAgents))
	for _, a := range marketAgents {
		if _, exists := agents[a.ID]; !exists {
			order = append(order, a.ID)
		}
		agents[a.ID] = a
	}
	for _, a := range registryAgents {
		// Registry agents override marketplace agents on id collision.
		if _, exists := agents[a.ID]; !exists {
			order = append(order, a.ID)
		}
		agents[a.ID] = a
	}

	skills := make(map[string]model.Skill, len(marketSkills))
	for _, s := range marketSkills {
		if _, exists := skills[s.ID]; exists {
			continue
		}
		skills[s.ID] = s
	}

	c.mu.Lock()
	c.agents = agents
	c.agentOrder = order
	c.skills = skills
	c.mu.Unlock()

	logger.Info("catalog reloaded", "agents", len(agents), "skills", len(skills))
	return nil
}

func loadRegistry(path string) ([]model.Agent, error) {
	if path == "" {
		return nil, nil
	}
	raw, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read registry: %w", err)
	}
	var doc registryDoc
	if err := json.Unmarshal(raw, &doc); err != nil {
		return nil, fmt.Errorf("decode registry: %w", err)
	}
	return doc.Agents, nil
}

// ListAgents returns all agents, in first-seen load order.
func (c *Catalog) ListAgents() []model.Agent {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make([]model.Agent, 0, len(c.agentOrder))
	for _, id := range c.agentOrder {
		out = append(out, c.agents[id])
	}
	return out
}

// GetAgent returns the agent with id, or (zero, false) if absent.
func (c *Catalog) GetAgent(id string) (model.Agent, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	a, ok := c.agents[id]
	return a, ok
}

// ListSkills returns all loaded skills.
func (c *Catalog) ListSkills() []model.Skill {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make([]model.Skill, 0, len(c.skills))
	for _, s := range c.skills {
		out = append(out, s)
	}
	return out
}

// GetSkill returns the skill with id, or (zero, false) if absent.
func (c *Catalog) GetSkill(id string) (model.Skill, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	s, ok := c.skills[id]
	return s, ok
}

// ResolveSkills drops unknown ids and preserves input order.
func (c *Catalog) ResolveSkills(skillIDs []string) []model.Skill {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make([]model.Skill, 0, len(skillIDs))
	for _, id := range skillIDs {
		if s, ok := c.skills[id]; ok {
			out = append(out, s)
		}
	}
	return out
}

// ResolveCommand matches commandID by id or name (case-insensitive); if
// commandID is empty it prefers the agent's DefaultCommand, else the first
// command. Returns (zero, false) if the agent has no commands at all.
func ResolveCommand(agent model.Agent, commandID string) (model.Command, bool) {
	if len(agent.Commands) == 0 {
		return model.Command{}, false
	}
	if commandID != "" {
		for _, cmd := range agent.Commands {
			if strings.EqualFold(cmd.ID, commandID) || strings.EqualFold(cmd.Name, commandID) {
				return cmd, true
			}
		}
		return model.Command{}, false
	}
	if agent.DefaultCommand != "" {
		for _, cmd := range agent.Commands {
			if strings.EqualFold(cmd.ID, agent.DefaultCommand) || strings.EqualFold(cmd.Name, agent.DefaultCommand) {
				return cmd, true
			}
		}
	}
	return agent.Commands[0], true
}

// ReadContent reads the file at path, memoizing the result. Read errors
// resolve to an empty string (also cached) rather than propagating.
func (c *Catalog) ReadContent(path string) string {
	if path == "" {
		return ""
	}
	c.contentMu.Lock()
	defer c.contentMu.Unlock()
	if cached, ok := c.contentCache[path]; ok {
		return cached
	}
	raw, err := os.ReadFile(path)
	content := ""
	if err != nil {
		logger.Debug("content read failed", "path", path, "error", err)
	} else {
		content = string(raw)
	}
	c.contentCache[path] = content
	return content
}
