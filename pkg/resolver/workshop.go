package resolver

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/platinummonkey/modhub/pkg/plugins"
)

// WorkshopFileName is the descriptor DirWorkshop reads for each item
const WorkshopFileName = "workshop.yaml"

// WorkshopItem is the metadata an external distribution system holds for one item
type WorkshopItem struct {
	ID           string
	Title        string
	Author       string
	Description  string
	Dependencies []string
	// Folder is the local folder holding the item's downloaded content
	Folder  string
	Payload plugins.Kind
	Files   []string
	Module  string
}

// Workshop resolves external reference ids
type Workshop interface {
	Item(ctx context.Context, id string) (*WorkshopItem, error)
}

// DirWorkshop serves items from <Root>/<id>/workshop.yaml
type DirWorkshop struct {
	Root string
}

type workshopFile struct {
	Title        string   `yaml:"title"`
	Author       string   `yaml:"author"`
	Description  string   `yaml:"description"`
	Dependencies []string `yaml:"dependencies"`
	Payload      string   `yaml:"payload"`
	Files        []string `yaml:"files"`
	Module       string   `yaml:"module"`
}

// Item reads the descriptor of one item
func (w *DirWorkshop) Item(ctx context.Context, id string) (*WorkshopItem, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if id == "" || !plugins.IsLocalPath(id) || strings.ContainsAny(id, `/\`) {
		return nil, fmt.Errorf("invalid workshop id %q", id)
	}

	folder := filepath.Join(w.Root, id)
	data, err := os.ReadFile(filepath.Join(folder, WorkshopFileName))
	if err != nil {
		return nil, fmt.Errorf("workshop item %s: %w", id, err)
	}

	var file workshopFile
	if err := yaml.Unmarshal(data, &file); err != nil {
		return nil, fmt.Errorf("workshop item %s: failed to parse: %w", id, err)
	}

	payload, err := plugins.ParseKind(file.Payload)
	if err != nil {
		return nil, fmt.Errorf("workshop item %s: %w", id, err)
	}
	if file.Payload == "" {
		payload = plugins.KindPrebuilt
	}
	if payload != plugins.KindSource && payload != plugins.KindPrebuilt {
		return nil, fmt.Errorf("workshop item %s: payload must be source or module", id)
	}

	return &WorkshopItem{
		ID:           id,
		Title:        file.Title,
		Author:       file.Author,
		Description:  file.Description,
		Dependencies: file.Dependencies,
		Folder:       folder,
		Payload:      payload,
		Files:        file.Files,
		Module:       file.Module,
	}, nil
}

// Record synthesizes the catalog record for an item
func (item *WorkshopItem) Record() *plugins.Record {
	name := item.Title
	if name == "" {
		name = item.ID
	}
	return &plugins.Record{
		ID:           item.ID,
		FriendlyName: name,
		Author:       item.Author,
		Description:  item.Description,
		Kind:         plugins.KindExternal,
		Payload:      item.Payload,
		Dependencies: append([]string(nil), item.Dependencies...),
		Origin:       item.Folder,
		Files:        append([]string(nil), item.Files...),
		Module:       item.Module,
	}
}
