package watcher

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"strings"
	"sync"

	"gopkg.in/yaml.v3"

	"github.com/NewTurn2017/oc-memory/internal/engine"
	"github.com/NewTurn2017/oc-memory/internal/store"
)

// frontMatter is the YAML header of a markdown memory file.
type frontMatter struct {
	Title    string   `yaml:"title"`
	Type     string   `yaml:"type"`
	Priority string   `yaml:"priority"`
	Tags     []string `yaml:"tags"`
}

// jsonMemoryFile is the shape of a JSON memory file.
type jsonMemoryFile struct {
	Title    string   `json:"title"`
	Content  string   `json:"content"`
	Type     string   `json:"type"`
	Priority string   `json:"priority"`
	Tags     []string `json:"tags"`
}

// parseMemoryFile reads path and produces the engine.StoreInput it
// describes. Markdown files use a "---"-delimited YAML front matter
// followed by the body as Content; JSON files are decoded directly.
func parseMemoryFile(path string) (*engine.StoreInput, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", path, err)
	}

	if strings.HasSuffix(strings.ToLower(path), ".json") {
		var doc jsonMemoryFile
		if err := json.Unmarshal(raw, &doc); err != nil {
			return nil, fmt.Errorf("parse json memory file %s: %w", path, err)
		}
		return toStoreInput(doc.Title, doc.Content, doc.Type, doc.Priority, doc.Tags), nil
	}

	title, typ, priority, tags, body, err := splitFrontMatter(raw)
	if err != nil {
		return nil, fmt.Errorf("parse memory file %s: %w", path, err)
	}
	return toStoreInput(title, body, typ, priority, tags), nil
}

func splitFrontMatter(raw []byte) (title, typ, priority string, tags []string, body string, err error) {
	text := string(raw)
	const delim = "---"

	if !strings.HasPrefix(text, delim) {
		return "", "", "", nil, text, nil
	}

	rest := text[len(delim):]
	end := strings.Index(rest, "\n"+delim)
	if end == -1 {
		return "", "", "", nil, text, nil
	}

	header := rest[:end]
	body = strings.TrimPrefix(rest[end+len(delim)+1:], "\n")

	var fm frontMatter
	if err := yaml.Unmarshal([]byte(header), &fm); err != nil {
		return "", "", "", nil, "", fmt.Errorf("parse front matter: %w", err)
	}
	return fm.Title, fm.Type, fm.Priority, fm.Tags, strings.TrimSpace(body), nil
}

func toStoreInput(title, content, typ, priority string, tags []string) *engine.StoreInput {
	memType := store.MemoryType(typ)
	if !memType.Valid() {
		memType = store.MemoryTypeObservation
	}
	memPriority := store.Priority(priority)
	if priority == "" || !memPriority.Valid() {
		memPriority = store.PriorityNormal
	}
	return &engine.StoreInput{Title: title, Content: content, Type: memType, Priority: memPriority, Tags: tags}
}

// Producer watches a directory and drives the Engine Facade from the
// files it finds: a create/modify stores (or re-stores) the memory a
// file describes; a delete removes the memory the path last produced.
// It is a thin, best-effort bridge — parse or store failures are
// logged and skipped rather than propagated, since one malformed file
// must not stop the watch loop.
type Producer struct {
	watcher *FSWatcher
	engine  *engine.Engine

	mu       sync.Mutex
	pathToID map[string]string
}

// NewProducer wires a Producer around an already-constructed FSWatcher
// and Engine.
func NewProducer(w *FSWatcher, e *engine.Engine) *Producer {
	return &Producer{watcher: w, engine: e, pathToID: make(map[string]string)}
}

// Run watches dir and drives the engine until ctx is cancelled.
func (p *Producer) Run(ctx context.Context, dir string) error {
	go p.consume(ctx)
	return p.watcher.Start(ctx, dir)
}

func (p *Producer) consume(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case batch, ok := <-p.watcher.Events():
			if !ok {
				return
			}
			for _, ev := range batch {
				p.handle(ctx, ev)
			}
		case err, ok := <-p.watcher.Errors():
			if !ok {
				return
			}
			slog.Warn("watcher reported error", slog.String("error", err.Error()))
		}
	}
}

func (p *Producer) handle(ctx context.Context, ev FileEvent) {
	switch ev.Operation {
	case OpCreate, OpModify:
		input, err := parseMemoryFile(ev.Path)
		if err != nil {
			slog.Warn("skipping unparsable memory file", slog.String("path", ev.Path), slog.String("error", err.Error()))
			return
		}
		result, err := p.engine.Store(ctx, *input)
		if err != nil {
			slog.Warn("failed to store memory from watched file", slog.String("path", ev.Path), slog.String("error", err.Error()))
			return
		}
		p.mu.Lock()
		p.pathToID[ev.Path] = result.ID
		p.mu.Unlock()

	case OpDelete:
		p.mu.Lock()
		id, ok := p.pathToID[ev.Path]
		delete(p.pathToID, ev.Path)
		p.mu.Unlock()
		if !ok {
			return
		}
		if _, err := p.engine.Delete(ctx, id); err != nil {
			slog.Warn("failed to delete memory for removed file", slog.String("path", ev.Path), slog.String("error", err.Error()))
		}
	}
}
