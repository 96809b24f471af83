package inference

import (
	"context"
	"log"
	"os"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
)

const defaultSystemPrompt = "You are a helpful security camera video analysis assistant."

// PromptLoader holds the user and system prompts. The prompt files are
// analyst-tuned data, not config, so they reload on change while the
// process runs.
type PromptLoader struct {
	promptPath string
	systemPath string

	mu     sync.RWMutex
	user   string
	system string
}

func NewPromptLoader(promptPath, systemPath string) (*PromptLoader, error) {
	l := &PromptLoader{promptPath: promptPath, systemPath: systemPath}
	if err := l.Reload(); err != nil {
		return nil, err
	}
	return l, nil
}

// Prompts returns the current (system, user) pair.
func (l *PromptLoader) Prompts() (string, string) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.system, l.user
}

// Reload re-reads both files. The user prompt is required; a missing system
// prompt falls back to the built-in default.
func (l *PromptLoader) Reload() error {
	user, err := os.ReadFile(l.promptPath)
	if err != nil {
		return err
	}

	system := defaultSystemPrompt
	if l.systemPath != "" {
		if data, err := os.ReadFile(l.systemPath); err == nil {
			system = string(data)
		} else {
			log.Printf("[Prompt] Could not read system prompt %s: %v (using default)", l.systemPath, err)
		}
	}

	l.mu.Lock()
	l.user = string(user)
	l.system = system
	l.mu.Unlock()
	return nil
}

// Watch reloads the prompts when either file changes. Falls back silently
// to the last loaded text if a reload fails mid-edit.
func (l *PromptLoader) Watch(ctx context.Context) {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		log.Printf("[Prompt] fsnotify unavailable (%v), prompts fixed for process lifetime", err)
		return
	}

	paths := []string{l.promptPath}
	if l.systemPath != "" {
		paths = append(paths, l.systemPath)
	}
	for _, p := range paths {
		if err := watcher.Add(p); err != nil {
			log.Printf("[Prompt] Failed to watch %s: %v", p, err)
		}
	}

	go func() {
		defer watcher.Close()
		for {
			select {
			case <-ctx.Done():
				return
			case ev, ok := <-watcher.Events:
				if !ok {
					return
				}
				if ev.Op&(fsnotify.Write|fsnotify.Create) == 0 {
					continue
				}
				// Editors write in bursts; let the file settle.
				time.Sleep(100 * time.Millisecond)
				if err := l.Reload(); err != nil {
					log.Printf("[Prompt] Reload failed: %v (keeping previous prompts)", err)
				} else {
					log.Printf("[Prompt] Reloaded %s", ev.Name)
				}
			case err, ok := <-watcher.Errors:
				if !ok {
					return
				}
				log.Printf("[Prompt] Watcher error: %v", err)
			}
		}
	}()
}
