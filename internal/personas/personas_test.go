package personas

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
)

func writeProfile(t *testing.T, dir, name, content string) {
	t.Helper()
	if err := os.WriteFile(filepath.Join(dir, name), []byte(content), 0o644); err != nil {
		t.Fatalf("write %s: %v", name, err)
	}
}

func loadedTestStore(t *testing.T) *Store {
	t.Helper()
	dir := t.TempDir()
	writeProfile(t, dir, "mentor.yaml", `
id: mentor
name: Mentor
description: patient explainer
system_prompt: You explain concepts step by step.
keywords: [explain, teach, learn]
priority: 5
`)
	writeProfile(t, dir, "reviewer.yaml", `
id: reviewer
name: Reviewer
description: code critic
system_prompt: You review code tersely.
keywords: [review, bug, refactor]
priority: 3
`)

	s := NewStore(nil)
	if err := s.LoadDirectory(dir); err != nil {
		t.Fatalf("LoadDirectory: %v", err)
	}
	return s
}

func TestLoadDirectory(t *testing.T) {
	s := loadedTestStore(t)
	if s.Len() != 2 {
		t.Fatalf("expected 2 profiles, got %d", s.Len())
	}

	p, err := s.Get("mentor")
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if p.SystemPrompt == "" || p.Priority != 5 {
		t.Fatalf("profile not loaded correctly: %+v", p)
	}
}

func TestLoadDirectorySkipsBadProfile(t *testing.T) {
	dir := t.TempDir()
	writeProfile(t, dir, "ok.yaml", "id: ok\nsystem_prompt: fine\n")
	writeProfile(t, dir, "broken.yaml", "id: [unclosed\n")
	writeProfile(t, dir, "noprompt.yaml", "id: silent\n")

	s := NewStore(nil)
	if err := s.LoadDirectory(dir); err != nil {
		t.Fatalf("LoadDirectory: %v", err)
	}
	if s.Len() != 1 {
		t.Fatalf("expected only the valid profile, got %d", s.Len())
	}
}

func TestGetNotFound(t *testing.T) {
	s := loadedTestStore(t)
	if _, err := s.Get("ghost"); !errors.Is(err, ErrPersonaNotFound) {
		t.Fatalf("expected ErrPersonaNotFound, got %v", err)
	}
}

func TestListSortsByPriority(t *testing.T) {
	s := loadedTestStore(t)
	all := s.List(nil)
	if len(all) != 2 || all[0].ID != "mentor" {
		t.Fatalf("expected mentor first, got %+v", all)
	}
}

func TestListFilterByKeyword(t *testing.T) {
	s := loadedTestStore(t)
	got := s.List(&Filter{Keywords: []string{"review"}})
	if len(got) != 1 || got[0].ID != "reviewer" {
		t.Fatalf("unexpected filter result: %+v", got)
	}
}

func TestSelectorPicksKeywordMatch(t *testing.T) {
	sel := NewSelector(loadedTestStore(t))

	got, err := sel.Select("please review this bug for me")
	if err != nil {
		t.Fatalf("Select: %v", err)
	}
	if got.PersonaID != "reviewer" {
		t.Fatalf("expected reviewer, got %s", got.PersonaID)
	}
	if got.Reasoning == "" {
		t.Fatal("expected reasoning on a keyword match")
	}
}

func TestSelectorDefaultsToHighestPriority(t *testing.T) {
	sel := NewSelector(loadedTestStore(t))

	got, err := sel.Select("completely unrelated message")
	if err != nil {
		t.Fatalf("Select: %v", err)
	}
	if got.PersonaID != "mentor" {
		t.Fatalf("expected highest-priority default, got %s", got.PersonaID)
	}
	if got.Score != 0 {
		t.Fatalf("expected zero score, got %v", got.Score)
	}
}

func TestSelectorEmptyStore(t *testing.T) {
	sel := NewSelector(NewStore(nil))
	if _, err := sel.Select("hello"); !errors.Is(err, ErrNoPersonas) {
		t.Fatalf("expected ErrNoPersonas, got %v", err)
	}
}
