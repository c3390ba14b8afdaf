package taxonomy

import (
	"testing"

	"github.com/reviewharvest/pipeline/internal/model"
)

func TestNamesCoversEveryDefaultEntry(t *testing.T) {
	names := Names()
	if len(names) != len(Default) {
		t.Fatalf("expected %d names, got %d", len(Default), len(names))
	}
	for _, theme := range Default {
		if _, ok := names[theme.Name]; !ok {
			t.Errorf("expected %q present in Names()", theme.Name)
		}
	}
}

func TestDefaultIncludesFallbackTheme(t *testing.T) {
	found := false
	for _, theme := range Default {
		if theme.Name == model.FallbackTheme {
			found = true
		}
	}
	if !found {
		t.Fatalf("expected the fallback theme to be present in the default taxonomy")
	}
}

func TestDefaultEntriesHaveNoEmptyFields(t *testing.T) {
	for _, theme := range Default {
		if theme.Name == "" || theme.Description == "" {
			t.Errorf("expected every theme to have a name and description, got %+v", theme)
		}
	}
}
