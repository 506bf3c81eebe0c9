// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package main

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/AleutianAI/AleutianFeedback/pkg/feedback"
)

var errBadEntriesFile = errors.New("malformed feedback file")

// loadEntries reads a feedback file. The document is either a list of
// entries or an object with an "entries" list. Files ending in .json are
// parsed as JSON; anything else as YAML, which also accepts JSON.
func loadEntries(path string) ([]feedback.Entry, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", path, err)
	}

	var doc any
	if strings.EqualFold(filepath.Ext(path), ".json") {
		err = json.Unmarshal(data, &doc)
	} else {
		err = yaml.Unmarshal(data, &doc)
	}
	if err != nil {
		return nil, fmt.Errorf("parse %s: %w", path, err)
	}

	entries, err := entriesFromDocument(doc)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return entries, nil
}

func entriesFromDocument(doc any) ([]feedback.Entry, error) {
	switch v := doc.(type) {
	case nil:
		return nil, nil
	case map[string]any:
		list, ok := v["entries"]
		if !ok {
			return nil, fmt.Errorf("%w: object without an \"entries\" list", errBadEntriesFile)
		}
		if _, isMap := list.(map[string]any); isMap {
			return nil, fmt.Errorf("%w: \"entries\" must be a list", errBadEntriesFile)
		}
		return entriesFromDocument(list)
	case []any:
		entries := make([]feedback.Entry, 0, len(v))
		for i, item := range v {
			m, ok := item.(map[string]any)
			if !ok {
				return nil, fmt.Errorf("%w: entry %d is %T, not an object", errBadEntriesFile, i, item)
			}
			e, err := feedback.EntryFromMap(m)
			if err != nil {
				return nil, fmt.Errorf("entry %d: %w", i, err)
			}
			entries = append(entries, e)
		}
		return entries, nil
	default:
		return nil, fmt.Errorf("%w: expected a list of entries, got %T", errBadEntriesFile, doc)
	}
}
