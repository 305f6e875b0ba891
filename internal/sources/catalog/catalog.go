// Package catalog loads a YAML list of discovery services. Unlike the seed
// file it is imported on every start; the registry merges entries it
// already holds.
package catalog

import (
	"errors"
	"fmt"
	"os"
	"regexp"

	"gopkg.in/yaml.v3"

	"github.com/MrSnakeDoc/discoveryd/internal/domain"
)

// File is the top-level structure of the catalog.
//
//	services:
//	  - url: http://cache.example.com/gwc.php
//	    type: gwc
//	    networks: g2,g1
//	    rating: 4
type File struct {
	Services []Entry `yaml:"services"`
}

// Entry is one catalog line. Rating defaults to the registry maximum.
type Entry struct {
	URL      string `yaml:"url"`
	Type     string `yaml:"type"`
	Networks string `yaml:"networks"`
	Rating   *uint8 `yaml:"rating,omitempty"`
}

// Loader handles loading and parsing of the catalog file
type Loader struct {
	filePath string
}

// NewLoader creates a new catalog loader
func NewLoader(filePath string) *Loader {
	return &Loader{filePath: filePath}
}

var envRef = regexp.MustCompile(`\$\{([A-Za-z_][A-Za-z0-9_]*)\}`)

// Load reads the catalog and converts it to seeds. ${VAR} references are
// expanded from the environment before parsing. Invalid entries are
// reported together; valid ones are still returned.
func (l *Loader) Load(maxRating uint8) ([]domain.Seed, error) {
	data, err := os.ReadFile(l.filePath)
	if err != nil {
		return nil, fmt.Errorf("failed to read catalog: %w", err)
	}

	data = envRef.ReplaceAllFunc(data, func(m []byte) []byte {
		return []byte(os.Getenv(string(envRef.FindSubmatch(m)[1])))
	})

	var f File
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("failed to parse catalog yaml: %w", err)
	}
	return f.Seeds(maxRating)
}

// Seeds converts the catalog entries.
func (f File) Seeds(maxRating uint8) ([]domain.Seed, error) {
	seeds := make([]domain.Seed, 0, len(f.Services))
	var errs []error

	for i, e := range f.Services {
		seed, err := e.seed(maxRating)
		if err != nil {
			errs = append(errs, fmt.Errorf("entry %d (%q): %w", i, e.URL, err))
			continue
		}
		seeds = append(seeds, seed)
	}
	return seeds, errors.Join(errs...)
}

func (e Entry) seed(maxRating uint8) (domain.Seed, error) {
	if e.URL == "" {
		return domain.Seed{}, errors.New("missing url")
	}

	t := domain.ServiceTypeGWC
	if e.Type != "" {
		var err error
		if t, err = domain.ParseServiceType(e.Type); err != nil {
			return domain.Seed{}, err
		}
	}

	n, err := domain.ParseNetworkType(e.Networks)
	if err != nil {
		return domain.Seed{}, err
	}
	if n.IsNull() && t != domain.ServiceTypeNull {
		n = domain.NetworkG2
	}

	rating := maxRating
	if e.Rating != nil {
		rating = min(*e.Rating, maxRating)
	}

	return domain.Seed{URL: e.URL, Type: t, Network: n, Rating: rating}, nil
}
