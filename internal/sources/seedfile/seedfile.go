// Package seedfile reads the line-oriented list of default discovery
// services used to populate an empty registry.
//
// Each line is "<code> <url>": the first character selects the kind of
// service and the url starts at the third character. Lines shorter than
// seven characters and unknown codes are ignored, so '#' comments work.
//
//	2 http://cache.example.com/gwc.php
//	M http://multi.example.com/
//	U uhc:boot.example.com:6346
//	X http://blocked.example.com/
package seedfile

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/MrSnakeDoc/discoveryd/internal/domain"
	"github.com/MrSnakeDoc/discoveryd/internal/utils"
)

const minLineLen = 7

// Loader reads seeds from a file.
type Loader struct {
	filePath  string
	maxRating uint8
}

// NewLoader creates a Loader; every seed except blocked ones gets maxRating.
func NewLoader(filePath string, maxRating uint8) *Loader {
	return &Loader{
		filePath:  filePath,
		maxRating: maxRating,
	}
}

// Load reads and parses the seed file.
func (l *Loader) Load() ([]domain.Seed, error) {
	f, err := os.Open(l.filePath)
	if err != nil {
		return nil, fmt.Errorf("failed to open seed file: %w", err)
	}
	defer utils.Close(f)

	seeds, err := Parse(f, l.maxRating)
	if err != nil {
		return nil, fmt.Errorf("failed to read seed file %s: %w", l.filePath, err)
	}
	return seeds, nil
}

// Parse reads seeds from r. URLs are passed through untouched; the registry
// normalizes and validates them on insertion.
func Parse(r io.Reader, maxRating uint8) ([]domain.Seed, error) {
	var seeds []domain.Seed

	sc := bufio.NewScanner(r)
	for sc.Scan() {
		line := strings.TrimRight(sc.Text(), "\r")
		if len(line) < minLineLen {
			continue
		}

		seed, ok := seedFor(line[0], strings.TrimSpace(line[2:]), maxRating)
		if ok {
			seeds = append(seeds, seed)
		}
	}
	if err := sc.Err(); err != nil {
		return nil, err
	}
	return seeds, nil
}

func seedFor(code byte, url string, maxRating uint8) (domain.Seed, bool) {
	seed := domain.Seed{URL: url, Rating: maxRating}

	switch code {
	case '1':
		seed.Type, seed.Network = domain.ServiceTypeGWC, domain.NetworkG1
	case '2':
		seed.Type, seed.Network = domain.ServiceTypeGWC, domain.NetworkG2
	case 'M':
		seed.Type, seed.Network = domain.ServiceTypeGWC, domain.NetworkG2|domain.NetworkG1
	case 'U':
		seed.Type, seed.Network = domain.ServiceTypeBootstrap, domain.NetworkG2
	case 'X':
		seed.Type, seed.Network, seed.Rating = domain.ServiceTypeNull, domain.NetworkNull, 0
	default:
		// comments, eDonkey server lists
		return domain.Seed{}, false
	}
	return seed, true
}
