package config

import (
	_ "embed"
	"fmt"
	"sort"
	"strings"
	"sync"

	"gopkg.in/yaml.v3"
)

// Board describes a known target.
type Board struct {
	Name        string    `yaml:"name"`
	Description string    `yaml:"description"`
	VectorTable HexUint32 `yaml:"vector_table"`
	Interface   string    `yaml:"interface"`
	SpeedKHz    uint16    `yaml:"speed_khz"`
	// Flash is true when test images are linked for flash rather than RAM.
	Flash bool `yaml:"flash"`
}

type boardCatalog struct {
	Boards []Board `yaml:"boards"`
}

//go:embed boards.yaml
var boardsYAML []byte

var (
	boards     map[string]Board
	boardsOnce sync.Once
	boardsErr  error
)

// LoadBoards parses the embedded catalog. Thread-safe; parsed once.
func LoadBoards() (map[string]Board, error) {
	boardsOnce.Do(func() {
		boards, boardsErr = parseBoards(boardsYAML)
	})
	return boards, boardsErr
}

func parseBoards(data []byte) (map[string]Board, error) {
	var catalog boardCatalog
	if err := yaml.Unmarshal(data, &catalog); err != nil {
		return nil, fmt.Errorf("failed to parse board catalog: %w", err)
	}
	out := make(map[string]Board, len(catalog.Boards))
	for _, b := range catalog.Boards {
		key := strings.ToLower(b.Name)
		if _, dup := out[key]; dup {
			return nil, fmt.Errorf("board %q listed twice", b.Name)
		}
		out[key] = b
	}
	return out, nil
}

// GetBoard returns the catalog entry for name, case-insensitively.
func GetBoard(name string) (*Board, error) {
	all, err := LoadBoards()
	if err != nil {
		return nil, err
	}
	b, ok := all[strings.ToLower(name)]
	if !ok {
		return nil, fmt.Errorf("unknown board %q (known: %s)", name, strings.Join(BoardNames(), ", "))
	}
	return &b, nil
}

// BoardNames returns the catalog's board names in sorted order.
func BoardNames() []string {
	all, err := LoadBoards()
	if err != nil {
		return nil
	}
	names := make([]string, 0, len(all))
	for _, b := range all {
		names = append(names, b.Name)
	}
	sort.Strings(names)
	return names
}
