package registry

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/rumor-ml/commons.systems/ledgersync/internal/parser"
	"github.com/rumor-ml/commons.systems/ledgersync/internal/parsers/csv"
	"github.com/rumor-ml/commons.systems/ledgersync/internal/parsers/ofx"
	"github.com/rumor-ml/commons.systems/ledgersync/internal/parsers/pending"
)

// headerSize is how many leading bytes parsers get for format detection.
const headerSize = 512

// Registry holds all registered parsers
type Registry struct {
	parsers []parser.Parser
}

// New creates a registry with all built-in parsers
func New() (*Registry, error) {
	r := &Registry{}
	for _, p := range []parser.Parser{
		ofx.NewParser(),
		csv.NewParser(),
		pending.NewParser(),
	} {
		if err := r.Register(p); err != nil {
			return nil, fmt.Errorf("failed to register built-in parser: %w", err)
		}
	}
	return r, nil
}

// MustNew is New for callers that cannot recover from a broken built-in set
func MustNew() *Registry {
	r, err := New()
	if err != nil {
		panic(err)
	}
	return r
}

// Register adds a custom parser. Names must be unique.
func (r *Registry) Register(p parser.Parser) error {
	if p == nil {
		return fmt.Errorf("cannot register nil parser")
	}
	for _, existing := range r.parsers {
		if existing.Name() == p.Name() {
			return fmt.Errorf("parser %q already registered", p.Name())
		}
	}
	r.parsers = append(r.parsers, p)
	return nil
}

// FindParser returns the first registered parser that accepts this file.
// Parsers see up to 512 leading bytes; shorter files give a shorter header.
func (r *Registry) FindParser(path string) (parser.Parser, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open file: %w", err)
	}
	defer f.Close()

	header := make([]byte, headerSize)
	n, err := io.ReadFull(f, header)
	if err != nil && !errors.Is(err, io.EOF) && !errors.Is(err, io.ErrUnexpectedEOF) {
		return nil, fmt.Errorf("failed to read header from %s: %w", path, err)
	}
	header = header[:n]

	for _, p := range r.parsers {
		if p.CanParse(path, header) {
			return p, nil
		}
	}

	return nil, fmt.Errorf("no parser found for file: %s", path)
}

// ParseFile finds the parser for path and runs it.
func (r *Registry) ParseFile(ctx context.Context, path string, meta *parser.Metadata) (*parser.RawBatch, parser.Parser, error) {
	p, err := r.FindParser(path)
	if err != nil {
		return nil, nil, err
	}

	f, err := os.Open(path)
	if err != nil {
		return nil, p, fmt.Errorf("failed to open file: %w", err)
	}
	defer f.Close()

	batch, err := p.Parse(ctx, f, meta)
	if err != nil {
		return nil, p, fmt.Errorf("%s parser: %w", p.Name(), err)
	}
	return batch, p, nil
}

// ListParsers returns all registered parser names in registration order
func (r *Registry) ListParsers() []string {
	names := make([]string, len(r.parsers))
	for i, p := range r.parsers {
		names[i] = p.Name()
	}
	return names
}
