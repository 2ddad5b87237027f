// Package assemble packages a working directory into a WACZ container by driving the js-wacz
// command line tool.
package assemble

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"os/exec"
	"path/filepath"
	"strings"

	"github.com/spf13/afero"
	"go.uber.org/zap"

	"github.com/JakeFAU/collection-sync/internal/archive"
)

// DefaultCommand is the container tool looked up on PATH.
const DefaultCommand = "js-wacz"

// pagesHeader opens every pages.jsonl file.
var pagesHeader = map[string]string{"format": "json-pages-1.0", "id": "pages", "title": "All Pages"}

// Runner executes the container tool and returns its combined output.
type Runner interface {
	Run(ctx context.Context, name string, args ...string) ([]byte, error)
}

// ExecRunner runs commands as child processes.
type ExecRunner struct{}

// Run implements Runner.
func (ExecRunner) Run(ctx context.Context, name string, args ...string) ([]byte, error) {
	out, err := exec.CommandContext(ctx, name, args...).CombinedOutput()
	if err != nil {
		return out, fmt.Errorf("run %s: %w", name, err)
	}
	return out, nil
}

// Config controls the container tool invocation.
type Config struct {
	Command      string
	SigningURL   string
	SigningToken string
}

// Assembler implements archive.Assembler with js-wacz.
type Assembler struct {
	cfg    Config
	fs     afero.Fs
	runner Runner
	logger *zap.Logger
}

var _ archive.Assembler = (*Assembler)(nil)

// New builds an Assembler. fsys receives the page manifest and must be the filesystem the tool
// reads from; a nil runner executes the real command.
func New(cfg Config, fsys afero.Fs, runner Runner, logger *zap.Logger) *Assembler {
	if cfg.Command == "" {
		cfg.Command = DefaultCommand
	}
	if runner == nil {
		runner = ExecRunner{}
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Assembler{cfg: cfg, fs: fsys, runner: runner, logger: logger}
}

// Assemble writes the page manifest and runs the tool over the working directory.
func (a *Assembler) Assemble(ctx context.Context, req archive.AssembleRequest) error {
	pagesDir := filepath.Join(req.WorkDir, "pages")
	if err := WritePages(a.fs, pagesDir, req.Pages); err != nil {
		return err
	}
	args := a.Args(req, pagesDir)
	a.logger.Info("assembling container",
		zap.String("command", a.cfg.Command),
		zap.String("output", req.OutputPath),
		zap.Int("pages", len(req.Pages)),
	)
	out, err := a.runner.Run(ctx, a.cfg.Command, args...)
	a.logOutput(out)
	if err != nil {
		return fmt.Errorf("assemble %s: %w", req.OutputPath, err)
	}
	if ok, statErr := afero.Exists(a.fs, req.OutputPath); statErr != nil || !ok {
		return fmt.Errorf("assemble %s: container was not produced", req.OutputPath)
	}
	return nil
}

// Args builds the js-wacz command line. Optional flags are omitted when empty.
func (a *Assembler) Args(req archive.AssembleRequest, pagesDir string) []string {
	input := req.InputGlob
	if input == "" {
		input = filepath.Join(req.WorkDir, "*.warc.gz")
	}
	args := []string{"create", "-f", input, "-o", req.OutputPath, "-p", pagesDir}
	if req.Title != "" {
		args = append(args, "-t", req.Title)
	}
	if req.Description != "" {
		args = append(args, "--desc", req.Description)
	}
	if a.cfg.SigningURL != "" {
		args = append(args, "--signing-url", a.cfg.SigningURL)
		if a.cfg.SigningToken != "" {
			args = append(args, "--signing-token", a.cfg.SigningToken)
		}
	}
	return args
}

func (a *Assembler) logOutput(out []byte) {
	scanner := bufio.NewScanner(bytes.NewReader(out))
	for scanner.Scan() {
		if line := strings.TrimSpace(scanner.Text()); line != "" {
			a.logger.Debug("container tool", zap.String("line", line))
		}
	}
}

// WritePages replaces dir/pages.jsonl with the header line followed by one line per entry.
func WritePages(fsys afero.Fs, dir string, entries []archive.PageEntry) error {
	if err := fsys.MkdirAll(dir, 0o750); err != nil {
		return fmt.Errorf("create pages directory: %w", err)
	}
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	if err := enc.Encode(pagesHeader); err != nil {
		return fmt.Errorf("encode pages header: %w", err)
	}
	for _, entry := range entries {
		if err := enc.Encode(entry); err != nil {
			return fmt.Errorf("encode page %s: %w", entry.URL, err)
		}
	}
	path := filepath.Join(dir, "pages.jsonl")
	if err := afero.WriteFile(fsys, path, buf.Bytes(), 0o644); err != nil {
		return fmt.Errorf("write %s: %w", path, err)
	}
	return nil
}
