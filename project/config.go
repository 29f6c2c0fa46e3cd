package project

import (
	"encoding/json"
	"fmt"
	"path"
	"path/filepath"
	"strings"

	"github.com/bmatcuk/doublestar/v4"
)

// Module and target values accepted in a project configuration.
const (
	ModuleNone     = "none"
	ModuleAMD      = "amd"
	ModuleCommonJS = "commonjs"

	TargetES3 = "es3"
	TargetES5 = "es5"
)

// Config is an immutable project configuration. It is built once by ParseConfig with
// defaults applied and is replaced wholesale when the configuration file changes.
type Config struct {
	Sources                        []string `json:"sources"`
	Module                         string   `json:"module"`
	Target                         string   `json:"target"`
	PropagateEnumConstants         bool     `json:"propagateEnumConstants"`
	RemoveComments                 bool     `json:"removeComments"`
	NoLib                          bool     `json:"noLib"`
	NoImplicitAny                  bool     `json:"noImplicitAny"`
	Declaration                    bool     `json:"declaration"`
	MapSource                      bool     `json:"mapSource"`
	UseCaseSensitiveFileResolution bool     `json:"useCaseSensitiveFileResolution"`
	OutDir                         string   `json:"outDir"`
	OutFile                        string   `json:"outFile"`
	SourceRoot                     string   `json:"sourceRoot"`
	MapRoot                        string   `json:"mapRoot"`
}

// DefaultConfig returns the option defaults applied before a configuration is decoded.
func DefaultConfig() Config {
	return Config{
		Module: ModuleNone,
		Target: TargetES5,
	}
}

// ParseConfig decodes and validates a JSON project configuration.
func ParseConfig(data []byte) (*Config, error) {
	cfg := DefaultConfig()
	if err := json.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("%w: parse json: %v", ErrInvalidConfig, err)
	}

	cfg.Module = strings.ToLower(strings.TrimSpace(cfg.Module))
	cfg.Target = strings.ToLower(strings.TrimSpace(cfg.Target))
	if cfg.Module == "" {
		cfg.Module = ModuleNone
	}
	if cfg.Target == "" {
		cfg.Target = TargetES5
	}

	sources := make([]string, 0, len(cfg.Sources))
	for _, s := range cfg.Sources {
		if strings.TrimSpace(s) == "" {
			sources = append(sources, "")
			continue
		}
		sources = append(sources, path.Clean(filepath.ToSlash(s)))
	}
	cfg.Sources = sources

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate checks the configuration for errors.
func (c *Config) Validate() error {
	if len(c.Sources) == 0 {
		return fmt.Errorf("%w: sources is required", ErrInvalidConfig)
	}
	for i, s := range c.Sources {
		if s == "" {
			return fmt.Errorf("%w: sources[%d] is empty", ErrInvalidConfig, i)
		}
		if !doublestar.ValidatePattern(s) {
			return fmt.Errorf("%w: sources[%d] is not a valid pattern: %q", ErrInvalidConfig, i, s)
		}
	}

	switch c.Module {
	case ModuleNone, ModuleAMD, ModuleCommonJS:
	default:
		return fmt.Errorf("%w: unknown module %q", ErrInvalidConfig, c.Module)
	}

	switch c.Target {
	case TargetES3, TargetES5:
	default:
		return fmt.Errorf("%w: unknown target %q", ErrInvalidConfig, c.Target)
	}

	if c.OutDir == "" && c.OutFile == "" {
		return fmt.Errorf("%w: one of outDir or outFile is required", ErrInvalidConfig)
	}
	return nil
}

// IsSource reports whether absPath, taken relative to baseDir, matches a source pattern.
func (c *Config) IsSource(baseDir, absPath string) bool {
	rel, err := filepath.Rel(filepath.FromSlash(baseDir), filepath.FromSlash(absPath))
	if err != nil {
		return false
	}
	rel = filepath.ToSlash(rel)
	for _, pattern := range c.Sources {
		if ok, _ := doublestar.Match(pattern, rel); ok {
			return true
		}
	}
	return false
}

// ModuleGenTarget selects the module code generation strategy.
type ModuleGenTarget int

// Module generation targets.
const (
	ModuleUnspecified ModuleGenTarget = iota
	ModuleAsynchronous
	ModuleSynchronous
)

// LanguageVersion selects the emitted language level.
type LanguageVersion int

// Language versions.
const (
	EcmaScript3 LanguageVersion = iota
	EcmaScript5
)

// CompilationSettings are the options handed to the analysis host.
type CompilationSettings struct {
	ModuleGenTarget                ModuleGenTarget
	CodeGenTarget                  LanguageVersion
	PropagateEnumConstants         bool
	RemoveComments                 bool
	NoLib                          bool
	NoImplicitAny                  bool
	GenerateDeclarationFiles       bool
	MapSourceFiles                 bool
	UseCaseSensitiveFileResolution bool
	OutFileOption                  string
	OutDirOption                   string
	SourceRoot                     string
	MapRoot                        string
}

// CompilationSettings derives the host settings for this configuration.
func (c *Config) CompilationSettings() CompilationSettings {
	s := CompilationSettings{
		PropagateEnumConstants:         c.PropagateEnumConstants,
		RemoveComments:                 c.RemoveComments,
		NoLib:                          c.NoLib,
		NoImplicitAny:                  c.NoImplicitAny,
		GenerateDeclarationFiles:       c.Declaration,
		MapSourceFiles:                 c.MapSource,
		UseCaseSensitiveFileResolution: c.UseCaseSensitiveFileResolution,
		OutFileOption:                  c.OutFile,
		OutDirOption:                   c.OutDir,
		SourceRoot:                     c.SourceRoot,
		MapRoot:                        c.MapRoot,
	}

	switch c.Module {
	case ModuleNone:
		s.ModuleGenTarget = ModuleUnspecified
	case ModuleAMD:
		s.ModuleGenTarget = ModuleAsynchronous
	default:
		s.ModuleGenTarget = ModuleSynchronous
	}

	if c.Target == TargetES3 {
		s.CodeGenTarget = EcmaScript3
	} else {
		s.CodeGenTarget = EcmaScript5
	}
	return s
}
