package build

import (
	"os"

	"github.com/pkg/errors"
	"gopkg.in/yaml.v3"
)

// libPair mirrors one (library_search_path, library_name) entry in the
// project file.
type libPair struct {
	Path string `yaml:"library_search_path"`
	Name string `yaml:"library_name"`
}

func (p libPair) toRuntimeLib() RuntimeLib {
	return RuntimeLib{Path: p.Path, Name: p.Name}
}

// ProjectFile is the on-disk YAML shape the build orchestrator reads before
// CLI flags are applied on top, per the ambient-stack Configuration design:
// a project names its compiler, optimization level, and the five runtime
// library pairs once, and a CLI invocation may override any field.
type ProjectFile struct {
	InputFile  string   `yaml:"input_file"`
	OutDir     string   `yaml:"out_dir"`
	OutBinName string   `yaml:"out_bin_name"`
	Compiler   Compiler `yaml:"compiler"`
	OptLevel   OptLevel `yaml:"opt_level"`

	Coverage libPair `yaml:"coverage"`
	ASAN     libPair `yaml:"asan"`
	Fuzzer   libPair `yaml:"fuzzer"`
	Symbolic libPair `yaml:"symbolic"`
	Race     libPair `yaml:"race"`
}

// LoadProjectFile reads and parses a project YAML file into a Config.
func LoadProjectFile(path string) (Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Config{}, errors.Wrapf(err, "read project file %s", path)
	}
	var pf ProjectFile
	if err := yaml.Unmarshal(data, &pf); err != nil {
		return Config{}, errors.Wrapf(err, "parse project file %s", path)
	}
	return Config{
		InputFile:  pf.InputFile,
		OutDir:     pf.OutDir,
		OutBinName: pf.OutBinName,
		Compiler:   pf.Compiler,
		OptLevel:   pf.OptLevel,

		CoverageLib: pf.Coverage.toRuntimeLib(),
		ASANLib:     pf.ASAN.toRuntimeLib(),
		FuzzerLib:   pf.Fuzzer.toRuntimeLib(),
		SymbolicLib: pf.Symbolic.toRuntimeLib(),
		RaceLib:     pf.Race.toRuntimeLib(),
	}, nil
}

// Override applies any non-zero-value field in over onto a copy of c,
// giving CLI flags priority over the project file they're layered on.
func (c Config) Override(over Config) Config {
	if over.InputFile != "" {
		c.InputFile = over.InputFile
	}
	if over.OutDir != "" {
		c.OutDir = over.OutDir
	}
	if over.OutBinName != "" {
		c.OutBinName = over.OutBinName
	}
	if over.Compiler != "" {
		c.Compiler = over.Compiler
	}
	if over.OptLevel != "" {
		c.OptLevel = over.OptLevel
	}
	if over.CoverageLib.Path != "" || over.CoverageLib.Name != "" {
		c.CoverageLib = over.CoverageLib
	}
	if over.ASANLib.Path != "" || over.ASANLib.Name != "" {
		c.ASANLib = over.ASANLib
	}
	if over.FuzzerLib.Path != "" || over.FuzzerLib.Name != "" {
		c.FuzzerLib = over.FuzzerLib
	}
	if over.SymbolicLib.Path != "" || over.SymbolicLib.Name != "" {
		c.SymbolicLib = over.SymbolicLib
	}
	if over.RaceLib.Path != "" || over.RaceLib.Name != "" {
		c.RaceLib = over.RaceLib
	}
	return c
}
