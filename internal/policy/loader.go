package policy

import (
	_ "embed"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/BurntSushi/toml"
	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/rawbytes"
	"github.com/knadh/koanf/v2"
)

const maxPolicyFileSize = 1024 * 1024 // 1MB

//go:embed seed.yaml
var seedYAML []byte

// policyFile is the on-disk shape shared by the YAML and TOML formats.
type policyFile struct {
	Policies []*Policy `koanf:"policies" toml:"policies"`
}

// ParseYAML decodes a YAML policy document.
func ParseYAML(content []byte) ([]*Policy, error) {
	k := koanf.New(".")
	if err := k.Load(rawbytes.Provider(content), yaml.Parser()); err != nil {
		return nil, fmt.Errorf("parsing yaml policies: %w", err)
	}
	var file policyFile
	if err := k.Unmarshal("", &file); err != nil {
		return nil, fmt.Errorf("decoding yaml policies: %w", err)
	}
	return file.Policies, nil
}

// ParseTOML decodes a TOML policy document using [[policies]] tables.
func ParseTOML(content []byte) ([]*Policy, error) {
	var file policyFile
	if _, err := toml.Decode(string(content), &file); err != nil {
		return nil, fmt.Errorf("parsing toml policies: %w", err)
	}
	return file.Policies, nil
}

// ParseFile reads a policy overlay, choosing the parser by extension.
func ParseFile(path string) ([]*Policy, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("opening policy file: %w", err)
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil {
		return nil, fmt.Errorf("stat policy file: %w", err)
	}
	if info.Size() > maxPolicyFileSize {
		return nil, fmt.Errorf("%w: %s (%d bytes)", ErrFileTooLarge, path, info.Size())
	}

	content, err := io.ReadAll(f)
	if err != nil {
		return nil, fmt.Errorf("reading policy file: %w", err)
	}

	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		return ParseYAML(content)
	case ".toml":
		return ParseTOML(content)
	default:
		return nil, fmt.Errorf("%w: %s", ErrUnsupportedFormat, path)
	}
}

func seedPolicies() ([]*Policy, error) {
	return ParseYAML(seedYAML)
}
