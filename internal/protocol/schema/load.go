package schema

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/danmuck/znplink/internal/protocol"
	"github.com/pelletier/go-toml/v2"
	"github.com/rs/zerolog/log"
	"gopkg.in/yaml.v3"
)

type fileParam struct {
	Name string `toml:"name" yaml:"name"`
	Type string `toml:"type" yaml:"type"`
}

type fileCommand struct {
	Name          string      `toml:"name" yaml:"name"`
	Type          string      `toml:"type" yaml:"type"`
	Subsystem     string      `toml:"subsystem" yaml:"subsystem"`
	ID            uint8       `toml:"id" yaml:"id"`
	Reply         string      `toml:"reply" yaml:"reply"`
	Request       []fileParam `toml:"request" yaml:"request"`
	Response      []fileParam `toml:"response" yaml:"response"`
	Callback      string      `toml:"callback" yaml:"callback"`
	CallbackMatch []string    `toml:"callback_match" yaml:"callback_match"`
}

// fileSet is the on-disk table shape. Base names a builtin table the file
// extends; commands with the same name replace the base entry.
type fileSet struct {
	Version  string        `toml:"version" yaml:"version"`
	Base     string        `toml:"base" yaml:"base"`
	Checksum string        `toml:"checksum" yaml:"checksum"`
	Commands []fileCommand `toml:"commands" yaml:"commands"`
}

// LoadFile reads a command table from a .toml, .yaml or .yml file.
func LoadFile(path string) (Set, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Set{}, fmt.Errorf("schema load failed (%s): %w", path, err)
	}
	var raw fileSet
	switch strings.ToLower(filepath.Ext(path)) {
	case ".toml":
		err = toml.Unmarshal(data, &raw)
	case ".yaml", ".yml":
		err = yaml.Unmarshal(data, &raw)
	default:
		return Set{}, fmt.Errorf("schema load failed (%s): unsupported extension", path)
	}
	if err != nil {
		return Set{}, fmt.Errorf("schema parse failed (%s): %w", path, err)
	}
	set, err := raw.toSet()
	if err != nil {
		return Set{}, fmt.Errorf("schema parse failed (%s): %w", path, err)
	}
	log.Debug().Msgf("schema.LoadFile path=%s version=%q commands=%d", path, set.Version, len(set.Commands))
	return set, nil
}

func (f fileSet) toSet() (Set, error) {
	set := Set{Version: strings.TrimSpace(f.Version), Checksum: strings.TrimSpace(f.Checksum)}
	if base := strings.TrimSpace(f.Base); base != "" {
		b, err := Builtin(base)
		if err != nil {
			return Set{}, err
		}
		set.Commands = b.Commands
		if set.Checksum == "" {
			set.Checksum = b.Checksum
		}
		if set.Version == "" {
			set.Version = b.Version
		}
	}
	for _, fc := range f.Commands {
		d, err := fc.toDescriptor()
		if err != nil {
			return Set{}, err
		}
		set.Commands = replaceOrAppend(set.Commands, d)
	}
	if set.Version == "" {
		return Set{}, fmt.Errorf("%w: missing version", ErrInvalidSet)
	}
	return set, nil
}

func replaceOrAppend(commands []Descriptor, d Descriptor) []Descriptor {
	for i := range commands {
		if commands[i].Name == d.Name {
			commands[i] = d
			return commands
		}
	}
	return append(commands, d)
}

func (c fileCommand) toDescriptor() (Descriptor, error) {
	name := strings.TrimSpace(c.Name)
	t, err := protocol.ParseCommandType(c.Type)
	if err != nil {
		return Descriptor{}, fmt.Errorf("%w: %s: %v", ErrInvalidSet, name, err)
	}
	sub, err := protocol.ParseSubsystem(c.Subsystem)
	if err != nil {
		return Descriptor{}, fmt.Errorf("%w: %s: %v", ErrInvalidSet, name, err)
	}
	reply, err := ParseReply(c.Reply)
	if err != nil {
		return Descriptor{}, fmt.Errorf("%s: %w", name, err)
	}
	req, err := toLayout(name, c.Request)
	if err != nil {
		return Descriptor{}, err
	}
	rsp, err := toLayout(name, c.Response)
	if err != nil {
		return Descriptor{}, err
	}
	return Descriptor{
		Name:          name,
		Header:        protocol.Header{Type: t, Subsystem: sub, ID: c.ID},
		Request:       req,
		Response:      rsp,
		Reply:         reply,
		Callback:      strings.TrimSpace(c.Callback),
		CallbackMatch: c.CallbackMatch,
	}, nil
}

func toLayout(command string, params []fileParam) ([]protocol.Param, error) {
	if len(params) == 0 {
		return nil, nil
	}
	out := make([]protocol.Param, 0, len(params))
	for _, p := range params {
		t, err := protocol.ParseParamType(p.Type)
		if err != nil {
			return nil, fmt.Errorf("%w: %s.%s: %v", ErrInvalidSet, command, p.Name, err)
		}
		out = append(out, protocol.Param{Name: strings.TrimSpace(p.Name), Type: t})
	}
	return out, nil
}

// SelectConfig picks the command table for one link. File wins over Version.
type SelectConfig struct {
	Version string
	File    string
}

// Select builds the registry named by cfg.
func Select(cfg SelectConfig) (*Registry, error) {
	var (
		set Set
		err error
	)
	if file := strings.TrimSpace(cfg.File); file != "" {
		set, err = LoadFile(file)
	} else {
		version := strings.TrimSpace(cfg.Version)
		if version == "" {
			version = DefaultVersion
		}
		set, err = Builtin(version)
	}
	if err != nil {
		return nil, err
	}
	return NewRegistry(set)
}
