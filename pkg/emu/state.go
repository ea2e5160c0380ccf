package emu

import (
	"encoding/base64"
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/spf13/cast"
	"gopkg.in/yaml.v3"
)

type stack struct {
	Addr       any    `yaml:"addr,omitempty"`
	DataBase64 string `yaml:"data_base64,omitempty"`
}

// State is the initial machine state of an emulation run.
//
//	registers:
//	  x0: 0x1000
//	  x1: 42
//	stack:
//	  addr: 0x60000f00
//	  data_base64: AAECAw==
type State struct {
	Registers map[string]any `yaml:"registers"`
	Stack     stack          `yaml:"stack,omitempty"`
}

func ParseState(name string) (*State, error) {
	data, err := os.ReadFile(name)
	if err != nil {
		return nil, fmt.Errorf("error reading state file: %v", err)
	}
	return parseState(data)
}

func parseState(data []byte) (*State, error) {
	var state State
	if err := yaml.Unmarshal(data, &state); err != nil {
		return nil, fmt.Errorf("error unmarshalling state file: %v", err)
	}
	return &state, nil
}

func toUint64(v any) (uint64, error) {
	if s, ok := v.(string); ok {
		return strconv.ParseUint(strings.TrimSpace(s), 0, 64)
	}
	return cast.ToUint64E(v)
}

// RegisterValues returns the register values keyed by lower case name.
// Values may be YAML integers or strings with a 0x, 0o or 0b prefix.
func (state *State) RegisterValues() (map[string]uint64, error) {
	regs := make(map[string]uint64, len(state.Registers))
	for name, value := range state.Registers {
		v, err := toUint64(value)
		if err != nil {
			return nil, fmt.Errorf("bad value for register %s: %v", name, err)
		}
		regs[strings.ToLower(name)] = v
	}
	return regs, nil
}

// StackData returns the bytes to place at the stack address, if any.
func (state *State) StackData() (uint64, []byte, error) {
	if state.Stack.DataBase64 == "" {
		return 0, nil, nil
	}
	data, err := base64.StdEncoding.DecodeString(state.Stack.DataBase64)
	if err != nil {
		return 0, nil, fmt.Errorf("bad stack data: %v", err)
	}
	if state.Stack.Addr == nil {
		return 0, data, nil
	}
	addr, err := toUint64(state.Stack.Addr)
	if err != nil {
		return 0, nil, fmt.Errorf("bad stack address: %v", err)
	}
	return addr, data, nil
}

// DumpYaml renders the state as a state file.
func (state *State) DumpYaml() (string, error) {
	data, err := yaml.Marshal(state)
	if err != nil {
		return "", err
	}
	return string(data), nil
}
