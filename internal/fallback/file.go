package fallback

import (
	"bytes"
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// RuleFile 映射规则文件：顶层 profile 字段与 Profile 一致。
type RuleFile struct {
	Profile Profile `yaml:"profile"`
}

// LoadRuleFile 读取 YAML 规则文件并编译为 Engine，未知字段直接报错。
func LoadRuleFile(path string) (*Engine, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read fallback rules failed: %w", err)
	}
	return ParseRules(raw)
}

// ParseRules decodes a rule document already in memory.
func ParseRules(raw []byte) (*Engine, error) {
	var file RuleFile
	dec := yaml.NewDecoder(bytes.NewReader(raw))
	dec.KnownFields(true)
	if err := dec.Decode(&file); err != nil {
		return nil, fmt.Errorf("parse fallback rules failed: %w", err)
	}
	return NewEngine(file.Profile)
}

// MarshalProfile renders p in the rule file format, so shipped profiles can be
// dumped as a starting point for a custom file.
func MarshalProfile(p Profile) ([]byte, error) {
	var buf bytes.Buffer
	enc := yaml.NewEncoder(&buf)
	enc.SetIndent(2)
	if err := enc.Encode(RuleFile{Profile: p}); err != nil {
		return nil, err
	}
	if err := enc.Close(); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}
