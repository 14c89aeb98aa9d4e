package validator

import (
	"fmt"
	"os"
	"path/filepath"
	"reflect"
	"regexp"
	"sort"
	"strings"
	"time"

	"github.com/jingkaihe/primforge/pkg/primitive"
	"github.com/jingkaihe/primforge/pkg/schema"
	"github.com/mitchellh/mapstructure"
	"github.com/pkg/errors"
	"gopkg.in/yaml.v3"
)

var (
	identPattern   = regexp.MustCompile(`^[a-z][a-z0-9_]*$`)
	toolRefPattern = regexp.MustCompile(`^[a-z0-9]+(-[a-z0-9]+)*/[a-z0-9]+(-[a-z0-9]+)*$`)
)

// documents holds the decoded files of one primitive for the semantic layer
type documents struct {
	meta *primitive.Metadata
	tool *primitive.ToolSpec
}

// checkSchema decodes meta.yaml, tool.yaml and every content frontmatter of
// one primitive, collecting every violation instead of stopping at the first
func (v *run) checkSchema(c primitive.Candidate) (*documents, []*Issue) {
	docs := &documents{}
	var issues []*Issue

	issues = append(issues, v.checkMetadataDocument(c, docs)...)

	if c.Ref.Kind == primitive.KindTool {
		issues = append(issues, v.checkToolDocument(c, docs)...)
	}

	issues = append(issues, v.checkFrontmatter(c)...)
	return docs, issues
}

func (v *run) checkMetadataDocument(c primitive.Candidate, docs *documents) []*Issue {
	path := filepath.Join(c.Dir, primitive.MetadataFile)
	ref := c.Ref.String()
	var issues []*Issue
	issue := func(code, format string, args ...any) {
		issues = append(issues, &Issue{Code: code, Path: v.rel(path), Ref: ref, Message: fmt.Sprintf(format, args...)})
	}

	raw, err := readYAMLMap(path)
	if err != nil {
		issue(CodeParseError, "%v", err)
		return issues
	}

	allowed := schema.AllowedFields(c.Ref.Kind)
	for _, key := range sortedKeys(raw) {
		if !allowed[key] {
			if schema.AllowedFields(primitive.KindAgent)[key] || schema.AllowedFields(primitive.KindHook)[key] {
				issue(CodeFieldNotAllowed, "field %q is not allowed on a %s", key, c.Ref.Kind)
			} else {
				issue(CodeInvalidField, "unknown field %q", key)
			}
			delete(raw, key)
		}
	}

	required := append([]string{"spec_version", "id", "kind", "category", "summary", "versions"}, schema.RequiredFields(c.Ref.Kind)...)
	for _, key := range required {
		if _, ok := raw[key]; !ok {
			issue(CodeMissingField, "required field %q is missing", key)
		}
	}

	var meta primitive.Metadata
	for _, msg := range decodeStrict(raw, &meta) {
		issue(CodeInvalidField, "%s", msg)
	}
	if len(issues) > 0 {
		return issues
	}

	if !schema.Supported(meta.SpecVersion) {
		issue(CodeUnsupportedVersion, "spec_version %q has no published schema (supported: %s)",
			meta.SpecVersion, strings.Join(schema.SupportedVersions(), ", "))
	} else if v.cfg.SpecVersion != "" && meta.SpecVersion != v.cfg.SpecVersion {
		issue(CodeUnsupportedVersion, "spec_version %q does not match the spec root version %q", meta.SpecVersion, v.cfg.SpecVersion)
	}

	if meta.ID != c.Ref.ID {
		issue(CodeMismatch, "id %q does not match directory %q", meta.ID, c.Ref.ID)
	}
	if meta.Kind != c.Ref.Kind {
		issue(CodeMismatch, "kind %q does not match directory %q", meta.Kind, c.Ref.Kind.Dir())
	}
	if meta.Category != c.Ref.Category {
		issue(CodeMismatch, "category %q does not match directory %q", meta.Category, c.Ref.Category)
	}
	if strings.TrimSpace(meta.Summary) == "" {
		issue(CodeMissingField, "summary must not be empty")
	} else if strings.Contains(meta.Summary, "\n") {
		issue(CodeInvalidField, "summary must be a single line")
	}
	for _, tag := range meta.Tags {
		if !namePattern.MatchString(tag) {
			issue(CodeInvalidField, "tag %q must be lowercase kebab-case", tag)
		}
	}
	if meta.DefaultVersion < 0 {
		issue(CodeInvalidField, "default_version must be >= 1, got %d", meta.DefaultVersion)
	}

	if len(meta.Versions) == 0 {
		issue(CodeMissingField, "versions must list at least one entry")
	}
	seen := make(map[int]bool)
	for i, entry := range meta.Versions {
		at := fmt.Sprintf("versions[%d]", i)
		if entry.Version < 1 {
			issue(CodeInvalidField, "%s.version must be >= 1, got %d", at, entry.Version)
		} else if seen[entry.Version] {
			issue(CodeDuplicate, "%s: version %d is listed more than once", at, entry.Version)
		}
		seen[entry.Version] = true
		if !entry.Status.Valid() {
			issue(CodeInvalidField, "%s.status %q must be one of draft, active, deprecated, archived", at, entry.Status)
		}
		if !primitive.ValidHash(entry.Hash) {
			issue(CodeInvalidField, "%s.hash must have the form %s:<64 hex digits>", at, primitive.HashAlgorithm)
		}
		if _, err := time.Parse(time.DateOnly, entry.Created); err != nil {
			issue(CodeInvalidField, "%s.created %q must be a YYYY-MM-DD date", at, entry.Created)
		}
	}

	for i, name := range meta.Tools {
		if strings.TrimSpace(name) == "" {
			issue(CodeInvalidField, "tools[%d] must not be empty", i)
		}
	}
	for i, name := range meta.Skills {
		if !toolRefPattern.MatchString(name) {
			issue(CodeInvalidField, "skills[%d] %q must be a category/id reference", i, name)
		}
	}

	if meta.Middleware != nil {
		if len(meta.Middleware.Events) == 0 {
			issue(CodeMissingField, "middleware.events must list at least one binding")
		}
		for i, b := range meta.Middleware.Events {
			at := fmt.Sprintf("middleware.events[%d]", i)
			if !b.Event.Valid() {
				issue(CodeInvalidField, "%s.event %q is not a known event", at, b.Event)
			}
			if len(b.Validators) == 0 {
				issue(CodeMissingField, "%s.validators must name at least one validator", at)
			}
			for _, name := range b.Validators {
				if !identPattern.MatchString(name) {
					issue(CodeInvalidField, "%s: validator name %q must be a lowercase identifier", at, name)
				}
			}
		}
	}
	checkSafety(meta.Safety, raw, func(msg string) { issue(CodeInvalidField, "%s", msg) })

	docs.meta = &meta
	return issues
}

func (v *run) checkToolDocument(c primitive.Candidate, docs *documents) []*Issue {
	path := filepath.Join(c.Dir, primitive.ToolSpecFile)
	ref := c.Ref.String()
	var issues []*Issue
	issue := func(code, format string, args ...any) {
		issues = append(issues, &Issue{Code: code, Path: v.rel(path), Ref: ref, Message: fmt.Sprintf(format, args...)})
	}

	raw, err := readYAMLMap(path)
	if err != nil {
		issue(CodeParseError, "%v", err)
		return issues
	}
	for _, key := range []string{"name", "description", "adapter"} {
		if _, ok := raw[key]; !ok {
			issue(CodeMissingField, "required field %q is missing", key)
		}
	}

	var spec primitive.ToolSpec
	for _, msg := range decodeStrict(raw, &spec) {
		issue(CodeInvalidField, "%s", msg)
	}
	if len(issues) > 0 {
		return issues
	}

	if !identPattern.MatchString(spec.Name) {
		issue(CodeInvalidField, "name %q must be a lowercase identifier", spec.Name)
	}
	if strings.TrimSpace(spec.Description) == "" {
		issue(CodeMissingField, "description must not be empty")
	}

	names := make(map[string]bool)
	for i, arg := range spec.Parameters {
		at := fmt.Sprintf("parameters[%d]", i)
		if !identPattern.MatchString(arg.Name) {
			issue(CodeInvalidField, "%s.name %q must be a lowercase identifier", at, arg.Name)
		} else if names[arg.Name] {
			issue(CodeDuplicate, "%s: parameter %q is declared more than once", at, arg.Name)
		}
		names[arg.Name] = true
		if !contains(primitive.ArgTypes, arg.Type) {
			issue(CodeInvalidField, "%s.type %q must be one of %s", at, arg.Type, strings.Join(primitive.ArgTypes, ", "))
		}
	}
	if spec.Returns != nil && spec.Returns.Type == "" {
		issue(CodeMissingField, "returns.type must not be empty")
	}
	if !contains(primitive.Runtimes, spec.Adapter.Runtime) {
		issue(CodeInvalidField, "adapter.runtime %q must be one of %s", spec.Adapter.Runtime, strings.Join(primitive.Runtimes, ", "))
	}
	if spec.Adapter.Entrypoint == "" {
		issue(CodeMissingField, "adapter.entrypoint must not be empty")
	} else if filepath.IsAbs(spec.Adapter.Entrypoint) || strings.HasPrefix(filepath.Clean(spec.Adapter.Entrypoint), "..") {
		issue(CodeInvalidField, "adapter.entrypoint %q must be relative to impl/", spec.Adapter.Entrypoint)
	}
	checkSafety(spec.Safety, raw, func(msg string) { issue(CodeInvalidField, "%s", msg) })

	docs.tool = &spec
	return issues
}

// checkFrontmatter parses the frontmatter of every content file in the directory
func (v *run) checkFrontmatter(c primitive.Candidate) []*Issue {
	entries, err := os.ReadDir(c.Dir)
	if err != nil {
		return nil
	}

	var issues []*Issue
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		if _, _, ok := primitive.ParseContentFileName(entry.Name()); !ok {
			continue
		}
		path := filepath.Join(c.Dir, entry.Name())
		issue := func(code, format string, args ...any) {
			issues = append(issues, &Issue{Code: code, Path: v.rel(path), Ref: c.Ref.String(), Message: fmt.Sprintf(format, args...)})
		}

		data, err := os.ReadFile(path)
		if err != nil {
			issue(CodeParseError, "%v", err)
			continue
		}
		fm, _, err := primitive.SplitFrontmatter(data)
		if err != nil {
			issue(CodeParseError, "%v", err)
			continue
		}
		for _, key := range sortedKeys(fm) {
			if !contains(primitive.FrontmatterKeys, key) {
				issue(CodeInvalidField, "unknown frontmatter key %q (allowed: %s)", key, strings.Join(primitive.FrontmatterKeys, ", "))
				continue
			}
			if _, ok := fm[key].(string); !ok {
				issue(CodeInvalidField, "frontmatter key %q must be a string", key)
			}
		}
	}
	return issues
}

// checkSafety validates a decoded safety block. raw is the document it came
// from, since an explicit timeout_seconds: 0 decodes the same as an absent one.
func checkSafety(s *primitive.SafetyConfig, raw map[string]any, report func(string)) {
	if s == nil {
		return
	}
	block, _ := raw["safety"].(map[string]any)
	if _, set := block["timeout_seconds"]; set && s.TimeoutSeconds <= 0 {
		report(fmt.Sprintf("safety.timeout_seconds must be > 0, got %d", s.TimeoutSeconds))
	}
	if s.MaxOutputBytes < 0 {
		report(fmt.Sprintf("safety.max_output_bytes must be >= 0, got %d", s.MaxOutputBytes))
	}
}

// readYAMLMap parses a YAML document into a generic map. Duplicate keys are
// rejected by the parser.
func readYAMLMap(path string) (map[string]any, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var raw map[string]any
	if err := yaml.Unmarshal(data, &raw); err != nil {
		return nil, err
	}
	if raw == nil {
		return nil, errors.New("document is empty")
	}
	return raw, nil
}

// decodeStrict decodes raw into out by yaml tag and returns one message per
// violation: unknown nested keys and type mismatches alike
func decodeStrict(raw map[string]any, out any) []string {
	decoder, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		Result:      out,
		TagName:     "yaml",
		ErrorUnused: true,
		DecodeHook:  mapstructure.DecodeHookFuncType(timestampToString),
	})
	if err != nil {
		return []string{err.Error()}
	}
	err = decoder.Decode(raw)
	if err == nil {
		return nil
	}
	var merr *mapstructure.Error
	if errors.As(err, &merr) {
		msgs := append([]string(nil), merr.Errors...)
		sort.Strings(msgs)
		return msgs
	}
	return []string{err.Error()}
}

// timestampToString undoes yaml.v3's timestamp resolution for string fields,
// so an unquoted created: 2026-01-15 decodes as "2026-01-15"
func timestampToString(_ reflect.Type, to reflect.Type, data any) (any, error) {
	t, ok := data.(time.Time)
	if !ok || to.Kind() != reflect.String {
		return data, nil
	}
	if h, m, sec := t.Clock(); h == 0 && m == 0 && sec == 0 && t.Nanosecond() == 0 {
		return t.Format(time.DateOnly), nil
	}
	return t.Format(time.RFC3339Nano), nil
}

func sortedKeys(m map[string]any) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

func contains(list []string, s string) bool {
	for _, item := range list {
		if item == s {
			return true
		}
	}
	return false
}
