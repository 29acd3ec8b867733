// Package i18n loads the bot's localized message catalogue from embedded YAML
// packs. Messages use {mark} placeholders substituted by Pack.Get.
package i18n

import (
	"embed"
	"fmt"
	"io/fs"
	"path"
	"sort"
	"strings"

	"gopkg.in/yaml.v3"
)

//go:embed locales/*.yaml
var localeFS embed.FS

// Bundle holds one Pack per language tag (en_US, zh_CN, ...).
type Bundle struct {
	packs    map[string]Pack
	fallback string
}

// Pack resolves message keys for a single language.
type Pack struct {
	tag      string
	messages map[string]string
}

// Load parses every embedded locale file. The fallback tag must be present.
func Load(fallback string) (*Bundle, error) {
	entries, err := fs.Glob(localeFS, "locales/*.yaml")
	if err != nil {
		return nil, err
	}
	bundle := &Bundle{packs: make(map[string]Pack), fallback: fallback}
	for _, name := range entries {
		raw, err := localeFS.ReadFile(name)
		if err != nil {
			return nil, err
		}
		var tree map[string]any
		if err := yaml.Unmarshal(raw, &tree); err != nil {
			return nil, fmt.Errorf("parse %s: %w", name, err)
		}
		tag := strings.TrimSuffix(path.Base(name), ".yaml")
		messages := make(map[string]string)
		flatten("", tree, messages)
		bundle.packs[tag] = Pack{tag: tag, messages: messages}
	}
	if _, ok := bundle.packs[fallback]; !ok {
		return nil, fmt.Errorf("fallback language %q has no locale file", fallback)
	}
	return bundle, nil
}

func flatten(prefix string, node map[string]any, out map[string]string) {
	for key, value := range node {
		full := key
		if prefix != "" {
			full = prefix + "." + key
		}
		switch v := value.(type) {
		case string:
			out[full] = v
		case map[string]any:
			flatten(full, v, out)
		}
	}
}

// Pack returns the catalogue for tag, falling back to the default language.
func (b *Bundle) Pack(tag string) Pack {
	if pack, ok := b.packs[tag]; ok {
		return pack
	}
	return b.packs[b.fallback]
}

// Has reports whether a locale file exists for tag.
func (b *Bundle) Has(tag string) bool {
	_, ok := b.packs[tag]
	return ok
}

// Tags lists available language tags in sorted order.
func (b *Bundle) Tags() []string {
	tags := make([]string, 0, len(b.packs))
	for tag := range b.packs {
		tags = append(tags, tag)
	}
	sort.Strings(tags)
	return tags
}

// Tag returns the pack's language tag.
func (p Pack) Tag() string {
	return p.tag
}

// Get resolves key and substitutes {mark} placeholders from mark/value pairs.
// Unknown keys return the key itself so a missing translation is visible, not
// a silent empty message.
func (p Pack) Get(key string, params ...string) string {
	msg, ok := p.messages[key]
	if !ok {
		return key
	}
	for i := 0; i+1 < len(params); i += 2 {
		msg = strings.ReplaceAll(msg, "{"+params[i]+"}", params[i+1])
	}
	return msg
}
