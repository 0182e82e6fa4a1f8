// Package i18n loads translated messages from YAML catalogs.
//
// A catalog directory holds one file per locale, named after its BCP 47
// tag ("en.yaml", "pl-PL.yaml"). Nested maps are flattened into dotted
// keys, so
//
//	validate:
//	  field:
//	    error:
//	      missing: "is required"
//
// defines "validate.field.error.missing". Messages may reference their
// arguments positionally as {0}, {1}, and so on.
package i18n

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync"

	"golang.org/x/text/language"
	"gopkg.in/yaml.v3"

	"github.com/artpar/entitycore/ports"
)

// Catalog holds messages per locale and picks the closest locale for a
// request through a language.Matcher.
type Catalog struct {
	mu       sync.RWMutex
	fallback language.Tag
	tags     []language.Tag
	messages map[language.Tag]map[string]string
	matcher  language.Matcher
}

// New returns an empty catalog. Lookups that find no better match use
// fallback.
func New(fallback language.Tag) *Catalog {
	c := &Catalog{
		fallback: fallback,
		messages: make(map[language.Tag]map[string]string),
	}
	c.rebuild()
	return c
}

// rebuild refreshes the matcher. The fallback is always the first
// supported tag so it wins when nothing matches. Callers hold mu.
func (c *Catalog) rebuild() {
	tags := []language.Tag{c.fallback}
	for tag := range c.messages {
		if tag != c.fallback {
			tags = append(tags, tag)
		}
	}
	c.tags = tags
	c.matcher = language.NewMatcher(tags)
}

// Add merges messages into the catalog for tag.
func (c *Catalog) Add(tag language.Tag, messages map[string]string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	m, ok := c.messages[tag]
	if !ok {
		m = make(map[string]string, len(messages))
		c.messages[tag] = m
	}
	for k, v := range messages {
		m[k] = v
	}
	c.rebuild()
}

// LoadDir adds every *.yaml and *.yml file in dir.
func (c *Catalog) LoadDir(dir string) error {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return fmt.Errorf("read message directory: %w", err)
	}
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		ext := filepath.Ext(entry.Name())
		if ext != ".yaml" && ext != ".yml" {
			continue
		}
		if err := c.LoadFile(filepath.Join(dir, entry.Name())); err != nil {
			return err
		}
	}
	return nil
}

// LoadFile adds one catalog file. The locale is taken from the file name.
func (c *Catalog) LoadFile(path string) error {
	name := strings.TrimSuffix(filepath.Base(path), filepath.Ext(path))
	tag, err := language.Parse(name)
	if err != nil {
		return fmt.Errorf("message file %s: invalid locale %q: %w", path, name, err)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read message file: %w", err)
	}
	if err := c.LoadYAML(tag, data); err != nil {
		return fmt.Errorf("message file %s: %w", path, err)
	}
	return nil
}

// LoadYAML adds the messages of one YAML document for tag.
func (c *Catalog) LoadYAML(tag language.Tag, data []byte) error {
	var tree map[string]any
	if err := yaml.Unmarshal(data, &tree); err != nil {
		return fmt.Errorf("parse messages: %w", err)
	}

	messages := make(map[string]string)
	flatten("", tree, messages)
	c.Add(tag, messages)
	return nil
}

func flatten(prefix string, tree map[string]any, out map[string]string) {
	for k, v := range tree {
		key := k
		if prefix != "" {
			key = prefix + "." + k
		}
		switch x := v.(type) {
		case map[string]any:
			flatten(key, x, out)
		case nil:
		default:
			out[key] = fmt.Sprint(x)
		}
	}
}

// Match returns the supported locale closest to locale.
func (c *Catalog) Match(locale language.Tag) language.Tag {
	c.mu.RLock()
	defer c.mu.RUnlock()
	_, i, _ := c.matcher.Match(locale)
	return c.tags[i]
}

// Locales returns the supported locales, fallback first.
func (c *Catalog) Locales() []language.Tag {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make([]language.Tag, len(c.tags))
	copy(out, c.tags)
	return out
}

// Translate returns the message for key in the locale closest to locale,
// then in the fallback locale. Unknown keys are returned unchanged.
func (c *Catalog) Translate(locale language.Tag, key string, args ...string) string {
	matched := c.Match(locale)

	c.mu.RLock()
	msg, ok := c.messages[matched][key]
	if !ok {
		msg, ok = c.messages[c.fallback][key]
	}
	c.mu.RUnlock()

	if !ok {
		return key
	}
	return substitute(msg, args)
}

func substitute(msg string, args []string) string {
	if len(args) == 0 {
		return msg
	}
	pairs := make([]string, 0, 2*len(args))
	for i, a := range args {
		pairs = append(pairs, "{"+strconv.Itoa(i)+"}", a)
	}
	return strings.NewReplacer(pairs...).Replace(msg)
}

var _ ports.Translator = (*Catalog)(nil)
