package lens

import (
	"log"
	"os"
	"path/filepath"
	"strings"
)

// classifyInput carries the name parts shared across classification rules.
type classifyInput struct {
	path      string
	base      string
	lowerBase string
	// designation and ext are resolved by extensionRule.
	designation string
	ext         string
}

// classifyRule is one stage of the classification cascade. done reports that the label is final.
type classifyRule interface {
	apply(c *FileClassifier, in *classifyInput, current Category) (label Category, done bool)
}

type (
	internalMappingRule struct{}
	exactNameRule       struct{}
	regexRule           struct{}
	extensionRule       struct{}
	exceptionRule       struct{}
)

// classifyRules is the ordered decision procedure, evaluated until a rule reports done.
var classifyRules = []classifyRule{
	internalMappingRule{},
	exactNameRule{},
	regexRule{},
	extensionRule{},
	exceptionRule{},
}

// FileClassifier maps paths to category labels. It holds no mutable state and is safe for concurrent use.
type FileClassifier struct {
	store         *MappingStore
	internalPaths []string
	ignoreTokens  []string
}

// NewFileClassifier builds a classifier over a loaded mapping store.
func NewFileClassifier(store *MappingStore, settings ClassifierSettings) *FileClassifier {
	c := &FileClassifier{store: store}
	for _, p := range settings.InternalMappingPaths {
		if strings.Contains(p, string(filepath.Separator)) {
			c.internalPaths = append(c.internalPaths, p)
		}
	}
	for _, token := range settings.IgnoreTokens {
		if token = strings.ToLower(strings.TrimSpace(token)); token != "" {
			c.ignoreTokens = append(c.ignoreTokens, token)
		}
	}
	return c
}

// Classify returns the category of an existing path, or CategoryUnknown when the path does not exist.
// Symbolic links are followed, a dangling link does not exist.
func (c *FileClassifier) Classify(path string) Category {
	if _, err := os.Stat(path); err != nil {
		return CategoryUnknown
	}
	return c.classify(path)
}

// ClassifyName runs the classification cascade on a path without checking that it exists.
func (c *FileClassifier) ClassifyName(path string) Category {
	return c.classify(path)
}

func (c *FileClassifier) classify(path string) (label Category) {
	defer func() {
		if r := recover(); r != nil {
			log.Printf("%sclassification of %s failed: %v", ErrorLogPrefix, path, r)
			label = CategoryUnknown
		}
	}()

	base := filepath.Base(path)
	in := &classifyInput{path: path, base: base, lowerBase: strings.ToLower(base)}
	label = CategoryUnknown
	for _, rule := range classifyRules {
		var done bool
		if label, done = rule.apply(c, in, label); done {
			return label
		}
	}
	return label
}

func (internalMappingRule) apply(c *FileClassifier, in *classifyInput, current Category) (Category, bool) {
	ext := strings.TrimPrefix(strings.ToLower(filepath.Ext(in.base)), ".")
	if ext != "" && c.store.Extension[ext] == CategoryInternalMapping {
		return CategoryInternalMapping, true
	}
	for _, p := range c.internalPaths {
		if strings.Contains(in.path, p) {
			return CategoryInternalMapping, true
		}
	}
	return current, false
}

func (exactNameRule) apply(c *FileClassifier, in *classifyInput, current Category) (Category, bool) {
	if label, ok := c.store.Filename[in.lowerBase]; ok && label != CategoryUnknown {
		return label, true
	}
	return current, false
}

// apply stops at the first matching pattern. A match labelled unknown ends the regex stage without a result.
func (regexRule) apply(c *FileClassifier, in *classifyInput, current Category) (Category, bool) {
	for _, rm := range c.store.regexOrder {
		if rm.re.MatchString(in.lowerBase) {
			if rm.category != CategoryUnknown {
				return rm.category, true
			}
			break
		}
	}
	return current, false
}

func (extensionRule) apply(c *FileClassifier, in *classifyInput, _ Category) (Category, bool) {
	in.designation, in.ext = c.splitDesignation(in.base)
	if in.ext != "" {
		if label, ok := c.store.Extension[in.ext]; ok {
			return label, false
		}
	}
	if label, ok := c.store.FilenameWithoutExtension[strings.ToLower(in.designation)]; ok {
		return label, false
	}
	return CategoryUnknown, false
}

func (exceptionRule) apply(c *FileClassifier, in *classifyInput, current Category) (Category, bool) {
	lowerDesignation := strings.ToLower(in.designation)
	if current == CategoryText && c.store.FilenameWithoutExtension[lowerDesignation] == CategoryPartOfRaw {
		return CategoryPartOfRaw, true
	}
	for _, token := range c.ignoreTokens {
		if strings.Contains(lowerDesignation, token) {
			return CategoryPartOfRaw, true
		}
	}
	if strings.HasPrefix(in.designation, "~") || strings.HasSuffix(in.base, "~") {
		return CategoryTemp, true
	}
	return current, true
}

// splitDesignation splits a basename into designation and lowercased extension, preferring a known
// two part extension (e.g. "tar.gz") over the last part alone. A leading dot stays on the designation.
func (c *FileClassifier) splitDesignation(base string) (designation, ext string) {
	parts := strings.Split(base, ".")
	if strings.HasPrefix(base, ".") && len(parts) > 1 {
		parts = append([]string{"." + parts[1]}, parts[2:]...)
	}
	n := len(parts)
	switch {
	case n >= 3:
		double := strings.ToLower(parts[n-2] + "." + parts[n-1])
		if _, ok := c.store.Extension[double]; ok {
			return strings.Join(parts[:n-2], "."), double
		}
		return strings.Join(parts[:n-1], "."), strings.ToLower(parts[n-1])
	case n == 2:
		return parts[0], strings.ToLower(parts[1])
	default:
		return parts[0], ""
	}
}
